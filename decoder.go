package de265

import (
	"fmt"
	"math"
	"sync/atomic"
)

// maxWarnings bounds Warnings so a misbehaving engine cannot spin forever.
const maxWarnings = 256

// maxPushSize is the largest buffer the engine accepts in one push; its
// length parameter is a C int.
var maxPushSize = math.MaxInt32

// NewDecoder allocates a decoder context and returns its two halves. The
// context is freed when both halves have been closed.
func NewDecoder() (*DecoderInput, *DecoderOutput, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, nil, err
	}
	in, out := newSession(ctx)
	return in, out, nil
}

func newSession(ctx *decoderContext) (*DecoderInput, *DecoderOutput) {
	return &DecoderInput{ctx: ctx}, &DecoderOutput{ctx: ctx}
}

// DecoderInput is the feeding half of a decoder session: it pushes
// compressed data, drives decoding and controls decoder parameters.
//
// Methods may be called from a different goroutine than the paired
// DecoderOutput; native calls are serialised on the shared context.
type DecoderInput struct {
	ctx    *decoderContext
	closed atomic.Bool

	// Guarded by ctx.mu.
	threadsStarted bool
	pushed         bool
}

// status runs fn on the engine and maps its result to an error.
func (in *DecoderInput) status(fn func(engine) int32) error {
	if in.closed.Load() {
		return ErrClosed
	}
	var raw int32
	if !in.ctx.with(func(e engine) { raw = fn(e) }) {
		return ErrClosed
	}
	return codeError(raw)
}

// do runs fn on the engine. It reports false when the half is closed.
func (in *DecoderInput) do(fn func(engine)) bool {
	if in.closed.Load() {
		return false
	}
	return in.ctx.with(fn)
}

// StartWorkerThreads starts n background decoding threads. It must be called
// at most once, before any data is pushed. A negative n is rejected with
// ErrInvalidWorkerThreads.
func (in *DecoderInput) StartWorkerThreads(n int) error {
	if in.closed.Load() {
		return ErrClosed
	}
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkerThreads, n)
	}
	var err error
	ok := in.ctx.with(func(e engine) {
		switch {
		case in.threadsStarted:
			err = ErrWorkerThreadsStarted
		case in.pushed:
			err = ErrDataAlreadyPushed
		default:
			err = codeError(e.startWorkerThreads(clampInt32(n)))
			if err == nil {
				in.threadsStarted = true
			}
		}
	})
	if !ok {
		return ErrClosed
	}
	return err
}

// PushData queues a chunk of the Annex-B byte stream. Chunks may split NAL
// units arbitrarily. pts and userData are attached to every picture whose
// first slice begins in this chunk. Chunks larger than the engine's length
// limit are pushed in pieces carrying the same pts and userData.
func (in *DecoderInput) PushData(data []byte, pts int64, userData uintptr) error {
	return in.status(func(e engine) int32 {
		in.pushed = true
		for len(data) > maxPushSize {
			if raw := e.pushData(data[:maxPushSize], pts, userData); raw != 0 {
				return raw
			}
			data = data[maxPushSize:]
		}
		return e.pushData(data, pts, userData)
	})
}

// PushNAL queues one complete NAL unit without start code. A NAL unit larger
// than the engine's length limit is rejected with ErrPushTooLarge.
func (in *DecoderInput) PushNAL(data []byte, pts int64, userData uintptr) error {
	if len(data) > maxPushSize {
		return fmt.Errorf("%w: NAL unit of %d bytes", ErrPushTooLarge, len(data))
	}
	return in.status(func(e engine) int32 {
		in.pushed = true
		return e.pushNAL(data, pts, userData)
	})
}

// PushEndOfNAL marks the end of the NAL unit currently being pushed with
// PushData.
func (in *DecoderInput) PushEndOfNAL() {
	in.do(func(e engine) { e.pushEndOfNAL() })
}

// PushEndOfFrame marks that all data of the current picture has been pushed.
func (in *DecoderInput) PushEndOfFrame() {
	in.do(func(e engine) { e.pushEndOfFrame() })
}

// FlushData signals end of stream: pending partial data is decoded and all
// remaining pictures are output by subsequent Decode calls.
func (in *DecoderInput) FlushData() error {
	return in.status(func(e engine) int32 { return e.flushData() })
}

// Decode performs one step of decoding. ErrImageBufferFull asks the caller
// to drain the output, ErrWaitingForInputData to push more data; both are
// retryable.
func (in *DecoderInput) Decode() (DecodeStatus, error) {
	var more bool
	err := in.status(func(e engine) int32 {
		m, raw := e.decode()
		more = m
		return raw
	})
	if err != nil {
		return DecodeDone, err
	}
	if more {
		return DecodeHasImages, nil
	}
	return DecodeDone, nil
}

// InputBytesPending returns the number of pushed bytes not yet decoded.
func (in *DecoderInput) InputBytesPending() int {
	var n int32
	in.do(func(e engine) { n = e.inputBytesPending() })
	return clampNonNegative(n)
}

// NALUnitsPending returns the number of complete NAL units waiting to be
// decoded.
func (in *DecoderInput) NALUnitsPending() int {
	var n int32
	in.do(func(e engine) { n = e.nalUnitsPending() })
	return clampNonNegative(n)
}

// Reset discards all pending input and decoder state. A picture handed out
// by the paired DecoderOutput and not yet released is first copied into Go
// memory, so the Image stays readable. The engine frees the picture's native
// buffers, so plane slices taken from it before Reset must not be used
// afterwards; call Plane again to read the copy.
func (in *DecoderInput) Reset() error {
	if in.closed.Load() {
		return ErrClosed
	}
	ok := in.ctx.with(func(e engine) {
		if cur := in.ctx.current; cur != nil {
			cur.detachLocked()
		}
		e.reset()
	})
	if !ok {
		return ErrClosed
	}
	return nil
}

// Warning pops the next queued decoder warning. It returns nil when none is
// queued.
func (in *DecoderInput) Warning() error {
	var raw int32
	in.do(func(e engine) { raw = e.warning() })
	return codeError(raw)
}

// Warnings drains the warning queue.
func (in *DecoderInput) Warnings() []error {
	var warns []error
	in.do(func(e engine) {
		for range maxWarnings {
			err := codeError(e.warning())
			if err == nil {
				return
			}
			warns = append(warns, err)
		}
	})
	return warns
}

// HighestTID returns the highest temporal sub-layer in the stream.
func (in *DecoderInput) HighestTID() uint32 {
	var tid int32
	in.do(func(e engine) { tid = e.highestTID() })
	return uint32(clampNonNegative(tid))
}

// CurrentTID returns the temporal sub-layer currently being decoded.
func (in *DecoderInput) CurrentTID() uint32 {
	var tid int32
	in.do(func(e engine) { tid = e.currentTID() })
	return uint32(clampNonNegative(tid))
}

// SetLimitTID limits decoding to temporal sub-layers up to tid.
func (in *DecoderInput) SetLimitTID(tid uint32) {
	v := int32(math.MaxInt32)
	if tid < math.MaxInt32 {
		v = int32(tid)
	}
	in.do(func(e engine) { e.setLimitTID(v) })
}

// SetFramerateRatio selects temporal sub-layers so that roughly percent of
// the full frame rate is decoded. Values above 100 are treated as 100.
func (in *DecoderInput) SetFramerateRatio(percent uint8) {
	if percent > 100 {
		percent = 100
	}
	in.do(func(e engine) { e.setFramerateRatio(int32(percent)) })
}

// ChangeFramerate steps the frame rate ratio up (delta > 0) or down
// (delta < 0) by one level and returns the resulting percentage.
func (in *DecoderInput) ChangeFramerate(delta int) uint32 {
	step := int32(0)
	switch {
	case delta > 0:
		step = 1
	case delta < 0:
		step = -1
	}
	var ratio int32
	in.do(func(e engine) { ratio = e.changeFramerate(step) })
	return uint32(clampNonNegative(ratio))
}

// SetParamInt sets an integer decoder parameter.
func (in *DecoderInput) SetParamInt(p ParamInt, value int32) {
	in.do(func(e engine) { e.setParamInt(int32(p), value) })
}

// SetParamBool sets a boolean decoder parameter.
func (in *DecoderInput) SetParamBool(p ParamBool, value bool) {
	in.do(func(e engine) { e.setParamBool(int32(p), value) })
}

// ParamBool reads a boolean decoder parameter.
func (in *DecoderInput) ParamBool(p ParamBool) bool {
	var v bool
	in.do(func(e engine) { v = e.paramBool(int32(p)) })
	return v
}

// SetAcceleration selects the DSP implementation used for decoding.
func (in *DecoderInput) SetAcceleration(a Acceleration) {
	in.do(func(e engine) { e.setParamInt(paramAccelerationCode, int32(a)) })
}

// Close drops the input half. The decoder context is freed once the output
// half is closed too. Close is idempotent.
func (in *DecoderInput) Close() error {
	if in.closed.Swap(true) {
		return nil
	}
	in.ctx.release()
	return nil
}

// DecoderOutput is the receiving half of a decoder session.
type DecoderOutput struct {
	ctx    *decoderContext
	closed atomic.Bool
}

// NextPicture returns the next decoded picture, or nil when none is ready.
// It never blocks and never decodes. Until the returned Image is released,
// NextPicture keeps returning that same Image.
func (out *DecoderOutput) NextPicture() *Image {
	if out.closed.Load() {
		return nil
	}
	var img *Image
	out.ctx.with(func(e engine) {
		if cur := out.ctx.current; cur != nil {
			img = cur
			return
		}
		pic := e.peekPicture()
		if pic == nil {
			return
		}
		img = &Image{ctx: out.ctx, pic: pic}
		out.ctx.current = img
	})
	return img
}

// Pending reports whether a decoded picture is ready.
func (out *DecoderOutput) Pending() bool {
	if out.closed.Load() {
		return false
	}
	var ready bool
	out.ctx.with(func(e engine) {
		ready = out.ctx.current != nil || e.peekPicture() != nil
	})
	return ready
}

// Close drops the output half. An unreleased picture is copied into Go
// memory first and remains readable through its Image; plane slices taken
// from it earlier are invalidated as with Reset. Close is idempotent.
func (out *DecoderOutput) Close() error {
	if out.closed.Swap(true) {
		return nil
	}
	out.ctx.with(func(engine) {
		if cur := out.ctx.current; cur != nil {
			cur.detachLocked()
		}
	})
	out.ctx.release()
	return nil
}

func clampInt32(n int) int32 {
	switch {
	case n > math.MaxInt32:
		return math.MaxInt32
	case n < math.MinInt32:
		return math.MinInt32
	}
	return int32(n)
}

func clampNonNegative(n int32) int {
	if n < 0 {
		return 0
	}
	return int(n)
}
