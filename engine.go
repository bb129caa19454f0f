package de265

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// engine is the call surface of one native decoder context. Status results
// are raw de265_error values; mapping to Code happens in the callers.
//
// Implementations are not safe for concurrent use; decoderContext serialises
// every call.
type engine interface {
	startWorkerThreads(n int32) int32
	pushData(data []byte, pts int64, userData uintptr) int32
	pushNAL(data []byte, pts int64, userData uintptr) int32
	pushEndOfNAL()
	pushEndOfFrame()
	flushData() int32
	decode() (more bool, status int32)
	reset()

	inputBytesPending() int32
	nalUnitsPending() int32
	warning() int32

	highestTID() int32
	currentTID() int32
	setLimitTID(tid int32)
	setFramerateRatio(percent int32)
	changeFramerate(moreVsLess int32) int32

	setParamInt(param, value int32)
	setParamBool(param int32, value bool)
	paramBool(param int32) bool

	// peekPicture returns the head of the output queue, or nil.
	peekPicture() picture
	// releasePicture removes the head of the output queue.
	releasePicture()

	free()
}

// picture reads one decoded picture resident in the engine's output queue.
// Values are returned unclamped, as the engine reports them.
type picture interface {
	chromaFormat() int32
	width(ch int32) int32
	height(ch int32) int32
	bitsPerPixel(ch int32) int32
	// plane returns the first byte of the channel's pixel buffer and its row
	// stride, or nil when the channel does not exist.
	plane(ch int32) (unsafe.Pointer, int32)
	pts() int64
	userData() uintptr
	nalHeader() (unitType int32, unitName string, layerID, temporalID int32)
	fullRange() bool
	colourPrimaries() int32
	transferCharacteristics() int32
	matrixCoefficients() int32
}

// openEngine is set by the native backend selected at build time.
var openEngine func() (engine, error)

// decoderContext owns one engine shared by a DecoderInput and a
// DecoderOutput. The engine is freed exactly once, when the last of the two
// halves is closed.
type decoderContext struct {
	mu   sync.Mutex
	eng  engine
	refs atomic.Int32

	// current is the view handed out by NextPicture and not yet released or
	// detached. Guarded by mu.
	current *Image
}

func newContext() (*decoderContext, error) {
	if openEngine == nil {
		return nil, ErrLibraryUnavailable
	}
	eng, err := openEngine()
	if err != nil {
		return nil, err
	}
	return newContextWith(eng), nil
}

func newContextWith(eng engine) *decoderContext {
	c := &decoderContext{eng: eng}
	c.refs.Store(2)
	return c
}

// release drops one reference and frees the engine on the last one.
func (c *decoderContext) release() {
	n := c.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic(fmt.Sprintf("de265: decoder context released %d times too often", -n))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.detachLocked()
	}
	c.eng.free()
	c.eng = nil
}

// with runs fn on the engine under the context lock. It reports false when
// the engine has already been freed.
func (c *decoderContext) with(fn func(engine)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eng == nil {
		return false
	}
	fn(c.eng)
	return true
}
