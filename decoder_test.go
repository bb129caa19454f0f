package de265

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func TestDecoder_CloseFreesContextOnce(t *testing.T) {
	tests := []struct {
		name       string
		inputFirst bool
	}{
		{"input then output", true},
		{"output then input", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, in, out := newFakeSession()
			first, second := in.Close, out.Close
			if !tt.inputFirst {
				first, second = out.Close, in.Close
			}

			if err := first(); err != nil {
				t.Fatalf("first Close() = %v", err)
			}
			if e.freed != 0 {
				t.Fatalf("context freed after one half closed")
			}
			if err := second(); err != nil {
				t.Fatalf("second Close() = %v", err)
			}
			if e.freed != 1 {
				t.Fatalf("freed = %d, want 1", e.freed)
			}

			in.Close()
			out.Close()
			if e.freed != 1 {
				t.Errorf("repeated Close freed again: %d", e.freed)
			}
		})
	}
}

func TestDecoderContext_OverReleasePanics(t *testing.T) {
	ctx := newContextWith(newFakeEngine())
	ctx.release()
	ctx.release()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on third release")
		}
	}()
	ctx.release()
}

func TestDecoderInput_Closed(t *testing.T) {
	e, in, out := newFakeSession()
	defer out.Close()
	in.Close()

	if err := in.PushData([]byte{1}, 0, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("PushData() = %v, want ErrClosed", err)
	}
	if err := in.PushNAL([]byte{1}, 0, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("PushNAL() = %v, want ErrClosed", err)
	}
	if _, err := in.Decode(); !errors.Is(err, ErrClosed) {
		t.Errorf("Decode() = %v, want ErrClosed", err)
	}
	if err := in.FlushData(); !errors.Is(err, ErrClosed) {
		t.Errorf("FlushData() = %v, want ErrClosed", err)
	}
	if err := in.Reset(); !errors.Is(err, ErrClosed) {
		t.Errorf("Reset() = %v, want ErrClosed", err)
	}
	if err := in.StartWorkerThreads(2); !errors.Is(err, ErrClosed) {
		t.Errorf("StartWorkerThreads() = %v, want ErrClosed", err)
	}
	in.PushEndOfFrame()
	in.SetLimitTID(1)
	if len(e.pushed) != 0 || e.endOfFrames != 0 || e.limitTID != 0 {
		t.Error("closed input reached the engine")
	}
	if in.Warning() != nil || in.InputBytesPending() != 0 || in.ParamBool(ParamSEICheckHash) {
		t.Error("closed input returned non-zero values")
	}
}

func TestDecoderOutput_Closed(t *testing.T) {
	e, in, out := newFakeSession()
	defer in.Close()
	e.emit(newFakePicture(0, 1))
	out.Close()

	if img := out.NextPicture(); img != nil {
		t.Error("NextPicture() on closed output returned a picture")
	}
	if out.Pending() {
		t.Error("Pending() on closed output = true")
	}
}

func TestDecoderInput_StartWorkerThreads(t *testing.T) {
	t.Run("once", func(t *testing.T) {
		e, in, out := newFakeSession()
		defer out.Close()
		defer in.Close()

		if err := in.StartWorkerThreads(4); err != nil {
			t.Fatalf("StartWorkerThreads() = %v", err)
		}
		if e.threads != 4 {
			t.Errorf("threads = %d, want 4", e.threads)
		}
		if err := in.StartWorkerThreads(4); !errors.Is(err, ErrWorkerThreadsStarted) {
			t.Errorf("second StartWorkerThreads() = %v, want ErrWorkerThreadsStarted", err)
		}
	})

	t.Run("after push", func(t *testing.T) {
		e, in, out := newFakeSession()
		defer out.Close()
		defer in.Close()

		if err := in.PushData([]byte{0, 0, 1}, 0, 0); err != nil {
			t.Fatal(err)
		}
		if err := in.StartWorkerThreads(2); !errors.Is(err, ErrDataAlreadyPushed) {
			t.Errorf("StartWorkerThreads() = %v, want ErrDataAlreadyPushed", err)
		}
		if e.threads != 0 {
			t.Error("engine threads started after push")
		}
	})

	t.Run("engine failure", func(t *testing.T) {
		e, in, out := newFakeSession()
		defer out.Close()
		defer in.Close()
		e.startStatus = int32(ErrCannotStartThreadpool)

		if err := in.StartWorkerThreads(2); !errors.Is(err, ErrCannotStartThreadpool) {
			t.Fatalf("StartWorkerThreads() = %v, want ErrCannotStartThreadpool", err)
		}
		// A failed start may be retried.
		e.startStatus = 0
		if err := in.StartWorkerThreads(2); err != nil {
			t.Errorf("retry StartWorkerThreads() = %v", err)
		}
	})

	t.Run("negative", func(t *testing.T) {
		e, in, out := newFakeSession()
		defer out.Close()
		defer in.Close()

		if err := in.StartWorkerThreads(-1); !errors.Is(err, ErrInvalidWorkerThreads) {
			t.Fatalf("StartWorkerThreads(-1) = %v, want ErrInvalidWorkerThreads", err)
		}
		if e.threads != 0 {
			t.Errorf("threads = %d, want 0", e.threads)
		}
		if err := in.StartWorkerThreads(0); err != nil {
			t.Errorf("StartWorkerThreads(0) after rejection = %v", err)
		}
	})

	t.Run("clamped", func(t *testing.T) {
		e, in, out := newFakeSession()
		defer out.Close()
		defer in.Close()

		if err := in.StartWorkerThreads(int(^uint(0) >> 1)); err != nil {
			t.Fatal(err)
		}
		if e.threads != math.MaxInt32 {
			t.Errorf("threads = %d, want MaxInt32", e.threads)
		}
	})
}

func TestDecoderInput_Push(t *testing.T) {
	e, in, out := newFakeSession()
	defer out.Close()
	defer in.Close()

	data := []byte{0x40, 0x01, 0x0c}
	if err := in.PushNAL(data, 42, 7); err != nil {
		t.Fatal(err)
	}
	data[0] = 0xff
	if err := in.PushData([]byte{0, 0, 1, 0x42}, -1, 8); err != nil {
		t.Fatal(err)
	}
	in.PushEndOfNAL()
	in.PushEndOfFrame()

	if len(e.pushed) != 2 {
		t.Fatalf("pushed = %d units, want 2", len(e.pushed))
	}
	first := e.pushed[0]
	if !first.nal || first.pts != 42 || first.userData != 7 || first.data[0] != 0x40 {
		t.Errorf("first unit = %+v", first)
	}
	second := e.pushed[1]
	if second.nal || second.pts != -1 || second.userData != 8 {
		t.Errorf("second unit = %+v", second)
	}
	if e.endOfNALs != 1 || e.endOfFrames != 1 {
		t.Errorf("endOfNALs = %d, endOfFrames = %d", e.endOfNALs, e.endOfFrames)
	}
	if got := in.InputBytesPending(); got != 7 {
		t.Errorf("InputBytesPending() = %d, want 7", got)
	}
	if got := in.NALUnitsPending(); got != 2 {
		t.Errorf("NALUnitsPending() = %d, want 2", got)
	}

	e.pushStatus = int32(ErrOutOfMemory)
	if err := in.PushNAL(data, 0, 0); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("PushNAL() = %v, want ErrOutOfMemory", err)
	}
}

func TestDecoderInput_PushSplitsOversizedData(t *testing.T) {
	old := maxPushSize
	maxPushSize = 4
	defer func() { maxPushSize = old }()

	e, in, out := newFakeSession()
	defer out.Close()
	defer in.Close()

	data := []byte{0, 0, 0, 1, 0x40, 0x01, 0x0c, 0x01, 0xff, 0xff}
	if err := in.PushData(data, 5, 6); err != nil {
		t.Fatalf("PushData() = %v", err)
	}
	if len(e.pushed) != 3 {
		t.Fatalf("pushed %d pieces, want 3", len(e.pushed))
	}
	var joined []byte
	for _, u := range e.pushed {
		if len(u.data) > 4 || u.pts != 5 || u.userData != 6 {
			t.Errorf("piece = %+v", u)
		}
		joined = append(joined, u.data...)
	}
	if string(joined) != string(data) {
		t.Errorf("pieces = %x, want %x", joined, data)
	}

	if err := in.PushNAL(data, 0, 0); !errors.Is(err, ErrPushTooLarge) {
		t.Errorf("PushNAL(oversized) = %v, want ErrPushTooLarge", err)
	}
	if len(e.pushed) != 3 {
		t.Error("oversized NAL reached the engine")
	}

	e.pushStatus = int32(ErrOutOfMemory)
	if err := in.PushData(data, 0, 0); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("PushData() = %v, want ErrOutOfMemory", err)
	}
}

func TestDecoderInput_PendingIsIdempotent(t *testing.T) {
	e, in, out := newFakeSession()
	defer out.Close()
	defer in.Close()

	check := func(stage string) {
		t.Helper()
		bytes1, nals1 := in.InputBytesPending(), in.NALUnitsPending()
		bytes2, nals2 := in.InputBytesPending(), in.NALUnitsPending()
		if bytes1 != bytes2 || nals1 != nals2 {
			t.Errorf("%s: pending changed between reads: %d/%d then %d/%d", stage, bytes1, nals1, bytes2, nals2)
		}
	}

	check("empty")
	for i := range 3 {
		if err := in.PushNAL([]byte{0x26, 0x01, byte(i)}, int64(i), 0); err != nil {
			t.Fatal(err)
		}
	}
	check("after push")
	if got := in.NALUnitsPending(); got != 3 {
		t.Errorf("NALUnitsPending() = %d, want 3", got)
	}
	decodes := e.decodeCalls
	if _, err := in.Decode(); err != nil {
		t.Fatal(err)
	}
	check("after decode")
	if e.decodeCalls != decodes+1 {
		t.Errorf("pending queries ran the decoder: %d decode calls", e.decodeCalls-decodes)
	}
	if got := in.InputBytesPending(); got != 6 {
		t.Errorf("InputBytesPending() = %d, want 6", got)
	}
}

func TestDecoderInput_Decode(t *testing.T) {
	e, in, out := newFakeSession()
	defer out.Close()
	defer in.Close()

	status, err := in.Decode()
	if !errors.Is(err, ErrWaitingForInputData) || !IsRetryable(err) {
		t.Fatalf("Decode() on empty input = %v, %v", status, err)
	}

	in.PushNAL([]byte{0x26, 0x01}, 0, 1)
	status, err = in.Decode()
	if err != nil || status != DecodeHasImages {
		t.Fatalf("Decode() = %v, %v, want has-images", status, err)
	}

	e.capacity = 1
	in.PushNAL([]byte{0x26, 0x01}, 1, 2)
	if _, err := in.Decode(); !errors.Is(err, ErrImageBufferFull) {
		t.Fatalf("Decode() with full DPB = %v, want ErrImageBufferFull", err)
	}

	out.NextPicture().Release()
	if _, err := in.Decode(); err != nil {
		t.Fatalf("Decode() after drain = %v", err)
	}

	if err := in.FlushData(); err != nil {
		t.Fatal(err)
	}
	out.NextPicture().Release()
	status, err = in.Decode()
	if err != nil || status != DecodeDone {
		t.Errorf("Decode() after flush = %v, %v, want done", status, err)
	}

	e.onDecode = func(*fakeEngine) (bool, int32) { return false, int32(ErrCoefficientOutOfImageBounds) }
	if _, err := in.Decode(); !errors.Is(err, ErrCoefficientOutOfImageBounds) || IsRetryable(err) {
		t.Errorf("Decode() = %v, want hard error", err)
	}
}

func TestDecoderInput_PendingClampsNegative(t *testing.T) {
	e, in, out := newFakeSession()
	defer out.Close()
	defer in.Close()

	e.pendingBytes = -5
	if got := in.InputBytesPending(); got != 0 {
		t.Errorf("InputBytesPending() = %d, want 0", got)
	}
}

func TestDecoderInput_Warnings(t *testing.T) {
	e, in, out := newFakeSession()
	defer out.Close()
	defer in.Close()

	e.warnings = []int32{int32(WarnSliceHeaderInvalid), int32(WarnEOSSBitNotSet)}
	w := in.Warning()
	if !errors.Is(w, WarnSliceHeaderInvalid) || !IsWarning(w) {
		t.Fatalf("Warning() = %v", w)
	}
	rest := in.Warnings()
	if len(rest) != 1 || !errors.Is(rest[0], WarnEOSSBitNotSet) {
		t.Errorf("Warnings() = %v", rest)
	}
	if in.Warning() != nil {
		t.Error("Warning() on empty queue is not nil")
	}

	e.warnings = make([]int32, maxWarnings+10)
	for i := range e.warnings {
		e.warnings[i] = int32(WarnCTBOutsideImageArea)
	}
	if got := len(in.Warnings()); got != maxWarnings {
		t.Errorf("Warnings() returned %d, want cap %d", got, maxWarnings)
	}
}

func TestDecoderInput_Parameters(t *testing.T) {
	e, in, out := newFakeSession()
	defer out.Close()
	defer in.Close()

	in.SetLimitTID(math.MaxUint32)
	if e.limitTID != math.MaxInt32 {
		t.Errorf("limitTID = %d, want MaxInt32", e.limitTID)
	}
	in.SetLimitTID(1)
	if got := in.CurrentTID(); got != 1 {
		t.Errorf("CurrentTID() = %d, want 1", got)
	}
	if got := in.HighestTID(); got != 2 {
		t.Errorf("HighestTID() = %d, want 2", got)
	}

	in.SetFramerateRatio(250)
	if e.ratio != 100 {
		t.Errorf("ratio = %d, want 100", e.ratio)
	}
	if got := in.ChangeFramerate(-7); got != 90 || e.lastChangeStep != -1 {
		t.Errorf("ChangeFramerate(-7) = %d (step %d), want 90 (step -1)", got, e.lastChangeStep)
	}
	if got := in.ChangeFramerate(3); got != 100 || e.lastChangeStep != 1 {
		t.Errorf("ChangeFramerate(3) = %d (step %d), want 100 (step 1)", got, e.lastChangeStep)
	}
	in.ChangeFramerate(0)
	if e.lastChangeStep != 0 {
		t.Errorf("ChangeFramerate(0) step = %d", e.lastChangeStep)
	}

	in.SetParamBool(ParamSuppressFaultyPictures, true)
	if !in.ParamBool(ParamSuppressFaultyPictures) {
		t.Error("ParamBool(SuppressFaultyPictures) = false after set")
	}
	in.SetParamInt(ParamDumpSPSHeaders, 2)
	if e.params[int32(ParamDumpSPSHeaders)] != 2 {
		t.Error("SetParamInt did not reach the engine")
	}
	in.SetAcceleration(AccelerationSSE2)
	if e.params[paramAccelerationCode] != int32(AccelerationSSE2) {
		t.Errorf("acceleration param = %d", e.params[paramAccelerationCode])
	}
}

func TestDecoderOutput_NextPictureSameUntilReleased(t *testing.T) {
	e, in, out := newFakeSession()
	defer in.Close()
	defer out.Close()

	if out.NextPicture() != nil || out.Pending() {
		t.Fatal("empty output returned a picture")
	}

	e.emit(newFakePicture(10, 11))
	e.emit(newFakePicture(20, 21))
	first := out.NextPicture()
	if first == nil {
		t.Fatal("NextPicture() = nil")
	}
	if again := out.NextPicture(); again != first {
		t.Error("NextPicture() returned a different Image before release")
	}
	if first.PTS() != 10 {
		t.Errorf("PTS() = %d, want 10", first.PTS())
	}

	first.Release()
	first.Release()
	if e.released != 1 {
		t.Fatalf("released = %d, want 1", e.released)
	}

	second := out.NextPicture()
	if second == nil || second == first || second.PTS() != 20 {
		t.Fatalf("second picture = %v", second)
	}
	second.Release()
	if out.Pending() {
		t.Error("Pending() = true after draining")
	}
}

func TestDecoderInput_ResetDetachesPicture(t *testing.T) {
	e, in, out := newFakeSession()
	defer in.Close()
	defer out.Close()

	e.emit(newFakePicture(3, 4))
	img := out.NextPicture()
	// Slices taken before Reset alias memory the engine frees.
	held, _ := img.Plane(ChannelY)
	if err := in.Reset(); err != nil {
		t.Fatalf("Reset() = %v", err)
	}
	if e.resets != 1 || e.released != 1 {
		t.Fatalf("resets = %d, released = %d", e.resets, e.released)
	}
	if !img.Detached() {
		t.Fatal("picture not detached by Reset")
	}

	plane, stride := img.Plane(ChannelY)
	if stride != 32 || len(plane) != 32*8 || plane[0] != 3 {
		t.Errorf("detached plane: len %d stride %d first %d", len(plane), stride, plane[0])
	}
	if held[0] != freedSample {
		t.Fatal("engine did not free the picture on Reset")
	}
	if &held[0] == &plane[0] {
		t.Error("Plane() after Reset still aliases engine memory")
	}
	if img.UserData() != 4 || img.Width(ChannelY) != 16 {
		t.Error("detached metadata lost")
	}

	img.Release()
	if e.released != 1 {
		t.Errorf("Release() of a detached picture touched the engine")
	}
	if out.NextPicture() != nil {
		t.Error("NextPicture() after Reset returned a picture")
	}
}

func TestDecoderOutput_CloseDetachesPicture(t *testing.T) {
	e, in, out := newFakeSession()

	e.emit(newFakePicture(9, 1))
	img := out.NextPicture()
	held, _ := img.Plane(ChannelY)
	out.Close()
	in.Close()
	if e.freed != 1 {
		t.Fatalf("freed = %d, want 1", e.freed)
	}

	if !img.Detached() {
		t.Fatal("picture not detached by Close")
	}
	if f := img.Frame(); f == nil || f.Planes[ChannelY][0] != 9 {
		t.Error("detached picture unreadable after free")
	}
	if plane, _ := img.Plane(ChannelY); len(plane) == 0 || plane[0] != 9 || &plane[0] == &held[0] {
		t.Error("Plane() after free does not read the copy")
	}
	if held[0] != freedSample {
		t.Error("engine did not free the picture")
	}
	img.Release()
	if img.Frame() != nil {
		t.Error("Frame() after Release is not nil")
	}
}

func TestDecoder_ConcurrentHalves(t *testing.T) {
	e, in, out := newFakeSession()
	e.capacity = 2
	const n = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer in.Close()
		for i := range n {
			in.PushNAL([]byte{0x26, 0x01, byte(i)}, int64(i), uintptr(i+1))
			for {
				_, err := in.Decode()
				if errors.Is(err, ErrImageBufferFull) {
					continue
				}
				break
			}
		}
		in.FlushData()
	}()

	got := 0
	next := int64(0)
	for got < n {
		img := out.NextPicture()
		if img == nil {
			continue
		}
		if img.PTS() != next {
			t.Errorf("picture %d has PTS %d", got, img.PTS())
		}
		next++
		img.Release()
		got++
	}
	wg.Wait()
	out.Close()

	if e.freed != 1 {
		t.Errorf("freed = %d, want 1", e.freed)
	}
}
