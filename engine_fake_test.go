package de265

import (
	"context"
	"io"
	"unsafe"
)

// fakeUnit is one push recorded by fakeEngine.
type fakeUnit struct {
	data     []byte
	nal      bool
	pts      int64
	userData uintptr
}

// freedSample overwrites the planes of pictures the fake engine has freed.
const freedSample = 0xDD

// fakeEngine is an in-memory engine. Every pushed unit decodes into one
// 16x8 4:2:0 picture whose luma samples equal byte(pts). The output queue
// holds at most capacity pictures (0 = unbounded). Like libde265, reset and
// free destroy every picture decoded so far; their planes are overwritten
// with freedSample.
type fakeEngine struct {
	queue    []fakeUnit
	pushed   []fakeUnit
	output   []*fakePicture
	decoded  []*fakePicture
	warnings []int32
	capacity int

	// onDecode replaces the default decode model when set.
	onDecode func(e *fakeEngine) (bool, int32)

	threads        int32
	startStatus    int32
	pushStatus     int32
	endOfNALs      int
	endOfFrames    int
	flushed        bool
	resets         int
	freed          int
	released       int
	limitTID       int32
	highest        int32
	ratio          int32
	params         map[int32]int32
	bools          map[int32]bool
	decodeCalls    int
	pendingBytes   int32
	lastChangeStep int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		params:  make(map[int32]int32),
		bools:   make(map[int32]bool),
		ratio:   100,
		highest: 2,
	}
}

// newFakeSession returns both halves wired to a fresh fake engine.
func newFakeSession() (*fakeEngine, *DecoderInput, *DecoderOutput) {
	e := newFakeEngine()
	in, out := newSession(newContextWith(e))
	return e, in, out
}

func (e *fakeEngine) startWorkerThreads(n int32) int32 {
	if e.startStatus != 0 {
		return e.startStatus
	}
	e.threads = n
	return 0
}

func (e *fakeEngine) push(data []byte, nal bool, pts int64, userData uintptr) int32 {
	if e.pushStatus != 0 {
		return e.pushStatus
	}
	u := fakeUnit{data: append([]byte(nil), data...), nal: nal, pts: pts, userData: userData}
	e.queue = append(e.queue, u)
	e.pushed = append(e.pushed, u)
	e.pendingBytes += int32(len(data))
	return 0
}

func (e *fakeEngine) pushData(data []byte, pts int64, userData uintptr) int32 {
	return e.push(data, false, pts, userData)
}

func (e *fakeEngine) pushNAL(data []byte, pts int64, userData uintptr) int32 {
	return e.push(data, true, pts, userData)
}

func (e *fakeEngine) pushEndOfNAL()   { e.endOfNALs++ }
func (e *fakeEngine) pushEndOfFrame() { e.endOfFrames++ }

func (e *fakeEngine) flushData() int32 {
	e.flushed = true
	return 0
}

func (e *fakeEngine) decode() (bool, int32) {
	e.decodeCalls++
	if e.onDecode != nil {
		return e.onDecode(e)
	}
	if len(e.queue) > 0 {
		if e.capacity > 0 && len(e.output) >= e.capacity {
			return true, int32(ErrImageBufferFull)
		}
		u := e.queue[0]
		e.queue = e.queue[1:]
		e.pendingBytes -= int32(len(u.data))
		e.emit(newFakePicture(u.pts, u.userData))
		return true, 0
	}
	if e.flushed {
		return len(e.output) > 0, 0
	}
	return false, int32(ErrWaitingForInputData)
}

// emit appends p to the output queue.
func (e *fakeEngine) emit(p *fakePicture) {
	e.output = append(e.output, p)
	e.decoded = append(e.decoded, p)
}

// destroyPictures frees every picture decoded so far.
func (e *fakeEngine) destroyPictures() {
	for _, p := range e.decoded {
		for _, plane := range p.planes {
			for i := range plane {
				plane[i] = freedSample
			}
		}
	}
	e.decoded = nil
}

func (e *fakeEngine) reset() {
	e.resets++
	e.queue = nil
	e.output = nil
	e.pendingBytes = 0
	e.flushed = false
	e.destroyPictures()
}

func (e *fakeEngine) inputBytesPending() int32 { return e.pendingBytes }
func (e *fakeEngine) nalUnitsPending() int32   { return int32(len(e.queue)) }

func (e *fakeEngine) warning() int32 {
	if len(e.warnings) == 0 {
		return 0
	}
	w := e.warnings[0]
	e.warnings = e.warnings[1:]
	return w
}

func (e *fakeEngine) highestTID() int32 { return e.highest }
func (e *fakeEngine) currentTID() int32 {
	if e.limitTID < e.highest {
		return e.limitTID
	}
	return e.highest
}
func (e *fakeEngine) setLimitTID(tid int32)     { e.limitTID = tid }
func (e *fakeEngine) setFramerateRatio(p int32) { e.ratio = p }

func (e *fakeEngine) changeFramerate(step int32) int32 {
	e.lastChangeStep = step
	e.ratio += step * 10
	if e.ratio > 100 {
		e.ratio = 100
	}
	if e.ratio < 0 {
		e.ratio = 0
	}
	return e.ratio
}

func (e *fakeEngine) setParamInt(param, value int32)       { e.params[param] = value }
func (e *fakeEngine) setParamBool(param int32, value bool) { e.bools[param] = value }
func (e *fakeEngine) paramBool(param int32) bool           { return e.bools[param] }

func (e *fakeEngine) peekPicture() picture {
	if len(e.output) == 0 {
		return nil
	}
	return e.output[0]
}

func (e *fakeEngine) releasePicture() {
	if len(e.output) == 0 {
		panic("fakeEngine: release on empty output queue")
	}
	e.output[0].released = true
	e.output = e.output[1:]
	e.released++
}

func (e *fakeEngine) free() {
	e.freed++
	e.destroyPictures()
}

// fakePicture is a 16x8 4:2:0 8-bit picture with padded strides.
type fakePicture struct {
	planes   [3][]byte
	strides  [3]int32
	widths   [3]int32
	heights  [3]int32
	ptsValue int64
	user     uintptr
	released bool
}

func newFakePicture(pts int64, userData uintptr) *fakePicture {
	p := &fakePicture{
		widths:   [3]int32{16, 8, 8},
		heights:  [3]int32{8, 4, 4},
		strides:  [3]int32{32, 16, 16},
		ptsValue: pts,
		user:     userData,
	}
	for ch := range 3 {
		plane := make([]byte, p.strides[ch]*p.heights[ch])
		fill := byte(pts)
		if ch > 0 {
			fill = 128
		}
		for i := range plane {
			plane[i] = fill
		}
		p.planes[ch] = plane
	}
	return p
}

func (p *fakePicture) chromaFormat() int32 { return 1 }

func (p *fakePicture) width(ch int32) int32 {
	if ch < 0 || ch > 2 {
		return -1
	}
	return p.widths[ch]
}

func (p *fakePicture) height(ch int32) int32 {
	if ch < 0 || ch > 2 {
		return -1
	}
	return p.heights[ch]
}

func (p *fakePicture) bitsPerPixel(ch int32) int32 {
	if ch < 0 || ch > 2 {
		return -1
	}
	return 8
}

func (p *fakePicture) plane(ch int32) (unsafe.Pointer, int32) {
	if ch < 0 || ch > 2 {
		return nil, 0
	}
	return unsafe.Pointer(&p.planes[ch][0]), p.strides[ch]
}

func (p *fakePicture) pts() int64        { return p.ptsValue }
func (p *fakePicture) userData() uintptr { return p.user }

func (p *fakePicture) nalHeader() (int32, string, int32, int32) {
	return int32(NALIdrWRadl), NALIdrWRadl.String(), 0, 0
}

func (p *fakePicture) fullRange() bool                { return false }
func (p *fakePicture) colourPrimaries() int32         { return 1 }
func (p *fakePicture) transferCharacteristics() int32 { return 1 }
func (p *fakePicture) matrixCoefficients() int32      { return 1 }

// sliceUnitSource replays a fixed list of units.
type sliceUnitSource struct {
	units []Unit
	next  int
}

func (s *sliceUnitSource) ReadUnit(ctx context.Context) (Unit, error) {
	if err := ctx.Err(); err != nil {
		return Unit{}, err
	}
	if s.next >= len(s.units) {
		return Unit{}, io.EOF
	}
	u := s.units[s.next]
	s.next++
	return u, nil
}

// frameUnits returns n single-NAL access units with PTS i and UserData i+1.
func frameUnits(n int) []Unit {
	units := make([]Unit, n)
	for i := range units {
		units[i] = Unit{
			Data:       []byte{0x26, 0x01, 0xaf, byte(i)},
			NAL:        true,
			PTS:        int64(i),
			UserData:   uintptr(i + 1),
			EndOfFrame: true,
		}
	}
	return units
}
