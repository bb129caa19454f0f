//go:build (darwin || linux) && !cgo

// libde265 bindings loaded at runtime with purego.

package de265

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	de265Once    sync.Once
	de265Handle  uintptr
	de265InitErr error
)

// libde265 function pointers
var (
	de265NewDecoder         func() uintptr
	de265FreeDecoder        func(ctx uintptr) int32
	de265StartWorkerThreads func(ctx uintptr, n int32) int32
	de265PushData           func(ctx uintptr, data uintptr, length int32, pts int64, userData uintptr) int32
	de265PushNAL            func(ctx uintptr, data uintptr, length int32, pts int64, userData uintptr) int32
	de265PushEndOfNAL       func(ctx uintptr)
	de265PushEndOfFrame     func(ctx uintptr)
	de265FlushData          func(ctx uintptr) int32
	de265Decode             func(ctx uintptr, more uintptr) int32
	de265Reset              func(ctx uintptr)
	de265InputBytesPending  func(ctx uintptr) int32
	de265NALUnitsPending    func(ctx uintptr) int32
	de265PeekNextPicture    func(ctx uintptr) uintptr
	de265ReleaseNextPicture func(ctx uintptr)
	de265GetWarning         func(ctx uintptr) int32
	de265GetHighestTID      func(ctx uintptr) int32
	de265GetCurrentTID      func(ctx uintptr) int32
	de265SetLimitTID        func(ctx uintptr, tid int32)
	de265SetFramerateRatio  func(ctx uintptr, percent int32)
	de265ChangeFramerate    func(ctx uintptr, moreVsLess int32) int32
	de265SetParameterBool   func(ctx uintptr, param int32, value int32)
	de265SetParameterInt    func(ctx uintptr, param int32, value int32)
	de265GetParameterBool   func(ctx uintptr, param int32) int32

	de265GetChromaFormat  func(img uintptr) int32
	de265GetImageWidth    func(img uintptr, ch int32) int32
	de265GetImageHeight   func(img uintptr, ch int32) int32
	de265GetBitsPerPixel  func(img uintptr, ch int32) int32
	de265GetImagePlane    func(img uintptr, ch int32, stride uintptr) uintptr
	de265GetImagePTS      func(img uintptr) int64
	de265GetImageUserData func(img uintptr) uintptr
	de265GetImageNALHdr   func(img uintptr, unitType, unitName, layerID, temporalID uintptr)

	// Optional: absent from older libde265 releases.
	de265GetImageFullRange         func(img uintptr) int32
	de265GetImageColourPrimaries   func(img uintptr) int32
	de265GetImageTransferChars     func(img uintptr) int32
	de265GetImageMatrixCoefficents func(img uintptr) int32

	de265GetVersionNumber func() uint32
	de265DisableLogging   func()
	de265SetVerbosity     func(level int32)
	de265GetErrorText     func(err int32) uintptr
)

func init() {
	openEngine = openPuregoEngine
}

func loadLibrary() error {
	de265Once.Do(func() {
		de265InitErr = loadDe265Lib()
	})
	return de265InitErr
}

func loadDe265Lib() error {
	paths := libraryPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			de265Handle = handle
			if err := loadDe265Symbols(); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libde265: %w", lastErr)
	}
	return errors.New("libde265 not found in any standard location")
}

func loadDe265Symbols() (err error) {
	// RegisterLibFunc panics on a missing symbol.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("libde265 symbol lookup: %v", r)
		}
	}()

	purego.RegisterLibFunc(&de265NewDecoder, de265Handle, "de265_new_decoder")
	purego.RegisterLibFunc(&de265FreeDecoder, de265Handle, "de265_free_decoder")
	purego.RegisterLibFunc(&de265StartWorkerThreads, de265Handle, "de265_start_worker_threads")
	purego.RegisterLibFunc(&de265PushData, de265Handle, "de265_push_data")
	purego.RegisterLibFunc(&de265PushNAL, de265Handle, "de265_push_NAL")
	purego.RegisterLibFunc(&de265PushEndOfNAL, de265Handle, "de265_push_end_of_NAL")
	purego.RegisterLibFunc(&de265PushEndOfFrame, de265Handle, "de265_push_end_of_frame")
	purego.RegisterLibFunc(&de265FlushData, de265Handle, "de265_flush_data")
	purego.RegisterLibFunc(&de265Decode, de265Handle, "de265_decode")
	purego.RegisterLibFunc(&de265Reset, de265Handle, "de265_reset")
	purego.RegisterLibFunc(&de265InputBytesPending, de265Handle, "de265_get_number_of_input_bytes_pending")
	purego.RegisterLibFunc(&de265NALUnitsPending, de265Handle, "de265_get_number_of_NAL_units_pending")
	purego.RegisterLibFunc(&de265PeekNextPicture, de265Handle, "de265_peek_next_picture")
	purego.RegisterLibFunc(&de265ReleaseNextPicture, de265Handle, "de265_release_next_picture")
	purego.RegisterLibFunc(&de265GetWarning, de265Handle, "de265_get_warning")
	purego.RegisterLibFunc(&de265GetHighestTID, de265Handle, "de265_get_highest_TID")
	purego.RegisterLibFunc(&de265GetCurrentTID, de265Handle, "de265_get_current_TID")
	purego.RegisterLibFunc(&de265SetLimitTID, de265Handle, "de265_set_limit_TID")
	purego.RegisterLibFunc(&de265SetFramerateRatio, de265Handle, "de265_set_framerate_ratio")
	purego.RegisterLibFunc(&de265ChangeFramerate, de265Handle, "de265_change_framerate")
	purego.RegisterLibFunc(&de265SetParameterBool, de265Handle, "de265_set_parameter_bool")
	purego.RegisterLibFunc(&de265SetParameterInt, de265Handle, "de265_set_parameter_int")
	purego.RegisterLibFunc(&de265GetParameterBool, de265Handle, "de265_get_parameter_bool")

	purego.RegisterLibFunc(&de265GetChromaFormat, de265Handle, "de265_get_chroma_format")
	purego.RegisterLibFunc(&de265GetImageWidth, de265Handle, "de265_get_image_width")
	purego.RegisterLibFunc(&de265GetImageHeight, de265Handle, "de265_get_image_height")
	purego.RegisterLibFunc(&de265GetBitsPerPixel, de265Handle, "de265_get_bits_per_pixel")
	purego.RegisterLibFunc(&de265GetImagePlane, de265Handle, "de265_get_image_plane")
	purego.RegisterLibFunc(&de265GetImagePTS, de265Handle, "de265_get_image_PTS")
	purego.RegisterLibFunc(&de265GetImageUserData, de265Handle, "de265_get_image_user_data")
	purego.RegisterLibFunc(&de265GetImageNALHdr, de265Handle, "de265_get_image_NAL_header")

	registerOptional(&de265GetImageFullRange, "de265_get_image_full_range_flag")
	registerOptional(&de265GetImageColourPrimaries, "de265_get_image_colour_primaries")
	registerOptional(&de265GetImageTransferChars, "de265_get_image_transfer_characteristics")
	registerOptional(&de265GetImageMatrixCoefficents, "de265_get_image_matrix_coefficients")

	purego.RegisterLibFunc(&de265GetVersionNumber, de265Handle, "de265_get_version_number")
	purego.RegisterLibFunc(&de265DisableLogging, de265Handle, "de265_disable_logging")
	purego.RegisterLibFunc(&de265SetVerbosity, de265Handle, "de265_set_verbosity")
	purego.RegisterLibFunc(&de265GetErrorText, de265Handle, "de265_get_error_text")

	return nil
}

// registerOptional binds fptr only when the library exports name.
func registerOptional(fptr any, name string) {
	if _, err := purego.Dlsym(de265Handle, name); err != nil {
		return
	}
	purego.RegisterLibFunc(fptr, de265Handle, name)
}

func libraryVersionNumber() (uint32, error) {
	if err := loadLibrary(); err != nil {
		return 0, err
	}
	return de265GetVersionNumber(), nil
}

func libraryDisableLogging() error {
	if err := loadLibrary(); err != nil {
		return err
	}
	de265DisableLogging()
	return nil
}

func librarySetVerbosity(level int32) error {
	if err := loadLibrary(); err != nil {
		return err
	}
	de265SetVerbosity(level)
	return nil
}

func libraryErrorText(code int32) string {
	if err := loadLibrary(); err != nil {
		return ""
	}
	return goStringFromPtr(de265GetErrorText(code))
}

// de265Scratch holds output parameters of native calls.
// This struct must be heap-allocated for purego to work correctly on arm64.
// Using local stack variables for output parameters can fail due to GC moving
// the stack during the C call.
type de265Scratch struct {
	more       int32
	stride     int32
	unitType   int32
	layerID    int32
	temporalID int32
	unitName   uintptr
}

// puregoEngine drives one de265_decoder_context.
type puregoEngine struct {
	handle  uintptr
	scratch *de265Scratch
}

func openPuregoEngine() (engine, error) {
	if err := loadLibrary(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLibraryUnavailable, err)
	}
	handle := de265NewDecoder()
	if handle == 0 {
		return nil, ErrLibraryInitializationFailed
	}
	return &puregoEngine{handle: handle, scratch: &de265Scratch{}}, nil
}

func (e *puregoEngine) startWorkerThreads(n int32) int32 {
	return de265StartWorkerThreads(e.handle, n)
}

func (e *puregoEngine) pushData(data []byte, pts int64, userData uintptr) int32 {
	r := de265PushData(e.handle, bytesPtr(data), int32(len(data)), pts, userData)
	runtime.KeepAlive(data)
	return r
}

func (e *puregoEngine) pushNAL(data []byte, pts int64, userData uintptr) int32 {
	r := de265PushNAL(e.handle, bytesPtr(data), int32(len(data)), pts, userData)
	runtime.KeepAlive(data)
	return r
}

func (e *puregoEngine) pushEndOfNAL()   { de265PushEndOfNAL(e.handle) }
func (e *puregoEngine) pushEndOfFrame() { de265PushEndOfFrame(e.handle) }
func (e *puregoEngine) flushData() int32 {
	return de265FlushData(e.handle)
}

func (e *puregoEngine) decode() (bool, int32) {
	s := e.scratch
	s.more = 0
	r := de265Decode(e.handle, uintptr(unsafe.Pointer(&s.more)))
	runtime.KeepAlive(s)
	return s.more != 0, r
}

func (e *puregoEngine) reset() { de265Reset(e.handle) }

func (e *puregoEngine) inputBytesPending() int32 { return de265InputBytesPending(e.handle) }
func (e *puregoEngine) nalUnitsPending() int32   { return de265NALUnitsPending(e.handle) }
func (e *puregoEngine) warning() int32           { return de265GetWarning(e.handle) }

func (e *puregoEngine) highestTID() int32         { return de265GetHighestTID(e.handle) }
func (e *puregoEngine) currentTID() int32         { return de265GetCurrentTID(e.handle) }
func (e *puregoEngine) setLimitTID(tid int32)     { de265SetLimitTID(e.handle, tid) }
func (e *puregoEngine) setFramerateRatio(p int32) { de265SetFramerateRatio(e.handle, p) }
func (e *puregoEngine) changeFramerate(d int32) int32 {
	return de265ChangeFramerate(e.handle, d)
}

func (e *puregoEngine) setParamInt(param, value int32) {
	de265SetParameterInt(e.handle, param, value)
}

func (e *puregoEngine) setParamBool(param int32, value bool) {
	v := int32(0)
	if value {
		v = 1
	}
	de265SetParameterBool(e.handle, param, v)
}

func (e *puregoEngine) paramBool(param int32) bool {
	return de265GetParameterBool(e.handle, param) != 0
}

func (e *puregoEngine) peekPicture() picture {
	img := de265PeekNextPicture(e.handle)
	if img == 0 {
		return nil
	}
	return puregoPicture{img: img, scratch: e.scratch}
}

func (e *puregoEngine) releasePicture() { de265ReleaseNextPicture(e.handle) }

func (e *puregoEngine) free() {
	if e.handle != 0 {
		de265FreeDecoder(e.handle)
		e.handle = 0
	}
}

// puregoPicture reads a const de265_image*. It shares the owning engine's
// scratch space, which the context lock serialises.
type puregoPicture struct {
	img     uintptr
	scratch *de265Scratch
}

func (p puregoPicture) chromaFormat() int32        { return de265GetChromaFormat(p.img) }
func (p puregoPicture) width(ch int32) int32        { return de265GetImageWidth(p.img, ch) }
func (p puregoPicture) height(ch int32) int32       { return de265GetImageHeight(p.img, ch) }
func (p puregoPicture) bitsPerPixel(ch int32) int32 { return de265GetBitsPerPixel(p.img, ch) }

func (p puregoPicture) plane(ch int32) (unsafe.Pointer, int32) {
	s := p.scratch
	s.stride = 0
	ptr := de265GetImagePlane(p.img, ch, uintptr(unsafe.Pointer(&s.stride)))
	runtime.KeepAlive(s)
	if ptr == 0 {
		return nil, 0
	}
	return unsafe.Pointer(ptr), s.stride
}

func (p puregoPicture) pts() int64        { return de265GetImagePTS(p.img) }
func (p puregoPicture) userData() uintptr { return de265GetImageUserData(p.img) }

func (p puregoPicture) nalHeader() (int32, string, int32, int32) {
	s := p.scratch
	*s = de265Scratch{}
	de265GetImageNALHdr(p.img,
		uintptr(unsafe.Pointer(&s.unitType)),
		uintptr(unsafe.Pointer(&s.unitName)),
		uintptr(unsafe.Pointer(&s.layerID)),
		uintptr(unsafe.Pointer(&s.temporalID)),
	)
	runtime.KeepAlive(s)
	return s.unitType, goStringFromPtr(s.unitName), s.layerID, s.temporalID
}

func (p puregoPicture) fullRange() bool {
	if de265GetImageFullRange == nil {
		return false
	}
	return de265GetImageFullRange(p.img) != 0
}

// Unspecified (2) is reported when the library predates the VUI getters.
func (p puregoPicture) colourPrimaries() int32 {
	if de265GetImageColourPrimaries == nil {
		return 2
	}
	return de265GetImageColourPrimaries(p.img)
}

func (p puregoPicture) transferCharacteristics() int32 {
	if de265GetImageTransferChars == nil {
		return 2
	}
	return de265GetImageTransferChars(p.img)
}

func (p puregoPicture) matrixCoefficients() int32 {
	if de265GetImageMatrixCoefficents == nil {
		return 2
	}
	return de265GetImageMatrixCoefficents(p.img)
}

func bytesPtr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
