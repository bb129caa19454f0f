//go:build (darwin || linux) && cgo

// libde265 bindings linked with cgo.
//
// This variant links directly against libde265 through pkg-config, avoiding
// the runtime library search of the purego build.

package de265

/*
#cgo pkg-config: libde265
#include <libde265/de265.h>
#include <stdint.h>
#include <stdlib.h>

static de265_error push_data_tagged(de265_decoder_context* ctx, const void* data, int len, de265_PTS pts, uintptr_t tag) {
	return de265_push_data(ctx, data, len, pts, (void*)tag);
}

static de265_error push_nal_tagged(de265_decoder_context* ctx, const void* data, int len, de265_PTS pts, uintptr_t tag) {
	return de265_push_NAL(ctx, data, len, pts, (void*)tag);
}

static uintptr_t image_user_data(const struct de265_image* img) {
	return (uintptr_t)de265_get_image_user_data(img);
}
*/
import "C"

import (
	"unsafe"
)

func init() {
	openEngine = openCgoEngine
}

// loadLibrary always succeeds: the library is linked at build time.
func loadLibrary() error { return nil }

func libraryVersionNumber() (uint32, error) {
	return uint32(C.de265_get_version_number()), nil
}

func libraryDisableLogging() error {
	C.de265_disable_logging()
	return nil
}

func librarySetVerbosity(level int32) error {
	C.de265_set_verbosity(C.int(level))
	return nil
}

func libraryErrorText(code int32) string {
	cstr := C.de265_get_error_text(C.de265_error(code))
	if cstr == nil {
		return ""
	}
	return C.GoString(cstr)
}

// cgoEngine drives one de265_decoder_context.
type cgoEngine struct {
	handle *C.de265_decoder_context
}

func openCgoEngine() (engine, error) {
	handle := C.de265_new_decoder()
	if handle == nil {
		return nil, ErrLibraryInitializationFailed
	}
	return &cgoEngine{handle: handle}, nil
}

func (e *cgoEngine) startWorkerThreads(n int32) int32 {
	return int32(C.de265_start_worker_threads(e.handle, C.int(n)))
}

func (e *cgoEngine) pushData(data []byte, pts int64, userData uintptr) int32 {
	return int32(C.push_data_tagged(e.handle, cBytes(data), C.int(len(data)), C.de265_PTS(pts), C.uintptr_t(userData)))
}

func (e *cgoEngine) pushNAL(data []byte, pts int64, userData uintptr) int32 {
	return int32(C.push_nal_tagged(e.handle, cBytes(data), C.int(len(data)), C.de265_PTS(pts), C.uintptr_t(userData)))
}

func (e *cgoEngine) pushEndOfNAL()   { C.de265_push_end_of_NAL(e.handle) }
func (e *cgoEngine) pushEndOfFrame() { C.de265_push_end_of_frame(e.handle) }

func (e *cgoEngine) flushData() int32 {
	return int32(C.de265_flush_data(e.handle))
}

func (e *cgoEngine) decode() (bool, int32) {
	var more C.int
	r := C.de265_decode(e.handle, &more)
	return more != 0, int32(r)
}

func (e *cgoEngine) reset() { C.de265_reset(e.handle) }

func (e *cgoEngine) inputBytesPending() int32 {
	return int32(C.de265_get_number_of_input_bytes_pending(e.handle))
}

func (e *cgoEngine) nalUnitsPending() int32 {
	return int32(C.de265_get_number_of_NAL_units_pending(e.handle))
}

func (e *cgoEngine) warning() int32 { return int32(C.de265_get_warning(e.handle)) }

func (e *cgoEngine) highestTID() int32 { return int32(C.de265_get_highest_TID(e.handle)) }
func (e *cgoEngine) currentTID() int32 { return int32(C.de265_get_current_TID(e.handle)) }

func (e *cgoEngine) setLimitTID(tid int32) { C.de265_set_limit_TID(e.handle, C.int(tid)) }

func (e *cgoEngine) setFramerateRatio(p int32) {
	C.de265_set_framerate_ratio(e.handle, C.int(p))
}

func (e *cgoEngine) changeFramerate(d int32) int32 {
	return int32(C.de265_change_framerate(e.handle, C.int(d)))
}

func (e *cgoEngine) setParamInt(param, value int32) {
	C.de265_set_parameter_int(e.handle, C.enum_de265_param(param), C.int(value))
}

func (e *cgoEngine) setParamBool(param int32, value bool) {
	v := C.int(0)
	if value {
		v = 1
	}
	C.de265_set_parameter_bool(e.handle, C.enum_de265_param(param), v)
}

func (e *cgoEngine) paramBool(param int32) bool {
	return C.de265_get_parameter_bool(e.handle, C.enum_de265_param(param)) != 0
}

func (e *cgoEngine) peekPicture() picture {
	img := C.de265_peek_next_picture(e.handle)
	if img == nil {
		return nil
	}
	return cgoPicture{img: img}
}

func (e *cgoEngine) releasePicture() { C.de265_release_next_picture(e.handle) }

func (e *cgoEngine) free() {
	if e.handle != nil {
		C.de265_free_decoder(e.handle)
		e.handle = nil
	}
}

type cgoPicture struct {
	img *C.struct_de265_image
}

func (p cgoPicture) chromaFormat() int32 { return int32(C.de265_get_chroma_format(p.img)) }

func (p cgoPicture) width(ch int32) int32 {
	return int32(C.de265_get_image_width(p.img, C.int(ch)))
}

func (p cgoPicture) height(ch int32) int32 {
	return int32(C.de265_get_image_height(p.img, C.int(ch)))
}

func (p cgoPicture) bitsPerPixel(ch int32) int32 {
	return int32(C.de265_get_bits_per_pixel(p.img, C.int(ch)))
}

func (p cgoPicture) plane(ch int32) (unsafe.Pointer, int32) {
	var stride C.int
	ptr := C.de265_get_image_plane(p.img, C.int(ch), &stride)
	if ptr == nil {
		return nil, 0
	}
	return unsafe.Pointer(ptr), int32(stride)
}

func (p cgoPicture) pts() int64        { return int64(C.de265_get_image_PTS(p.img)) }
func (p cgoPicture) userData() uintptr { return uintptr(C.image_user_data(p.img)) }

func (p cgoPicture) nalHeader() (int32, string, int32, int32) {
	var (
		unitType, layerID, temporalID C.int
		unitName                      *C.char
	)
	C.de265_get_image_NAL_header(p.img, &unitType, &unitName, &layerID, &temporalID)
	name := ""
	if unitName != nil {
		name = C.GoString(unitName)
	}
	return int32(unitType), name, int32(layerID), int32(temporalID)
}

func (p cgoPicture) fullRange() bool {
	return C.de265_get_image_full_range_flag(p.img) != 0
}

func (p cgoPicture) colourPrimaries() int32 {
	return int32(C.de265_get_image_colour_primaries(p.img))
}

func (p cgoPicture) transferCharacteristics() int32 {
	return int32(C.de265_get_image_transfer_characteristics(p.img))
}

func (p cgoPicture) matrixCoefficients() int32 {
	return int32(C.de265_get_image_matrix_coefficients(p.img))
}

func cBytes(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}
