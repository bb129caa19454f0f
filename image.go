package de265

import "unsafe"

// NALHeader describes the NAL unit that carried the first slice of a picture.
type NALHeader struct {
	UnitType   NALUnitType
	UnitName   string
	LayerID    uint8
	TemporalID uint8
}

// Image is a view of one decoded picture held in the decoder's output queue.
//
// Plane slices alias decoder memory and are valid until the view is released
// or detached. Release returns the slot to the decoder exactly once;
// accessors on a released Image return zero values. A view is detached
// (copied into Go memory) when its decoder is reset or its output half
// closed. The engine frees the native buffers at that point, so slices
// obtained before detaching must be dropped; the view itself stays readable
// until released and Plane then returns slices of the copy.
type Image struct {
	ctx *decoderContext

	// Guarded by ctx.mu.
	pic      picture
	frame    *Frame
	released bool
	detached bool
}

// read runs fn on the picture backing the view. It reports false for a
// released view.
func (img *Image) read(fn func(picture)) bool {
	img.ctx.mu.Lock()
	defer img.ctx.mu.Unlock()
	switch {
	case img.released:
		return false
	case img.pic != nil:
		fn(img.pic)
	case img.frame != nil:
		fn(framePicture{img.frame})
	default:
		return false
	}
	return true
}

// ChromaFormat returns the chroma subsampling of the picture.
func (img *Image) ChromaFormat() ChromaFormat {
	c := ChromaUnknown
	img.read(func(p picture) { c = chromaFromRaw(p.chromaFormat()) })
	return c
}

// Width returns the width of channel ch in samples.
func (img *Image) Width(ch Channel) int {
	var n int
	img.read(func(p picture) { n = clampNonNegative(p.width(int32(ch))) })
	return n
}

// Height returns the height of channel ch in samples.
func (img *Image) Height(ch Channel) int {
	var n int
	img.read(func(p picture) { n = clampNonNegative(p.height(int32(ch))) })
	return n
}

// BitsPerPixel returns the sample bit depth of channel ch.
func (img *Image) BitsPerPixel(ch Channel) int {
	var n int
	img.read(func(p picture) { n = clampNonNegative(p.bitsPerPixel(int32(ch))) })
	return n
}

// Plane returns the samples of channel ch and the row stride in bytes. The
// slice covers stride*height bytes. A missing channel yields nil, 0. The
// slice is only valid while the view is neither released nor detached.
func (img *Image) Plane(ch Channel) ([]byte, int) {
	var (
		data   []byte
		stride int
	)
	img.read(func(p picture) { data, stride = planeSlice(p, int32(ch)) })
	return data, stride
}

// PTS returns the presentation timestamp pushed with the picture's data.
func (img *Image) PTS() int64 {
	var pts int64
	img.read(func(p picture) { pts = p.pts() })
	return pts
}

// UserData returns the user tag pushed with the picture's data.
func (img *Image) UserData() uintptr {
	var v uintptr
	img.read(func(p picture) { v = p.userData() })
	return v
}

// NALHeader returns the header of the NAL unit that started the picture.
func (img *Image) NALHeader() NALHeader {
	var h NALHeader
	img.read(func(p picture) { h = nalHeaderOf(p) })
	return h
}

// FullRange reports whether samples use the full range rather than the
// video (studio) range.
func (img *Image) FullRange() bool {
	var v bool
	img.read(func(p picture) { v = p.fullRange() })
	return v
}

// ColourPrimaries returns the VUI colour_primaries value.
func (img *Image) ColourPrimaries() uint8 {
	var v uint8
	img.read(func(p picture) { v = clampU8(p.colourPrimaries()) })
	return v
}

// TransferCharacteristics returns the VUI transfer_characteristics value.
func (img *Image) TransferCharacteristics() uint8 {
	var v uint8
	img.read(func(p picture) { v = clampU8(p.transferCharacteristics()) })
	return v
}

// MatrixCoefficients returns the VUI matrix_coeffs value.
func (img *Image) MatrixCoefficients() uint8 {
	var v uint8
	img.read(func(p picture) { v = clampU8(p.matrixCoefficients()) })
	return v
}

// Frame copies the picture into Go memory. It returns nil for a released
// view.
func (img *Image) Frame() *Frame {
	img.ctx.mu.Lock()
	defer img.ctx.mu.Unlock()
	switch {
	case img.released:
		return nil
	case img.pic != nil:
		return snapshot(img.pic)
	case img.frame != nil:
		return img.frame.Clone()
	}
	return nil
}

// Detached reports whether the view was copied out of the decoder by a
// Reset or by closing the output half.
func (img *Image) Detached() bool {
	img.ctx.mu.Lock()
	defer img.ctx.mu.Unlock()
	return img.detached
}

// Release returns the picture's slot to the decoder. Further calls are
// no-ops.
func (img *Image) Release() {
	c := img.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if img.released {
		return
	}
	img.released = true
	img.frame = nil
	if img.pic != nil {
		if c.eng != nil {
			c.eng.releasePicture()
		}
		img.pic = nil
	}
	if c.current == img {
		c.current = nil
	}
}

// detachLocked copies a live view into Go memory and returns its slot to the
// decoder. The caller holds ctx.mu.
func (img *Image) detachLocked() {
	c := img.ctx
	if img.pic != nil {
		img.frame = snapshot(img.pic)
		img.detached = true
		if c.eng != nil {
			c.eng.releasePicture()
		}
		img.pic = nil
	}
	if c.current == img {
		c.current = nil
	}
}

func planeSlice(p picture, ch int32) ([]byte, int) {
	ptr, stride := p.plane(ch)
	h := p.height(ch)
	if ptr == nil || stride <= 0 || h <= 0 {
		return nil, 0
	}
	return unsafe.Slice((*byte)(ptr), int(stride)*int(h)), int(stride)
}

func nalHeaderOf(p picture) NALHeader {
	typ, name, layer, tid := p.nalHeader()
	return NALHeader{
		UnitType:   NALUnitType(clampU8(typ)),
		UnitName:   name,
		LayerID:    clampU8(layer),
		TemporalID: clampU8(tid),
	}
}

// snapshot deep-copies a resident picture.
func snapshot(p picture) *Frame {
	f := &Frame{
		Chroma:                  chromaFromRaw(p.chromaFormat()),
		PTS:                     p.pts(),
		UserData:                p.userData(),
		NAL:                     nalHeaderOf(p),
		FullRange:               p.fullRange(),
		ColourPrimaries:         clampU8(p.colourPrimaries()),
		TransferCharacteristics: clampU8(p.transferCharacteristics()),
		MatrixCoefficients:      clampU8(p.matrixCoefficients()),
	}
	for ch := range int32(3) {
		f.Widths[ch] = clampNonNegative(p.width(ch))
		f.Heights[ch] = clampNonNegative(p.height(ch))
		f.BitDepths[ch] = clampNonNegative(p.bitsPerPixel(ch))
		if data, stride := planeSlice(p, ch); data != nil {
			f.Planes[ch] = append([]byte(nil), data...)
			f.Strides[ch] = stride
		}
	}
	return f
}

// framePicture serves a detached Frame through the picture interface.
type framePicture struct {
	f *Frame
}

func (fp framePicture) chromaFormat() int32 { return int32(fp.f.Chroma) }

func (fp framePicture) width(ch int32) int32 {
	if ch < 0 || ch > 2 {
		return 0
	}
	return int32(fp.f.Widths[ch])
}

func (fp framePicture) height(ch int32) int32 {
	if ch < 0 || ch > 2 {
		return 0
	}
	return int32(fp.f.Heights[ch])
}

func (fp framePicture) bitsPerPixel(ch int32) int32 {
	if ch < 0 || ch > 2 {
		return 0
	}
	return int32(fp.f.BitDepths[ch])
}

func (fp framePicture) plane(ch int32) (unsafe.Pointer, int32) {
	if ch < 0 || ch > 2 || len(fp.f.Planes[ch]) == 0 {
		return nil, 0
	}
	return unsafe.Pointer(&fp.f.Planes[ch][0]), int32(fp.f.Strides[ch])
}

func (fp framePicture) pts() int64        { return fp.f.PTS }
func (fp framePicture) userData() uintptr { return fp.f.UserData }

func (fp framePicture) nalHeader() (int32, string, int32, int32) {
	h := fp.f.NAL
	return int32(h.UnitType), h.UnitName, int32(h.LayerID), int32(h.TemporalID)
}

func (fp framePicture) fullRange() bool                { return fp.f.FullRange }
func (fp framePicture) colourPrimaries() int32         { return int32(fp.f.ColourPrimaries) }
func (fp framePicture) transferCharacteristics() int32 { return int32(fp.f.TransferCharacteristics) }
func (fp framePicture) matrixCoefficients() int32      { return int32(fp.f.MatrixCoefficients) }

func clampU8(v int32) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}
