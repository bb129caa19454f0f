// Go-owned picture copies.
package de265

import (
	"fmt"
	"image"
)

// Frame is a decoded picture copied into Go memory. Unlike Image it has no
// tie to a decoder and may be kept indefinitely.
type Frame struct {
	Planes    [3][]byte // Plane data (Y, Cb, Cr); nil for missing channels
	Strides   [3]int    // Row stride for each plane in bytes
	Widths    [3]int    // Width of each channel in samples
	Heights   [3]int    // Height of each channel in samples
	BitDepths [3]int    // Sample bit depth of each channel
	Chroma    ChromaFormat

	PTS      int64
	UserData uintptr
	NAL      NALHeader

	FullRange               bool
	ColourPrimaries         uint8
	TransferCharacteristics uint8
	MatrixCoefficients      uint8
}

// Width returns the luma width in pixels.
func (f *Frame) Width() int { return f.Widths[ChannelY] }

// Height returns the luma height in pixels.
func (f *Frame) Height() int { return f.Heights[ChannelY] }

// Plane returns the samples of channel ch and the row stride.
func (f *Frame) Plane(ch Channel) ([]byte, int) {
	if ch < ChannelY || ch > ChannelCr {
		return nil, 0
	}
	return f.Planes[ch], f.Strides[ch]
}

// Clone creates a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	clone := *f
	for i, plane := range f.Planes {
		if plane != nil {
			clone.Planes[i] = make([]byte, len(plane))
			copy(clone.Planes[i], plane)
		}
	}
	return &clone
}

// YCbCr wraps the frame's planes in an image.YCbCr without copying. Only
// 8-bit pictures have that form. Monochrome pictures get neutral chroma.
func (f *Frame) YCbCr() (*image.YCbCr, error) {
	for ch := range f.Chroma.PlaneCount() {
		if f.BitDepths[ch] != 8 {
			return nil, fmt.Errorf("de265: %d-bit %s plane has no image.YCbCr form", f.BitDepths[ch], Channel(ch))
		}
	}

	w, h := f.Width(), f.Height()
	img := &image.YCbCr{
		Y:       f.Planes[ChannelY],
		YStride: f.Strides[ChannelY],
		Rect:    image.Rect(0, 0, w, h),
	}

	switch f.Chroma {
	case Chroma420:
		img.SubsampleRatio = image.YCbCrSubsampleRatio420
	case Chroma422:
		img.SubsampleRatio = image.YCbCrSubsampleRatio422
	case Chroma444:
		img.SubsampleRatio = image.YCbCrSubsampleRatio444
	case ChromaMono:
		img.SubsampleRatio = image.YCbCrSubsampleRatio420
		cw, chh := (w+1)/2, (h+1)/2
		neutral := make([]byte, cw*chh)
		for i := range neutral {
			neutral[i] = 128
		}
		img.Cb, img.Cr, img.CStride = neutral, neutral, cw
		return img, nil
	default:
		return nil, fmt.Errorf("de265: unsupported chroma format %s", f.Chroma)
	}

	if f.Strides[ChannelCb] != f.Strides[ChannelCr] {
		return nil, fmt.Errorf("de265: chroma strides differ (%d vs %d)", f.Strides[ChannelCb], f.Strides[ChannelCr])
	}
	img.Cb = f.Planes[ChannelCb]
	img.Cr = f.Planes[ChannelCr]
	img.CStride = f.Strides[ChannelCb]
	return img, nil
}

// I420Size returns the buffer size of a tightly packed 4:2:0 picture.
func I420Size(width, height int) int {
	ySize := width * height
	uvSize := ((width + 1) / 2) * ((height + 1) / 2)
	return ySize + uvSize*2
}
