// Package de265 provides a safe session layer over libde265, a stateful
// HEVC/H.265 decoder.
//
// Key pieces include:
//   - NewDecoder, which splits one decoder context into a DecoderInput
//     (push, decode, flush, reset, parameters) and a DecoderOutput (decoded
//     pictures), each closable on its own
//   - Image views of decoded pictures, and Go-owned Frame copies
//   - Sources that frame Annex-B files, RTP streams and MP4 files for
//     the decoder
//   - DecodePipeline, which drives a Source through a decoder session
//
// # Architecture
//
//	Decode: Source -> DecoderInput.Push*/Decode -> DecoderOutput.NextPicture -> Image
//
// Decode returns ErrImageBufferFull when the picture buffer is full (drain
// the output and retry) and ErrWaitingForInputData when it needs more input
// (push and retry). Errors are Code values; use IsRetryable and IsWarning to
// classify them.
//
// # Native Library
//
// By default the package loads libde265 at runtime with purego
// (CGO_ENABLED=0). Set DE265_LIB_PATH to the library file, or
// DE265_SDK_LIB_PATH to the directory containing it. With cgo enabled it
// links against libde265 through pkg-config instead. On other platforms
// NewDecoder reports ErrLibraryUnavailable.
package de265
