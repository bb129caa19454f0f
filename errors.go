package de265

import (
	"errors"
	"fmt"
)

// Code is a libde265 status code (de265_error). Every non-OK status returned
// by the engine is surfaced as a Code, including values this package does not
// know about yet; use Known to tell them apart.
type Code int32

// Hard errors.
const (
	ErrNoSuchFile                  Code = 1
	ErrCoefficientOutOfImageBounds Code = 4
	ErrChecksumMismatch            Code = 5
	ErrCTBOutsideImageArea         Code = 6
	ErrOutOfMemory                 Code = 7
	ErrCodedParameterOutOfRange    Code = 8
	ErrImageBufferFull             Code = 9
	ErrCannotStartThreadpool       Code = 10
	ErrLibraryInitializationFailed Code = 11
	ErrLibraryNotInitialized       Code = 12
	ErrWaitingForInputData         Code = 13
	ErrCannotProcessSEI            Code = 14
	ErrParameterParsing            Code = 15
	ErrNoInitialSliceHeader        Code = 16
	ErrPrematureEndOfSlice         Code = 17
	ErrUnspecifiedDecodingError    Code = 18
	ErrNotImplementedYet           Code = 502
)

// Warnings. The engine tolerates these and keeps decoding; they are queued on
// the decoder and read with DecoderInput.Warning.
const (
	WarnNoWPPCannotUseMultithreading              Code = 1000
	WarnWarningBufferFull                         Code = 1001
	WarnPrematureEndOfSliceSegment                Code = 1002
	WarnIncorrectEntryPointOffset                 Code = 1003
	WarnCTBOutsideImageArea                       Code = 1004
	WarnSPSHeaderInvalid                          Code = 1005
	WarnPPSHeaderInvalid                          Code = 1006
	WarnSliceHeaderInvalid                        Code = 1007
	WarnIncorrectMotionVectorScaling              Code = 1008
	WarnNonexistingPPSReferenced                  Code = 1009
	WarnNonexistingSPSReferenced                  Code = 1010
	WarnBothPredFlagsZero                         Code = 1011
	WarnNonexistingReferencePictureAccessed       Code = 1012
	WarnNumMVPNotEqualToNumMVQ                    Code = 1013
	WarnNumberOfShortTermRefPicSetsOutOfRange     Code = 1014
	WarnShortTermRefPicSetOutOfRange              Code = 1015
	WarnFaultyReferencePictureList                Code = 1016
	WarnEOSSBitNotSet                             Code = 1017
	WarnMaxNumRefPicsExceeded                     Code = 1018
	WarnInvalidChromaFormat                       Code = 1019
	WarnSliceSegmentAddressInvalid                Code = 1020
	WarnDependentSliceWithAddressZero             Code = 1021
	WarnNumberOfThreadsLimitedToMaximum           Code = 1022
	WarnNonExistingLTReferenceCandidateInSliceHdr Code = 1023
	WarnCannotApplySAOOutOfMemory                 Code = 1024
	WarnSPSMissingCannotDecodeSEI                 Code = 1025
	WarnCollocatedMotionVectorOutsideImageArea    Code = 1026
	WarnPCMBitDepthTooLarge                       Code = 1027
	WarnReferenceImageBitDepthDoesNotMatch        Code = 1028
	WarnReferenceImageSizeDoesNotMatchSPS         Code = 1029
	WarnChromaOfCurrentImageDoesNotMatchSPS       Code = 1030
	WarnBitDepthOfCurrentImageDoesNotMatchSPS     Code = 1031
	WarnReferenceImageChromaFormatDoesNotMatch    Code = 1032
	WarnInvalidSliceHeaderIndexAccess             Code = 1033
)

// Session errors raised by this package rather than by the engine.
var (
	ErrClosed               = errors.New("de265: decoder half is closed")
	ErrLibraryUnavailable   = errors.New("de265: libde265 not available")
	ErrWorkerThreadsStarted = errors.New("de265: worker threads already started")
	ErrDataAlreadyPushed    = errors.New("de265: worker threads must be started before pushing data")
	ErrDecoderStalled       = errors.New("de265: decoder made no progress")
	ErrInvalidWorkerThreads = errors.New("de265: negative worker thread count")
	ErrPushTooLarge         = errors.New("de265: push exceeds the engine's length limit")
)

var codeText = map[Code]string{
	ErrNoSuchFile:                  "Error: No such file",
	ErrCoefficientOutOfImageBounds: "Error: Coefficient out of image bounds",
	ErrChecksumMismatch:            "Error: Checksum mismatch",
	ErrCTBOutsideImageArea:         "Error: CTB outside image area",
	ErrOutOfMemory:                 "Error: Out of memory",
	ErrCodedParameterOutOfRange:    "Error: Coded parameter out of range",
	ErrImageBufferFull:             "Error: Image buffer full",
	ErrCannotStartThreadpool:       "Error: Cannot start threadpool",
	ErrLibraryInitializationFailed: "Error: Library initialization failed",
	ErrLibraryNotInitialized:       "Error: Library not initialized",
	ErrWaitingForInputData:         "Error: Waiting for input data",
	ErrCannotProcessSEI:            "Error: Cannot process SEI",
	ErrParameterParsing:            "Error: Parameter parsing error",
	ErrNoInitialSliceHeader:        "Error: No initial slice header",
	ErrPrematureEndOfSlice:         "Error: Premature end of slice",
	ErrUnspecifiedDecodingError:    "Error: Unspecified decoding error",
	ErrNotImplementedYet:           "Error: Not implemented yet",

	WarnNoWPPCannotUseMultithreading:              "Warning: No WPP - cannot use multithreading",
	WarnWarningBufferFull:                         "Warning: Warning buffer full",
	WarnPrematureEndOfSliceSegment:                "Warning: Premature end of slice segment",
	WarnIncorrectEntryPointOffset:                 "Warning: Incorrect entry point offset",
	WarnCTBOutsideImageArea:                       "Warning: CTB outside image area",
	WarnSPSHeaderInvalid:                          "Warning: SPS header invalid",
	WarnPPSHeaderInvalid:                          "Warning: PPS header invalid",
	WarnSliceHeaderInvalid:                        "Warning: Slice header invalid",
	WarnIncorrectMotionVectorScaling:              "Warning: Incorrect motion vector scaling",
	WarnNonexistingPPSReferenced:                  "Warning: Non-existing PPS referenced",
	WarnNonexistingSPSReferenced:                  "Warning: Non-existing SPS referenced",
	WarnBothPredFlagsZero:                         "Warning: Both prediction flags zero",
	WarnNonexistingReferencePictureAccessed:       "Warning: Non-existing reference picture accessed",
	WarnNumMVPNotEqualToNumMVQ:                    "Warning: Number of MVP not equal to number of MVQ",
	WarnNumberOfShortTermRefPicSetsOutOfRange:     "Warning: Number of short term reference picture sets out of range",
	WarnShortTermRefPicSetOutOfRange:              "Warning: Short term reference picture set out of range",
	WarnFaultyReferencePictureList:                "Warning: Faulty reference picture list",
	WarnEOSSBitNotSet:                             "Warning: EOSS bit not set",
	WarnMaxNumRefPicsExceeded:                     "Warning: Maximum number of reference pictures exceeded",
	WarnInvalidChromaFormat:                       "Warning: Invalid chroma format",
	WarnSliceSegmentAddressInvalid:                "Warning: Slice segment address invalid",
	WarnDependentSliceWithAddressZero:             "Warning: Dependent slice with address zero",
	WarnNumberOfThreadsLimitedToMaximum:           "Warning: Number of threads limited to maximum",
	WarnNonExistingLTReferenceCandidateInSliceHdr: "Warning: Non-existing LT reference candidate in slice header",
	WarnCannotApplySAOOutOfMemory:                 "Warning: Cannot apply SAO - out of memory",
	WarnSPSMissingCannotDecodeSEI:                 "Warning: SPS missing - cannot decode SEI",
	WarnCollocatedMotionVectorOutsideImageArea:    "Warning: Collocated motion vector outside image area",
	WarnPCMBitDepthTooLarge:                       "Warning: PCM bit depth too large",
	WarnReferenceImageBitDepthDoesNotMatch:        "Warning: Reference image bit depth does not match",
	WarnReferenceImageSizeDoesNotMatchSPS:         "Warning: Reference image size does not match SPS",
	WarnChromaOfCurrentImageDoesNotMatchSPS:       "Warning: Chroma of current image does not match SPS",
	WarnBitDepthOfCurrentImageDoesNotMatchSPS:     "Warning: Bit depth of current image does not match SPS",
	WarnReferenceImageChromaFormatDoesNotMatch:    "Warning: Reference image chroma format does not match",
	WarnInvalidSliceHeaderIndexAccess:             "Warning: Invalid slice header index access",
}

// Error implements error.
func (c Code) Error() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown result code: %d", int32(c))
}

// Known reports whether c is one of the named codes.
func (c Code) Known() bool {
	_, ok := codeText[c]
	return ok
}

// IsWarning reports whether c is a soft warning.
func (c Code) IsWarning() bool {
	return c >= WarnNoWPPCannotUseMultithreading && c <= WarnInvalidSliceHeaderIndexAccess
}

// Retryable reports whether the operation that returned c should be retried
// after the caller resolves the condition: drain the output for
// ErrImageBufferFull, push more input for ErrWaitingForInputData.
func (c Code) Retryable() bool {
	return c == ErrImageBufferFull || c == ErrWaitingForInputData
}

// codeError maps a raw engine status to an error. 0 (DE265_OK) is nil.
func codeError(raw int32) error {
	if raw == 0 {
		return nil
	}
	return Code(raw)
}

// IsWarning reports whether err wraps a warning Code.
func IsWarning(err error) bool {
	var c Code
	return errors.As(err, &c) && c.IsWarning()
}

// IsRetryable reports whether err wraps ErrImageBufferFull or
// ErrWaitingForInputData.
func IsRetryable(err error) bool {
	var c Code
	return errors.As(err, &c) && c.Retryable()
}
