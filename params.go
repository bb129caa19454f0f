package de265

// ParamInt selects an integer decoder parameter (de265_param).
type ParamInt int32

const (
	ParamDumpSPSHeaders   ParamInt = 1 // Dump SPS headers to the given file descriptor
	ParamDumpVPSHeaders   ParamInt = 2 // Dump VPS headers to the given file descriptor
	ParamDumpPPSHeaders   ParamInt = 3 // Dump PPS headers to the given file descriptor
	ParamDumpSliceHeaders ParamInt = 4 // Dump slice headers to the given file descriptor
)

func (p ParamInt) String() string {
	switch p {
	case ParamDumpSPSHeaders:
		return "dump-sps-headers"
	case ParamDumpVPSHeaders:
		return "dump-vps-headers"
	case ParamDumpPPSHeaders:
		return "dump-pps-headers"
	case ParamDumpSliceHeaders:
		return "dump-slice-headers"
	default:
		return "unknown"
	}
}

// ParamBool selects a boolean decoder parameter (de265_param).
type ParamBool int32

const (
	ParamSEICheckHash           ParamBool = 0 // Verify SEI picture hashes
	ParamSuppressFaultyPictures ParamBool = 6 // Do not output pictures with decoding errors
	ParamDisableDeblocking      ParamBool = 7
	ParamDisableSAO             ParamBool = 8
)

func (p ParamBool) String() string {
	switch p {
	case ParamSEICheckHash:
		return "sei-check-hash"
	case ParamSuppressFaultyPictures:
		return "suppress-faulty-pictures"
	case ParamDisableDeblocking:
		return "disable-deblocking"
	case ParamDisableSAO:
		return "disable-sao"
	default:
		return "unknown"
	}
}

// paramAccelerationCode is DE265_DECODER_PARAM_ACCELERATION_CODE.
const paramAccelerationCode int32 = 5

// Acceleration selects the engine's DSP implementation. Higher tiers include
// all optimizations of the lower ones.
type Acceleration int32

const (
	AccelerationScalar Acceleration = 0 // Fallback implementation only
	AccelerationMMX    Acceleration = 1
	AccelerationSSE    Acceleration = 2
	AccelerationSSE2   Acceleration = 3
	AccelerationSSE4   Acceleration = 4
	AccelerationAVX    Acceleration = 5 // Not implemented by libde265 yet
	AccelerationAVX2   Acceleration = 6 // Not implemented by libde265 yet
	AccelerationARM    Acceleration = 7
	AccelerationNEON   Acceleration = 8
	AccelerationAuto   Acceleration = 10000
)

func (a Acceleration) String() string {
	switch a {
	case AccelerationScalar:
		return "scalar"
	case AccelerationMMX:
		return "mmx"
	case AccelerationSSE:
		return "sse"
	case AccelerationSSE2:
		return "sse2"
	case AccelerationSSE4:
		return "sse4"
	case AccelerationAVX:
		return "avx"
	case AccelerationAVX2:
		return "avx2"
	case AccelerationARM:
		return "arm"
	case AccelerationNEON:
		return "neon"
	case AccelerationAuto:
		return "auto"
	default:
		return "unknown"
	}
}

// ParseAcceleration maps a name produced by Acceleration.String back to its
// value. Unknown names yield AccelerationAuto and false.
func ParseAcceleration(s string) (Acceleration, bool) {
	for _, a := range []Acceleration{
		AccelerationScalar, AccelerationMMX, AccelerationSSE, AccelerationSSE2,
		AccelerationSSE4, AccelerationAVX, AccelerationAVX2, AccelerationARM,
		AccelerationNEON, AccelerationAuto,
	} {
		if a.String() == s {
			return a, true
		}
	}
	return AccelerationAuto, false
}

// DecodeStatus is the successful outcome of DecoderInput.Decode.
type DecodeStatus int

const (
	// DecodeDone means no more progress is possible without new input, or,
	// after FlushData, that the stream is fully decoded.
	DecodeDone DecodeStatus = iota
	// DecodeHasImages means there is more work pending; drain the output
	// before decoding again.
	DecodeHasImages
)

func (s DecodeStatus) String() string {
	switch s {
	case DecodeDone:
		return "done"
	case DecodeHasImages:
		return "has-images"
	default:
		return "unknown"
	}
}

// Channel identifies one colour component of a picture.
type Channel int

const (
	ChannelY Channel = iota
	ChannelCb
	ChannelCr
)

func (c Channel) String() string {
	switch c {
	case ChannelY:
		return "Y"
	case ChannelCb:
		return "Cb"
	case ChannelCr:
		return "Cr"
	default:
		return "Unknown"
	}
}

// ChromaFormat is the chroma subsampling layout of a picture.
type ChromaFormat int

const (
	ChromaMono ChromaFormat = iota
	Chroma420
	Chroma422
	Chroma444
	ChromaUnknown
)

func (c ChromaFormat) String() string {
	switch c {
	case ChromaMono:
		return "mono"
	case Chroma420:
		return "4:2:0"
	case Chroma422:
		return "4:2:2"
	case Chroma444:
		return "4:4:4"
	default:
		return "unknown"
	}
}

// PlaneCount returns the number of planes carried by this layout.
func (c ChromaFormat) PlaneCount() int {
	switch c {
	case ChromaMono:
		return 1
	case Chroma420, Chroma422, Chroma444:
		return 3
	default:
		return 0
	}
}

func chromaFromRaw(v int32) ChromaFormat {
	switch v {
	case 0:
		return ChromaMono
	case 1:
		return Chroma420
	case 2:
		return Chroma422
	case 3:
		return Chroma444
	default:
		return ChromaUnknown
	}
}
