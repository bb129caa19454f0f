package de265

import (
	"errors"
	"fmt"
)

// NALUnitType is the 6-bit HEVC nal_unit_type (ITU-T H.265 Table 7-1).
type NALUnitType uint8

const (
	NALTrailN       NALUnitType = 0
	NALTrailR       NALUnitType = 1
	NALTsaN         NALUnitType = 2
	NALTsaR         NALUnitType = 3
	NALStsaN        NALUnitType = 4
	NALStsaR        NALUnitType = 5
	NALRadlN        NALUnitType = 6
	NALRadlR        NALUnitType = 7
	NALRaslN        NALUnitType = 8
	NALRaslR        NALUnitType = 9
	NALBlaWLP       NALUnitType = 16
	NALBlaWRadl     NALUnitType = 17
	NALBlaNLP       NALUnitType = 18
	NALIdrWRadl     NALUnitType = 19
	NALIdrNLP       NALUnitType = 20
	NALCraNut       NALUnitType = 21
	NALVPS          NALUnitType = 32
	NALSPS          NALUnitType = 33
	NALPPS          NALUnitType = 34
	NALAUD          NALUnitType = 35
	NALEOS          NALUnitType = 36
	NALEOB          NALUnitType = 37
	NALFillerData   NALUnitType = 38
	NALSEIPrefix    NALUnitType = 39
	NALSEISuffix    NALUnitType = 40
	NALAggregation  NALUnitType = 48 // RFC 7798 aggregation packet
	NALFragmentUnit NALUnitType = 49 // RFC 7798 fragmentation unit
	NALPACI         NALUnitType = 50 // RFC 7798 PACI packet
)

var nalTypeNames = map[NALUnitType]string{
	NALTrailN:     "TRAIL_N",
	NALTrailR:     "TRAIL_R",
	NALTsaN:       "TSA_N",
	NALTsaR:       "TSA_R",
	NALStsaN:      "STSA_N",
	NALStsaR:      "STSA_R",
	NALRadlN:      "RADL_N",
	NALRadlR:      "RADL_R",
	NALRaslN:      "RASL_N",
	NALRaslR:      "RASL_R",
	NALBlaWLP:     "BLA_W_LP",
	NALBlaWRadl:   "BLA_W_RADL",
	NALBlaNLP:     "BLA_N_LP",
	NALIdrWRadl:   "IDR_W_RADL",
	NALIdrNLP:     "IDR_N_LP",
	NALCraNut:     "CRA_NUT",
	NALVPS:        "VPS",
	NALSPS:        "SPS",
	NALPPS:        "PPS",
	NALAUD:        "AUD",
	NALEOS:        "EOS",
	NALEOB:        "EOB",
	NALFillerData: "FD",
	NALSEIPrefix:  "SEI_PREFIX",
	NALSEISuffix:  "SEI_SUFFIX",
}

func (t NALUnitType) String() string {
	if s, ok := nalTypeNames[t]; ok {
		return s
	}
	switch {
	case t <= 31:
		return fmt.Sprintf("RSV_VCL_%d", uint8(t))
	case t <= 47:
		return fmt.Sprintf("RSV_NVCL_%d", uint8(t))
	default:
		return fmt.Sprintf("UNSPEC_%d", uint8(t))
	}
}

// IsVCL reports whether units of this type carry slice data.
func (t NALUnitType) IsVCL() bool { return t < 32 }

// IsIRAP reports whether t is an intra random access point (BLA, IDR, CRA).
func (t NALUnitType) IsIRAP() bool { return t >= NALBlaWLP && t <= 23 }

// IsParameterSet reports whether t is a VPS, SPS or PPS.
func (t NALUnitType) IsParameterSet() bool { return t >= NALVPS && t <= NALPPS }

var (
	errNALTooShort       = errors.New("de265: NAL unit shorter than its 2-byte header")
	errNALForbiddenBit   = errors.New("de265: NAL forbidden_zero_bit set")
	errNALZeroTemporalID = errors.New("de265: NAL nuh_temporal_id_plus1 is zero")
)

// ParseNALHeader decodes the 2-byte HEVC NAL unit header:
// forbidden(1) | type(6) | layer_id(6) | temporal_id_plus1(3).
func ParseNALHeader(nal []byte) (NALHeader, error) {
	if len(nal) < 2 {
		return NALHeader{}, errNALTooShort
	}
	if nal[0]&0x80 != 0 {
		return NALHeader{}, errNALForbiddenBit
	}
	tidPlus1 := nal[1] & 0x07
	if tidPlus1 == 0 {
		return NALHeader{}, errNALZeroTemporalID
	}
	typ := NALUnitType((nal[0] >> 1) & 0x3F)
	return NALHeader{
		UnitType:   typ,
		UnitName:   typ.String(),
		LayerID:    (nal[0]&0x01)<<5 | nal[1]>>3,
		TemporalID: tidPlus1 - 1,
	}, nil
}

// nalType extracts the unit type from the first header byte.
func nalType(firstByte byte) NALUnitType {
	return NALUnitType((firstByte >> 1) & 0x3F)
}

// FirstSliceInPicture reports whether a VCL NAL unit starts a new picture
// (first_slice_segment_in_pic_flag, the first bit after the header).
func FirstSliceInPicture(nal []byte) bool {
	if len(nal) < 3 || !nalType(nal[0]).IsVCL() {
		return false
	}
	return nal[2]&0x80 != 0
}

// SplitAnnexB splits an Annex-B byte stream into NAL units without start
// codes. Both 3-byte (0x000001) and 4-byte (0x00000001) start codes are
// recognized; bytes before the first start code are dropped.
func SplitAnnexB(data []byte) [][]byte {
	var starts, ends []int
	n := len(data)
	for i := 0; i+2 < n; {
		if data[i] == 0 && data[i+1] == 0 {
			if i+3 < n && data[i+2] == 0 && data[i+3] == 1 {
				ends = append(ends, i)
				starts = append(starts, i+4)
				i += 4
				continue
			}
			if data[i+2] == 1 {
				ends = append(ends, i)
				starts = append(starts, i+3)
				i += 3
				continue
			}
		}
		i++
	}

	var units [][]byte
	for idx, start := range starts {
		end := n
		if idx+1 < len(starts) {
			end = ends[idx+1]
		}
		if start >= end {
			continue
		}
		units = append(units, trimTrailingZeros(data[start:end]))
	}
	return units
}

// trimTrailingZeros drops trailing_zero_8bits between a NAL unit and the
// next start code.
func trimTrailingZeros(nal []byte) []byte {
	for len(nal) > 0 && nal[len(nal)-1] == 0 {
		nal = nal[:len(nal)-1]
	}
	return nal
}

// IsHEVCAnnexB reports whether data looks like the start of an HEVC Annex-B
// stream: a start code followed by a well-formed header of a parameter set,
// AUD, SEI or VCL unit.
func IsHEVCAnnexB(data []byte) bool {
	if len(data) < 5 {
		return false
	}
	offset := 0
	switch {
	case data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1:
		offset = 4
	case data[0] == 0 && data[1] == 0 && data[2] == 1:
		offset = 3
	default:
		return false
	}
	if len(data) < offset+2 {
		return false
	}
	h, err := ParseNALHeader(data[offset:])
	if err != nil || h.LayerID != 0 {
		return false
	}
	t := h.UnitType
	return t.IsParameterSet() || t == NALAUD || t == NALSEIPrefix ||
		(t.IsVCL() && (t <= NALRaslR || t.IsIRAP()))
}
