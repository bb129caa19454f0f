package de265

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

var errPACIUnsupported = errors.New("H.265 PACI packets are not supported")

// H265Depacketizer reassembles HEVC NAL units from RTP payloads (RFC 7798):
// single NAL unit packets, aggregation packets (AP) and fragmentation units
// (FU). NAL units are returned without start codes, ready for PushNAL.
type H265Depacketizer struct {
	// WithDONL is set when the session signals sprop-max-don-diff > 0, in
	// which case packets carry decoding order number fields.
	WithDONL bool

	fuBuffer    []byte // FU fragments of the NAL being assembled
	fragmenting bool   // True when in the middle of FU fragmentation
	lastSeq     uint16
	haveSeq     bool
	timestamp   uint32
	mu          sync.Mutex
}

// NewH265Depacketizer creates a new H.265 RTP depacketizer.
func NewH265Depacketizer() *H265Depacketizer {
	return &H265Depacketizer{}
}

// Depacketize processes an RTP packet and returns the NAL units it
// completes. A partially received FU yields no units.
func (d *H265Depacketizer) Depacketize(pkt *rtp.Packet) ([][]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A sequence gap or a new timestamp invalidates a pending FU.
	if d.haveSeq && pkt.SequenceNumber != d.lastSeq+1 {
		d.dropFragment()
	}
	if d.timestamp != pkt.Timestamp {
		d.dropFragment()
	}
	d.lastSeq = pkt.SequenceNumber
	d.haveSeq = true
	d.timestamp = pkt.Timestamp

	payload := pkt.Payload
	if len(payload) < 2 {
		return nil, nil
	}

	switch nalType(payload[0]) {
	case NALAggregation:
		return d.depacketizeAP(payload)
	case NALFragmentUnit:
		nal, err := d.depacketizeFU(payload)
		if err != nil || nal == nil {
			return nil, err
		}
		return [][]byte{nal}, nil
	case NALPACI:
		return nil, errPACIUnsupported
	default:
		// Single NAL unit packet
		if d.WithDONL {
			if len(payload) < 4 {
				return nil, fmt.Errorf("single NAL packet too short: %d bytes", len(payload))
			}
			nal := make([]byte, 0, len(payload)-2)
			nal = append(nal, payload[:2]...)
			nal = append(nal, payload[4:]...)
			return [][]byte{nal}, nil
		}
		nal := make([]byte, len(payload))
		copy(nal, payload)
		return [][]byte{nal}, nil
	}
}

func (d *H265Depacketizer) depacketizeAP(payload []byte) ([][]byte, error) {
	// Skip payload header
	offset := 2
	var nals [][]byte

	for first := true; offset < len(payload); first = false {
		if d.WithDONL {
			if first {
				offset += 2 // DONL
			} else {
				offset++ // DOND
			}
		}
		if offset+2 > len(payload) {
			break
		}
		size := int(binary.BigEndian.Uint16(payload[offset:]))
		offset += 2

		if size == 0 || offset+size > len(payload) {
			return nals, fmt.Errorf("aggregation unit of %d bytes overruns packet", size)
		}

		nal := make([]byte, size)
		copy(nal, payload[offset:offset+size])
		nals = append(nals, nal)
		offset += size
	}

	return nals, nil
}

func (d *H265Depacketizer) depacketizeFU(payload []byte) ([]byte, error) {
	if len(payload) < 3 {
		return nil, fmt.Errorf("FU packet too short")
	}

	fuHeader := payload[2]
	isStart := (fuHeader & 0x80) != 0
	isEnd := (fuHeader & 0x40) != 0
	fuType := fuHeader & 0x3F

	data := payload[3:]
	if isStart {
		if d.WithDONL {
			if len(data) < 2 {
				return nil, fmt.Errorf("FU start packet too short")
			}
			data = data[2:]
		}
		// Reconstruct NAL header: keep F and layer bits, restore type.
		d.fuBuffer = d.fuBuffer[:0]
		d.fuBuffer = append(d.fuBuffer, (payload[0]&0x81)|fuType<<1, payload[1])
		d.fragmenting = true
	}

	if !d.fragmenting {
		return nil, nil
	}

	d.fuBuffer = append(d.fuBuffer, data...)

	if !isEnd {
		return nil, nil
	}
	nal := make([]byte, len(d.fuBuffer))
	copy(nal, d.fuBuffer)
	d.dropFragment()
	return nal, nil
}

func (d *H265Depacketizer) dropFragment() {
	d.fuBuffer = d.fuBuffer[:0]
	d.fragmenting = false
}

// DepacketizeBytes processes raw RTP packet bytes.
func (d *H265Depacketizer) DepacketizeBytes(data []byte) ([][]byte, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return d.Depacketize(&pkt)
}

// Reset clears any buffered partial NAL unit.
func (d *H265Depacketizer) Reset() {
	d.mu.Lock()
	d.dropFragment()
	d.haveSeq = false
	d.timestamp = 0
	d.mu.Unlock()
}
