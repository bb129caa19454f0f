package de265

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/pion/rtp"
)

// Re-export pion/rtp types for convenience
type (
	// RTPPacket is an alias to pion's rtp.Packet
	RTPPacket = rtp.Packet

	// RTPHeader is an alias to pion's rtp.Header
	RTPHeader = rtp.Header
)

// ErrMalformedRTP marks a packet that could not be parsed. RTPSource counts
// and skips such packets instead of stopping.
var ErrMalformedRTP = errors.New("de265: malformed RTP packet")

// RTPReader is an interface for reading RTP packets.
type RTPReader interface {
	// ReadRTP reads an RTP packet. Errors wrapping ErrMalformedRTP are
	// per-packet; any other error ends the stream.
	ReadRTP() (*RTPPacket, error)
}

// unmarshalRTP parses buf, wrapping parse failures in ErrMalformedRTP.
func unmarshalRTP(buf []byte) (*RTPPacket, error) {
	pkt := &RTPPacket{}
	if err := pkt.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRTP, err)
	}
	return pkt, nil
}

// IsRTPTimestampOlder returns true if ts1 is older than or equal to ts2,
// handling 32-bit wraparound correctly per RTP timestamp comparison rules.
func IsRTPTimestampOlder(ts1, ts2 uint32) bool {
	if ts1 == ts2 {
		return true
	}
	diff := ts2 - ts1
	return diff < 0x80000000
}

// RTPSource turns an H.265 RTP stream into decoder input. Each unit is one
// NAL unit. PTS is the RTP timestamp unwrapped to 64 bits (90 kHz clock),
// UserData the 1-based access unit number. The last NAL of a packet with
// the marker bit set ends the frame.
type RTPSource struct {
	reader RTPReader
	depack *H265Depacketizer

	queue []Unit

	haveTS  bool
	lastTS  uint32
	pts     int64
	au      int64
	dropped atomic.Uint64
}

// NewRTPSource creates a source reading packets from reader.
func NewRTPSource(reader RTPReader) *RTPSource {
	return &RTPSource{reader: reader, depack: NewH265Depacketizer()}
}

// Depacketizer exposes the source's depacketizer, e.g. to enable DONL.
func (s *RTPSource) Depacketizer() *H265Depacketizer { return s.depack }

// Dropped returns the number of packets discarded as late or malformed. It
// may be called while another goroutine reads units.
func (s *RTPSource) Dropped() uint64 { return s.dropped.Load() }

// ReadUnit implements Source. It blocks in the reader; ctx is checked
// between packets.
func (s *RTPSource) ReadUnit(ctx context.Context) (Unit, error) {
	for len(s.queue) == 0 {
		if err := ctx.Err(); err != nil {
			return Unit{}, err
		}
		pkt, err := s.reader.ReadRTP()
		if errors.Is(err, ErrMalformedRTP) {
			s.dropped.Add(1)
			continue
		}
		if err != nil {
			return Unit{}, err
		}
		s.handle(pkt)
	}
	u := s.queue[0]
	s.queue = s.queue[1:]
	return u, nil
}

func (s *RTPSource) handle(pkt *RTPPacket) {
	ts := pkt.Timestamp
	switch {
	case !s.haveTS:
		s.haveTS = true
		s.au = 1
	case ts != s.lastTS && IsRTPTimestampOlder(ts, s.lastTS):
		s.dropped.Add(1)
		return
	case ts != s.lastTS:
		s.pts += int64(ts - s.lastTS)
		s.au++
	}
	s.lastTS = ts

	nals, err := s.depack.Depacketize(pkt)
	if err != nil {
		s.dropped.Add(1)
	}
	for i, nal := range nals {
		s.queue = append(s.queue, Unit{
			Data:       nal,
			NAL:        true,
			PTS:        s.pts,
			UserData:   uintptr(s.au),
			EndOfFrame: pkt.Marker && i == len(nals)-1,
		})
	}
}

// packetStreamReader reads RTP packets framed with a 2-byte big-endian
// length prefix (RFC 4571), as dumped by common capture tools.
type packetStreamReader struct {
	r   io.Reader
	hdr [2]byte
}

func (p *packetStreamReader) ReadRTP() (*RTPPacket, error) {
	if _, err := io.ReadFull(p.r, p.hdr[:]); err != nil {
		return nil, err
	}
	buf := make([]byte, int(p.hdr[0])<<8|int(p.hdr[1]))
	if _, err := io.ReadFull(p.r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return unmarshalRTP(buf)
}

// NewRTPStreamReader reads RFC 4571 length-prefixed RTP packets from r.
func NewRTPStreamReader(r io.Reader) RTPReader {
	return &packetStreamReader{r: r}
}

func init() {
	RegisterSource(SourceTypeRTP, func(r io.Reader) (Source, error) {
		return NewRTPSource(NewRTPStreamReader(r)), nil
	})
}
