package de265

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// H265PayloadType is the dynamic payload type RegisterH265Codec uses when
// none is given.
const H265PayloadType webrtc.PayloadType = 116

// TrackState represents the state of a received track.
type TrackState int

const (
	TrackStateLive  TrackState = iota // Packets are arriving
	TrackStateEnded                   // The remote track ended
)

func (s TrackState) String() string {
	switch s {
	case TrackStateLive:
		return "live"
	case TrackStateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// RegisterH265Codec registers H.265 on m with NACK, PLI and FIR feedback.
// A zero payloadType selects H265PayloadType.
func RegisterH265Codec(m *webrtc.MediaEngine, payloadType webrtc.PayloadType) error {
	if payloadType == 0 {
		payloadType = H265PayloadType
	}
	feedback := []webrtc.RTCPFeedback{
		{Type: "goog-remb"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
	}
	return m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH265,
			ClockRate:    90000,
			RTCPFeedback: feedback,
		},
		PayloadType: payloadType,
	}, webrtc.RTPCodecTypeVideo)
}

// NewH265PeerConnection creates a PeerConnection whose media engine only
// negotiates H.265 video.
func NewH265PeerConnection(config webrtc.Configuration) (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := RegisterH265Codec(m, 0); err != nil {
		return nil, fmt.Errorf("register H.265: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	return api.NewPeerConnection(config)
}

// RTCPWriter sends RTCP packets back to the sender. *webrtc.PeerConnection
// implements it.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// TrackSource decodes a remote WebRTC H.265 track. It is an RTPSource that
// can also ask the sender for a new IRAP picture.
type TrackSource struct {
	*RTPSource

	ssrc  uint32
	rtcp  RTCPWriter
	state atomic.Int32

	mu      sync.Mutex
	onEnded func()
	plis    uint64
}

// trackReadSize is the receive buffer for one packet of a remote track.
const trackReadSize = 1500

// trackReader adapts a pion/webrtc remote track to RTPReader.
type trackReader struct {
	track *webrtc.TrackRemote
}

func (r trackReader) ReadRTP() (*RTPPacket, error) {
	buf := make([]byte, trackReadSize)
	n, _, err := r.track.Read(buf)
	if err != nil {
		return nil, err
	}
	return unmarshalRTP(buf[:n])
}

// NewTrackSource creates a source reading an H.265 remote track. w may be
// nil, in which case RequestKeyframe is a no-op.
func NewTrackSource(track *webrtc.TrackRemote, w RTCPWriter) (*TrackSource, error) {
	return newTrackSource(trackReader{track: track}, track.Codec(), uint32(track.SSRC()), w)
}

func newTrackSource(r RTPReader, codec webrtc.RTPCodecParameters, ssrc uint32, w RTCPWriter) (*TrackSource, error) {
	if !strings.EqualFold(codec.MimeType, webrtc.MimeTypeH265) {
		return nil, fmt.Errorf("track codec %q is not %s: %w", codec.MimeType, webrtc.MimeTypeH265, ErrNotSupported)
	}
	s := &TrackSource{RTPSource: NewRTPSource(r), ssrc: ssrc, rtcp: w}
	s.depack.WithDONL = usesDONL(codec.SDPFmtpLine)
	return s, nil
}

// usesDONL reports whether an fmtp line signals sprop-max-don-diff > 0.
func usesDONL(fmtp string) bool {
	for _, param := range strings.Split(fmtp, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && strings.EqualFold(key, "sprop-max-don-diff") {
			return strings.TrimLeft(strings.TrimSpace(value), "0") != ""
		}
	}
	return false
}

// ReadUnit implements Source. The track is marked ended once the remote
// side stops sending.
func (s *TrackSource) ReadUnit(ctx context.Context) (Unit, error) {
	u, err := s.RTPSource.ReadUnit(ctx)
	if errors.Is(err, io.EOF) && s.state.CompareAndSwap(int32(TrackStateLive), int32(TrackStateEnded)) {
		s.mu.Lock()
		cb := s.onEnded
		s.mu.Unlock()
		if cb != nil {
			cb()
		}
	}
	return u, err
}

// State returns the track state.
func (s *TrackSource) State() TrackState {
	return TrackState(s.state.Load())
}

// OnEnded registers a callback run once when the track ends.
func (s *TrackSource) OnEnded(callback func()) {
	s.mu.Lock()
	s.onEnded = callback
	s.mu.Unlock()
}

// SSRC returns the media SSRC of the track.
func (s *TrackSource) SSRC() uint32 { return s.ssrc }

// RequestKeyframe sends a Picture Loss Indication to the sender.
func (s *TrackSource) RequestKeyframe() error {
	if s.rtcp == nil {
		return nil
	}
	if err := s.rtcp.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: s.ssrc}}); err != nil {
		return fmt.Errorf("send PLI: %w", err)
	}
	s.mu.Lock()
	s.plis++
	s.mu.Unlock()
	return nil
}

// KeyframeRequests returns the number of PLIs sent.
func (s *TrackSource) KeyframeRequests() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plis
}
