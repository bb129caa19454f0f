package de265

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrNotSupported is returned when a source type cannot serve a reader.
var ErrNotSupported = errors.New("de265: operation not supported")

// SourceType identifies how compressed input is framed.
type SourceType int

const (
	SourceTypeUnknown    SourceType = iota
	SourceTypeByteStream            // Raw Annex-B bytes in fixed chunks
	SourceTypeAnnexB                // Annex-B split into NAL units
	SourceTypeRTP                   // RTP packets (RFC 7798)
	SourceTypeMP4                   // Fragmented MP4 with an hvc1/hev1 track
)

func (s SourceType) String() string {
	switch s {
	case SourceTypeByteStream:
		return "ByteStream"
	case SourceTypeAnnexB:
		return "AnnexB"
	case SourceTypeRTP:
		return "RTP"
	case SourceTypeMP4:
		return "MP4"
	default:
		return "Unknown"
	}
}

// Unit is one piece of compressed input for a DecoderInput.
type Unit struct {
	Data []byte
	// NAL selects PushNAL (Data is one NAL unit without start code) over
	// PushData (Data is a slice of the Annex-B byte stream).
	NAL        bool
	PTS        int64
	UserData   uintptr
	EndOfFrame bool // Call PushEndOfFrame after pushing Data
}

// Push feeds the unit to in.
func (u Unit) Push(in *DecoderInput) error {
	var err error
	if u.NAL {
		err = in.PushNAL(u.Data, u.PTS, u.UserData)
	} else {
		err = in.PushData(u.Data, u.PTS, u.UserData)
	}
	if err != nil {
		return err
	}
	if u.EndOfFrame {
		in.PushEndOfFrame()
	}
	return nil
}

// Source produces compressed input units. ReadUnit returns io.EOF after the
// last unit.
type Source interface {
	ReadUnit(ctx context.Context) (Unit, error)
}

// SourceFactory creates a source reading from r.
type SourceFactory func(r io.Reader) (Source, error)

// sourceRegistry holds registered source factories.
type sourceRegistry struct {
	factories map[SourceType]SourceFactory
	mu        sync.RWMutex
}

var globalSourceRegistry = &sourceRegistry{
	factories: make(map[SourceType]SourceFactory),
}

// RegisterSource registers a source factory for a source type.
func RegisterSource(stype SourceType, factory SourceFactory) {
	globalSourceRegistry.mu.Lock()
	defer globalSourceRegistry.mu.Unlock()
	globalSourceRegistry.factories[stype] = factory
}

// CreateSource creates a source of the specified type.
func CreateSource(stype SourceType, r io.Reader) (Source, error) {
	globalSourceRegistry.mu.RLock()
	factory, ok := globalSourceRegistry.factories[stype]
	globalSourceRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("source type %v not available: %w", stype, ErrNotSupported)
	}

	return factory(r)
}

// IsSourceAvailable checks if a source type is registered.
func IsSourceAvailable(stype SourceType) bool {
	globalSourceRegistry.mu.RLock()
	defer globalSourceRegistry.mu.RUnlock()
	_, ok := globalSourceRegistry.factories[stype]
	return ok
}

// DetectSourceType guesses the framing of a stream from its first bytes.
func DetectSourceType(header []byte) SourceType {
	if IsHEVCAnnexB(header) {
		return SourceTypeAnnexB
	}
	if len(header) >= 8 {
		switch string(header[4:8]) {
		case "ftyp", "styp", "moov", "moof":
			return SourceTypeMP4
		}
	}
	return SourceTypeUnknown
}

// DefaultChunkSize is the read size of a ByteStreamSource.
const DefaultChunkSize = 4096

// ByteStreamSource reads an Annex-B stream in fixed-size chunks for
// PushData. Chunk boundaries ignore NAL boundaries; the decoder reassembles
// them. PTS is the 0-based chunk index and UserData the 1-based one.
type ByteStreamSource struct {
	r     io.Reader
	buf   []byte
	chunk int64
}

// NewByteStreamSource creates a chunked source. chunkSize <= 0 selects
// DefaultChunkSize.
func NewByteStreamSource(r io.Reader, chunkSize int) *ByteStreamSource {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ByteStreamSource{r: r, buf: make([]byte, chunkSize)}
}

// ReadUnit implements Source.
func (s *ByteStreamSource) ReadUnit(ctx context.Context) (Unit, error) {
	if err := ctx.Err(); err != nil {
		return Unit{}, err
	}
	n, err := io.ReadFull(s.r, s.buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return Unit{}, err
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Unit{}, err
	}
	s.chunk++
	data := make([]byte, n)
	copy(data, s.buf[:n])
	return Unit{Data: data, PTS: s.chunk - 1, UserData: uintptr(s.chunk)}, nil
}

// annexBReadSize is the read granularity of an AnnexBSource.
const annexBReadSize = 64 * 1024

// AnnexBSource splits an Annex-B stream into NAL units for PushNAL and
// groups them into access units. Every NAL of an access unit carries the
// access unit's 0-based index as PTS and its 1-based index as UserData; the
// last one is marked EndOfFrame.
type AnnexBSource struct {
	r     io.Reader
	chunk []byte
	buf   []byte
	eof   bool

	// scanned is the offset in buf from which start codes have not been
	// searched yet.
	scanned int

	queue []Unit
	prev  *Unit

	au     int64
	hasVCL bool
}

// NewAnnexBSource creates a NAL-unit source.
func NewAnnexBSource(r io.Reader) *AnnexBSource {
	return &AnnexBSource{r: r}
}

// ReadUnit implements Source.
func (s *AnnexBSource) ReadUnit(ctx context.Context) (Unit, error) {
	for len(s.queue) == 0 {
		if err := ctx.Err(); err != nil {
			return Unit{}, err
		}
		if s.eof {
			if s.prev == nil {
				return Unit{}, io.EOF
			}
			s.prev.EndOfFrame = true
			s.queue = append(s.queue, *s.prev)
			s.prev = nil
			break
		}
		if err := s.fill(); err != nil {
			return Unit{}, err
		}
	}
	u := s.queue[0]
	s.queue = s.queue[1:]
	return u, nil
}

// fill reads more input and queues every NAL unit that is known complete.
func (s *AnnexBSource) fill() error {
	if s.chunk == nil {
		s.chunk = make([]byte, annexBReadSize)
	}
	n, err := s.r.Read(s.chunk)
	s.buf = append(s.buf, s.chunk[:n]...)
	switch {
	case errors.Is(err, io.EOF):
		s.eof = true
	case err != nil:
		return err
	}

	var complete []byte
	if s.eof {
		complete, s.buf = s.buf, nil
	} else {
		last := lastStartCode(s.buf, s.scanned)
		s.scanned = max(len(s.buf)-2, 0)
		if last <= 0 {
			return nil
		}
		complete = s.buf[:last]
		s.buf = append([]byte(nil), s.buf[last:]...)
		s.scanned -= last
	}
	for _, nal := range SplitAnnexB(complete) {
		s.add(nal)
	}
	return nil
}

// add appends nal to the current access unit or starts a new one.
func (s *AnnexBSource) add(nal []byte) {
	if len(nal) < 2 {
		return
	}
	if s.startsAccessUnit(nal) {
		if s.prev != nil {
			s.prev.EndOfFrame = true
		}
		s.au++
		s.hasVCL = false
	}
	if nalType(nal[0]).IsVCL() {
		s.hasVCL = true
	}
	if s.prev != nil {
		s.queue = append(s.queue, *s.prev)
	}
	s.prev = &Unit{
		Data:     nal,
		NAL:      true,
		PTS:      s.au,
		UserData: uintptr(s.au + 1),
	}
}

// startsAccessUnit applies the first-NAL-of-access-unit rules of H.265
// 7.4.2.4.4 to the unit following a picture's slices.
func (s *AnnexBSource) startsAccessUnit(nal []byte) bool {
	if !s.hasVCL {
		return false
	}
	t := nalType(nal[0])
	switch {
	case t.IsVCL():
		return FirstSliceInPicture(nal)
	case t.IsParameterSet(), t == NALAUD, t == NALSEIPrefix:
		return true
	case t >= 41 && t <= 44, t >= 48 && t <= 55:
		return true
	}
	return false
}

// lastStartCode returns the offset of the last start code in buf that
// begins at or after from, or -1. A four-byte start code is reported at its
// leading zero.
func lastStartCode(buf []byte, from int) int {
	last := -1
	for i := max(from, 0); i+2 < len(buf); i++ {
		if buf[i+2] > 1 {
			i += 2
			continue
		}
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
			last = i
			if i > 0 && buf[i-1] == 0 {
				last = i - 1
			}
			i += 2
		}
	}
	return last
}

func init() {
	RegisterSource(SourceTypeByteStream, func(r io.Reader) (Source, error) {
		return NewByteStreamSource(r, DefaultChunkSize), nil
	})
	RegisterSource(SourceTypeAnnexB, func(r io.Reader) (Source, error) {
		return NewAnnexBSource(r), nil
	})
}
