package de265

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PipelineState represents the state of a decode pipeline.
type PipelineState int

const (
	PipelineStateIdle    PipelineState = iota // Not started
	PipelineStateRunning                      // Decoding
	PipelineStateStopped                      // Finished, failed or closed
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateRunning:
		return "running"
	case PipelineStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultMaxPendingBytes bounds the compressed input queued ahead of decoding.
const DefaultMaxPendingBytes = 1 << 20

// maxStalls is the number of consecutive buffer-full results with nothing
// to drain after which the pipeline gives up.
const maxStalls = 2

// DecodePipelineConfig configures a decode pipeline.
type DecodePipelineConfig struct {
	Source Source // Compressed input (required)

	// OnPicture receives every decoded picture. The Image is released after
	// the callback returns; call Image.Frame to keep it. A nil callback
	// discards pictures.
	OnPicture func(img *Image) error
	// OnWarning receives decoder warnings.
	OnWarning func(err error)

	MaxPendingBytes int          // Input backlog limit (0 = DefaultMaxPendingBytes)
	WorkerThreads   int          // Decoder worker threads (0 = decode on the caller)
	Acceleration    Acceleration // DSP selection
	CheckHash       bool         // Verify SEI picture hashes
	SuppressFaulty  bool         // Drop pictures with decoding errors
	LimitTID        *uint32      // Highest temporal sub-layer to decode (nil = all)

	Logger *zap.Logger // nil = no logging
}

// DefaultDecodePipelineConfig returns the default configuration for src.
func DefaultDecodePipelineConfig(src Source) DecodePipelineConfig {
	return DecodePipelineConfig{
		Source:          src,
		MaxPendingBytes: DefaultMaxPendingBytes,
		Acceleration:    AccelerationAuto,
	}
}

// DecodePipelineStats provides pipeline statistics.
type DecodePipelineStats struct {
	UnitsPushed       uint64
	BytesPushed       uint64
	PicturesDecoded   uint64
	Warnings          uint64
	BufferFullRetries uint64
	WaitingRetries    uint64
	DecodeTime        time.Duration
}

// DecodePipeline drives Source -> DecoderInput -> DecoderOutput -> OnPicture
// on the calling goroutine.
type DecodePipeline struct {
	source    Source
	in        *DecoderInput
	out       *DecoderOutput
	onPicture func(*Image) error
	onWarning func(error)
	log       *zap.Logger

	maxPending int

	state atomic.Int32

	stats   DecodePipelineStats
	statsMu sync.Mutex

	closeOnce sync.Once
}

// NewDecodePipeline creates a decoder session configured from config.
func NewDecodePipeline(config DecodePipelineConfig) (*DecodePipeline, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	in, out, err := NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	p, err := newDecodePipeline(config, in, out)
	if err != nil {
		in.Close()
		out.Close()
		return nil, err
	}
	return p, nil
}

func newDecodePipeline(config DecodePipelineConfig, in *DecoderInput, out *DecoderOutput) (*DecodePipeline, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxPending := config.MaxPendingBytes
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingBytes
	}

	in.SetAcceleration(config.Acceleration)
	in.SetParamBool(ParamSEICheckHash, config.CheckHash)
	in.SetParamBool(ParamSuppressFaultyPictures, config.SuppressFaulty)
	if config.LimitTID != nil {
		in.SetLimitTID(*config.LimitTID)
	}
	if config.WorkerThreads > 0 {
		if err := in.StartWorkerThreads(config.WorkerThreads); err != nil {
			return nil, fmt.Errorf("start %d worker threads: %w", config.WorkerThreads, err)
		}
	}

	p := &DecodePipeline{
		source:     config.Source,
		in:         in,
		out:        out,
		onPicture:  config.OnPicture,
		onWarning:  config.OnWarning,
		log:        log,
		maxPending: maxPending,
	}
	p.state.Store(int32(PipelineStateIdle))
	return p, nil
}

// Input returns the decoder input driven by the pipeline.
func (p *DecodePipeline) Input() *DecoderInput { return p.in }

// State returns the current pipeline state.
func (p *DecodePipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// Stats returns pipeline statistics.
func (p *DecodePipeline) Stats() DecodePipelineStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Run decodes the whole source. It returns nil once the stream is fully
// decoded and every picture delivered. Cancellation is observed between
// decode steps.
func (p *DecodePipeline) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PipelineStateIdle), int32(PipelineStateRunning)) {
		return fmt.Errorf("pipeline not idle: %s", p.State())
	}
	defer p.state.Store(int32(PipelineStateStopped))

	p.log.Debug("decode pipeline started", zap.Int("max_pending_bytes", p.maxPending))

	flushed := false
	stalls := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		status, err := p.in.Decode()
		elapsed := time.Since(start)
		p.statsMu.Lock()
		p.stats.DecodeTime += elapsed
		p.statsMu.Unlock()

		p.collectWarnings()

		needInput := false
		switch {
		case errors.Is(err, ErrImageBufferFull):
			p.count(func(s *DecodePipelineStats) { s.BufferFullRetries++ })
			n, derr := p.drain()
			if derr != nil {
				return derr
			}
			if n == 0 {
				stalls++
				if stalls >= maxStalls {
					return ErrDecoderStalled
				}
			} else {
				stalls = 0
			}
			continue
		case errors.Is(err, ErrWaitingForInputData):
			p.count(func(s *DecodePipelineStats) { s.WaitingRetries++ })
			if flushed {
				return fmt.Errorf("waiting for input after flush: %w", ErrDecoderStalled)
			}
			needInput = true
		case err != nil:
			return fmt.Errorf("decode: %w", err)
		case status == DecodeHasImages:
			needInput = p.in.InputBytesPending() < p.maxPending
		case status == DecodeDone && flushed:
			if _, err := p.drain(); err != nil {
				return err
			}
			p.log.Debug("decode pipeline finished", zap.Uint64("pictures", p.Stats().PicturesDecoded))
			return nil
		default:
			needInput = true
		}
		stalls = 0

		if _, err := p.drain(); err != nil {
			return err
		}

		if needInput && !flushed {
			eof, err := p.fill(ctx)
			if err != nil {
				return err
			}
			if eof {
				if err := p.in.FlushData(); err != nil {
					return fmt.Errorf("flush: %w", err)
				}
				p.log.Debug("input flushed", zap.Uint64("units", p.Stats().UnitsPushed))
				flushed = true
			}
		}
	}
}

// fill pushes units until the input backlog reaches maxPending, a frame has
// been completed or the source is exhausted.
func (p *DecodePipeline) fill(ctx context.Context) (eof bool, err error) {
	for {
		u, err := p.source.ReadUnit(ctx)
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("read source: %w", err)
		}
		if err := u.Push(p.in); err != nil {
			return false, fmt.Errorf("push unit: %w", err)
		}
		p.count(func(s *DecodePipelineStats) {
			s.UnitsPushed++
			s.BytesPushed += uint64(len(u.Data))
		})
		if u.EndOfFrame || p.in.InputBytesPending() >= p.maxPending {
			return false, nil
		}
	}
}

// drain hands every ready picture to OnPicture and releases it.
func (p *DecodePipeline) drain() (int, error) {
	n := 0
	for {
		img := p.out.NextPicture()
		if img == nil {
			return n, nil
		}
		var err error
		if p.onPicture != nil {
			err = p.onPicture(img)
		}
		img.Release()
		n++
		p.count(func(s *DecodePipelineStats) { s.PicturesDecoded++ })
		if err != nil {
			return n, fmt.Errorf("picture callback: %w", err)
		}
	}
}

func (p *DecodePipeline) collectWarnings() {
	for _, w := range p.in.Warnings() {
		p.count(func(s *DecodePipelineStats) { s.Warnings++ })
		p.log.Warn("decoder warning", zap.Error(w))
		if p.onWarning != nil {
			p.onWarning(w)
		}
	}
}

func (p *DecodePipeline) count(fn func(*DecodePipelineStats)) {
	p.statsMu.Lock()
	fn(&p.stats)
	p.statsMu.Unlock()
}

// Close releases the decoder and closes the source if it is an io.Closer.
func (p *DecodePipeline) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		p.state.Store(int32(PipelineStateStopped))
		if c, ok := p.source.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := p.out.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := p.in.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
