package audio

import (
	"context"
	"errors"
	"time"

	audiocap "github.com/GriffinCanCode/lecture-scribe/internal/audio"
	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
	"github.com/GriffinCanCode/lecture-scribe/internal/metrics"
	"github.com/GriffinCanCode/lecture-scribe/internal/orchestrator/transcript"
	"github.com/GriffinCanCode/lecture-scribe/internal/resilience"
	"github.com/GriffinCanCode/lecture-scribe/internal/stt"
	"github.com/GriffinCanCode/lecture-scribe/internal/trace"
)

// Reporter receives failures the worker recovered from.
type Reporter func(ctx context.Context, err error)

// Config for the processing worker
type Config struct {
	ReadySamples      int
	PollTimeout       time.Duration
	TranscribeTimeout time.Duration // zero means no deadline
	Params            stt.Params
}

// Processor is a session's single processing worker. It owns the window;
// exactly one window is in flight at a time.
type Processor struct {
	cfg       Config
	engine    stt.Engine
	gate      *Gate
	stab      *transcript.Stabilizer
	breaker   *resilience.Breaker
	listening func() bool
	report    Reporter
	window    *Window
}

// NewProcessor creates a worker feeding stab. listening is polled between
// frames; once it returns false the worker exits without touching more frames.
func NewProcessor(cfg Config, engine stt.Engine, gate *Gate, stab *transcript.Stabilizer, listening func() bool) *Processor {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &Processor{
		cfg:       cfg,
		engine:    engine,
		gate:      gate,
		stab:      stab,
		breaker:   resilience.New(resilience.EngineConfig()),
		listening: listening,
		report:    func(context.Context, error) {},
		window:    NewWindow(cfg.ReadySamples),
	}
}

// WithBreaker replaces the engine circuit breaker.
func (p *Processor) WithBreaker(b *resilience.Breaker) *Processor {
	p.breaker = b
	return p
}

// WithReporter sets the failure sink.
func (p *Processor) WithReporter(fn Reporter) *Processor {
	p.report = fn
	return p
}

// Window exposes the accumulation buffer.
func (p *Processor) Window() *Window { return p.window }

// Run consumes frames until the queue is closed, listening turns false or
// ctx is done. It never returns an error; failures go to the reporter.
func (p *Processor) Run(ctx context.Context, q *audiocap.Queue) {
	log := trace.Logger(ctx)
	log.Debug("processor started", "ready_samples", p.cfg.ReadySamples, "gated", p.gate.Enabled())
	defer log.Debug("processor stopped", "buffered", p.window.Len())

	timer := time.NewTimer(p.cfg.PollTimeout)
	defer timer.Stop()

	for p.listening() {
		timer.Reset(p.cfg.PollTimeout)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case f, ok := <-q.C():
			if !ok {
				return
			}
			// A frame that raced the stop flag is discarded.
			if !p.listening() {
				return
			}
			metrics.FramesCaptured.Inc()
			p.window.Append(f.Samples)
			if p.window.Ready() {
				p.flush(ctx)
			}
		}
	}
}

// flush gates the ready window and transcribes it when it holds speech.
func (p *Processor) flush(ctx context.Context) {
	samples := p.window.Samples()

	verdict, err := p.gate.Check(ctx, samples)
	metrics.WindowsTotal.WithLabelValues(verdict.Outcome).Inc()
	if err != nil {
		p.report(ctx, apperrors.Wrap(err, apperrors.VADFailed, "speech detection failed, transcribing ungated"))
	}
	if !verdict.Speech {
		p.window.TrimToNewest(SilenceKeepDivisor)
		trace.Logger(ctx).Debug("silent window trimmed", "from", len(samples), "to", p.window.Len())
		return
	}

	p.window.Reset()
	p.transcribe(ctx, samples)
}

func (p *Processor) transcribe(ctx context.Context, samples []float32) {
	ctx, span := trace.StartSpan(ctx, "transcribe_window")
	defer span.End()
	span.SetAttr("samples", len(samples))

	callCtx := ctx
	if p.cfg.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.TranscribeTimeout)
		defer cancel()
	}

	store := p.stab.Store()
	prompt := stt.BuildPrompt(store.Prompt(), store.RollingContext())

	start := time.Now()
	segs, err := resilience.ExecuteWithResult(p.breaker, func() ([]stt.Segment, error) {
		return p.engine.Transcribe(callCtx, samples, prompt, p.cfg.Params)
	})
	metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			// Session is stopping; nothing to report.
			return
		}
		span.SetAttr("error", err.Error())
		metrics.TranscriptionErrors.Inc()
		p.report(ctx, asTranscriptionError(err))
		return
	}

	res := p.stab.Accept(ctx, segs)
	span.SetAttr("decision", res.Decision.String())
}

func asTranscriptionError(err error) error {
	switch {
	case apperrors.IsCode(err, apperrors.TranscriptionFailed):
		return err
	case errors.Is(err, resilience.ErrOpen):
		return apperrors.Wrap(err, apperrors.TranscriptionFailed, "engine failing, window skipped")
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.TranscriptionFailed, "transcription deadline exceeded")
	default:
		return apperrors.Wrap(err, apperrors.TranscriptionFailed, "transcription failed")
	}
}
