package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	audiocap "github.com/GriffinCanCode/lecture-scribe/internal/audio"
	"github.com/GriffinCanCode/lecture-scribe/internal/config"
	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
	"github.com/GriffinCanCode/lecture-scribe/internal/metrics"
	"github.com/GriffinCanCode/lecture-scribe/internal/orchestrator/audio"
	"github.com/GriffinCanCode/lecture-scribe/internal/orchestrator/transcript"
	"github.com/GriffinCanCode/lecture-scribe/internal/stt"
	"github.com/GriffinCanCode/lecture-scribe/internal/syncx"
	"github.com/GriffinCanCode/lecture-scribe/internal/trace"
	"github.com/GriffinCanCode/lecture-scribe/internal/vad"
)

// Handlers are the caller-facing callbacks. Both are optional and invoked
// synchronously from worker goroutines.
type Handlers struct {
	OnTranscriptUpdate func(chunk, full string)
	OnStatus           func(Report)
}

// SourceOpener opens a frame source by identifier.
type SourceOpener func(identifier string, opts audiocap.Options) (audiocap.Source, error)

type engineSlot struct {
	engine stt.Engine
	ref    stt.ModelRef
}

type sessionInfo struct {
	id     string
	device string
}

type session struct {
	id     string
	device string
	engine stt.Engine
	store  *transcript.Store
	queue  *audiocap.Queue
	src    audiocap.Source
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs at most one listening session at a time.
type Manager struct {
	cfg      *config.Config
	detector vad.Detector
	handlers Handlers
	open     SourceOpener

	engine *syncx.Guard[engineSlot]
	store  *syncx.Guard[*transcript.Store] // current or most recent session
	last   *syncx.Guard[*Report]
	info   *syncx.Guard[sessionInfo]
	events chan Event

	mu        sync.Mutex // serializes Start/Stop
	listening atomic.Bool
	sess      *session
}

// New creates a manager. detector may be nil to run without a speech gate.
func New(cfg *config.Config, detector vad.Detector, h Handlers) *Manager {
	return &Manager{
		cfg:      cfg,
		detector: detector,
		handlers: h,
		open:     audiocap.Open,
		engine:   syncx.NewGuard(engineSlot{}),
		store:    syncx.NewGuard[*transcript.Store](nil),
		last:     syncx.NewGuard[*Report](nil),
		info:     syncx.NewGuard(sessionInfo{}),
		events:   make(chan Event, EventBuffer),
	}
}

// WithSourceOpener replaces how devices are opened.
func (m *Manager) WithSourceOpener(fn SourceOpener) *Manager {
	m.open = fn
	return m
}

// LoadEngine loads an engine and makes it current. On failure the previous
// engine, if any, stays loaded.
func (m *Manager) LoadEngine(ctx context.Context, load stt.LoadFunc, ref stt.ModelRef) error {
	log := trace.Logger(ctx)
	start := time.Now()

	e, err := load(ctx, ref)
	if err != nil {
		if !apperrors.IsCode(err, apperrors.ModelLoadFailed) {
			err = apperrors.Wrapf(err, apperrors.ModelLoadFailed, "load model %q", ref.Model)
		}
		m.report(ctx, err)
		return err
	}

	// An engine still driven by a running session is closed when it stops.
	m.mu.Lock()
	old := m.engine.Swap(engineSlot{engine: e, ref: ref})
	inUse := m.sess != nil && m.sess.engine == old.engine
	m.mu.Unlock()

	log.Info("engine loaded", "model", ref.Model, "device", ref.Device, "took", time.Since(start))
	if !inUse {
		closeEngine(ctx, old.engine, e)
	}
	return nil
}

// Start opens device and begins a fresh session. An empty prompt falls back
// to the configured initial prompt, then to the default lecture prompt.
func (m *Manager) Start(ctx context.Context, device, prompt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listening.Load() {
		return apperrors.New(apperrors.AlreadyListening, "session already listening")
	}
	slot := m.engine.Get()
	if slot.engine == nil {
		return apperrors.New(apperrors.NoEngine, "no transcription engine loaded")
	}

	if strings.TrimSpace(prompt) == "" {
		prompt = m.cfg.InitialPrompt
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = config.DefaultPrompt
	}
	if device == "" {
		device = m.cfg.AudioDevice
	}

	id := uuid.NewString()
	sessCtx, cancel := context.WithCancel(trace.WithSession(context.WithoutCancel(ctx), id))
	log := trace.Logger(sessCtx)

	store := transcript.NewStore(prompt, transcript.Options{
		HistorySize:      m.cfg.HistorySize,
		ContextWordCap:   m.cfg.ContextWordCap,
		ContextKeepWords: m.cfg.ContextKeepWords,
	})
	q := audiocap.NewQueue(m.cfg.FrameQueueSize)

	src, err := m.open(device, audiocap.Options{
		SampleRate:   m.cfg.SampleRate,
		Channels:     m.cfg.Channels,
		FrameSamples: m.cfg.FrameSamples(),
		OnError:      func(err error) { m.report(sessCtx, err) },
	})
	if err != nil {
		cancel()
		err = asDeviceError(err, device)
		m.report(sessCtx, err)
		return err
	}

	// The flag must be up before the first frame can arrive.
	m.listening.Store(true)
	if err := src.Start(sessCtx, q); err != nil {
		m.listening.Store(false)
		_ = src.Stop()
		cancel()
		err = asDeviceError(err, device)
		m.report(sessCtx, err)
		return err
	}

	stab := transcript.NewStabilizer(store, transcript.StabilizerOptions{
		MinConfidence:       m.cfg.MinConfidence,
		SimilarityThreshold: m.cfg.SimilarityThreshold,
	}, m.onUpdate)
	proc := audio.NewProcessor(audio.Config{
		ReadySamples:      m.cfg.WindowSamples(),
		PollTimeout:       m.cfg.PollTimeout(),
		TranscribeTimeout: m.cfg.TranscribeTimeout,
		Params:            stt.ParamsFromConfig(m.cfg),
	}, slot.engine, m.gate(), stab, m.listening.Load).WithReporter(m.report)

	g, gctx := errgroup.WithContext(sessCtx)
	g.Go(func() error {
		proc.Run(gctx, q)
		return nil
	})
	g.Go(func() error {
		watchDrops(gctx, q)
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	m.sess = &session{
		id:     id,
		device: device,
		engine: slot.engine,
		store:  store,
		queue:  q,
		src:    src,
		cancel: cancel,
		done:   done,
	}
	m.store.Set(store)
	m.info.Set(sessionInfo{id: id, device: device})
	metrics.Listening.Set(1)

	log.Info("session started", "device", src.Name(), "kind", src.Kind(), "model", slot.ref.Model)
	m.notify(sessCtx, ReportInfo, "listening on "+src.Name(), "")
	return nil
}

// Stop ends the current session. It is safe to call at any time; it waits
// at most StopJoinTimeout for the workers. Results still in flight when it
// returns are dropped.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sess
	if s == nil {
		return nil
	}
	m.sess = nil

	ctx := trace.WithSession(context.Background(), s.id)
	log := trace.Logger(ctx)

	m.listening.Store(false)
	m.info.Set(sessionInfo{})
	s.queue.Close()
	if err := s.src.Stop(); err != nil {
		log.Warn("source stop failed", "error", err)
	}
	s.cancel()

	timeout := m.cfg.StopJoinTimeout
	if timeout <= 0 {
		timeout = DefaultStopJoinTimeout
	}
	select {
	case <-s.done:
	case <-time.After(timeout):
		log.Warn("workers still running after stop", "timeout", timeout)
	}
	s.store.Seal()

	metrics.Listening.Set(0)
	if d := s.queue.Dropped(); d > 0 {
		log.Warn("frames dropped during session", "count", d)
	}

	if cur := m.engine.Get().engine; cur != s.engine {
		closeEngine(ctx, s.engine, cur)
	}

	log.Info("session stopped", "chunks", len(s.store.Entries()))
	m.notify(ctx, ReportInfo, "stopped", "")
	return nil
}

// Close stops any session and releases the engine.
func (m *Manager) Close() error {
	_ = m.Stop()
	old := m.engine.Swap(engineSlot{})
	closeEngine(context.Background(), old.engine, nil)
	return nil
}

// Listening reports whether a session is capturing.
func (m *Manager) Listening() bool { return m.listening.Load() }

// Transcript returns the current, or most recent, session's transcript.
func (m *Manager) Transcript() string {
	if s := m.store.Get(); s != nil {
		return s.Transcript()
	}
	return ""
}

// Chunks returns the accepted chunks with their acceptance times.
func (m *Manager) Chunks() []transcript.Entry {
	if s := m.store.Get(); s != nil {
		return s.Entries()
	}
	return nil
}

// Events returns the channel of transcript and status events. It is never
// closed and outlives sessions.
func (m *Manager) Events() <-chan Event { return m.events }

// Status returns a snapshot of the manager. It does not take the lifecycle
// lock, so handlers may call it.
func (m *Manager) Status() Status {
	slot := m.engine.Get()
	st := Status{
		Listening:    m.listening.Load(),
		EngineLoaded: slot.engine != nil,
		Model:        slot.ref.Model,
		LastReport:   m.last.Get(),
	}
	if info := m.info.Get(); st.Listening {
		st.SessionID = info.id
		st.Device = info.device
	}
	if s := m.store.Get(); s != nil {
		st.Chunks = len(s.Entries())
	}
	return st
}

// SaveTranscript writes the transcript to the configured output directory.
func (m *Manager) SaveTranscript() (string, error) {
	return transcript.SaveText(m.cfg.OutputDir, SavePrefix, m.Transcript(), time.Now())
}

func (m *Manager) gate() *audio.Gate {
	if m.detector == nil {
		return nil
	}
	return audio.NewGate(m.detector, vad.Options{
		Threshold:    m.cfg.VADThreshold,
		MinSilenceMs: m.cfg.VADMinSilenceMs,
		MinSpeechMs:  m.cfg.VADMinSpeechMs,
		SampleRate:   m.cfg.SampleRate,
	})
}

func (m *Manager) onUpdate(chunk, full string) {
	if m.handlers.OnTranscriptUpdate != nil {
		m.handlers.OnTranscriptUpdate(chunk, full)
	}
	m.emit(Event{Type: EventTranscript, Chunk: chunk, Full: full})
}

// report converts a recovered failure into a status report.
func (m *Manager) report(ctx context.Context, err error) {
	m.notify(ctx, kindOf(err), err.Error(), apperrors.CodeOf(err).String())
}

func (m *Manager) notify(ctx context.Context, kind ReportKind, msg, code string) {
	r := Report{Kind: kind, Message: msg, Code: code, Time: time.Now()}
	if tc, ok := trace.FromContext(ctx); ok {
		r.SessionID = tc.SessionID
	}

	log := trace.Logger(ctx)
	switch kind {
	case ReportInfo:
		log.Info("status", "message", msg)
	case ReportTranscriptionError, ReportVADDegraded:
		log.Warn("status", "kind", kind, "message", msg)
	default:
		log.Error("status", "kind", kind, "message", msg)
	}

	m.last.Set(&r)
	if m.handlers.OnStatus != nil {
		m.handlers.OnStatus(r)
	}
	m.emit(Event{Type: EventStatus, Report: &r})
}

// emit sends without blocking; a slow consumer loses events, never frames.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}

// watchDrops folds the queue's drop count into metrics until ctx ends.
func watchDrops(ctx context.Context, q *audiocap.Queue) {
	ticker := time.NewTicker(DropCheckInterval)
	defer ticker.Stop()

	var seen uint64
	flush := func() {
		if d := q.Dropped(); d > seen {
			metrics.FramesDropped.Add(float64(d - seen))
			seen = d
		}
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flush()
		}
	}
}

func asDeviceError(err error, device string) error {
	if apperrors.IsCode(err, apperrors.DeviceUnavailable) {
		return err
	}
	return apperrors.Wrapf(err, apperrors.DeviceUnavailable, "open device %q", device)
}

// closeEngine releases e unless it is keep.
func closeEngine(ctx context.Context, e, keep stt.Engine) {
	if e == nil || e == keep {
		return
	}
	c, ok := e.(stt.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil && !errors.Is(err, context.Canceled) {
		trace.Logger(ctx).Warn("engine close failed", "error", err)
	}
}
