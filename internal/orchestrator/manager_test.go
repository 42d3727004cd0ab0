package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	audiocap "github.com/GriffinCanCode/lecture-scribe/internal/audio"
	"github.com/GriffinCanCode/lecture-scribe/internal/config"
	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
	"github.com/GriffinCanCode/lecture-scribe/internal/stt"
	"github.com/GriffinCanCode/lecture-scribe/internal/stt/mock"
)

// fakeSource pushes a fixed number of silent frames, honoring Stop.
type fakeSource struct {
	mu       sync.Mutex
	active   bool
	frames   int
	size     int
	startErr error
	fault    error
	stops    int
	opts     audiocap.Options
}

func (s *fakeSource) Name() string        { return "fake" }
func (s *fakeSource) Kind() audiocap.Kind { return audiocap.KindInput }

func (s *fakeSource) Start(_ context.Context, q *audiocap.Queue) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.active = true
	frames, size, fault := s.frames, s.size, s.fault
	s.mu.Unlock()

	go func() {
		for i := 0; i < frames; i++ {
			s.mu.Lock()
			if !s.active {
				s.mu.Unlock()
				return
			}
			q.Push(audiocap.Frame{Seq: uint64(i), Samples: make([]float32, size)})
			s.mu.Unlock()
		}
		if fault != nil && s.opts.OnError != nil {
			s.opts.OnError(fault)
		}
	}()
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.stops++
	return nil
}

func (s *fakeSource) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// slowEngine ignores cancellation, like a native engine mid-inference.
type slowEngine struct {
	delay time.Duration
	mu    sync.Mutex
	calls int
}

func (e *slowEngine) Transcribe(context.Context, []float32, string, stt.Params) ([]stt.Segment, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	time.Sleep(e.delay)
	return []stt.Segment{{Text: "arrived too late", AvgLogProb: -0.1}}, nil
}

func (e *slowEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type recorder struct {
	mu      sync.Mutex
	updates []string
	reports []Report
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnTranscriptUpdate: func(chunk, _ string) {
			r.mu.Lock()
			r.updates = append(r.updates, chunk)
			r.mu.Unlock()
		},
		OnStatus: func(rep Report) {
			r.mu.Lock()
			r.reports = append(r.reports, rep)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *recorder) find(kind ReportKind) (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rep := range r.reports {
		if rep.Kind == kind {
			return rep, true
		}
	}
	return Report{}, false
}

func (r *recorder) hasReport(kind ReportKind) bool {
	_, ok := r.find(kind)
	return ok
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BufferSizeSeconds = 0.1 // 1600-sample windows
	cfg.FrameDurationMs = 10    // 160-sample frames
	cfg.PollTimeoutMs = 10
	cfg.StopJoinTimeout = 500 * time.Millisecond
	cfg.OutputDir = t.TempDir()
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newManager(t *testing.T, src *fakeSource) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	m := New(testConfig(t), nil, rec.handlers()).WithSourceOpener(func(_ string, opts audiocap.Options) (audiocap.Source, error) {
		src.opts = opts
		return src, nil
	})
	t.Cleanup(func() { _ = m.Close() })
	return m, rec
}

func segs(text string) []stt.Segment {
	return []stt.Segment{{Text: text, AvgLogProb: -0.2}}
}

func TestStartWithoutEngine(t *testing.T) {
	m, _ := newManager(t, &fakeSource{})
	err := m.Start(context.Background(), "", "")
	if !apperrors.IsCode(err, apperrors.NoEngine) {
		t.Errorf("Start() = %v, want NO_ENGINE", err)
	}
	if m.Listening() {
		t.Error("listening without an engine")
	}
}

func TestLoadEngineFailureKeepsPrevious(t *testing.T) {
	m, rec := newManager(t, &fakeSource{})
	ctx := context.Background()
	first := &mock.Engine{}

	if err := m.LoadEngine(ctx, mock.Loader(first, nil), stt.ModelRef{Model: "base.en"}); err != nil {
		t.Fatalf("LoadEngine: %v", err)
	}
	err := m.LoadEngine(ctx, mock.Loader(nil, errors.New("file truncated")), stt.ModelRef{Model: "large"})
	if !apperrors.IsCode(err, apperrors.ModelLoadFailed) {
		t.Errorf("LoadEngine() = %v, want MODEL_LOAD_FAILED", err)
	}
	if st := m.Status(); !st.EngineLoaded || st.Model != "base.en" {
		t.Errorf("Status() = %+v, want base.en still loaded", st)
	}
	if first.Closed {
		t.Error("previous engine closed after failed load")
	}
	if !rec.hasReport(ReportLoadError) {
		t.Error("no load_error report")
	}
}

func TestLoadEngineClosesReplaced(t *testing.T) {
	m, _ := newManager(t, &fakeSource{})
	ctx := context.Background()
	a, b := &mock.Engine{}, &mock.Engine{}

	_ = m.LoadEngine(ctx, mock.Loader(a, nil), stt.ModelRef{Model: "a"})
	_ = m.LoadEngine(ctx, mock.Loader(b, nil), stt.ModelRef{Model: "b"})
	if !a.Closed || b.Closed {
		t.Errorf("closed: a=%v b=%v", a.Closed, b.Closed)
	}
}

func TestStartDeviceErrors(t *testing.T) {
	tests := []struct {
		name   string
		opener SourceOpener
		src    *fakeSource
	}{
		{
			name: "open fails",
			opener: func(string, audiocap.Options) (audiocap.Source, error) {
				return nil, errors.New("no such device")
			},
		},
		{
			name: "start fails",
			src:  &fakeSource{startErr: errors.New("device busy")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			m := New(testConfig(t), nil, rec.handlers())
			if tt.opener != nil {
				m.WithSourceOpener(tt.opener)
			} else {
				m.WithSourceOpener(func(string, audiocap.Options) (audiocap.Source, error) { return tt.src, nil })
			}
			_ = m.LoadEngine(context.Background(), mock.Loader(&mock.Engine{}, nil), stt.ModelRef{})

			err := m.Start(context.Background(), "USB Mic", "")
			if !apperrors.IsCode(err, apperrors.DeviceUnavailable) {
				t.Errorf("Start() = %v, want DEVICE_UNAVAILABLE", err)
			}
			if m.Listening() {
				t.Error("listening after device error")
			}
			if !rec.hasReport(ReportDeviceError) {
				t.Error("no device_error report")
			}
			if tt.src != nil && tt.src.stopCount() != 1 {
				t.Errorf("source stops = %d, want 1", tt.src.stopCount())
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	src := &fakeSource{frames: 20, size: 160}
	m, rec := newManager(t, src)
	engine := &mock.Engine{Results: []mock.Result{
		{Segments: segs("enzymes lower activation energy")},
		{Segments: segs("substrates bind at the active site")},
	}}
	ctx := context.Background()
	_ = m.LoadEngine(ctx, mock.Loader(engine, nil), stt.ModelRef{Model: "tiny.en"})

	if err := m.Start(ctx, "", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(ctx, "", ""); !apperrors.IsCode(err, apperrors.AlreadyListening) {
		t.Errorf("second Start() = %v, want ALREADY_LISTENING", err)
	}

	want := "enzymes lower activation energy substrates bind at the active site"
	waitFor(t, "two chunks", func() bool { return m.Transcript() == want })

	st := m.Status()
	if !st.Listening || st.SessionID == "" || st.Chunks != 2 {
		t.Errorf("Status() = %+v", st)
	}
	if p := engine.LastCall().Prompt; !strings.HasPrefix(p, config.DefaultPrompt) {
		t.Errorf("prompt = %q, want default lecture prompt", p)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if m.Listening() || src.stopCount() != 1 {
		t.Errorf("listening = %v, source stops = %d", m.Listening(), src.stopCount())
	}
	if rec.updateCount() != 2 {
		t.Errorf("updates = %d, want 2", rec.updateCount())
	}
	if m.Transcript() != want {
		t.Errorf("transcript lost after stop: %q", m.Transcript())
	}
	if len(m.Chunks()) != 2 {
		t.Errorf("Chunks() = %d", len(m.Chunks()))
	}
}

func TestRestartStartsFresh(t *testing.T) {
	src := &fakeSource{frames: 10, size: 160}
	m, _ := newManager(t, src)
	engine := &mock.Engine{Results: []mock.Result{{Segments: segs("first session text")}}}
	ctx := context.Background()
	_ = m.LoadEngine(ctx, mock.Loader(engine, nil), stt.ModelRef{})

	_ = m.Start(ctx, "", "Biology 101.")
	waitFor(t, "first chunk", func() bool { return m.Transcript() != "" })
	_ = m.Stop()

	src.mu.Lock()
	src.frames = 0
	src.mu.Unlock()
	if err := m.Start(ctx, "", ""); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if m.Transcript() != "" || len(m.Chunks()) != 0 {
		t.Errorf("transcript carried over: %q", m.Transcript())
	}
	if p := engine.LastCall().Prompt; !strings.HasPrefix(p, "Biology 101.") {
		t.Errorf("prompt = %q", p)
	}
	_ = m.Stop()
}

func TestResultInFlightAtStopIsDropped(t *testing.T) {
	src := &fakeSource{frames: 10, size: 160}
	m, rec := newManager(t, src)
	m.cfg.StopJoinTimeout = 20 * time.Millisecond
	engine := &slowEngine{delay: 150 * time.Millisecond}
	_ = m.LoadEngine(context.Background(), func(context.Context, stt.ModelRef) (stt.Engine, error) { return engine, nil }, stt.ModelRef{})

	_ = m.Start(context.Background(), "", "")
	waitFor(t, "engine call", func() bool { return engine.callCount() > 0 })

	start := time.Now()
	_ = m.Stop()
	if d := time.Since(start); d > 120*time.Millisecond {
		t.Errorf("Stop blocked %v, want bounded by join timeout", d)
	}

	time.Sleep(250 * time.Millisecond)
	if m.Transcript() != "" || rec.updateCount() != 0 {
		t.Errorf("late result applied: %q", m.Transcript())
	}
}

func TestCaptureErrorReported(t *testing.T) {
	src := &fakeSource{frames: 1, size: 160, fault: apperrors.New(apperrors.CaptureFailed, "stream read failed")}
	m, rec := newManager(t, src)
	_ = m.LoadEngine(context.Background(), mock.Loader(&mock.Engine{}, nil), stt.ModelRef{})

	_ = m.Start(context.Background(), "", "")
	waitFor(t, "capture report", func() bool { return rec.hasReport(ReportCaptureError) })

	if !m.Listening() {
		t.Error("session should stay listening until stopped")
	}
	rep, _ := rec.find(ReportCaptureError)
	if rep.Code != "CAPTURE_FAILED" || rep.SessionID != m.Status().SessionID {
		t.Errorf("report = %+v", rep)
	}
	if m.Status().LastReport == nil {
		t.Error("Status() has no last report")
	}
	_ = m.Stop()
}

func TestEventsCarryTranscriptAndStatus(t *testing.T) {
	src := &fakeSource{frames: 10, size: 160}
	m, _ := newManager(t, src)
	engine := &mock.Engine{Results: []mock.Result{{Segments: segs("events reach the websocket")}}}
	_ = m.LoadEngine(context.Background(), mock.Loader(engine, nil), stt.ModelRef{})

	_ = m.Start(context.Background(), "", "")
	waitFor(t, "chunk", func() bool { return m.Transcript() != "" })
	_ = m.Stop()

	seen := map[EventType]bool{}
	for {
		select {
		case ev := <-m.Events():
			seen[ev.Type] = true
			if ev.Type == EventTranscript && ev.Chunk != "events reach the websocket" {
				t.Errorf("transcript event = %+v", ev)
			}
			continue
		default:
		}
		break
	}
	if !seen[EventTranscript] || !seen[EventStatus] {
		t.Errorf("event types seen = %v", seen)
	}
}

func TestWAVReplaySession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lecture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	samples := make([]float32, 3200)
	for i := range samples {
		samples[i] = 0.25
	}
	if err := audiocap.WriteWAV(f, samples, 16000); err != nil {
		t.Fatal(err)
	}
	f.Close()

	engine := &mock.Engine{Results: []mock.Result{
		{Segments: segs("replayed from a file")},
		{Segments: segs("second window of the recording")},
	}}
	m := New(testConfig(t), nil, Handlers{}).WithSourceOpener(func(id string, opts audiocap.Options) (audiocap.Source, error) {
		opts.Unpaced = true
		return audiocap.Open(id, opts)
	})
	t.Cleanup(func() { _ = m.Close() })
	_ = m.LoadEngine(context.Background(), mock.Loader(engine, nil), stt.ModelRef{})

	if err := m.Start(context.Background(), "file:"+path, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "both windows", func() bool { return engine.CallCount() == 2 })
	_ = m.Stop()

	if got := m.Transcript(); got != "replayed from a file second window of the recording" {
		t.Errorf("Transcript() = %q", got)
	}
	if n := engine.LastCall().Samples; n != 1600 {
		t.Errorf("window samples = %d, want 1600", n)
	}
}

func TestSaveTranscript(t *testing.T) {
	src := &fakeSource{frames: 10, size: 160}
	m, _ := newManager(t, src)
	_ = m.LoadEngine(context.Background(), mock.Loader(&mock.Engine{Results: []mock.Result{{Segments: segs("save me")}}}, nil), stt.ModelRef{})

	if _, err := m.SaveTranscript(); !apperrors.IsCode(err, apperrors.InvalidArgument) {
		t.Errorf("empty save = %v, want INVALID_ARGUMENT", err)
	}

	_ = m.Start(context.Background(), "", "")
	waitFor(t, "chunk", func() bool { return m.Transcript() != "" })
	_ = m.Stop()

	path, err := m.SaveTranscript()
	if err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), SavePrefix+"_") {
		t.Errorf("path = %s", path)
	}
	if data, _ := os.ReadFile(path); string(data) != "save me" {
		t.Errorf("saved %q", data)
	}
}
