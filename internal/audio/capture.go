package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
)

// streamSource captures from a portaudio input device. Loopback devices are
// ordinary inputs as far as portaudio is concerned; only Kind differs.
type streamSource struct {
	dev  *portaudio.DeviceInfo
	kind Kind
	opts Options

	mu       sync.Mutex
	active   bool
	stream   *portaudio.Stream
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newStreamSource(dev *portaudio.DeviceInfo, kind Kind, opts Options) *streamSource {
	return &streamSource{dev: dev, kind: kind, opts: opts}
}

func (s *streamSource) Name() string { return s.dev.Name }
func (s *streamSource) Kind() Kind   { return s.kind }

// Start opens the stream and spawns the read loop.
func (s *streamSource) Start(ctx context.Context, q *Queue) error {
	channels := s.opts.Channels
	if channels > s.dev.MaxInputChannels {
		channels = s.dev.MaxInputChannels
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   s.dev,
			Channels: channels,
			Latency:  s.dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(s.opts.SampleRate),
		FramesPerBuffer: s.opts.FrameSamples,
	}

	buf := make([]float32, s.opts.FrameSamples*channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.DeviceUnavailable, "open device %q", s.dev.Name)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return apperrors.Wrapf(err, apperrors.DeviceUnavailable, "start device %q", s.dev.Name)
	}

	capCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stream = stream
	s.cancel = cancel
	s.active = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	slog.Info("started audio capture", "device", s.dev.Name, "kind", s.kind, "channels", channels)

	go s.readLoop(capCtx, q, stream, buf, channels)
	return nil
}

func (s *streamSource) readLoop(ctx context.Context, q *Queue, stream *portaudio.Stream, buf []float32, channels int) {
	defer close(s.done)
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			if s.isActive() {
				s.opts.reportError(apperrors.Wrapf(err, apperrors.CaptureFailed, "read from %q", s.dev.Name))
			}
			return
		}

		frame := Frame{
			Seq:       seq,
			Samples:   downmix(buf, channels),
			Kind:      s.kind,
			Timestamp: time.Now().UnixNano(),
		}
		seq++

		// The active check and the push happen under one lock so a frame
		// delivered while Stop runs is discarded instead of queued.
		s.mu.Lock()
		if !s.active {
			s.mu.Unlock()
			return
		}
		if !q.Push(frame) {
			slog.Debug("audio buffer full, dropping frame", "device", s.dev.Name, "seq", frame.Seq)
		}
		s.mu.Unlock()
	}
}

func (s *streamSource) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop is idempotent. It also releases the audio subsystem reference taken
// by Open, so it must be called even when Start failed.
func (s *streamSource) Stop() error {
	s.mu.Lock()
	s.active = false
	stream, cancel, done := s.stream, s.cancel, s.done
	s.mu.Unlock()

	var err error
	s.stopOnce.Do(func() {
		if stream == nil {
			_ = portaudio.Terminate()
			return
		}
		cancel()
		if stopErr := stream.Stop(); stopErr != nil {
			err = apperrors.Wrap(stopErr, apperrors.CaptureFailed, "stop stream")
		}
		select {
		case <-done:
		case <-time.After(readDrainTimeout):
			slog.Warn("capture loop did not exit in time", "device", s.dev.Name)
		}
		_ = stream.Close()
		_ = portaudio.Terminate()
		slog.Info("stopped audio capture", "device", s.dev.Name)
	})
	return err
}

const readDrainTimeout = 500 * time.Millisecond

// downmix averages interleaved channels into a fresh mono slice.
func downmix(buf []float32, channels int) []float32 {
	if channels <= 1 {
		return append([]float32(nil), buf...)
	}
	out := make([]float32, len(buf)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += buf[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
