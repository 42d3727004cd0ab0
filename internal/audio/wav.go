package audio

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
)

// wavSource replays a PCM WAV file as frames at capture cadence.
type wavSource struct {
	path    string
	samples []float32
	opts    Options

	mu       sync.Mutex
	active   bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func openWAV(path string, opts Options) (*wavSource, error) {
	samples, err := ReadWAV(path, opts.SampleRate)
	if err != nil {
		return nil, err
	}
	return &wavSource{path: path, samples: samples, opts: opts}, nil
}

// ReadWAV decodes a PCM WAV file into mono float32 samples in [-1, 1].
// The file's sample rate must equal sampleRate; no resampling is done.
func ReadWAV(path string, sampleRate int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.DeviceUnavailable, "open %s", path)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, apperrors.Newf(apperrors.DeviceUnavailable, "not a valid wav file: %s", path)
	}
	if int(dec.SampleRate) != sampleRate {
		return nil, apperrors.Newf(apperrors.DeviceUnavailable, "wav sample rate %d, want %d", dec.SampleRate, sampleRate).
			WithMetadata("path", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.DeviceUnavailable, "decode %s", path)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	depth := int(dec.BitDepth)
	if depth < 8 {
		depth = 16
	}
	scale := float32(int64(1) << (depth - 1))
	out := make([]float32, len(buf.Data)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}

// WriteWAV encodes mono float32 samples as 16-bit PCM.
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	data := make([]int, len(samples))
	for i, v := range samples {
		v = max(-1, min(1, v))
		data[i] = int(v * 32767)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "write wav")
	}
	if err := enc.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "close wav encoder")
	}
	return nil
}

func (s *wavSource) Name() string { return filePrefix + s.path }
func (s *wavSource) Kind() Kind   { return KindFile }

func (s *wavSource) Start(ctx context.Context, q *Queue) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.active = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	slog.Info("started wav replay", "path", s.path, "samples", len(s.samples))
	go s.replay(runCtx, q)
	return nil
}

func (s *wavSource) replay(ctx context.Context, q *Queue) {
	defer close(s.done)

	step := s.opts.FrameSamples
	interval := time.Duration(step) * time.Second / time.Duration(s.opts.SampleRate)
	var ticker *time.Ticker
	if !s.opts.Unpaced {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	var seq uint64
	for off := 0; off < len(s.samples); off += step {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		end := min(off+step, len(s.samples))
		frame := Frame{
			Seq:       seq,
			Samples:   append([]float32(nil), s.samples[off:end]...),
			Kind:      KindFile,
			Timestamp: time.Now().UnixNano(),
		}
		seq++

		s.mu.Lock()
		if !s.active {
			s.mu.Unlock()
			return
		}
		pushed := q.Push(frame)
		s.mu.Unlock()

		// Without pacing the file would overrun the queue immediately.
		for !pushed && s.opts.Unpaced {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			s.mu.Lock()
			if !s.active {
				s.mu.Unlock()
				return
			}
			pushed = q.Push(frame)
			s.mu.Unlock()
		}
	}
	slog.Info("wav replay finished", "path", s.path, "frames", seq)
}

func (s *wavSource) Stop() error {
	s.mu.Lock()
	s.active = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		if cancel == nil {
			return
		}
		cancel()
		<-done
	})
	return nil
}
