// Package whisper runs transcription in-process through the whisper.cpp CGO
// bindings. libwhisper.a and whisper.h must be reachable at link time via
// LIBRARY_PATH and C_INCLUDE_PATH.
//
// The bindings do not expose patience, length penalty or the no-speech
// threshold; those Params fields are ignored by this engine.
package whisper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
	"github.com/GriffinCanCode/lecture-scribe/internal/stt"
)

// Engine holds a loaded model. A fresh whisper context is created per call.
type Engine struct {
	mu    sync.Mutex
	model whisperlib.Model
	ref   stt.ModelRef
}

// Load implements stt.LoadFunc.
func Load(ctx context.Context, ref stt.ModelRef) (stt.Engine, error) {
	if ref.Model == "" {
		return nil, apperrors.New(apperrors.ModelLoadFailed, "whisper: model path must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Cancelled, "whisper: load cancelled")
	}
	model, err := whisperlib.New(ref.Model)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ModelLoadFailed, "whisper: load model %q", ref.Model).
			WithMetadata("device", ref.Device)
	}
	slog.Info("whisper model loaded", "model", ref.Model, "device", ref.Device, "compute_type", ref.ComputeType)
	return &Engine{model: model, ref: ref}, nil
}

// Transcribe implements stt.Engine.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, prompt string, params stt.Params) ([]stt.Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		return nil, apperrors.New(apperrors.TranscriptionFailed, "whisper: engine closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Cancelled, "whisper: transcription cancelled")
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TranscriptionFailed, "whisper: create context")
	}

	if params.Language != "" {
		if err := wctx.SetLanguage(params.Language); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", params.Language, "error", err)
		}
	}
	if params.BeamSize > 0 {
		wctx.SetBeamSize(params.BeamSize)
	}
	wctx.SetTemperature(float32(params.Temperature))
	if params.ConditionOnPrompt && prompt != "" {
		wctx.SetInitialPrompt(prompt)
	} else {
		wctx.SetMaxContext(0)
	}

	// Process is not interruptible; ctx is honoured only before and after it.
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TranscriptionFailed, "whisper: process audio")
	}

	var segments []stt.Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TranscriptionFailed, "whisper: read segment")
		}
		segments = append(segments, stt.Segment{
			Text:       strings.TrimSpace(seg.Text),
			AvgLogProb: avgLogProb(seg.Tokens),
		})
	}
	return segments, nil
}

// Close releases the model.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	return err
}

// avgLogProb averages log P over text tokens. Special tokens such as
// timestamps ("[_BEG_]", "[_TT_123]") are skipped.
func avgLogProb(tokens []whisperlib.Token) float64 {
	var sum float64
	var n int
	for _, tok := range tokens {
		if strings.HasPrefix(tok.Text, "[_") {
			continue
		}
		sum += math.Log(math.Max(float64(tok.P), minTokenProb))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

const minTokenProb = 1e-10

var (
	_ stt.Engine   = (*Engine)(nil)
	_ stt.Closer   = (*Engine)(nil)
	_ stt.LoadFunc = Load
)
