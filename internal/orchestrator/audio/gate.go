package audio

import (
	"context"

	"github.com/GriffinCanCode/lecture-scribe/internal/vad"
)

// Verdict is the speech gate's decision for a ready window.
type Verdict struct {
	Speech bool
	Spans  []vad.Span
	// Outcome is the metrics label: speech, silent, vad_error or ungated.
	Outcome string
}

// Gate decides whether a window is worth transcribing.
type Gate struct {
	detector vad.Detector
	opts     vad.Options
}

// NewGate creates a gate. A nil detector passes every window through and
// leaves speech filtering to the engine.
func NewGate(detector vad.Detector, opts vad.Options) *Gate {
	return &Gate{detector: detector, opts: opts}
}

// Enabled reports whether a detector is configured.
func (g *Gate) Enabled() bool { return g != nil && g.detector != nil }

// Check runs the detector over samples. A detector error is returned with a
// passing verdict so the window still reaches the engine.
func (g *Gate) Check(ctx context.Context, samples []float32) (Verdict, error) {
	if !g.Enabled() {
		return Verdict{Speech: true, Outcome: outcomeUngated}, nil
	}
	spans, err := g.detector.DetectSpeechSpans(ctx, samples, g.opts)
	if err != nil {
		return Verdict{Speech: true, Outcome: outcomeVADError}, err
	}
	if len(spans) == 0 {
		return Verdict{Outcome: outcomeSilent}, nil
	}
	return Verdict{Speech: true, Spans: spans, Outcome: outcomeSpeech}, nil
}
