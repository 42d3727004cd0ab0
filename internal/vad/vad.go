// Package vad locates speech inside a block of audio.
package vad

import (
	"context"
	"strconv"

	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
)

// Span marks detected speech as [Start, End) sample offsets.
type Span struct {
	Start int
	End   int
}

// Len returns the span length in samples.
func (s Span) Len() int { return s.End - s.Start }

// Options tunes a detection pass.
type Options struct {
	Threshold    float64
	MinSilenceMs int
	MinSpeechMs  int
	SampleRate   int
}

// Detector finds speech spans in mono samples.
type Detector interface {
	DetectSpeechSpans(ctx context.Context, samples []float32, opts Options) ([]Span, error)
}

// Prober scores one short chunk of audio with a speech probability in [0, 1].
type Prober interface {
	Probability(ctx context.Context, chunk []float32, sampleRate int) (float64, error)
}

// FrameDetector turns per-chunk probabilities from a Prober into spans.
// A span opens when the probability reaches Threshold and closes after
// MinSilenceMs below Threshold-0.15; spans shorter than MinSpeechMs are dropped.
type FrameDetector struct {
	prober     Prober
	windowSize int
}

// NewFrameDetector creates a detector that probes windowSize-sample chunks.
func NewFrameDetector(p Prober, windowSize int) *FrameDetector {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &FrameDetector{prober: p, windowSize: windowSize}
}

// DetectSpeechSpans implements Detector.
func (d *FrameDetector) DetectSpeechSpans(ctx context.Context, samples []float32, opts Options) ([]Span, error) {
	if opts.SampleRate <= 0 {
		return nil, apperrors.New(apperrors.InvalidArgument, "sample rate must be positive")
	}
	minSilence := opts.SampleRate * opts.MinSilenceMs / 1000
	minSpeech := opts.SampleRate * opts.MinSpeechMs / 1000
	negThreshold := max(opts.Threshold-hysteresis, minNegThreshold)

	var (
		spans     []Span
		triggered bool
		start     int
		tempEnd   = -1
	)

	for off := 0; off < len(samples); off += d.windowSize {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.Cancelled, "speech detection cancelled")
		}
		end := min(off+d.windowSize, len(samples))
		p, err := d.prober.Probability(ctx, samples[off:end], opts.SampleRate)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.VADFailed, "probe window").
				WithMetadata("offset", strconv.Itoa(off))
		}

		if p >= opts.Threshold {
			tempEnd = -1
			if !triggered {
				triggered = true
				start = off
			}
			continue
		}
		if !triggered || p >= negThreshold {
			continue
		}
		if tempEnd < 0 {
			tempEnd = off
		}
		if off+d.windowSize-tempEnd < minSilence {
			continue
		}
		if tempEnd-start >= minSpeech {
			spans = append(spans, Span{Start: start, End: tempEnd})
		}
		triggered = false
		tempEnd = -1
	}

	if triggered && len(samples)-start >= minSpeech {
		spans = append(spans, Span{Start: start, End: len(samples)})
	}
	return spans, nil
}
