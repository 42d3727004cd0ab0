// Package stt defines the transcription engine contract the pipeline drives.
//
// An Engine turns one window of mono float32 samples plus a prompt into an
// ordered list of segments, each carrying its average token log-probability.
// Backends live in subpackages (whisper, execstt) and in grpcclient.
package stt

import (
	"context"
	"strings"

	"github.com/GriffinCanCode/lecture-scribe/internal/config"
)

// Segment is one unit of engine output, in chronological order within a call.
type Segment struct {
	Text       string
	AvgLogProb float64
}

// Params carries every decoding knob passed with a transcription call.
type Params struct {
	Language          string
	BeamSize          int
	Temperature       float64
	MinConfidence     float64
	NoSpeechThreshold float64
	// VADMinSilenceMs tunes the engine's own speech filter, where it has one.
	VADMinSilenceMs   int
	Patience          float64
	LengthPenalty     float64
	ConditionOnPrompt bool
	SampleRate        int
}

// ParamsFromConfig builds decoding parameters from configuration.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Language:          cfg.Language,
		BeamSize:          cfg.ResolvedBeamSize(),
		Temperature:       cfg.Temperature,
		MinConfidence:     cfg.MinConfidence,
		NoSpeechThreshold: cfg.NoSpeechThreshold,
		VADMinSilenceMs:   cfg.EngineVADMinSilenceMs,
		Patience:          cfg.Patience,
		LengthPenalty:     cfg.LengthPenalty,
		ConditionOnPrompt: cfg.ConditionOnPrompt,
		SampleRate:        cfg.SampleRate,
	}
}

// ModelRef identifies what to load.
type ModelRef struct {
	Model       string
	Device      string // cpu, cuda
	ComputeType string
}

// RefFromConfig extracts the model reference from configuration.
func RefFromConfig(cfg *config.Config) ModelRef {
	return ModelRef{Model: cfg.STTModel, Device: cfg.STTDevice, ComputeType: cfg.STTComputeType}
}

// Engine transcribes a window of audio.
// Implementations are only ever called from one goroutine at a time.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, prompt string, params Params) ([]Segment, error)
}

// LoadFunc loads an engine. Failures are MODEL_LOAD_FAILED errors.
type LoadFunc func(ctx context.Context, ref ModelRef) (Engine, error)

// Closer is implemented by engines holding native or network resources.
type Closer interface {
	Close() error
}

// BuildPrompt joins the task description and the rolling context.
func BuildPrompt(task, rolling string) string {
	return strings.TrimSpace(task + " " + rolling)
}
