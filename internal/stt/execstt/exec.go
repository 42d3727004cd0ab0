// Package execstt runs transcription through an external command.
//
// The command receives a temporary 16-bit WAV via --audio plus decoding
// flags, and prints JSON on stdout: either {"segments":[{"text","avg_logprob"}]}
// or a single {"text","confidence"} object whose confidence is a probability.
package execstt

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/GriffinCanCode/lecture-scribe/internal/audio"
	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
	"github.com/GriffinCanCode/lecture-scribe/internal/stt"
)

// Engine shells out once per window.
type Engine struct {
	cmd []string
	ref stt.ModelRef
	mu  sync.Mutex
}

type execSegment struct {
	Text       string  `json:"text"`
	AvgLogProb float64 `json:"avg_logprob"`
}

type execResult struct {
	Segments   []execSegment `json:"segments"`
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
}

// New parses command with shell quoting rules.
func New(command string, ref stt.ModelRef) (*Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ModelLoadFailed, "parse stt command")
	}
	if len(args) == 0 {
		return nil, apperrors.New(apperrors.ModelLoadFailed, "stt command is empty")
	}
	return &Engine{cmd: args, ref: ref}, nil
}

// Loader returns a LoadFunc for command.
func Loader(command string) stt.LoadFunc {
	return func(ctx context.Context, ref stt.ModelRef) (stt.Engine, error) {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.Cancelled, "load cancelled")
		}
		return New(command, ref)
	}
}

// Transcribe implements stt.Engine.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, prompt string, params stt.Params) ([]stt.Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp("", "scribe_stt_*.wav")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TranscriptionFailed, "temp file")
	}
	defer os.Remove(file.Name())
	defer file.Close()

	rate := params.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	if err := audio.WriteWAV(file, samples, rate); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TranscriptionFailed, "write window")
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, e.buildArgs(file.Name(), prompt, params)...)

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TranscriptionFailed, "stt command failed").
			WithMetadata("stderr", stderr.String())
	}
	return decodeResult(stdout.Bytes())
}

func (e *Engine) buildArgs(path, prompt string, params stt.Params) []string {
	args := []string{"--audio", path}
	if e.ref.Model != "" {
		args = append(args, "--model", e.ref.Model)
	}
	if e.ref.Device != "" {
		args = append(args, "--device", e.ref.Device)
	}
	if e.ref.ComputeType != "" {
		args = append(args, "--compute-type", e.ref.ComputeType)
	}
	if params.Language != "" {
		args = append(args, "--language", params.Language)
	}
	if params.BeamSize > 0 {
		args = append(args, "--beam-size", strconv.Itoa(params.BeamSize))
	}
	args = append(args,
		"--temperature", formatFloat(params.Temperature),
		"--no-speech-threshold", formatFloat(params.NoSpeechThreshold),
		"--patience", formatFloat(params.Patience),
		"--length-penalty", formatFloat(params.LengthPenalty),
	)
	if params.VADMinSilenceMs > 0 {
		args = append(args, "--vad-min-silence-ms", strconv.Itoa(params.VADMinSilenceMs))
	}
	if params.ConditionOnPrompt && prompt != "" {
		args = append(args, "--prompt", prompt)
	}
	return args
}

func decodeResult(out []byte) ([]stt.Segment, error) {
	var resp execResult
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TranscriptionFailed, "decode stt response")
	}
	if len(resp.Segments) > 0 {
		segs := make([]stt.Segment, len(resp.Segments))
		for i, s := range resp.Segments {
			segs[i] = stt.Segment{Text: s.Text, AvgLogProb: s.AvgLogProb}
		}
		return segs, nil
	}
	if resp.Text == "" {
		return nil, nil
	}
	var logProb float64
	if resp.Confidence > 0 {
		logProb = math.Log(math.Min(resp.Confidence, 1))
	}
	return []stt.Segment{{Text: resp.Text, AvgLogProb: logProb}}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var _ stt.Engine = (*Engine)(nil)
