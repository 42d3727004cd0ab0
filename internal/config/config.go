// Package config handles scribe configuration
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
)

// DefaultPrompt is the task description used when a session starts without one.
const DefaultPrompt = "The following is an academic lecture. Focus on accurate transcription of spoken English, including diverse accents."

type Config struct {
	HTTPAddr      string `yaml:"http_addr"`
	InferenceAddr string `yaml:"inference_addr"`
	LogLevel      string `yaml:"log_level"`
	OutputDir     string `yaml:"output_dir"`

	// Capture
	AudioDevice     string `yaml:"audio_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMs int    `yaml:"frame_duration_ms"`
	FrameQueueSize  int    `yaml:"frame_queue_size"`

	// Accumulator / speech gate
	BufferSizeSeconds float64 `yaml:"buffer_size_seconds"`
	PollTimeoutMs     int     `yaml:"poll_timeout_ms"`
	VADMode           string  `yaml:"vad_mode"` // energy, grpc, none
	VADThreshold      float64 `yaml:"vad_threshold"`
	VADMinSilenceMs   int     `yaml:"vad_min_silence_ms"`
	VADMinSpeechMs    int     `yaml:"vad_min_speech_ms"`

	// Transcription engine
	STTMode               string        `yaml:"stt_mode"` // whisper, grpc, exec
	STTModel              string        `yaml:"stt_model"`
	STTDevice             string        `yaml:"stt_device"`
	STTComputeType        string        `yaml:"stt_compute_type"`
	STTCommand            string        `yaml:"stt_command"`
	Language              string        `yaml:"language"`
	BeamSize              int           `yaml:"beam_size"` // 0 picks by device
	Temperature           float64       `yaml:"temperature"`
	NoSpeechThreshold     float64       `yaml:"no_speech_threshold"`
	EngineVADMinSilenceMs int           `yaml:"engine_vad_min_silence_ms"`
	MinConfidence         float64       `yaml:"min_confidence"`
	Patience              float64       `yaml:"patience"`
	LengthPenalty         float64       `yaml:"length_penalty"`
	ConditionOnPrompt     bool          `yaml:"condition_on_prompt"`
	TranscribeTimeout     time.Duration `yaml:"transcribe_timeout"`

	// Stabilizer
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	ContextWordCap      int     `yaml:"context_word_cap"`
	ContextKeepWords    int     `yaml:"context_keep_words"`
	HistorySize         int     `yaml:"history_size"`
	InitialPrompt       string  `yaml:"initial_prompt"`

	StopJoinTimeout time.Duration `yaml:"stop_join_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:              ":8000",
		InferenceAddr:         "localhost:50051",
		LogLevel:              "info",
		OutputDir:             "output",
		SampleRate:            16000,
		Channels:              1,
		FrameDurationMs:       100,
		FrameQueueSize:        256,
		BufferSizeSeconds:     6.0,
		PollTimeoutMs:         100,
		VADMode:               "energy",
		VADThreshold:          0.4,
		VADMinSilenceMs:       500,
		VADMinSpeechMs:        150,
		STTMode:               "whisper",
		STTDevice:             "cpu",
		STTComputeType:        "int8",
		Language:              "en",
		Temperature:           0.0,
		NoSpeechThreshold:     0.6,
		EngineVADMinSilenceMs: 1000,
		MinConfidence:         -1.0,
		Patience:              1.0,
		LengthPenalty:         1.0,
		ConditionOnPrompt:     true,
		SimilarityThreshold:   0.7,
		ContextWordCap:        70,
		ContextKeepWords:      60,
		HistorySize:           15,
		StopJoinTimeout:       time.Second,
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// SCRIBE_CONFIG (if any), then environment overrides.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("SCRIBE_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ConfigInvalid, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.Wrapf(err, apperrors.ConfigInvalid, "parse config %s", path)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.InferenceAddr = getEnv("INFERENCE_ADDR", c.InferenceAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.OutputDir = getEnv("OUTPUT_DIR", c.OutputDir)
	c.AudioDevice = getEnv("AUDIO_DEVICE", c.AudioDevice)
	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.Channels = getEnvInt("CHANNELS", c.Channels)
	c.FrameDurationMs = getEnvInt("FRAME_DURATION_MS", c.FrameDurationMs)
	c.FrameQueueSize = getEnvInt("FRAME_QUEUE_SIZE", c.FrameQueueSize)
	c.BufferSizeSeconds = getEnvFloat("BUFFER_SIZE_SECONDS", c.BufferSizeSeconds)
	c.PollTimeoutMs = getEnvInt("POLL_TIMEOUT_MS", c.PollTimeoutMs)
	c.VADMode = getEnv("VAD_MODE", c.VADMode)
	c.VADThreshold = getEnvFloat("VAD_THRESHOLD", c.VADThreshold)
	c.VADMinSilenceMs = getEnvInt("VAD_MIN_SILENCE_MS", c.VADMinSilenceMs)
	c.VADMinSpeechMs = getEnvInt("VAD_MIN_SPEECH_MS", c.VADMinSpeechMs)
	c.STTMode = getEnv("STT_MODE", c.STTMode)
	c.STTModel = getEnv("STT_MODEL", c.STTModel)
	c.STTDevice = getEnv("STT_DEVICE", c.STTDevice)
	c.STTComputeType = getEnv("STT_COMPUTE_TYPE", c.STTComputeType)
	c.STTCommand = getEnv("STT_COMMAND", c.STTCommand)
	c.Language = getEnv("STT_LANGUAGE", c.Language)
	c.BeamSize = getEnvInt("BEAM_SIZE", c.BeamSize)
	c.Temperature = getEnvFloat("TEMPERATURE", c.Temperature)
	c.NoSpeechThreshold = getEnvFloat("NO_SPEECH_THRESHOLD", c.NoSpeechThreshold)
	c.EngineVADMinSilenceMs = getEnvInt("ENGINE_VAD_MIN_SILENCE_MS", c.EngineVADMinSilenceMs)
	c.MinConfidence = getEnvFloat("MIN_CONFIDENCE", c.MinConfidence)
	c.Patience = getEnvFloat("PATIENCE", c.Patience)
	c.LengthPenalty = getEnvFloat("LENGTH_PENALTY", c.LengthPenalty)
	c.ConditionOnPrompt = getEnvBool("CONDITION_ON_PROMPT", c.ConditionOnPrompt)
	c.TranscribeTimeout = getEnvDuration("TRANSCRIBE_TIMEOUT", c.TranscribeTimeout)
	c.SimilarityThreshold = getEnvFloat("SIMILARITY_THRESHOLD", c.SimilarityThreshold)
	c.ContextWordCap = getEnvInt("CONTEXT_WORD_CAP", c.ContextWordCap)
	c.ContextKeepWords = getEnvInt("CONTEXT_KEEP_WORDS", c.ContextKeepWords)
	c.HistorySize = getEnvInt("HISTORY_SIZE", c.HistorySize)
	c.InitialPrompt = getEnv("INITIAL_PROMPT", c.InitialPrompt)
	c.StopJoinTimeout = getEnvDuration("STOP_JOIN_TIMEOUT", c.StopJoinTimeout)
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.SampleRate <= 0 {
		problems = append(problems, "sample_rate must be positive")
	}
	if c.Channels <= 0 {
		problems = append(problems, "channels must be positive")
	}
	if c.FrameDurationMs <= 0 {
		problems = append(problems, "frame_duration_ms must be positive")
	}
	if c.FrameQueueSize <= 0 {
		problems = append(problems, "frame_queue_size must be positive")
	}
	if c.BufferSizeSeconds <= 0 {
		problems = append(problems, "buffer_size_seconds must be positive")
	}
	if c.PollTimeoutMs <= 0 || c.PollTimeoutMs > 100 {
		problems = append(problems, "poll_timeout_ms must be in (0, 100]")
	}
	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		problems = append(problems, "vad_threshold must be in [0, 1]")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		problems = append(problems, "similarity_threshold must be in [0, 1]")
	}
	if c.ContextWordCap <= 0 {
		problems = append(problems, "context_word_cap must be positive")
	}
	if c.ContextKeepWords <= 0 || c.ContextKeepWords > c.ContextWordCap {
		problems = append(problems, "context_keep_words must be in (0, context_word_cap]")
	}
	if c.HistorySize <= 0 {
		problems = append(problems, "history_size must be positive")
	}
	switch c.VADMode {
	case "energy", "grpc", "none":
	default:
		problems = append(problems, fmt.Sprintf("unknown vad_mode %q", c.VADMode))
	}
	switch c.STTMode {
	case "whisper", "grpc", "exec":
	default:
		problems = append(problems, fmt.Sprintf("unknown stt_mode %q", c.STTMode))
	}
	if len(problems) > 0 {
		return apperrors.New(apperrors.ConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ResolvedBeamSize returns BeamSize, or the per-device default when unset.
func (c *Config) ResolvedBeamSize() int {
	if c.BeamSize > 0 {
		return c.BeamSize
	}
	if strings.Contains(strings.ToLower(c.STTDevice), "cuda") {
		return 5
	}
	return 3
}

// WindowSamples is the accumulator's ready threshold in samples.
func (c *Config) WindowSamples() int {
	return int(float64(c.SampleRate) * c.BufferSizeSeconds)
}

// FrameSamples is the number of samples per captured frame.
func (c *Config) FrameSamples() int {
	return c.SampleRate * c.FrameDurationMs / 1000
}

// PollTimeout is how long the accumulator waits on the queue before rechecking state.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMs) * time.Millisecond
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
