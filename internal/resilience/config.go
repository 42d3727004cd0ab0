package resilience

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
)

const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// Engine breaker: a window arrives every few seconds, so open quickly
	// and probe again after a couple of windows.
	EngineThreshold         = 3
	EngineResetTimeout      = 12 * time.Second
	EngineHalfOpenSuccesses = 1
)

// Config holds circuit breaker settings.
type Config struct {
	Name              string
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
	IsFailure         func(error) bool
}

// DefaultConfig returns general-purpose defaults.
func DefaultConfig() Config {
	return Config{
		Name:              "default",
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// EngineConfig returns settings for the transcription engine breaker.
func EngineConfig() Config {
	return Config{
		Name:              "stt",
		Threshold:         EngineThreshold,
		ResetTimeout:      EngineResetTimeout,
		HalfOpenSuccesses: EngineHalfOpenSuccesses,
	}
}

// countsAsFailure ignores cancellation: stopping a session mid-call says
// nothing about engine health.
func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) || apperrors.IsCode(err, apperrors.Cancelled) {
		return false
	}
	return true
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	if c.IsFailure == nil {
		c.IsFailure = countsAsFailure
	}
	return c
}
