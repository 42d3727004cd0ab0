package vad

const (
	// DefaultWindowSize is the probe chunk length in samples (32ms at 16kHz).
	DefaultWindowSize = 512

	hysteresis      = 0.15
	minNegThreshold = 0.01

	// DefaultEnergyCeiling is the RMS level treated as certain speech.
	DefaultEnergyCeiling = 0.1
)
