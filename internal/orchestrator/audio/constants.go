// Package audio runs a session's processing worker: it accumulates frames
// into a window, gates it on speech and hands speech windows to the engine.
package audio

import "time"

// Processing defaults
const (
	// DefaultPollTimeout bounds how long the worker can miss a stop.
	DefaultPollTimeout = 100 * time.Millisecond

	// Silent windows keep this fraction (1/n) of their newest samples.
	SilenceKeepDivisor = 3

	// Gate outcome labels
	outcomeSpeech   = "speech"
	outcomeSilent   = "silent"
	outcomeVADError = "vad_error"
	outcomeUngated  = "ungated"
)
