// Package orchestrator owns session lifecycle: it wires a frame source, the
// processing worker and a fresh transcript store per session.
package orchestrator

import "time"

// Orchestrator configuration constants
const (
	// Buffered events for the UI push channel; overflow is dropped.
	EventBuffer = 100

	// How often the queue's drop counter is folded into metrics.
	DropCheckInterval = time.Second

	// Filename prefix for saved transcripts.
	SavePrefix = "transcript"

	DefaultStopJoinTimeout = time.Second
)
