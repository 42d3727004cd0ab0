// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection command rate limiting on /ws
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Bound on a single WebSocket write
	WriteTimeout = 5 * time.Second

	// Request bodies are tiny JSON objects
	MaxBodyBytes = 64 << 10
)
