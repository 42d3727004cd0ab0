// Package mock provides a scripted stt.Engine for tests.
package mock

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/lecture-scribe/internal/stt"
)

// Call records a single Transcribe invocation.
type Call struct {
	Samples int
	Prompt  string
	Params  stt.Params
}

// Result is one scripted response.
type Result struct {
	Segments []stt.Segment
	Err      error
}

// Engine returns Results in order, then repeats the last one. With no
// results it returns no segments.
type Engine struct {
	mu      sync.Mutex
	Results []Result
	// Block, if set, is waited on (or ctx) before each call returns.
	Block  chan struct{}
	Calls  []Call
	Closed bool
}

// Transcribe implements stt.Engine.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, prompt string, params stt.Params) ([]stt.Segment, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, Call{Samples: len(samples), Prompt: prompt, Params: params})
	n := len(e.Calls)
	block := e.Block
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Results) == 0 {
		return nil, nil
	}
	r := e.Results[min(n, len(e.Results))-1]
	return r.Segments, r.Err
}

// CallCount returns how many times Transcribe ran. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// LastCall returns the most recent call. Thread-safe.
func (e *Engine) LastCall() Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Calls) == 0 {
		return Call{}
	}
	return e.Calls[len(e.Calls)-1]
}

// Close implements stt.Closer.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Closed = true
	return nil
}

// Loader returns a LoadFunc handing out e, or err when non-nil.
func Loader(e *Engine, err error) stt.LoadFunc {
	return func(context.Context, stt.ModelRef) (stt.Engine, error) {
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

var _ stt.Engine = (*Engine)(nil)
