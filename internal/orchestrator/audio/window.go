package audio

// Window is the append-only sample buffer the worker fills between flushes.
// It is owned by a single goroutine.
type Window struct {
	buf   []float32
	ready int
}

// NewWindow creates a window that becomes ready at readySamples.
func NewWindow(readySamples int) *Window {
	return &Window{buf: make([]float32, 0, readySamples), ready: readySamples}
}

// Append adds samples to the end of the window.
func (w *Window) Append(samples []float32) {
	w.buf = append(w.buf, samples...)
}

// Len returns the number of buffered samples.
func (w *Window) Len() int { return len(w.buf) }

// Ready reports whether the window has reached its threshold.
func (w *Window) Ready() bool { return len(w.buf) >= w.ready }

// Samples returns the buffered samples. The slice stays valid after Reset
// and TrimToNewest, which allocate fresh storage.
func (w *Window) Samples() []float32 { return w.buf }

// Reset empties the window.
func (w *Window) Reset() {
	w.buf = make([]float32, 0, w.ready)
}

// TrimToNewest drops all but the newest len/divisor samples.
func (w *Window) TrimToNewest(divisor int) {
	keep := len(w.buf) / divisor
	next := make([]float32, keep, max(w.ready, keep))
	copy(next, w.buf[len(w.buf)-keep:])
	w.buf = next
}
