package vad

import (
	"context"
	"math"
)

// EnergyProber scores chunks by RMS energy, scaled so Ceiling maps to 1.
// It needs no model and serves as the local fallback detector.
type EnergyProber struct {
	Ceiling float64
}

// NewEnergyDetector returns a FrameDetector backed by an EnergyProber.
func NewEnergyDetector() *FrameDetector {
	return NewFrameDetector(&EnergyProber{Ceiling: DefaultEnergyCeiling}, DefaultWindowSize)
}

// Probability implements Prober.
func (e *EnergyProber) Probability(_ context.Context, chunk []float32, _ int) (float64, error) {
	if len(chunk) == 0 {
		return 0, nil
	}
	var sum float64
	for _, s := range chunk {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(chunk)))

	ceiling := e.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultEnergyCeiling
	}
	return math.Min(rms/ceiling, 1), nil
}
