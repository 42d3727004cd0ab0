package transcript

import (
	"context"
	"strings"
	"time"

	"github.com/GriffinCanCode/lecture-scribe/internal/metrics"
	"github.com/GriffinCanCode/lecture-scribe/internal/stt"
	"github.com/GriffinCanCode/lecture-scribe/internal/trace"
)

// Decision is the stabilizer's verdict on one window's output.
type Decision int

const (
	Accepted Decision = iota
	RejectedEmpty
	RejectedDuplicate
	RejectedSimilar
	RejectedSealed
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case RejectedEmpty:
		return "empty"
	case RejectedDuplicate:
		return "duplicate"
	case RejectedSimilar:
		return "similar"
	case RejectedSealed:
		return "sealed"
	default:
		return "unknown"
	}
}

// Result reports what happened to a candidate.
type Result struct {
	Decision Decision
	Text     string
	// Score is the highest similarity seen against history.
	Score float64
	// Full is the transcript after acceptance.
	Full string
}

// UpdateFunc receives each accepted chunk and the transcript so far.
type UpdateFunc func(chunk, full string)

// StabilizerOptions holds the acceptance thresholds.
type StabilizerOptions struct {
	MinConfidence       float64
	SimilarityThreshold float64
}

// DefaultStabilizerOptions returns the stock thresholds.
func DefaultStabilizerOptions() StabilizerOptions {
	return StabilizerOptions{MinConfidence: DefaultMinConfidence, SimilarityThreshold: DefaultSimilarityThreshold}
}

// Stabilizer filters engine output and folds accepted text into a Store.
// It is the only writer of the store's text state.
type Stabilizer struct {
	store    *Store
	opts     StabilizerOptions
	onUpdate UpdateFunc
	now      func() time.Time
}

// NewStabilizer creates a stabilizer writing into store. onUpdate may be nil.
func NewStabilizer(store *Store, opts StabilizerOptions, onUpdate UpdateFunc) *Stabilizer {
	return &Stabilizer{store: store, opts: opts, onUpdate: onUpdate, now: time.Now}
}

// Store returns the store the stabilizer writes into.
func (s *Stabilizer) Store() *Store { return s.store }

// Candidate drops segments below the confidence floor and joins the rest.
func (s *Stabilizer) Candidate(segments []stt.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg.AvgLogProb < s.opts.MinConfidence {
			continue
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Accept runs one window's segments through the filters in order: confidence
// floor, empty check, exact fingerprint, similarity against history. Accepted
// text is committed and reported through onUpdate.
func (s *Stabilizer) Accept(ctx context.Context, segments []stt.Segment) Result {
	_, span := trace.StartSpan(ctx, "stabilize")
	defer span.End()

	res := s.accept(s.Candidate(segments))
	metrics.ChunksTotal.WithLabelValues(res.Decision.String()).Inc()

	log := trace.Logger(ctx)
	if res.Decision == Accepted {
		log.Debug("chunk accepted", "text", res.Text, "max_similarity", res.Score)
		if s.onUpdate != nil {
			s.onUpdate(res.Text, res.Full)
		}
	} else if res.Decision != RejectedEmpty {
		log.Debug("chunk rejected", "reason", res.Decision, "text", res.Text, "max_similarity", res.Score)
	}
	return res
}

func (s *Stabilizer) accept(text string) Result {
	if text == "" {
		return Result{Decision: RejectedEmpty}
	}

	hash := Fingerprint(text)
	if s.store.hasHash(hash) {
		return Result{Decision: RejectedDuplicate, Text: text, Score: 1}
	}

	var best float64
	for _, prev := range s.store.History() {
		r := Similarity(text, prev)
		best = max(best, r)
		if r > s.opts.SimilarityThreshold {
			return Result{Decision: RejectedSimilar, Text: text, Score: r}
		}
	}

	full, ok := s.store.commit(text, hash, s.now())
	if !ok {
		return Result{Decision: RejectedSealed, Text: text, Score: best}
	}
	return Result{Decision: Accepted, Text: text, Score: best, Full: full}
}
