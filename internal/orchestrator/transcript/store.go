// Package transcript holds session text state and the stabilizer that guards it.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Entry is one accepted chunk.
type Entry struct {
	Timestamp time.Time
	Text      string
}

// Options bounds the store's rolling structures.
type Options struct {
	HistorySize      int
	ContextWordCap   int
	ContextKeepWords int
}

func (o Options) withDefaults() Options {
	if o.HistorySize <= 0 {
		o.HistorySize = DefaultHistorySize
	}
	if o.ContextWordCap <= 0 {
		o.ContextWordCap = DefaultContextWordCap
	}
	if o.ContextKeepWords <= 0 || o.ContextKeepWords > o.ContextWordCap {
		o.ContextKeepWords = min(DefaultContextKeepWords, o.ContextWordCap)
	}
	return o
}

// Store is the state of one session: the append-only transcript, the
// recent-history FIFO with its fingerprints, and the rolling prompt context.
// A fresh Store is built for every session.
type Store struct {
	mu      sync.RWMutex
	opts    Options
	prompt  string
	entries []Entry
	history []historyItem
	hashes  map[uint64]int
	context []string
	sealed  bool
}

type historyItem struct {
	text string
	hash uint64
}

// NewStore creates a new transcript store seeded with the session prompt.
func NewStore(prompt string, opts Options) *Store {
	return &Store{
		opts:   opts.withDefaults(),
		prompt: prompt,
		hashes: make(map[uint64]int),
	}
}

// Prompt returns the task description fixed at session start.
func (s *Store) Prompt() string { return s.prompt }

// Transcript returns all accepted chunks joined by single spaces.
func (s *Store) Transcript() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joinLocked()
}

func (s *Store) joinLocked() string {
	parts := make([]string, len(s.entries))
	for i, e := range s.entries {
		parts[i] = e.Text
	}
	return strings.Join(parts, " ")
}

// Entries returns a copy of all accepted chunks.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// History returns recent accepted chunks, oldest first.
func (s *Store) History() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.history))
	for i, h := range s.history {
		out[i] = h.text
	}
	return out
}

// RollingContext returns the trailing words used as the next prompt suffix.
func (s *Store) RollingContext() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return strings.Join(s.context, " ")
}

// ContextWords returns the rolling context length in words.
func (s *Store) ContextWords() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.context)
}

// Seal stops the store from accepting further chunks. Readers are unaffected.
func (s *Store) Seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (s *Store) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

func (s *Store) hasHash(h uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashes[h] > 0
}

// commit appends text and updates history and context. It returns the full
// transcript, or false when the store is sealed.
func (s *Store) commit(text string, hash uint64, at time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return "", false
	}

	s.entries = append(s.entries, Entry{Timestamp: at, Text: text})

	s.history = append(s.history, historyItem{text: text, hash: hash})
	s.hashes[hash]++
	for len(s.history) > s.opts.HistorySize {
		old := s.history[0]
		s.history = s.history[1:]
		if s.hashes[old.hash]--; s.hashes[old.hash] <= 0 {
			delete(s.hashes, old.hash)
		}
	}

	s.context = append(s.context, strings.Fields(text)...)
	if len(s.context) > s.opts.ContextWordCap {
		s.context = append([]string(nil), s.context[len(s.context)-s.opts.ContextKeepWords:]...)
	}

	return s.joinLocked(), true
}
