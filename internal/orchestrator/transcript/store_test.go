package transcript

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestStoreCommit(t *testing.T) {
	s := NewStore("A lecture.", Options{})
	full, ok := s.commit("hello world", Fingerprint("hello world"), time.Now())
	if !ok || full != "hello world" {
		t.Fatalf("commit = (%q, %v)", full, ok)
	}
	full, _ = s.commit("second part", Fingerprint("second part"), time.Now())
	if full != "hello world second part" {
		t.Errorf("full = %q", full)
	}

	entries := s.Entries()
	if len(entries) != 2 || entries[1].Text != "second part" {
		t.Errorf("unexpected entries: %+v", entries)
	}
	if s.Prompt() != "A lecture." {
		t.Errorf("Prompt() = %q", s.Prompt())
	}
}

func TestStoreHistoryEvictsOldestWithHash(t *testing.T) {
	s := NewStore("", Options{HistorySize: 3})
	for i := 0; i < 5; i++ {
		text := fmt.Sprintf("chunk %d", i)
		s.commit(text, Fingerprint(text), time.Now())
	}

	hist := s.History()
	want := []string{"chunk 2", "chunk 3", "chunk 4"}
	if strings.Join(hist, "|") != strings.Join(want, "|") {
		t.Errorf("History() = %v, want %v", hist, want)
	}
	if s.hasHash(Fingerprint("chunk 0")) {
		t.Error("evicted entry's fingerprint should be forgotten")
	}
	if !s.hasHash(Fingerprint("chunk 4")) {
		t.Error("live entry's fingerprint missing")
	}
	if len(s.Entries()) != 5 {
		t.Error("transcript must keep every accepted chunk")
	}
}

func TestStoreRollingContextCap(t *testing.T) {
	s := NewStore("", Options{ContextWordCap: 70, ContextKeepWords: 60})

	for i := 0; i < 20; i++ {
		words := make([]string, 9)
		for j := range words {
			words[j] = fmt.Sprintf("w%d_%d", i, j)
		}
		text := strings.Join(words, " ")
		s.commit(text, Fingerprint(text), time.Now())

		if n := s.ContextWords(); n > 70 {
			t.Fatalf("context has %d words after commit %d, cap 70", n, i)
		}
	}

	ctx := strings.Fields(s.RollingContext())
	if ctx[len(ctx)-1] != "w19_8" {
		t.Errorf("newest word = %q, want w19_8", ctx[len(ctx)-1])
	}
}

func TestStoreTrimKeepsNewest(t *testing.T) {
	s := NewStore("", Options{ContextWordCap: 5, ContextKeepWords: 3})
	s.commit("a b c d", 1, time.Now())
	s.commit("e f", 2, time.Now())

	if got := s.RollingContext(); got != "d e f" {
		t.Errorf("RollingContext() = %q, want %q", got, "d e f")
	}
}

func TestStoreSeal(t *testing.T) {
	s := NewStore("", Options{})
	s.commit("before", 1, time.Now())
	s.Seal()

	if _, ok := s.commit("after", 2, time.Now()); ok {
		t.Error("sealed store accepted a chunk")
	}
	if s.Transcript() != "before" {
		t.Errorf("Transcript() = %q, sealed store must stay readable", s.Transcript())
	}
	if !s.Sealed() {
		t.Error("Sealed() = false")
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{ContextWordCap: 10, ContextKeepWords: 50}.withDefaults()
	if o.HistorySize != DefaultHistorySize {
		t.Errorf("HistorySize = %d", o.HistorySize)
	}
	if o.ContextKeepWords != 10 {
		t.Errorf("ContextKeepWords = %d, want clamp to cap", o.ContextKeepWords)
	}
}
