package apperr

import (
	"errors"
	"sort"
	"sync"
)

// DefaultSampleSize bounds the identifiers kept per kind.
const DefaultSampleSize = 20

// Event is one structured diagnostic recorded during a sync run.
type Event struct {
	Kind  Kind   `json:"kind"`
	Scope string `json:"scope"`
	ID    string `json:"id"`
}

// Tally counts diagnostics per kind and keeps a bounded sample of the
// identifiers involved. It is safe for concurrent use.
type Tally struct {
	mu         sync.Mutex
	sampleSize int
	counts     map[Kind]int
	samples    []Event
	perKind    map[Kind]int
}

// NewTally creates a tally that keeps up to sampleSize events per kind.
func NewTally(sampleSize int) *Tally {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Tally{
		sampleSize: sampleSize,
		counts:     make(map[Kind]int),
		perKind:    make(map[Kind]int),
	}
}

// Record counts one event.
func (t *Tally) Record(kind Kind, scope, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[kind]++
	if t.perKind[kind] < t.sampleSize {
		t.perKind[kind]++
		t.samples = append(t.samples, Event{Kind: kind, Scope: scope, ID: id})
	}
}

// RecordErr counts err under its kind, falling back to the given kind for
// unclassified errors.
func (t *Tally) RecordErr(err error, fallback Kind, scope string) {
	var e *Error
	if errors.As(err, &e) {
		t.Record(e.Kind, scope, e.ID)
		return
	}
	t.Record(fallback, scope, "")
}

// Count returns the number of events recorded for kind.
func (t *Tally) Count(kind Kind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[kind]
}

// Counts returns a copy of all per-kind counters.
func (t *Tally) Counts() map[Kind]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Kind]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// Sample returns the sampled events ordered by kind, scope and id.
func (t *Tally) Sample() []Event {
	t.mu.Lock()
	out := make([]Event, len(t.samples))
	copy(out, t.samples)
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].ID < out[j].ID
	})
	return out
}
