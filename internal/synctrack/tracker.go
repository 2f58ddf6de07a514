// Package synctrack tracks which notes have a store call in flight.
//
// It is an indicator for the presentation layer, not a lock: nothing stops two
// operations from touching the same subtree at once. Membership is counted per
// id so that overlapping operations on one subtree keep the indicator lit
// until the last of them stops.
package synctrack

import (
	"maps"
	"slices"
	"sync"
)

// SubtreeFunc expands an id into the ids it stands for (itself first).
type SubtreeFunc func(id string) []string

// ChangeFunc is called after every Start or Stop with the sorted set of ids
// currently syncing.
type ChangeFunc func(syncing []string)

// Tracker holds the syncing set.
type Tracker struct {
	mu       sync.Mutex
	counts   map[string]int
	subtree  SubtreeFunc
	onChange ChangeFunc
}

// New returns a Tracker that expands ids with subtree. onChange may be nil.
func New(subtree SubtreeFunc, onChange ChangeFunc) *Tracker {
	return &Tracker{
		counts:   map[string]int{},
		subtree:  subtree,
		onChange: onChange,
	}
}

// Start marks id and its whole subtree as syncing and returns the ids marked.
func (t *Tracker) Start(id string) []string {
	ids := t.subtree(id)
	t.apply(ids, +1)
	return ids
}

// Stop recomputes the subtree of id and unmarks it. The tree may have changed
// since Start, so the list is not cached between the two calls.
func (t *Tracker) Stop(id string) []string {
	ids := t.subtree(id)
	t.apply(ids, -1)
	return ids
}

// Forget drops ids from the set regardless of how many operations still
// hold them. Used when the notes themselves are gone, since a later Stop on an
// ancestor no longer reaches them.
func (t *Tracker) Forget(ids []string) {
	t.mu.Lock()
	next := maps.Clone(t.counts)
	for _, id := range ids {
		delete(next, id)
	}
	changed := len(next) != len(t.counts)
	t.counts = next
	snapshot := sortedKeys(next)
	t.mu.Unlock()

	if changed && t.onChange != nil {
		t.onChange(snapshot)
	}
}

// IsSyncing reports whether id is in the syncing set.
func (t *Tracker) IsSyncing(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[id] > 0
}

// IDs returns the syncing set, sorted. It is never nil.
func (t *Tracker) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.counts)
}

func (t *Tracker) apply(ids []string, delta int) {
	t.mu.Lock()
	next := maps.Clone(t.counts)
	for _, id := range ids {
		n := next[id] + delta
		if n <= 0 {
			delete(next, id)
			continue
		}
		next[id] = n
	}
	t.counts = next
	snapshot := sortedKeys(next)
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(snapshot)
	}
}

func sortedKeys(m map[string]int) []string {
	ids := slices.AppendSeq(make([]string, 0, len(m)), maps.Keys(m))
	slices.Sort(ids)
	return ids
}
