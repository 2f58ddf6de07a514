// Package notetree holds the canonical id → record mapping for a session and
// the pure functions that read a forest out of it.
//
// Every mutation builds a fresh models.Map from the previous one and swaps it
// in under the lock; a Map obtained from Snapshot is never written again.
package notetree

import (
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/starford/notetree/internal/apperr"
	"github.com/starford/notetree/internal/models"
)

// State owns the note mapping.
type State struct {
	mu     sync.RWMutex
	notes  models.Map
	logger *slog.Logger
}

// New returns an empty State.
func New(logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{notes: models.Map{}, logger: logger}
}

// Replace discards the current mapping and installs m. No merge is attempted.
func (s *State) Replace(m models.Map) {
	next := make(models.Map, len(m))
	for id, rec := range m {
		next[id] = rec.Clone()
	}
	s.mu.Lock()
	s.notes = next
	s.mu.Unlock()

	for _, d := range Dangling(next) {
		s.logger.Warn("notetree: dangling reference",
			slog.String("kind", string(d.Kind)),
			slog.String("owner", d.Owner),
			slog.String("target", d.Target))
	}
}

// Snapshot returns the current mapping. Callers must not modify it.
func (s *State) Snapshot() models.Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notes
}

// Len returns the number of records.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}

// Get looks up a record by id.
func (s *State) Get(id string) (models.NoteRecord, bool) {
	s.mu.RLock()
	rec, ok := s.notes[id]
	s.mu.RUnlock()
	if !ok {
		return models.NoteRecord{}, false
	}
	return rec.Clone(), true
}

// Add inserts rec and, when it has a parent, appends its id to the parent's
// child list. A parent that is not loaded is logged and left dangling.
func (s *State) Add(rec models.NoteRecord) {
	rec = rec.Clone()

	s.mu.Lock()
	next := maps.Clone(s.notes)
	next[rec.ID] = rec
	parentMissing := false
	if !rec.IsRoot() {
		parent, ok := next[rec.ParentID]
		switch {
		case !ok:
			parentMissing = true
		case !slices.Contains(parent.ChildIDs, rec.ID):
			parent = parent.Clone()
			parent.ChildIDs = append(parent.ChildIDs, rec.ID)
			next[parent.ID] = parent
		}
	}
	s.notes = next
	s.mu.Unlock()

	if parentMissing {
		s.logger.Warn("notetree: added note under unknown parent",
			slog.String("id", rec.ID),
			slog.String("parent_id", rec.ParentID))
	}
}

// Remove deletes every id in ids and severs id from its former parent's child
// list. ids is expected to be SubtreeIDs(id) computed by the caller. When the
// parent survived the removal its updated record is returned.
func (s *State) Remove(id string, ids []string) (models.NoteRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.notes)
	rec, existed := next[id]
	for _, rid := range ids {
		delete(next, rid)
	}

	var (
		parent    models.NoteRecord
		hasParent bool
	)
	if existed && !rec.IsRoot() {
		if p, ok := next[rec.ParentID]; ok {
			parent = p.Clone()
			parent.ChildIDs = slices.DeleteFunc(parent.ChildIDs, func(cid string) bool { return cid == id })
			next[parent.ID] = parent
			hasParent = true
		}
	}
	s.notes = next
	if hasParent {
		return parent.Clone(), true
	}
	return models.NoteRecord{}, false
}

// Update replaces the name and raw text of id without touching tree shape.
func (s *State) Update(id, name, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.notes[id]
	if !ok {
		return apperr.ErrNotFound
	}
	rec = rec.Clone()
	rec.Name = name
	rec.Raw = raw

	next := maps.Clone(s.notes)
	next[id] = rec
	s.notes = next
	return nil
}

// SubtreeIDs returns id and all its descendants in pre-order.
func (s *State) SubtreeIDs(id string) []string {
	return SubtreeIDs(s.Snapshot(), id)
}

// Forest derives the current forest.
func (s *State) Forest() []models.DerivedNote {
	return DeriveForest(s.Snapshot())
}

// Records returns every record ordered by id.
func (s *State) Records() []models.NoteRecord {
	return sortedRecords(s.Snapshot(), func(models.NoteRecord) bool { return true })
}

// Search returns records whose name contains query, ordered by id.
func (s *State) Search(query string) []models.NoteRecord {
	return sortedRecords(s.Snapshot(), func(r models.NoteRecord) bool {
		return strings.Contains(r.Name, query)
	})
}

func sortedRecords(m models.Map, keep func(models.NoteRecord) bool) []models.NoteRecord {
	out := make([]models.NoteRecord, 0, len(m))
	for _, rec := range m {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
