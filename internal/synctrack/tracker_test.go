package synctrack

import (
	"slices"
	"sync"
	"testing"

	"github.com/starford/notetree/internal/models"
	"github.com/starford/notetree/internal/notetree"
)

func fixedTree() models.Map {
	return models.Map{
		"a":  {ID: "a", ChildIDs: []string{"b", "c"}},
		"b":  {ID: "b", ParentID: "a", ChildIDs: []string{"b1"}},
		"b1": {ID: "b1", ParentID: "b"},
		"c":  {ID: "c", ParentID: "a"},
		"z":  {ID: "z"},
	}
}

func newTracker(m models.Map) *Tracker {
	return New(func(id string) []string { return notetree.SubtreeIDs(m, id) }, nil)
}

func TestStartMarksWholeSubtree(t *testing.T) {
	tr := newTracker(fixedTree())

	ids := tr.Start("b")
	if !slices.Equal(ids, []string{"b", "b1"}) {
		t.Fatalf("Start = %v", ids)
	}
	for _, id := range []string{"b", "b1"} {
		if !tr.IsSyncing(id) {
			t.Errorf("%s should be syncing", id)
		}
	}
	for _, id := range []string{"a", "c", "z"} {
		if tr.IsSyncing(id) {
			t.Errorf("%s should not be syncing", id)
		}
	}
}

func TestStartStopRoundTrip(t *testing.T) {
	tr := newTracker(fixedTree())
	tr.Start("z")
	before := tr.IDs()

	tr.Start("a")
	tr.Stop("a")

	if got := tr.IDs(); !slices.Equal(got, before) {
		t.Errorf("after round trip = %v, want %v", got, before)
	}
}

func TestOverlappingOperationsKeepIndicator(t *testing.T) {
	tr := newTracker(fixedTree())

	tr.Start("a") // a, b, b1, c
	tr.Start("b") // b, b1 again
	tr.Stop("a")

	if !tr.IsSyncing("b") || !tr.IsSyncing("b1") {
		t.Error("b subtree should still be syncing while its own operation runs")
	}
	if tr.IsSyncing("a") || tr.IsSyncing("c") {
		t.Error("a and c should be cleared")
	}

	tr.Stop("b")
	if len(tr.IDs()) != 0 {
		t.Errorf("ids = %v, want empty", tr.IDs())
	}
}

func TestStopRecomputesAgainstCurrentTree(t *testing.T) {
	s := notetree.New(nil)
	s.Replace(fixedTree())
	tr := New(s.SubtreeIDs, nil)

	tr.Start("a")
	s.Add(models.NoteRecord{ID: "d", ParentID: "a"})
	ids := tr.Stop("a")

	if !slices.Contains(ids, "d") {
		t.Errorf("Stop should see the new child: %v", ids)
	}
	if len(tr.IDs()) != 0 {
		t.Errorf("ids = %v, want empty", tr.IDs())
	}
}

func TestStopWithoutStartIsHarmless(t *testing.T) {
	tr := newTracker(fixedTree())
	tr.Stop("a")
	if len(tr.IDs()) != 0 {
		t.Errorf("ids = %v", tr.IDs())
	}
	tr.Start("c")
	if !tr.IsSyncing("c") {
		t.Error("c should be syncing")
	}
}

func TestOnChangeReceivesSnapshots(t *testing.T) {
	var (
		mu   sync.Mutex
		seen [][]string
	)
	m := fixedTree()
	tr := New(func(id string) []string { return notetree.SubtreeIDs(m, id) }, func(ids []string) {
		mu.Lock()
		seen = append(seen, ids)
		mu.Unlock()
	})

	tr.Start("b")
	tr.Stop("b")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("callbacks = %d, want 2", len(seen))
	}
	if !slices.Equal(seen[0], []string{"b", "b1"}) || len(seen[1]) != 0 {
		t.Errorf("snapshots = %v", seen)
	}
}

func TestForgetDropsHeldIDs(t *testing.T) {
	var last []string
	m := fixedTree()
	tr := New(func(id string) []string { return notetree.SubtreeIDs(m, id) }, func(ids []string) { last = ids })

	tr.Start("a")
	tr.Start("b")
	tr.Forget([]string{"b", "b1"})
	if tr.IsSyncing("b") || tr.IsSyncing("b1") {
		t.Error("forgotten ids should not be syncing")
	}
	if !slices.Equal(last, []string{"a", "c"}) {
		t.Errorf("onChange snapshot = %v", last)
	}

	delete(m, "b")
	delete(m, "b1")
	tr.Stop("a")
	if got := tr.IDs(); len(got) != 0 {
		t.Errorf("ids = %v, want empty", got)
	}
}

func TestIDsEmptyIsNotNil(t *testing.T) {
	tr := newTracker(fixedTree())
	if tr.IDs() == nil {
		t.Error("IDs should be an empty slice, not nil")
	}
	tr.Start("z")
	tr.Stop("z")
	if tr.IDs() == nil {
		t.Error("IDs should be an empty slice after the set drains")
	}
}
