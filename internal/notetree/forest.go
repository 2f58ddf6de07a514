package notetree

import (
	"cmp"
	"slices"
	"sort"

	"github.com/starford/notetree/internal/models"
)

// SubtreeIDs collects id and every descendant reachable through ChildIDs in
// pre-order. id is always first, even when it does not resolve. Child ids that
// do not resolve are still collected (they have no children of their own).
// Each id appears once, so a cyclic child list cannot loop forever.
func SubtreeIDs(m models.Map, id string) []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(string)
	walk = func(cur string) {
		if _, dup := seen[cur]; dup {
			return
		}
		seen[cur] = struct{}{}
		out = append(out, cur)
		rec, ok := m[cur]
		if !ok {
			return
		}
		for _, cid := range rec.ChildIDs {
			walk(cid)
		}
	}
	walk(id)
	return out
}

// RootIDs returns the ids of every record without a parent, ordered by id.
func RootIDs(m models.Map) []string {
	var roots []string
	for id, rec := range m {
		if rec.IsRoot() {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// DeriveForest materialises the forest held in m. Roots are ordered by id;
// children keep ChildIDs order. Child ids that do not resolve are skipped, as
// are ids already on the current branch. The result shares no slices with m.
func DeriveForest(m models.Map) []models.DerivedNote {
	roots := RootIDs(m)
	out := make([]models.DerivedNote, 0, len(roots))
	for _, id := range roots {
		out = append(out, derive(m, m[id], map[string]struct{}{}))
	}
	return out
}

func derive(m models.Map, rec models.NoteRecord, branch map[string]struct{}) models.DerivedNote {
	branch[rec.ID] = struct{}{}
	defer delete(branch, rec.ID)

	n := models.DerivedNote{
		ID:       rec.ID,
		Name:     rec.Name,
		Raw:      rec.Raw,
		Children: make([]models.DerivedNote, 0, len(rec.ChildIDs)),
	}
	if !rec.IsRoot() {
		if parent, ok := m[rec.ParentID]; ok {
			p := parent.Clone()
			n.Parent = &p
		}
	}
	for _, cid := range rec.ChildIDs {
		if _, onBranch := branch[cid]; onBranch {
			continue
		}
		child, ok := m[cid]
		if !ok {
			continue
		}
		n.Children = append(n.Children, derive(m, child, branch))
	}
	return n
}

// DanglingKind names the side of a broken link.
type DanglingKind string

const (
	DanglingChild  DanglingKind = "child"
	DanglingParent DanglingKind = "parent"
)

// DanglingRef is a link that does not resolve to a record.
type DanglingRef struct {
	Kind   DanglingKind
	Owner  string // record holding the reference
	Target string // id that does not resolve
}

// Dangling lists every child id and parent id in m that does not resolve,
// ordered by owner then target.
func Dangling(m models.Map) []DanglingRef {
	var out []DanglingRef
	for id, rec := range m {
		for _, cid := range rec.ChildIDs {
			if _, ok := m[cid]; !ok {
				out = append(out, DanglingRef{Kind: DanglingChild, Owner: id, Target: cid})
			}
		}
		if !rec.IsRoot() {
			if _, ok := m[rec.ParentID]; !ok {
				out = append(out, DanglingRef{Kind: DanglingParent, Owner: id, Target: rec.ParentID})
			}
		}
	}
	slices.SortFunc(out, func(a, b DanglingRef) int {
		return cmp.Or(
			cmp.Compare(a.Owner, b.Owner),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Target, b.Target),
		)
	})
	return out
}
