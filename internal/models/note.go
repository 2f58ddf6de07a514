// Package models defines the domain types for notetree.
package models

import "slices"

// NoteRecord is the persisted unit of content. An empty ParentID marks a root.
type NoteRecord struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Raw      string   `json:"raw"`
	ChildIDs []string `json:"childIds"`
	ParentID string   `json:"parentId,omitempty"`
}

// IsRoot reports whether the record has no parent.
func (r NoteRecord) IsRoot() bool {
	return r.ParentID == ""
}

// Clone returns a copy that shares no slice storage with r.
func (r NoteRecord) Clone() NoteRecord {
	r.ChildIDs = slices.Clone(r.ChildIDs)
	if r.ChildIDs == nil {
		r.ChildIDs = []string{}
	}
	return r
}

// Map is an id-keyed snapshot of every record. Snapshots are treated as
// immutable once published; mutations build a new Map.
type Map map[string]NoteRecord

// NotePatch is a partial update. Nil fields are left unchanged.
type NotePatch struct {
	Name     *string   `json:"name,omitempty"`
	Raw      *string   `json:"raw,omitempty"`
	ChildIDs *[]string `json:"childIds,omitempty"`
	ParentID *string   `json:"parentId,omitempty"`
}

// Apply returns r with the patch applied.
func (p NotePatch) Apply(r NoteRecord) NoteRecord {
	r = r.Clone()
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Raw != nil {
		r.Raw = *p.Raw
	}
	if p.ChildIDs != nil {
		r.ChildIDs = slices.Clone(*p.ChildIDs)
		if r.ChildIDs == nil {
			r.ChildIDs = []string{}
		}
	}
	if p.ParentID != nil {
		r.ParentID = *p.ParentID
	}
	return r
}

// FullPatch builds a patch carrying every mutable field of r.
func FullPatch(r NoteRecord) NotePatch {
	children := slices.Clone(r.ChildIDs)
	if children == nil {
		children = []string{}
	}
	return NotePatch{
		Name:     &r.Name,
		Raw:      &r.Raw,
		ChildIDs: &children,
		ParentID: &r.ParentID,
	}
}

// ChildrenPatch builds a patch that only replaces the child list.
func ChildrenPatch(ids []string) NotePatch {
	children := slices.Clone(ids)
	if children == nil {
		children = []string{}
	}
	return NotePatch{ChildIDs: &children}
}

// DerivedNote is a read-only materialised view of a record and its subtree.
type DerivedNote struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Raw      string        `json:"raw"`
	Children []DerivedNote `json:"children"`
	Parent   *NoteRecord   `json:"parent,omitempty"`
}
