package api

import (
	"github.com/starford/notetree/internal/models"
	"github.com/starford/notetree/internal/workspace"
)

// CreateNoteRequest is the request body for adding a note. An empty parentId
// adds a root; an empty raw uses the default "# Untitled" text.
type CreateNoteRequest struct {
	ParentID string `json:"parentId" example:"0192f4a0-7c1e-7b3a-9d2f-1a2b3c4d5e6f"`
	Raw      string `json:"raw" example:"# Groceries\n- milk"`
}

// UpdateNoteRequest is the request body for editing the active note.
type UpdateNoteRequest struct {
	Raw string `json:"raw" example:"# Groceries\n- milk\n- eggs" validate:"required"`
}

// NoteRecord is the stored note shape (aliased from the domain layer).
type NoteRecord = models.NoteRecord

// DerivedNote is one node of the derived forest (aliased from the domain layer).
type DerivedNote = models.DerivedNote

// NoteDetail is a record plus the session flags clients render next to it.
type NoteDetail struct {
	models.NoteRecord
	Checksum string `json:"checksum" example:"9f86d081884c7d65..." validate:"required"`
	Syncing  bool   `json:"syncing"`
	Active   bool   `json:"active"`
}

// NoteListResponse wraps flat note listings.
type NoteListResponse struct {
	Notes []NoteRecord `json:"notes" validate:"required"`
	Total int          `json:"total" example:"42" validate:"required"`
}

// TreeResponse wraps the derived forest.
type TreeResponse struct {
	Roots []DerivedNote `json:"roots" validate:"required"`
}

// DeleteResponse lists every id removed by a cascading delete.
type DeleteResponse struct {
	Deleted []string `json:"deleted" validate:"required"`
}

// PreviewResponse carries the sanitised HTML of a note.
type PreviewResponse struct {
	ID   string `json:"id" validate:"required"`
	HTML string `json:"html" validate:"required"`
}

// StateResponse is the session state (aliased from the workspace).
type StateResponse = workspace.Status
