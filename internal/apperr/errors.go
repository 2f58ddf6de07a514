// Package apperr holds the sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrUnsavedChanges = errors.New("unsaved changes")
	ErrNoActiveNote   = errors.New("no active note")
	ErrNotActive      = errors.New("note is not the active note")

	// ErrStore marks a failed call to the document store.
	ErrStore = errors.New("store failure")
)
