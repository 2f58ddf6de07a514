// Package storage defines the remote document store the note tree is
// persisted to, with SQLite and file-system implementations.
package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/starford/notetree/internal/models"
)

// Provider is the document store contract the workspace depends on.
type Provider interface {
	// ReadAll returns every stored record keyed by id.
	ReadAll(ctx context.Context) (models.Map, error)
	// Create stores candidate under a new id and returns it. When candidate has
	// a parent, the new id is appended to the parent's child list in the same
	// batch; a missing parent fails the whole batch with apperr.ErrNotFound.
	Create(ctx context.Context, candidate models.NoteRecord) (models.NoteRecord, error)
	// DeleteMany removes every id as one batch. Unknown ids are ignored.
	DeleteMany(ctx context.Context, ids []string) error
	// Update applies patch to a single record; apperr.ErrNotFound when absent.
	Update(ctx context.Context, id string, patch models.NotePatch) error
	// Close releases the store.
	Close() error
}

// IDFunc assigns ids to new records.
type IDFunc func() string

// NewID produces time-ordered UUIDv7 ids, so sorting by id is creation order.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverFS     = "fs"
)

// Open builds the Provider selected by driver. For the fs driver path is the
// vault directory and is created when missing; for sqlite it is the database
// file.
func Open(driver, path string, newID IDFunc) (Provider, error) {
	switch driver {
	case DriverSQLite:
		return OpenSQLite(path, newID)
	case DriverFS:
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create vault: %w", err)
		}
		return NewFS(path, newID)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
