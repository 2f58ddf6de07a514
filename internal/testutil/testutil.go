// Package testutil provides shared test helpers for stores and workspaces.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/notetree/internal/autosave"
	"github.com/starford/notetree/internal/storage"
	"github.com/starford/notetree/internal/workspace"
)

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestDB opens a SQLite store in a temporary directory that is closed and
// removed when the test ends.
func TestDB(t *testing.T) *storage.SQLite {
	t.Helper()
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "notetree-test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a file-backed store.
func TestVault(t *testing.T) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

type idleTicker struct{}

func (idleTicker) Chan() <-chan time.Time { return nil }
func (idleTicker) Stop()                  {}

// TestWorkspace loads a workspace over store whose auto-save countdown never
// fires, so tests control every save explicitly.
func TestWorkspace(t *testing.T, store storage.Provider, notifier workspace.Notifier) *workspace.Workspace {
	t.Helper()
	ws := workspace.New(store, workspace.Options{
		AutoSave: autosave.Options{
			NewTicker: func(time.Duration) autosave.Ticker { return idleTicker{} },
		},
		Notifier: notifier,
		Logger:   QuietLogger(),
	})
	t.Cleanup(ws.Close)
	if err := ws.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return ws
}
