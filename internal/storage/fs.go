package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/starford/notetree/internal/apperr"
	"github.com/starford/notetree/internal/models"
	"github.com/starford/notetree/internal/parser"
)

const (
	lockFile     = ".notetree.lock"
	tmpPattern   = ".notetree-tmp-*"
	noteExt      = ".md"
	lockRetry    = 25 * time.Millisecond
	selfWriteTTL = 2 * time.Second
	stagedPrefix = ".notetree-del-"
)

// frontmatter is the YAML header of every note file. The body after it is
// the note's raw markdown, byte for byte.
type frontmatter struct {
	Name     string   `yaml:"name"`
	Parent   string   `yaml:"parent,omitempty"`
	Children []string `yaml:"children"`
}

// FS implements Provider over a directory of <id>.md files. Batches are
// serialised with an advisory lock file so several processes can share one
// vault.
type FS struct {
	root  string // absolute path to vault directory
	newID IDFunc

	recentMu sync.Mutex
	recent   map[string]time.Time // abs path -> last write by this process
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string, newID IDFunc) (*FS, error) {
	if newID == nil {
		newID = NewID
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs, newID: newID, recent: map[string]time.Time{}}, nil
}

// Root returns the vault directory.
func (f *FS) Root() string { return f.root }

// Close is a no-op; locks are only held for the duration of a batch.
func (f *FS) Close() error { return nil }

// ReadAll parses every note file in the vault root. A file without a header
// is read as a root note named after its first heading.
func (f *FS) ReadAll(ctx context.Context) (models.Map, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	out := models.Map{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, ok := idFromFile(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		rec, err := f.read(id)
		if err != nil {
			return nil, err
		}
		out[id] = rec
	}
	return out, nil
}

// Create writes the new note and, under the same lock, appends it to its
// parent. If the parent cannot be updated the new file is removed again.
func (f *FS) Create(ctx context.Context, candidate models.NoteRecord) (models.NoteRecord, error) {
	rec := candidate.Clone()
	rec.ID = f.newID()
	rec.ChildIDs = []string{}

	err := f.withLock(ctx, func() error {
		var parent models.NoteRecord
		if !rec.IsRoot() {
			p, err := f.read(rec.ParentID)
			if err != nil {
				return err
			}
			parent = p
		}
		if err := f.write(rec); err != nil {
			return err
		}
		if rec.IsRoot() {
			return nil
		}
		if !slices.Contains(parent.ChildIDs, rec.ID) {
			parent.ChildIDs = append(parent.ChildIDs, rec.ID)
		}
		if err := f.write(parent); err != nil {
			if rmErr := os.Remove(f.path(rec.ID)); rmErr != nil && !os.IsNotExist(rmErr) {
				return errors.Join(err, fmt.Errorf("storage: roll back %s: %w", rec.ID, rmErr))
			}
			return err
		}
		return nil
	})
	if err != nil {
		return models.NoteRecord{}, err
	}
	return rec, nil
}

// DeleteMany moves every file aside first and only removes them once all
// moves succeeded; a failed move puts the already staged files back.
func (f *FS) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if err := validID(id); err != nil {
			return err
		}
	}
	return f.withLock(ctx, func() error {
		type staged struct{ from, to string }
		var moved []staged
		for _, id := range ids {
			from := f.path(id)
			to := filepath.Join(f.root, stagedPrefix+id)
			if err := os.Rename(from, to); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				for _, m := range moved {
					_ = os.Rename(m.to, m.from)
				}
				return fmt.Errorf("storage: delete %s: %w", id, err)
			}
			f.markWritten(from)
			moved = append(moved, staged{from: from, to: to})
		}
		for _, m := range moved {
			_ = os.Remove(m.to)
		}
		return nil
	})
}

// Update rewrites a single note with patch applied.
func (f *FS) Update(ctx context.Context, id string, patch models.NotePatch) error {
	return f.withLock(ctx, func() error {
		rec, err := f.read(id)
		if err != nil {
			return err
		}
		return f.write(patch.Apply(rec))
	})
}

// withLock runs fn while holding the vault lock file. A fresh flock per call
// gives each batch its own descriptor, so goroutines of one process exclude
// each other as well.
func (f *FS) withLock(ctx context.Context, fn func() error) error {
	lk := flock.New(filepath.Join(f.root, lockFile))
	locked, err := lk.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("storage: lock vault: %w", err)
	}
	if !locked {
		return fmt.Errorf("storage: lock vault: not acquired")
	}
	defer lk.Unlock() //nolint:errcheck
	return fn()
}

func (f *FS) read(id string) (models.NoteRecord, error) {
	if err := validID(id); err != nil {
		return models.NoteRecord{}, err
	}
	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return models.NoteRecord{}, fmt.Errorf("storage: note %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.NoteRecord{}, fmt.Errorf("storage: read %s: %w", id, err)
	}

	var meta frontmatter
	body, ok, err := parser.SplitFrontmatter(data, &meta)
	if err != nil {
		return models.NoteRecord{}, fmt.Errorf("storage: note %s: %w", id, err)
	}
	if !ok {
		meta.Name = parser.DeriveName(body)
	}
	rec := models.NoteRecord{
		ID:       id,
		Name:     meta.Name,
		Raw:      body,
		ParentID: meta.Parent,
		ChildIDs: meta.Children,
	}
	return rec.Clone(), nil
}

// write atomically replaces the note file: tmp file, fsync, rename.
func (f *FS) write(rec models.NoteRecord) error {
	if err := validID(rec.ID); err != nil {
		return err
	}
	content, err := parser.ComposeFrontmatter(frontmatter{
		Name:     rec.Name,
		Parent:   rec.ParentID,
		Children: rec.Clone().ChildIDs,
	}, rec.Raw)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", rec.ID, err)
	}

	abs := f.path(rec.ID)
	tmp, err := os.CreateTemp(f.root, tmpPattern)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	f.markWritten(abs)
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

func (f *FS) path(id string) string {
	return filepath.Join(f.root, id+noteExt)
}

func (f *FS) markWritten(abs string) {
	f.recentMu.Lock()
	f.recent[abs] = time.Now()
	f.recentMu.Unlock()
}

// wroteRecently reports whether abs was touched by this process within the
// last selfWriteTTL, pruning expired entries as it goes.
func (f *FS) wroteRecently(abs string) bool {
	f.recentMu.Lock()
	defer f.recentMu.Unlock()
	now := time.Now()
	for p, at := range f.recent {
		if now.Sub(at) > selfWriteTTL {
			delete(f.recent, p)
		}
	}
	_, ok := f.recent[abs]
	return ok
}

// validID rejects ids that would leave the vault root or hide the file.
func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("storage: invalid note id %q", id)
	}
	return nil
}

func idFromFile(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, noteExt) {
		return "", false
	}
	id := strings.TrimSuffix(name, noteExt)
	return id, id != ""
}
