// Package workspace is the application session: it owns the note tree, the
// syncing set, the auto-save controller and the active note, and exposes the
// mutation entry points shared by the HTTP API and the MCP server.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/starford/notetree/internal/apperr"
	"github.com/starford/notetree/internal/autosave"
	"github.com/starford/notetree/internal/checksum"
	"github.com/starford/notetree/internal/models"
	"github.com/starford/notetree/internal/notetree"
	"github.com/starford/notetree/internal/parser"
	"github.com/starford/notetree/internal/storage"
	"github.com/starford/notetree/internal/synctrack"
)

// DefaultRaw is the content of a note created without initial text.
const DefaultRaw = "# Untitled\n"

// Note change kinds passed to Notifier.PublishNoteEvent.
const (
	NoteCreated = "created"
	NoteUpdated = "updated"
	NoteDeleted = "deleted"
)

// Event names passed to Notifier.Notify.
const (
	EventSyncChanged  = "sync.changed"
	EventTreeUpdated  = "tree.updated"
	EventAutoSaveTick = "autosave.tick"
	EventAutoSaved    = "autosave.saved"
	EventAutoSaveFail = "autosave.failed"
	EventStoreChanged = "store.changed"
	EventNotice       = "notice"
)

// Notifier receives everything the presentation layer may want to push to
// clients. The SSE broker implements it.
type Notifier interface {
	PublishNoteEvent(kind, id string)
	Notify(event string, data any)
}

type nopNotifier struct{}

func (nopNotifier) PublishNoteEvent(string, string) {}
func (nopNotifier) Notify(string, any)              {}

// Notice is a transient, user-facing notification.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Status is the session state shown next to the editor.
type Status struct {
	ActiveID  string   `json:"activeId"`
	Dirty     bool     `json:"dirty"`
	Remaining int      `json:"remaining"`
	Warning   bool     `json:"warning"`
	Running   bool     `json:"running"`
	Syncing   []string `json:"syncing"`
}

// Options configures a Workspace.
type Options struct {
	AutoSave autosave.Options
	Notifier Notifier
	Logger   *slog.Logger
}

// Workspace is safe for concurrent use. Store calls are made without holding
// any lock, so two operations on the same subtree may interleave; each local
// mutation is still applied atomically.
type Workspace struct {
	store    storage.Provider
	tree     *notetree.State
	syncing  *synctrack.Tracker
	autosave *autosave.Controller
	notifier Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	activeID string
}

// New builds an empty workspace over store. Call Load before serving.
func New(store storage.Provider, opts Options) *Workspace {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	w := &Workspace{
		store:    store,
		tree:     notetree.New(logger),
		notifier: notifier,
		logger:   logger,
	}
	w.syncing = synctrack.New(w.tree.SubtreeIDs, w.onSyncChange)

	as := opts.AutoSave
	as.OnEvent = w.onAutoSaveEvent
	as.Logger = logger
	w.autosave = autosave.New(w.persistActive, as)
	return w
}

// Close stops the auto-save ticker. Unsaved edits are not flushed.
func (w *Workspace) Close() {
	w.autosave.Close()
}

// Load replaces the in-memory tree with everything in the store.
func (w *Workspace) Load(ctx context.Context) error {
	m, err := w.store.ReadAll(ctx)
	if err != nil {
		return w.storeFailure("load notes", err)
	}
	w.tree.Replace(m)
	w.logger.Info("workspace: loaded", slog.Int("notes", len(m)))
	return nil
}

// Reload refetches the store. It is refused while the active note has unsaved
// edits; if the active note disappeared it is deselected.
func (w *Workspace) Reload(ctx context.Context) error {
	if err := w.autosave.CheckNeedSave(); err != nil {
		return err
	}
	if err := w.Load(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	if _, ok := w.tree.Get(w.activeID); w.activeID != "" && !ok {
		w.logger.Info("workspace: active note gone after reload", slog.String("id", w.activeID))
		w.activeID = ""
		w.autosave.Reset()
	}
	w.mu.Unlock()

	w.notifier.Notify(EventTreeUpdated, struct{}{})
	return nil
}

// AddNote creates a note at the root (empty parentID) or under parentID. raw
// defaults to DefaultRaw. The parent subtree is marked syncing while the
// store call runs.
func (w *Workspace) AddNote(ctx context.Context, parentID, raw string) (models.NoteRecord, error) {
	if err := w.autosave.CheckNeedSave(); err != nil {
		return models.NoteRecord{}, err
	}
	if parentID != "" {
		if _, ok := w.tree.Get(parentID); !ok {
			return models.NoteRecord{}, fmt.Errorf("parent %s: %w", parentID, apperr.ErrNotFound)
		}
	}
	if raw == "" {
		raw = DefaultRaw
	}
	candidate := models.NoteRecord{
		Name:     parser.DeriveName(raw),
		Raw:      raw,
		ChildIDs: []string{},
		ParentID: parentID,
	}

	if parentID != "" {
		w.syncing.Start(parentID)
	}
	rec, err := w.store.Create(ctx, candidate)
	if parentID != "" {
		w.syncing.Stop(parentID)
	}
	if err != nil {
		return models.NoteRecord{}, w.storeFailure("create note", err)
	}

	w.tree.Add(rec)
	w.logger.Info("workspace: note created",
		slog.String("id", rec.ID),
		slog.String("parent", parentID))
	w.notifier.PublishNoteEvent(NoteCreated, rec.ID)
	return rec, nil
}

// DeleteNote removes id and its whole subtree from the store, then from the
// tree, then persists the unlink from the former parent as a separate update.
// Deleting a subtree that holds the active note requires it to be saved first;
// the active note is deselected afterwards. It returns the removed ids.
func (w *Workspace) DeleteNote(ctx context.Context, id string) ([]string, error) {
	if _, ok := w.tree.Get(id); !ok {
		return nil, fmt.Errorf("note %s: %w", id, apperr.ErrNotFound)
	}
	active := w.ActiveID()
	holdsActive := active != "" && slices.Contains(w.tree.SubtreeIDs(id), active)
	if holdsActive {
		if err := w.autosave.CheckNeedSave(); err != nil {
			return nil, err
		}
	}

	ids := w.syncing.Start(id)
	err := w.store.DeleteMany(ctx, ids)
	w.syncing.Stop(id)
	if err != nil {
		return nil, w.storeFailure("delete notes", err)
	}

	parent, hasParent := w.tree.Remove(id, ids)
	w.syncing.Forget(ids)
	if hasParent {
		if err := w.store.Update(ctx, parent.ID, models.ChildrenPatch(parent.ChildIDs)); err != nil {
			// The subtree is gone; only the parent's child list is stale in the store.
			w.logger.Warn("workspace: unlink from parent failed",
				slog.String("id", id),
				slog.String("parent", parent.ID),
				slog.String("error", err.Error()))
			w.notice("warning", fmt.Sprintf("note deleted but parent %q was not updated: %v", parent.Name, err))
		}
	}

	if holdsActive {
		w.mu.Lock()
		if w.activeID == active {
			w.activeID = ""
		}
		w.mu.Unlock()
		w.autosave.Reset()
	}

	w.logger.Info("workspace: notes deleted", slog.String("id", id), slog.Int("count", len(ids)))
	for _, gone := range ids {
		w.notifier.PublishNoteEvent(NoteDeleted, gone)
	}
	return ids, nil
}

// EditNote replaces the raw text of the active note, re-derives its name and
// restarts the auto-save countdown. ifMatch, when set, must equal the
// checksum of the current raw text.
func (w *Workspace) EditNote(id, raw, ifMatch string) (models.NoteRecord, error) {
	rec, err := w.applyEdit(id, raw, ifMatch)
	if err != nil {
		return models.NoteRecord{}, err
	}
	w.notifier.PublishNoteEvent(NoteUpdated, id)
	return rec, nil
}

func (w *Workspace) applyEdit(id, raw, ifMatch string) (models.NoteRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.activeID == "" {
		return models.NoteRecord{}, apperr.ErrNoActiveNote
	}
	if id != w.activeID {
		return models.NoteRecord{}, fmt.Errorf("note %s: %w", id, apperr.ErrNotActive)
	}
	cur, ok := w.tree.Get(id)
	if !ok {
		return models.NoteRecord{}, fmt.Errorf("note %s: %w", id, apperr.ErrNotFound)
	}
	if !checksum.Matches(cur.Raw, ifMatch) {
		return models.NoteRecord{}, fmt.Errorf("note %s changed: %w", id, apperr.ErrConflict)
	}

	if err := w.tree.Update(id, parser.DeriveName(raw), raw); err != nil {
		return models.NoteRecord{}, err
	}
	w.autosave.Touch()
	rec, _ := w.tree.Get(id)
	return rec, nil
}

// SelectNote makes id the active note. Switching away from a note with
// unsaved edits is refused with apperr.ErrUnsavedChanges.
func (w *Workspace) SelectNote(id string) (models.NoteRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.tree.Get(id)
	if !ok {
		return models.NoteRecord{}, fmt.Errorf("note %s: %w", id, apperr.ErrNotFound)
	}
	if id == w.activeID {
		return rec, nil
	}
	if err := w.autosave.CheckNeedSave(); err != nil {
		return models.NoteRecord{}, err
	}
	w.activeID = id
	w.logger.Debug("workspace: note selected", slog.String("id", id))
	return rec, nil
}

// SaveActiveNote writes the active note to the store immediately.
func (w *Workspace) SaveActiveNote(ctx context.Context) error {
	if w.ActiveID() == "" {
		return apperr.ErrNoActiveNote
	}
	return w.autosave.Save(ctx)
}

// persistActive is the auto-save controller's save function. The whole
// subtree of the active note is marked syncing, although only the one record
// is written.
func (w *Workspace) persistActive(ctx context.Context) error {
	id := w.ActiveID()
	if id == "" {
		return apperr.ErrNoActiveNote
	}
	rec, ok := w.tree.Get(id)
	if !ok {
		return fmt.Errorf("note %s: %w", id, apperr.ErrNotFound)
	}

	w.syncing.Start(id)
	err := w.store.Update(ctx, id, models.FullPatch(rec))
	w.syncing.Stop(id)
	if err != nil {
		return w.storeFailure("save note", err)
	}
	w.logger.Info("workspace: note saved", slog.String("id", id))
	return nil
}

// ExternalChange is called when the store reports edits made elsewhere. A
// clean session reloads right away; otherwise clients are told and the
// reload waits for an explicit request.
func (w *Workspace) ExternalChange(ctx context.Context) {
	w.notifier.Notify(EventStoreChanged, struct{}{})
	err := w.Reload(ctx)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrUnsavedChanges):
		w.notice("info", "notes changed on disk; save to pick up the changes")
	default:
		w.logger.Warn("workspace: reload after external change failed", slog.String("error", err.Error()))
	}
}

// ActiveID returns the active note id, or "" when none is selected.
func (w *Workspace) ActiveID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeID
}

// Get returns the record for id from the in-memory tree.
func (w *Workspace) Get(id string) (models.NoteRecord, bool) { return w.tree.Get(id) }

// Forest returns the derived tree of notes, roots ordered by id.
func (w *Workspace) Forest() []models.DerivedNote { return w.tree.Forest() }

// Records returns every record in the tree.
func (w *Workspace) Records() []models.NoteRecord { return w.tree.Records() }

// IsSyncing reports whether id has a store call in flight.
func (w *Workspace) IsSyncing(id string) bool { return w.syncing.IsSyncing(id) }

// Search returns notes whose name contains query.
func (w *Workspace) Search(query string) []models.NoteRecord {
	return w.tree.Search(query)
}

// Status reports the active note together with the save and sync state.
func (w *Workspace) Status() Status {
	as := w.autosave.Status()
	return Status{
		ActiveID:  w.ActiveID(),
		Dirty:     as.Dirty,
		Remaining: as.Remaining,
		Warning:   as.Warning,
		Running:   as.Running,
		Syncing:   w.syncing.IDs(),
	}
}

func (w *Workspace) storeFailure(op string, err error) error {
	w.logger.Error("workspace: "+op+" failed", slog.String("error", err.Error()))
	w.notice("error", fmt.Sprintf("%s failed: %v", op, err))
	return fmt.Errorf("%w: %s: %w", apperr.ErrStore, op, err)
}

func (w *Workspace) notice(level, msg string) {
	w.notifier.Notify(EventNotice, Notice{Level: level, Message: msg})
}

func (w *Workspace) onSyncChange(ids []string) {
	w.notifier.Notify(EventSyncChanged, map[string][]string{"ids": ids})
}

func (w *Workspace) onAutoSaveEvent(ev autosave.Event) {
	switch ev.Kind {
	case autosave.EventTick:
		w.notifier.Notify(EventAutoSaveTick, map[string]any{
			"remaining": ev.Remaining,
			"warning":   ev.Warning,
		})
	case autosave.EventSaved:
		w.notifier.Notify(EventAutoSaved, map[string]any{"auto": ev.Auto})
	case autosave.EventSaveFailed:
		w.notifier.Notify(EventAutoSaveFail, map[string]any{
			"auto":  ev.Auto,
			"error": ev.Err.Error(),
		})
	}
}
