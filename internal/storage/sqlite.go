package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/notetree/internal/apperr"
	"github.com/starford/notetree/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	raw        TEXT NOT NULL DEFAULT '',
	child_ids  TEXT NOT NULL DEFAULT '[]',
	parent_id  TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notes_parent ON notes(parent_id);
`

// SQLite implements Provider on a single SQLite database file. Every batch is
// one transaction.
type SQLite struct {
	conn  *sql.DB
	newID IDFunc
}

// OpenSQLite opens (or creates) the database at dsn and applies the schema.
// Use ":memory:" for a throwaway store.
func OpenSQLite(dsn string, newID IDFunc) (*SQLite, error) {
	if newID == nil {
		newID = NewID
	}
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("storage: open db: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	if dsn == ":memory:" {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLite{conn: conn, newID: newID}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// ReadAll loads every row.
func (s *SQLite) ReadAll(ctx context.Context) (models.Map, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, name, raw, child_ids, parent_id FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("storage: read all: %w", err)
	}
	defer rows.Close()

	out := models.Map{}
	for rows.Next() {
		var (
			r        models.NoteRecord
			children string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Raw, &children, &r.ParentID); err != nil {
			return nil, fmt.Errorf("storage: scan note: %w", err)
		}
		if r.ChildIDs, err = decodeChildren(children); err != nil {
			return nil, fmt.Errorf("storage: note %s: %w", r.ID, err)
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

// Create inserts the record and links it under its parent in one transaction.
func (s *SQLite) Create(ctx context.Context, candidate models.NoteRecord) (models.NoteRecord, error) {
	rec := candidate.Clone()
	rec.ID = s.newID()
	rec.ChildIDs = []string{}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.NoteRecord{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO notes (id, name, raw, child_ids, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, '[]', ?, ?, ?)
	`, rec.ID, rec.Name, rec.Raw, rec.ParentID, now, now)
	if err != nil {
		return models.NoteRecord{}, fmt.Errorf("storage: insert note: %w", err)
	}

	if !rec.IsRoot() {
		var children string
		err := tx.QueryRowContext(ctx, `SELECT child_ids FROM notes WHERE id = ?`, rec.ParentID).Scan(&children)
		if errors.Is(err, sql.ErrNoRows) {
			return models.NoteRecord{}, fmt.Errorf("storage: parent %s: %w", rec.ParentID, apperr.ErrNotFound)
		}
		if err != nil {
			return models.NoteRecord{}, fmt.Errorf("storage: read parent: %w", err)
		}
		ids, err := decodeChildren(children)
		if err != nil {
			return models.NoteRecord{}, fmt.Errorf("storage: parent %s: %w", rec.ParentID, err)
		}
		if !slices.Contains(ids, rec.ID) {
			ids = append(ids, rec.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE notes SET child_ids = ?, updated_at = ? WHERE id = ?`,
			encodeChildren(ids), now, rec.ParentID,
		); err != nil {
			return models.NoteRecord{}, fmt.Errorf("storage: link parent: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.NoteRecord{}, fmt.Errorf("storage: commit: %w", err)
	}
	return rec, nil
}

// DeleteMany removes all ids in one transaction.
func (s *SQLite) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM notes WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("storage: prepare delete: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("storage: delete %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// Update writes the fields set in patch.
func (s *SQLite) Update(ctx context.Context, id string, patch models.NotePatch) error {
	var (
		sets []string
		args []any
	)
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Raw != nil {
		sets = append(sets, "raw = ?")
		args = append(args, *patch.Raw)
	}
	if patch.ChildIDs != nil {
		sets = append(sets, "child_ids = ?")
		args = append(args, encodeChildren(*patch.ChildIDs))
	}
	if patch.ParentID != nil {
		sets = append(sets, "parent_id = ?")
		args = append(args, *patch.ParentID)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.conn.ExecContext(ctx,
		`UPDATE notes SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("storage: update %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("storage: update %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func encodeChildren(ids []string) string {
	if ids == nil {
		ids = []string{}
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func decodeChildren(s string) ([]string, error) {
	ids := []string{}
	if s == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("decode child ids: %w", err)
	}
	return ids, nil
}
