package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/notetree/internal/models"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir(), seqIDs())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestFSFileFormat(t *testing.T) {
	s := tempVault(t)
	ctx := context.Background()
	root, _ := s.Create(ctx, models.NoteRecord{Name: "Root", Raw: "# Root\ntext\n"})
	if _, err := s.Create(ctx, models.NoteRecord{Name: "Kid", Raw: "# Kid\n", ParentID: root.ID}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.Root(), root.ID+".md"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	got := string(data)
	if !strings.HasPrefix(got, "---\nname: Root\n") {
		t.Errorf("header = %q", got)
	}
	if !strings.Contains(got, "children:\n    - n002\n") {
		t.Errorf("children not recorded: %q", got)
	}
	if !strings.HasSuffix(got, "---\n# Root\ntext\n") {
		t.Errorf("body not kept verbatim: %q", got)
	}
}

func TestFSReadsPlainMarkdownAsRoot(t *testing.T) {
	s := tempVault(t)
	if err := os.WriteFile(filepath.Join(s.Root(), "loose.md"), []byte("# Loose note\nhello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Root(), "readme.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	all, err := s.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	r, ok := all["loose"]
	if !ok || len(all) != 1 {
		t.Fatalf("all = %v", all)
	}
	if r.Name != "Loose note" || !r.IsRoot() || r.Raw != "# Loose note\nhello\n" {
		t.Errorf("record = %+v", r)
	}
}

func TestFSRejectsEscapingIDs(t *testing.T) {
	s := tempVault(t)
	name := "x"
	for _, id := range []string{"../etc/passwd", "a/b", ".hidden", ""} {
		if err := s.Update(context.Background(), id, models.NotePatch{Name: &name}); err == nil {
			t.Errorf("Update(%q) should fail", id)
		}
	}
}

func TestFSLeavesNoTempFiles(t *testing.T) {
	s := tempVault(t)
	ctx := context.Background()
	r, _ := s.Create(ctx, models.NoteRecord{Name: "A"})
	_ = s.DeleteMany(ctx, []string{r.ID})

	entries, _ := os.ReadDir(s.Root())
	for _, e := range entries {
		if e.Name() != lockFile {
			t.Errorf("unexpected leftover %s", e.Name())
		}
	}
}

func TestFSWatchReportsExternalEditsOnly(t *testing.T) {
	s := tempVault(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Watch(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), 20*time.Millisecond, func() {
			calls.Add(1)
		})
	}()
	time.Sleep(50 * time.Millisecond)

	if _, err := s.Create(ctx, models.NoteRecord{Name: "mine"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Fatalf("own write reported %d times", n)
	}

	if err := os.WriteFile(filepath.Join(s.Root(), "external.md"), []byte("# Ext\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Error("external edit not reported")
	}

	cancel()
	<-done
}
