package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// drain collects messages until none arrives for quiet.
func drain(ch chan []byte, quiet time.Duration) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		case <-time.After(quiet):
			return out
		}
	}
}

func count(msgs []string, event string) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m, "event: "+event+"\n") {
			n++
		}
	}
	return n
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestNotifyDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Notify("autosave.tick", map[string]any{"remaining": 9, "warning": true})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.HasPrefix(s, "event: autosave.tick\n") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"remaining":9`) || !strings.Contains(s, `"warning":true`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishNoteEventThrottlesTreeUpdates(t *testing.T) {
	b := NewBroker(300 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishNoteEvent("created", "a")
	b.PublishNoteEvent("updated", "b")
	b.PublishNoteEvent("deleted", "c")

	early := drain(ch, 100*time.Millisecond)
	if got := count(early, "tree.updated"); got != 1 {
		t.Errorf("tree.updated inside window = %d, want 1", got)
	}
	for _, ev := range []string{"note.created", "note.updated", "note.deleted"} {
		if count(early, ev) != 1 {
			t.Errorf("%s missing from %q", ev, early)
		}
	}
	if !strings.Contains(early[0], `"id":"a"`) {
		t.Errorf("first message = %q", early[0])
	}

	// The changes made inside the window are flushed once it closes.
	late := drain(ch, 500*time.Millisecond)
	if got := count(late, "tree.updated"); got != 1 {
		t.Errorf("trailing tree.updated = %d, want 1", got)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Notify("notice", map[string]string{"level": "error", "message": "save failed"})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: notice") || !strings.Contains(body, "save failed") {
		t.Errorf("handler output missing event: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Buffer holds 64; the rest must be dropped without blocking.
	for i := 0; i < 70; i++ {
		b.Notify("sync.changed", map[string][]string{"ids": {"x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Notify("notice", nil)
	b.PublishNoteEvent("updated", "x")
}
