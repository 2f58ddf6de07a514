package autosave

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/starford/notetree/internal/apperr"
)

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) Chan() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type harness struct {
	t       *testing.T
	c       *Controller
	events  chan Event
	mu      sync.Mutex
	tickers []*fakeTicker
}

func newHarness(t *testing.T, delay int, save SaveFunc) *harness {
	t.Helper()
	h := &harness{t: t, events: make(chan Event, 128)}
	h.c = New(save, Options{
		Delay:  delay,
		WarnAt: 2,
		NewTicker: func(time.Duration) Ticker {
			ft := &fakeTicker{ch: make(chan time.Time)}
			h.mu.Lock()
			h.tickers = append(h.tickers, ft)
			h.mu.Unlock()
			return ft
		},
		OnEvent: func(ev Event) { h.events <- ev },
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(h.c.Close)
	return h
}

func (h *harness) latest() *fakeTicker {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.tickers) == 0 {
		h.t.Fatal("no ticker started")
	}
	return h.tickers[len(h.tickers)-1]
}

// fire delivers one tick and waits for the event it produces.
func (h *harness) fire() Event {
	h.t.Helper()
	select {
	case h.latest().ch <- time.Now():
	case <-time.After(time.Second):
		h.t.Fatal("ticker loop not receiving")
	}
	return h.next()
}

func (h *harness) next() Event {
	h.t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(time.Second):
		h.t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func okSave(context.Context) error { return nil }

func TestTouchMarksDirtyAndResetsCountdown(t *testing.T) {
	h := newHarness(t, 60, okSave)
	if h.c.Dirty() {
		t.Fatal("new controller should be clean")
	}
	if err := h.c.CheckNeedSave(); err != nil {
		t.Fatalf("CheckNeedSave on clean = %v", err)
	}

	h.c.Touch()
	if !h.c.Dirty() {
		t.Error("dirty should be true after edit")
	}
	if got := h.c.Remaining(); got != 60 {
		t.Errorf("remaining = %d, want 60", got)
	}
	if !errors.Is(h.c.CheckNeedSave(), apperr.ErrUnsavedChanges) {
		t.Error("CheckNeedSave should report unsaved changes")
	}

	h.fire()
	if got := h.c.Remaining(); got != 59 {
		t.Errorf("remaining after tick = %d, want 59", got)
	}

	h.c.Touch()
	if got := h.c.Remaining(); got != 60 {
		t.Errorf("remaining after second edit = %d, want 60", got)
	}
	if !h.tickers[0].isStopped() {
		t.Error("first ticker should be stopped when the countdown restarts")
	}
}

func TestCountdownWarnsThenAutoSaves(t *testing.T) {
	var saves int
	h := newHarness(t, 4, func(context.Context) error {
		saves++
		return nil
	})
	h.c.Touch()

	ev := h.fire()
	if ev.Kind != EventTick || ev.Remaining != 3 || ev.Warning {
		t.Errorf("tick 1 = %+v", ev)
	}
	ev = h.fire()
	if ev.Kind != EventTick || ev.Remaining != 2 || !ev.Warning {
		t.Errorf("tick 2 = %+v, want warning", ev)
	}
	if !h.c.Status().Warning {
		t.Error("status should carry the warning")
	}
	ev = h.fire()
	if ev.Remaining != 1 || !ev.Warning {
		t.Errorf("tick 3 = %+v", ev)
	}

	ev = h.fire()
	if ev.Kind != EventSaved || !ev.Auto {
		t.Fatalf("expiry event = %+v, want auto save", ev)
	}
	if saves != 1 {
		t.Errorf("saves = %d, want 1", saves)
	}
	if h.c.Dirty() {
		t.Error("dirty should clear after a successful auto-save")
	}
	st := h.c.Status()
	if st.Running || st.Remaining != 4 {
		t.Errorf("status after auto-save = %+v", st)
	}
	if !h.latest().isStopped() {
		t.Error("ticker should be stopped")
	}
}

func TestAutoSaveFailureKeepsDirty(t *testing.T) {
	boom := errors.New("store unavailable")
	h := newHarness(t, 1, func(context.Context) error { return boom })
	h.c.Touch()

	ev := h.fire()
	if ev.Kind != EventSaveFailed || !errors.Is(ev.Err, boom) || !ev.Auto {
		t.Fatalf("event = %+v", ev)
	}
	if !h.c.Dirty() {
		t.Error("failed save must not clear dirty")
	}
	st := h.c.Status()
	if st.Running {
		t.Error("ticker should stay stopped after a failed auto-save")
	}
	if st.Remaining != 1 {
		t.Errorf("remaining = %d, want reset to 1", st.Remaining)
	}
}

func TestManualSave(t *testing.T) {
	h := newHarness(t, 60, okSave)
	h.c.Touch()
	h.fire()

	if err := h.c.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ev := h.next(); ev.Kind != EventSaved || ev.Auto {
		t.Errorf("event = %+v", ev)
	}
	if h.c.Dirty() {
		t.Error("dirty should be false after save")
	}
	if got := h.c.Remaining(); got != 60 {
		t.Errorf("remaining = %d, want 60", got)
	}
	if !h.latest().isStopped() || h.c.Status().Running {
		t.Error("ticker should be stopped after save")
	}
}

func TestManualSaveFailureThenSuccess(t *testing.T) {
	fail := true
	h := newHarness(t, 60, func(context.Context) error {
		if fail {
			return errors.New("network down")
		}
		return nil
	})
	h.c.Touch()

	if err := h.c.Save(context.Background()); err == nil {
		t.Fatal("expected save error")
	}
	if ev := h.next(); ev.Kind != EventSaveFailed {
		t.Errorf("event = %+v", ev)
	}
	if !h.c.Dirty() {
		t.Fatal("dirty must survive a failed save")
	}
	if !h.c.Status().Running {
		t.Error("countdown should keep running after a failed manual save")
	}

	fail = false
	if err := h.c.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	h.next()
	if h.c.Dirty() {
		t.Error("dirty should clear after the successful retry")
	}
}

func TestEditDuringSaveKeepsDirty(t *testing.T) {
	var h *harness
	h = newHarness(t, 60, func(context.Context) error {
		h.c.Touch()
		return nil
	})
	h.c.Touch()

	if err := h.c.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	h.next()
	if !h.c.Dirty() {
		t.Error("an edit made while saving must stay unsaved")
	}
	if !h.c.Status().Running {
		t.Error("countdown for the new edit should keep running")
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t, 60, okSave)
	h.c.Touch()
	h.fire()
	h.c.Reset()

	st := h.c.Status()
	if st.Dirty || st.Running || st.Remaining != 60 {
		t.Errorf("status after reset = %+v", st)
	}
}
