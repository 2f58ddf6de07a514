// Package autosave tracks unsaved edits to the active note and drives the
// countdown that saves them after a period of inactivity.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/notetree/internal/apperr"
)

// Defaults match the countdown shown by the editor.
const (
	DefaultDelay  = 60
	DefaultWarnAt = 10
	DefaultTick   = time.Second
)

// EventKind identifies a controller event.
type EventKind string

const (
	EventTick       EventKind = "tick"
	EventSaved      EventKind = "saved"
	EventSaveFailed EventKind = "save_failed"
)

// Event is emitted to the presentation layer after every transition it can
// observe.
type Event struct {
	Kind      EventKind
	Remaining int
	Warning   bool
	Auto      bool
	Err       error
}

// SaveFunc persists the active note.
type SaveFunc func(ctx context.Context) error

// Ticker delivers ticks until stopped.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) Chan() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()                  { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Options configures a Controller. Zero values fall back to the defaults.
type Options struct {
	Delay     int
	WarnAt    int
	Tick      time.Duration
	NewTicker TickerFunc
	OnEvent   func(Event)
	Logger    *slog.Logger
}

// Status is a point-in-time view of the controller.
type Status struct {
	Dirty     bool `json:"dirty"`
	Remaining int  `json:"remaining"`
	Warning   bool `json:"warning"`
	Running   bool `json:"running"`
}

// Controller owns the dirty flag and the countdown ticker.
type Controller struct {
	opts Options
	save SaveFunc

	mu        sync.Mutex
	dirty     bool
	countdown int
	edits     uint64
	current   *run
}

type run struct {
	ticker Ticker
	done   chan struct{}
}

// New returns a clean Controller that calls save when the countdown expires or
// Save is invoked.
func New(save SaveFunc, opts Options) *Controller {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.WarnAt < 0 {
		opts.WarnAt = 0
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewRealTicker
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{opts: opts, save: save, countdown: opts.Delay}
}

// Touch records a content edit: the note becomes dirty and the countdown
// restarts from the full delay.
func (c *Controller) Touch() {
	c.mu.Lock()
	c.dirty = true
	c.edits++
	c.countdown = c.opts.Delay
	c.stopLocked()
	c.startLocked()
	c.mu.Unlock()
}

// Save persists immediately, independent of the countdown. On success the
// ticker stops, the countdown resets and the dirty flag clears, unless another
// edit arrived while the save was in flight. On failure nothing is cleared.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	edits := c.edits
	c.mu.Unlock()

	err := c.save(ctx)
	c.finish(edits, err, false)
	return err
}

// CheckNeedSave returns apperr.ErrUnsavedChanges while there are unsaved edits.
func (c *Controller) CheckNeedSave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirty {
		return apperr.ErrUnsavedChanges
	}
	return nil
}

// Dirty reports whether there are unsaved edits.
func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Remaining returns the seconds left on the countdown.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countdown
}

// Status returns the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	running := c.current != nil
	return Status{
		Dirty:     c.dirty,
		Remaining: c.countdown,
		Warning:   running && c.warningLocked(),
		Running:   running,
	}
}

// Reset returns to the clean state and stops the ticker. Used when the active
// note goes away.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.stopLocked()
	c.dirty = false
	c.edits++
	c.countdown = c.opts.Delay
	c.mu.Unlock()
}

// Close stops the ticker.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
}

func (c *Controller) warningLocked() bool {
	return c.countdown > 0 && c.countdown <= c.opts.WarnAt
}

func (c *Controller) startLocked() {
	r := &run{ticker: c.opts.NewTicker(c.opts.Tick), done: make(chan struct{})}
	c.current = r
	go c.loop(r)
}

func (c *Controller) stopLocked() {
	if c.current == nil {
		return
	}
	c.current.ticker.Stop()
	close(c.current.done)
	c.current = nil
}

func (c *Controller) loop(r *run) {
	for {
		select {
		case <-r.done:
			return
		case <-r.ticker.Chan():
			c.tick(r)
		}
	}
}

func (c *Controller) tick(r *run) {
	c.mu.Lock()
	if c.current != r {
		c.mu.Unlock()
		return
	}
	c.countdown--
	if c.countdown > 0 {
		ev := Event{Kind: EventTick, Remaining: c.countdown, Warning: c.warningLocked()}
		c.mu.Unlock()
		c.emit(ev)
		return
	}
	c.stopLocked()
	edits := c.edits
	c.mu.Unlock()

	c.opts.Logger.Debug("autosave: countdown expired, saving")
	err := c.save(context.Background())
	c.finish(edits, err, true)
}

func (c *Controller) finish(edits uint64, err error, auto bool) {
	c.mu.Lock()
	if err != nil {
		if auto {
			c.countdown = c.opts.Delay
		}
		ev := Event{Kind: EventSaveFailed, Remaining: c.countdown, Auto: auto, Err: err}
		c.mu.Unlock()
		c.opts.Logger.Warn("autosave: save failed",
			slog.Bool("auto", auto),
			slog.String("error", err.Error()))
		c.emit(ev)
		return
	}
	if c.edits == edits {
		c.stopLocked()
		c.dirty = false
		c.countdown = c.opts.Delay
	}
	ev := Event{Kind: EventSaved, Remaining: c.countdown, Auto: auto}
	c.mu.Unlock()
	c.emit(ev)
}

func (c *Controller) emit(ev Event) {
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(ev)
	}
}
