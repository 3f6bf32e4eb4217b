// Package autosave implements the debounced save loop behind the editors'
// Saved / Saving / Unsaved indicator.
//
// Every Edit marks the controller Unsaved and re-arms a debounce timer. When the
// timer fires the latest values are validated and, if valid, persisted: created
// on the first save and updated at the same key afterwards. At most one persist
// runs at a time; values that become due while one is running wait in a single
// slot, newest first, and are persisted as soon as the running call returns.
package autosave

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/debemdeboas/the-library/internal/metrics"
	"github.com/rs/zerolog"
)

type Status int

const (
	Saved Status = iota
	Saving
	Unsaved
)

func (s Status) String() string {
	switch s {
	case Saved:
		return "Saved"
	case Saving:
		return "Saving"
	case Unsaved:
		return "Unsaved"
	}
	return "Unknown"
}

var ErrClosed = errors.New("autosave: controller closed")

var saveLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	saveLogger = l
}

// Values are the tracked form fields.
type Values map[string]string

type Validator interface {
	Validate(Values) error
}

type ValidatorFunc func(Values) error

func (f ValidatorFunc) Validate(v Values) error { return f(v) }

type Persister interface {
	Create(ctx context.Context, v Values) (key string, err error)
	Update(ctx context.Context, key string, v Values) error
}

// Event is sent to the listener on every status change. Err is set when the
// change was caused by a failed validation (Invalid) or a failed persist.
type Event struct {
	Status  Status
	Key     string
	Err     error
	Invalid bool
}

type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

type Options struct {
	Debounce time.Duration
	// Key of an already persisted document; empty means the first save creates it.
	Key string
	// Initial values, used by Submit when nothing was edited.
	Values Values
	// Listener is called with the controller lock held and must not call back into it.
	Listener  func(Event)
	AfterFunc AfterFunc
	// Context used for debounced persists. Close does not cancel it.
	Context context.Context
}

type snapshot struct {
	values Values
	seq    uint64
}

type Controller struct {
	validator Validator
	persister Persister
	debounce  time.Duration
	afterFunc AfterFunc
	listener  func(Event)
	ctx       context.Context

	mu       sync.Mutex
	status   Status
	key      string
	values   Values
	seq      uint64 // bumped by every Edit
	timer    Timer
	timerGen uint64
	inFlight bool
	idle     chan struct{}
	pending  *snapshot
	closed   bool
}

func New(validator Validator, persister Persister, opts Options) *Controller {
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 1500 * time.Millisecond
	}

	return &Controller{
		validator: validator,
		persister: persister,
		debounce:  opts.Debounce,
		afterFunc: opts.AfterFunc,
		listener:  opts.Listener,
		ctx:       opts.Context,
		status:    Saved,
		key:       opts.Key,
		values:    maps.Clone(opts.Values),
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Key is empty until the first successful save and never changes afterwards.
func (c *Controller) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

func (c *Controller) Values() Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.values)
}

// Edit records new field values. The status is Unsaved when Edit returns.
func (c *Controller) Edit(v Values) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.values = maps.Clone(v)
	c.seq++
	c.setStatus(Unsaved, nil, false)

	c.stopTimer()
	gen := c.timerGen
	c.timer = c.afterFunc(c.debounce, func() { c.fire(gen) })
}

// stopTimer cancels the pending timer. Callers hold c.mu.
func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// A timer that already started running sees a stale generation and returns.
	c.timerGen++
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.timerGen {
		c.mu.Unlock()
		return
	}
	c.timer = nil

	snap := &snapshot{values: maps.Clone(c.values), seq: c.seq}
	if c.inFlight {
		c.pending = snap
		c.mu.Unlock()
		saveLogger.Debug().Uint64("seq", snap.seq).Msg("Persist in flight, queued values")
		return
	}
	c.beginFlight()
	c.mu.Unlock()

	c.run(c.ctx, snap)
}

// beginFlight marks a persist as running. Callers hold c.mu.
func (c *Controller) beginFlight() {
	c.inFlight = true
	c.idle = make(chan struct{})
}

// run persists snap and then whatever was queued behind it.
func (c *Controller) run(ctx context.Context, snap *snapshot) {
	for snap != nil {
		c.save(ctx, snap)

		c.mu.Lock()
		snap, c.pending = c.pending, nil
		if snap == nil || c.closed {
			snap = nil
			c.endFlight()
		}
		c.mu.Unlock()
	}
}

// endFlight releases the in-flight slot. Callers hold c.mu.
func (c *Controller) endFlight() {
	c.inFlight = false
	close(c.idle)
}

// save validates and persists one snapshot. The caller owns the in-flight slot.
func (c *Controller) save(ctx context.Context, snap *snapshot) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.setStatus(Saving, nil, false)
	key := c.key
	c.mu.Unlock()

	if err := c.validator.Validate(snap.values); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		metrics.AutosaveOutcomes.WithLabelValues("invalid").Inc()
		if !c.closed {
			c.setStatus(Unsaved, err, true)
		}
		return err
	}

	var err error
	created := ""
	if key == "" {
		created, err = c.persister.Create(ctx, snap.values)
	} else {
		err = c.persister.Update(ctx, key, snap.values)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		saveLogger.Debug().Err(err).Msg("Discarding persist result of closed controller")
		return ErrClosed
	}

	if err != nil {
		metrics.AutosaveOutcomes.WithLabelValues("failed").Inc()
		saveLogger.Warn().Err(err).Str("key", key).Msg("Autosave failed")
		c.setStatus(Unsaved, err, false)
		return err
	}

	metrics.AutosaveOutcomes.WithLabelValues("saved").Inc()
	if key == "" {
		c.key = created
	}
	if c.seq == snap.seq {
		c.setStatus(Saved, nil, false)
	} else {
		// Edited while saving; the newer values are still unsaved.
		c.setStatus(Unsaved, nil, false)
	}
	return nil
}

// setStatus updates the status and notifies the listener. Callers hold c.mu.
func (c *Controller) setStatus(s Status, err error, invalid bool) {
	c.status = s
	if c.listener != nil {
		c.listener(Event{Status: s, Key: c.key, Err: err, Invalid: invalid})
	}
}

// Submit saves the latest values now. The pending timer is cancelled and a
// running persist is waited for first. It returns the document key.
func (c *Controller) Submit(ctx context.Context) (string, error) {
	key, _, err := c.SubmitValues(ctx)
	return key, err
}

// SubmitValues is Submit that also returns the values it saved.
func (c *Controller) SubmitValues(ctx context.Context) (string, Values, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", nil, ErrClosed
	}
	c.stopTimer()
	c.pending = nil

	for c.inFlight {
		idle := c.idle
		c.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return "", nil, ErrClosed
		}
	}

	c.beginFlight()
	snap := &snapshot{values: maps.Clone(c.values), seq: c.seq}
	c.mu.Unlock()

	err := c.save(ctx, snap)

	c.mu.Lock()
	next := c.pending
	c.pending = nil
	key := c.key
	if next == nil || c.closed {
		c.endFlight()
		c.mu.Unlock()
	} else {
		// A timer fired while submitting; keep the slot and persist it.
		c.mu.Unlock()
		go c.run(c.ctx, next)
	}

	if err != nil {
		return "", nil, err
	}
	return key, snap.values, nil
}

// Close cancels the pending timer. Results of a persist still running are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopTimer()
	c.pending = nil
}
