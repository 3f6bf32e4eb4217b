package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	clock   *fakeClock
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock hands out timers that only fire when the test says so.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
	delays []time.Duration
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, f: f}
	c.timers = append(c.timers, t)
	c.delays = append(c.delays, d)
	return t
}

// fire runs every armed timer synchronously and reports how many ran.
func (c *fakeClock) fire() int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
	return len(due)
}

func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type call struct {
	op     string
	key    string
	values Values
}

type fakePersister struct {
	mu      sync.Mutex
	calls   []call
	nextKey int
	err     error
	// block, when set, holds every persist until a value is received.
	block chan struct{}
	// started receives one value per persist as it begins.
	started chan struct{}
}

func (p *fakePersister) wait() {
	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
}

func (p *fakePersister) Create(_ context.Context, v Values) (string, error) {
	p.wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{op: "create", values: v})
	if p.err != nil {
		return "", p.err
	}
	p.nextKey++
	return fmt.Sprintf("doc-%d", p.nextKey), nil
}

func (p *fakePersister) Update(_ context.Context, key string, v Values) error {
	p.wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{op: "update", key: key, values: v})
	return p.err
}

func (p *fakePersister) snapshot() []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]call(nil), p.calls...)
}

var errTitleTooShort = errors.New("title too short")

var titleValidator = ValidatorFunc(func(v Values) error {
	if len(v["title"]) < 5 {
		return errTitleTooShort
	}
	return nil
})

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newController(p Persister, opts Options) (*Controller, *fakeClock, *recorder) {
	clock := &fakeClock{}
	rec := &recorder{}
	opts.AfterFunc = clock.AfterFunc
	opts.Listener = rec.listen
	return New(titleValidator, p, opts), clock, rec
}

func TestEditIsUnsavedSynchronously(t *testing.T) {
	p := &fakePersister{}
	c, clock, _ := newController(p, Options{Debounce: 1500 * time.Millisecond})

	assert.Equal(t, Saved, c.Status())
	c.Edit(Values{"title": "Hello world"})
	assert.Equal(t, Unsaved, c.Status())
	assert.Equal(t, 1, clock.armed())
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, clock.delays)
	assert.Empty(t, p.snapshot())
}

func TestDebounceRearms(t *testing.T) {
	p := &fakePersister{}
	c, clock, _ := newController(p, Options{})

	c.Edit(Values{"title": "First title"})
	c.Edit(Values{"title": "Second title"})
	c.Edit(Values{"title": "Third title"})
	assert.Equal(t, 1, clock.armed(), "each edit cancels the previous timer")

	require.Equal(t, 1, clock.fire())

	calls := p.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "Third title", calls[0].values["title"])
}

func TestDebouncedSaveCreatesThenUpdates(t *testing.T) {
	p := &fakePersister{}
	c, clock, rec := newController(p, Options{})

	c.Edit(Values{"title": "Valid title"})
	clock.fire()

	assert.Equal(t, []Status{Unsaved, Saving, Saved}, rec.statuses())
	assert.Equal(t, Saved, c.Status())
	assert.Equal(t, "doc-1", c.Key())

	c.Edit(Values{"title": "Valid title, edited"})
	clock.fire()
	c.Edit(Values{"title": "Valid title, edited again"})
	clock.fire()

	assert.Equal(t, "doc-1", c.Key(), "key never changes once assigned")
	calls := p.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "create", calls[0].op)
	assert.Equal(t, call{op: "update", key: "doc-1", values: Values{"title": "Valid title, edited"}}, calls[1])
	assert.Equal(t, "update", calls[2].op)
	assert.Equal(t, "doc-1", calls[2].key)
}

func TestExistingKeyUpdates(t *testing.T) {
	p := &fakePersister{}
	c, clock, _ := newController(p, Options{Key: "existing"})

	c.Edit(Values{"title": "Valid title"})
	clock.fire()

	calls := p.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "update", calls[0].op)
	assert.Equal(t, "existing", c.Key())
}

func TestInvalidValuesNeverPersist(t *testing.T) {
	p := &fakePersister{}
	c, clock, rec := newController(p, Options{})

	c.Edit(Values{"title": "tiny"})
	clock.fire()

	assert.Empty(t, p.snapshot())
	assert.Equal(t, Unsaved, c.Status())
	assert.Equal(t, []Status{Unsaved, Saving, Unsaved}, rec.statuses())

	last := rec.last()
	assert.True(t, last.Invalid)
	assert.ErrorIs(t, last.Err, errTitleTooShort)
	assert.Empty(t, c.Key())
}

func TestPersistFailureIsUnsavedAndNotRetried(t *testing.T) {
	unavailable := errors.New("store unavailable")
	p := &fakePersister{err: unavailable}
	c, clock, rec := newController(p, Options{})

	c.Edit(Values{"title": "Valid title"})
	clock.fire()

	assert.Equal(t, Unsaved, c.Status())
	last := rec.last()
	assert.ErrorIs(t, last.Err, unavailable)
	assert.False(t, last.Invalid)
	assert.Zero(t, clock.armed(), "no retry is scheduled")
	assert.Len(t, p.snapshot(), 1)
	assert.Empty(t, c.Key())

	// The next edit retries.
	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	c.Edit(Values{"title": "Valid title again"})
	clock.fire()
	assert.Equal(t, Saved, c.Status())
	assert.Equal(t, "doc-1", c.Key())
}

func TestSubmitBypassesDebounce(t *testing.T) {
	p := &fakePersister{}
	c, clock, _ := newController(p, Options{})

	c.Edit(Values{"title": "Ready to publish"})
	require.Equal(t, 1, clock.armed())

	key, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "doc-1", key)
	assert.Equal(t, Saved, c.Status())
	assert.Zero(t, clock.armed(), "submit cancels the pending timer")

	assert.Zero(t, clock.fire())
	assert.Len(t, p.snapshot(), 1)
}

func TestSubmitValuesReturnsSavedValues(t *testing.T) {
	p := &fakePersister{block: make(chan struct{}), started: make(chan struct{}, 1)}
	c, _, _ := newController(p, Options{})

	c.Edit(Values{"title": "Published title"})

	type result struct {
		values Values
		err    error
	}
	res := make(chan result, 1)
	go func() {
		_, v, err := c.SubmitValues(context.Background())
		res <- result{v, err}
	}()
	<-p.started

	c.Edit(Values{"title": "Typed while saving"})
	p.block <- struct{}{}

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, "Published title", r.values["title"])
	assert.Equal(t, p.snapshot()[0].values, r.values)
	assert.Equal(t, "Typed while saving", c.Values()["title"])
}

func TestSubmitInvalid(t *testing.T) {
	p := &fakePersister{}
	c, _, _ := newController(p, Options{})

	c.Edit(Values{"title": "no"})
	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, errTitleTooShort)
	assert.Empty(t, p.snapshot())
	assert.Equal(t, Unsaved, c.Status())
}

func TestSubmitUsesInitialValues(t *testing.T) {
	p := &fakePersister{}
	c, _, _ := newController(p, Options{Key: "k", Values: Values{"title": "Loaded title"}})

	key, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "k", key)
	assert.Equal(t, "Loaded title", p.snapshot()[0].values["title"])
}

func TestSingleInFlightQueuesNewest(t *testing.T) {
	p := &fakePersister{block: make(chan struct{}), started: make(chan struct{}, 4)}
	c, clock, _ := newController(p, Options{})

	c.Edit(Values{"title": "First version"})
	done := make(chan struct{})
	go func() {
		clock.fire()
		close(done)
	}()
	<-p.started // first create is running

	c.Edit(Values{"title": "Second version"})
	clock.fire() // queued
	c.Edit(Values{"title": "Third version"})
	clock.fire() // replaces the queued values
	assert.Equal(t, Unsaved, c.Status())

	p.block <- struct{}{} // release the create
	<-p.started           // queued update begins
	p.block <- struct{}{}
	<-done

	calls := p.snapshot()
	require.Len(t, calls, 2, "second version was superseded")
	assert.Equal(t, "create", calls[0].op)
	assert.Equal(t, call{op: "update", key: "doc-1", values: Values{"title": "Third version"}}, calls[1])
	assert.Equal(t, Saved, c.Status())
}

func TestEditWhileSavingStaysUnsaved(t *testing.T) {
	p := &fakePersister{block: make(chan struct{}), started: make(chan struct{}, 1)}
	c, clock, _ := newController(p, Options{})

	c.Edit(Values{"title": "First version"})
	done := make(chan struct{})
	go func() {
		clock.fire()
		close(done)
	}()
	<-p.started

	c.Edit(Values{"title": "Newer version"})
	p.block <- struct{}{}
	<-done

	assert.Equal(t, Unsaved, c.Status())
	assert.Equal(t, 1, clock.armed())
}

func TestSubmitWaitsForInFlight(t *testing.T) {
	p := &fakePersister{block: make(chan struct{}), started: make(chan struct{}, 2)}
	c, clock, _ := newController(p, Options{})

	c.Edit(Values{"title": "Autosaved title"})
	go clock.fire()
	<-p.started

	c.Edit(Values{"title": "Submitted title"})

	type result struct {
		key string
		err error
	}
	res := make(chan result, 1)
	go func() {
		key, err := c.Submit(context.Background())
		res <- result{key, err}
	}()

	select {
	case <-res:
		t.Fatal("submit must wait for the running persist")
	case <-time.After(20 * time.Millisecond):
	}

	p.block <- struct{}{} // create finishes
	<-p.started           // submit's update begins
	p.block <- struct{}{}

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, "doc-1", r.key)

	calls := p.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "update", calls[1].op)
	assert.Equal(t, "Submitted title", calls[1].values["title"])
}

func TestSubmitContextCancelled(t *testing.T) {
	p := &fakePersister{block: make(chan struct{}), started: make(chan struct{}, 1)}
	c, clock, _ := newController(p, Options{})

	c.Edit(Values{"title": "Autosaved title"})
	go clock.fire()
	<-p.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Submit(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	p.block <- struct{}{}
}

func TestCloseCancelsTimerAndDiscardsResults(t *testing.T) {
	t.Run("pending timer", func(t *testing.T) {
		p := &fakePersister{}
		c, clock, _ := newController(p, Options{})

		c.Edit(Values{"title": "Valid title"})
		c.Close()

		assert.Zero(t, clock.armed())
		assert.Zero(t, clock.fire())
		assert.Empty(t, p.snapshot())

		_, err := c.Submit(context.Background())
		assert.ErrorIs(t, err, ErrClosed)

		c.Edit(Values{"title": "Ignored edit"})
		assert.Zero(t, clock.armed())
	})

	t.Run("in-flight persist", func(t *testing.T) {
		p := &fakePersister{block: make(chan struct{}), started: make(chan struct{}, 1)}
		c, clock, rec := newController(p, Options{})

		c.Edit(Values{"title": "Valid title"})
		done := make(chan struct{})
		go func() {
			clock.fire()
			close(done)
		}()
		<-p.started

		c.Close()
		before := len(rec.statuses())
		p.block <- struct{}{}
		<-done

		assert.Empty(t, c.Key(), "result of a closed controller is discarded")
		assert.Len(t, rec.statuses(), before)
	})
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "Saved", Saved.String())
	assert.Equal(t, "Saving", Saving.String())
	assert.Equal(t, "Unsaved", Unsaved.String())
	assert.Equal(t, "Unknown", Status(42).String())
}

func TestRealTimer(t *testing.T) {
	p := &fakePersister{}
	c := New(titleValidator, p, Options{Debounce: 10 * time.Millisecond})
	defer c.Close()

	c.Edit(Values{"title": "Valid title"})
	assert.Eventually(t, func() bool { return c.Status() == Saved }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "doc-1", c.Key())
}
