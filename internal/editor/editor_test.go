package editor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/debemdeboas/the-library/internal/autosave"
	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/debemdeboas/the-library/internal/repository"
	"github.com/debemdeboas/the-library/internal/sse"
	"github.com/debemdeboas/the-library/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualTimer struct {
	mu      sync.Mutex
	pending []func()
}

type stopper struct {
	t   *manualTimer
	idx int
}

func (s stopper) Stop() bool {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	was := s.t.pending[s.idx] != nil
	s.t.pending[s.idx] = nil
	return was
}

func (t *manualTimer) AfterFunc(_ time.Duration, f func()) autosave.Timer {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, f)
	return stopper{t: t, idx: len(t.pending) - 1}
}

// fire runs every armed timer.
func (t *manualTimer) fire() {
	t.mu.Lock()
	fns := t.pending
	t.pending = nil
	t.mu.Unlock()
	for _, f := range fns {
		if f != nil {
			f()
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Broadcast(topic, event, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, topic+"|"+event+"|"+data)
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return ""
	}
	return r.events[len(r.events)-1]
}

var (
	alice = &model.Identity{UID: "alice", DisplayName: "Alice"}
	bob   = &model.Identity{UID: "bob", DisplayName: "Bob"}
)

var longBody = strings.Repeat("A paragraph of markdown. ", 6)

func newManager(t *testing.T) (*Manager, *manualTimer, *recorder, *repository.BlogRepository, *repository.DraftRepository) {
	t.Helper()
	store, err := docstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	posts := repository.NewBlogRepository(store)
	drafts := repository.NewDraftRepository(store)
	timer := &manualTimer{}
	rec := &recorder{}
	return NewManager(posts, drafts, rec, Options{Debounce: time.Second, AfterFunc: timer.AfterFunc}), timer, rec, posts, drafts
}

func waitSaved(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Status() == autosave.Saved }, time.Second, 5*time.Millisecond)
}

func TestPostSessionAutosaves(t *testing.T) {
	ctx := context.Background()
	m, timer, rec, posts, _ := newManager(t)

	s, err := m.Open(ctx, alice, KindPost, "")
	require.NoError(t, err)

	status, err := m.Edit(s.ID, alice, autosave.Values{"title": "Hello world", "body": longBody, "tags": "go, web"})
	require.NoError(t, err)
	assert.Equal(t, autosave.Unsaved, status)

	timer.fire()
	waitSaved(t, s)
	require.NotEmpty(t, s.Key())

	post, err := posts.Get(ctx, model.PostID(s.Key()))
	require.NoError(t, err)
	assert.Equal(t, "Hello world", post.Title)
	assert.Equal(t, []string{"go", "web"}, post.Tags)

	assert.True(t, strings.HasPrefix(rec.last(), sse.EditorTopic(s.ID)+"|"+EventStatus+"|"))
	assert.Contains(t, rec.last(), "autosave-saved")
	assert.Contains(t, rec.last(), s.Key())

	// Second save updates the same post.
	key := s.Key()
	_, err = m.Edit(s.ID, alice, autosave.Values{"title": "Hello again", "body": longBody})
	require.NoError(t, err)
	timer.fire()
	waitSaved(t, s)
	assert.Equal(t, key, s.Key())
	post, _ = posts.Get(ctx, model.PostID(key))
	assert.Equal(t, "Hello again", post.Title)
}

func TestPostSessionInvalidStaysUnsaved(t *testing.T) {
	ctx := context.Background()
	m, timer, rec, _, _ := newManager(t)

	s, err := m.Open(ctx, alice, KindPost, "")
	require.NoError(t, err)

	_, err = m.Edit(s.ID, alice, autosave.Values{"title": "Hello world", "body": "too short"})
	require.NoError(t, err)
	timer.fire()

	require.Eventually(t, func() bool { return strings.Contains(rec.last(), "autosave-error") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, autosave.Unsaved, s.Status())
	assert.Empty(t, s.Key())

	_, err = m.Publish(ctx, s.ID, alice)
	var verr validate.Errors
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, 1, m.Len())
}

func TestDraftSessionPublishes(t *testing.T) {
	ctx := context.Background()
	m, timer, _, posts, drafts := newManager(t)

	s, err := m.Open(ctx, alice, KindDraft, "")
	require.NoError(t, err)

	// Drafts accept short bodies.
	_, err = m.Edit(s.ID, alice, autosave.Values{"title": "Draft title", "body": "short"})
	require.NoError(t, err)
	timer.fire()
	waitSaved(t, s)
	draftID := s.Key()
	require.NotEmpty(t, draftID)

	// A short body cannot be published.
	_, err = m.Publish(ctx, s.ID, alice)
	require.Error(t, err)

	_, err = m.Edit(s.ID, alice, autosave.Values{"title": "Draft title", "body": longBody})
	require.NoError(t, err)

	postID, err := m.Publish(ctx, s.ID, alice)
	require.NoError(t, err)
	assert.Zero(t, m.Len())

	post, err := posts.Get(ctx, postID)
	require.NoError(t, err)
	assert.Equal(t, longBody, string(post.Markdown))

	d, err := drafts.Get(ctx, draftID)
	require.NoError(t, err)
	assert.True(t, d.Finished)
	assert.Equal(t, postID, d.PostID)
	assert.Equal(t, longBody, d.Body)
}

func TestOpenExistingPost(t *testing.T) {
	ctx := context.Background()
	m, _, _, posts, _ := newManager(t)

	post, err := posts.Create(ctx, alice, "Existing post", []byte(longBody), []string{"a", "b"})
	require.NoError(t, err)

	_, err = m.Open(ctx, bob, KindPost, string(post.ID))
	assert.ErrorIs(t, err, ErrForbidden)

	s, err := m.Open(ctx, alice, KindPost, string(post.ID))
	require.NoError(t, err)
	assert.Equal(t, string(post.ID), s.Key())
	assert.Equal(t, "a, b", s.Values()["tags"])

	// Publishing without edits saves the loaded values.
	id, err := m.Publish(ctx, s.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, post.ID, id)

	_, err = m.Open(ctx, alice, KindPost, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = m.Open(ctx, nil, KindPost, "")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = m.Open(ctx, alice, Kind("poem"), "")
	assert.Error(t, err)
}

func TestSessionOwnership(t *testing.T) {
	ctx := context.Background()
	m, _, _, _, _ := newManager(t)

	s, err := m.Open(ctx, alice, KindDraft, "")
	require.NoError(t, err)

	_, err = m.Edit(s.ID, bob, autosave.Values{"title": "x"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = m.Edit("nope", alice, autosave.Values{"title": "x"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, m.Discard(s.ID, alice))
	_, err = m.Get(s.ID, alice)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSweepFlushesIdleSessions(t *testing.T) {
	ctx := context.Background()
	m, _, _, _, drafts := newManager(t)

	now := time.Now()
	m.now = func() time.Time { return now }

	s, err := m.Open(ctx, alice, KindDraft, "")
	require.NoError(t, err)
	_, err = m.Edit(s.ID, alice, autosave.Values{"title": "Idle draft", "body": "unsaved"})
	require.NoError(t, err)

	assert.Zero(t, m.Sweep(ctx, time.Hour))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, m.Sweep(ctx, time.Hour))
	assert.Zero(t, m.Len())

	list, err := drafts.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "unsaved", list[0].Body)
}

func TestRunSavesOpenSessionsOnStop(t *testing.T) {
	m, timer, _, _, drafts := newManager(t)

	s, err := m.Open(context.Background(), alice, KindDraft, "")
	require.NoError(t, err)
	_, err = m.Edit(s.ID, alice, autosave.Values{"title": "Late edit", "body": "typed before shutdown"})
	require.NoError(t, err)
	require.Equal(t, autosave.Unsaved, s.Status())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Hour, time.Hour)
		close(done)
	}()
	cancel()
	<-done

	assert.Zero(t, m.Len())
	list, err := drafts.ListByOwner(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "typed before shutdown", list[0].Body)

	// The debounce timer was cancelled with the session.
	timer.fire()
	list, err = drafts.ListByOwner(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStatusFragmentEscapes(t *testing.T) {
	got := StatusFragment(autosave.Event{Status: autosave.Unsaved, Err: errors.New("<b>bad</b>"), Invalid: true})
	assert.Contains(t, got, "autosave-unsaved")
	assert.Contains(t, got, "&lt;b&gt;bad&lt;/b&gt;")

	got = StatusFragment(autosave.Event{Status: autosave.Unsaved, Err: errors.New("db down")})
	assert.NotContains(t, got, "db down")

	got = StatusFragment(autosave.Event{Status: autosave.Saving})
	assert.Contains(t, got, "Saving")
	assert.NotContains(t, got, "autosave-error")
}
