// Package editor keeps one autosave controller per open editor and streams its
// status to the browser.
package editor

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/debemdeboas/the-library/internal/autosave"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/debemdeboas/the-library/internal/sse"
	"github.com/debemdeboas/the-library/internal/validate"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrSessionNotFound = errors.New("editor session not found")
	ErrForbidden       = errors.New("editor session belongs to someone else")
)

var editorLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	editorLogger = l
}

// Kind selects what an editor session saves into.
type Kind string

const (
	// KindPost saves straight into blogPosts; the body must be long enough to publish.
	KindPost Kind = "post"
	// KindDraft saves markdown drafts with no body length rule.
	KindDraft Kind = "draft"
)

const EventStatus = "status"

type Broadcaster interface {
	Broadcast(topic, event, data string)
}

type Session struct {
	ID    string
	Kind  Kind
	Owner *model.Identity

	ctrl     *autosave.Controller
	mu       sync.Mutex
	lastUsed time.Time
}

func (s *Session) Status() autosave.Status { return s.ctrl.Status() }
func (s *Session) Key() string             { return s.ctrl.Key() }
func (s *Session) Values() autosave.Values { return s.ctrl.Values() }

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

type Options struct {
	Debounce time.Duration
	// AfterFunc replaces time.AfterFunc for the debounce timers.
	AfterFunc autosave.AfterFunc
}

type Manager struct {
	posts   PostStore
	drafts  DraftStore
	clients Broadcaster
	opts    Options
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(posts PostStore, drafts DraftStore, clients Broadcaster, opts Options) *Manager {
	return &Manager{
		posts:    posts,
		drafts:   drafts,
		clients:  clients,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

func schemaValidator(schema validate.Schema) autosave.Validator {
	return autosave.ValidatorFunc(func(v autosave.Values) error {
		return schema.Validate(v)
	})
}

// Open starts an editor session. key names an existing post or draft to edit;
// it must belong to owner unless owner is an admin.
func (m *Manager) Open(ctx context.Context, owner *model.Identity, kind Kind, key string) (*Session, error) {
	if !owner.SignedIn() {
		return nil, ErrForbidden
	}

	var (
		validator autosave.Validator
		persister autosave.Persister
		initial   autosave.Values
	)

	switch kind {
	case KindPost:
		validator = schemaValidator(validate.BlogPost)
		persister = &postPersister{store: m.posts, owner: owner}
		if key != "" {
			post, err := m.posts.Get(ctx, model.PostID(key))
			if err != nil {
				return nil, err
			}
			if post.AuthorID != owner.UID && !owner.Admin {
				return nil, ErrForbidden
			}
			initial = autosave.Values{"title": post.Title, "body": string(post.Markdown), "tags": strings.Join(post.Tags, ", ")}
		}
	case KindDraft:
		validator = schemaValidator(validate.Draft)
		persister = &draftPersister{store: m.drafts, owner: owner}
		if key != "" {
			draft, err := m.drafts.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			if draft.OwnerID != owner.UID && !owner.Admin {
				return nil, ErrForbidden
			}
			initial = autosave.Values{"title": draft.Title, "body": draft.Body}
		}
	default:
		return nil, fmt.Errorf("unknown editor kind %q", kind)
	}

	s := &Session{ID: uuid.New().String(), Kind: kind, Owner: owner, lastUsed: m.now()}
	topic := sse.EditorTopic(s.ID)
	s.ctrl = autosave.New(validator, persister, autosave.Options{
		Debounce:  m.opts.Debounce,
		Key:       key,
		Values:    initial,
		AfterFunc: m.opts.AfterFunc,
		Listener: func(e autosave.Event) {
			if m.clients != nil {
				m.clients.Broadcast(topic, EventStatus, StatusFragment(e))
			}
		},
	})

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	editorLogger.Debug().Str("session", s.ID).Str("kind", string(kind)).Str("key", key).Msg("Editor session opened")
	return s, nil
}

// Get returns the session id if it belongs to who.
func (m *Manager) Get(id string, who *model.Identity) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !who.SignedIn() || who.UID != s.Owner.UID {
		return nil, ErrForbidden
	}
	s.touch(m.now())
	return s, nil
}

// Edit records new form values and (re)starts the debounce timer.
func (m *Manager) Edit(id string, who *model.Identity, v autosave.Values) (autosave.Status, error) {
	s, err := m.Get(id, who)
	if err != nil {
		return 0, err
	}
	s.ctrl.Edit(v)
	return s.ctrl.Status(), nil
}

// Publish saves the session now and closes it. Drafts are turned into a blog
// post, so their body must pass the post rules. It returns the post id.
func (m *Manager) Publish(ctx context.Context, id string, who *model.Identity) (model.PostID, error) {
	s, err := m.Get(id, who)
	if err != nil {
		return "", err
	}

	var postID model.PostID
	switch s.Kind {
	case KindPost:
		key, err := s.ctrl.Submit(ctx)
		if err != nil {
			return "", err
		}
		postID = model.PostID(key)
	case KindDraft:
		if err := validate.BlogPost.Validate(s.ctrl.Values()); err != nil {
			return "", err
		}
		draftID, values, err := s.ctrl.SubmitValues(ctx)
		if err != nil {
			return "", err
		}
		// Edits can land between the check above and the save.
		if err := validate.BlogPost.Validate(values); err != nil {
			return "", err
		}
		post, err := m.posts.Create(ctx, s.Owner, values["title"], []byte(values["body"]), nil)
		if err != nil {
			return "", err
		}
		if err := m.drafts.Finish(ctx, draftID, post.ID); err != nil {
			editorLogger.Warn().Err(err).Str("draft", draftID).Msg("Failed to mark draft as finished")
		}
		postID = post.ID
	}

	m.close(s)
	editorLogger.Info().Str("session", s.ID).Str("post_id", string(postID)).Msg("Published")
	return postID, nil
}

// Discard closes the session without saving pending edits.
func (m *Manager) Discard(id string, who *model.Identity) error {
	s, err := m.Get(id, who)
	if err != nil {
		return err
	}
	m.close(s)
	return nil
}

func (m *Manager) close(s *Session) {
	s.ctrl.Close()
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep flushes and closes sessions unused for longer than maxIdle.
func (m *Manager) Sweep(ctx context.Context, maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)
	return m.flush(ctx, func(s *Session) bool { return s.idleSince().Before(cutoff) })
}

// Shutdown flushes and closes every open session.
func (m *Manager) Shutdown(ctx context.Context) int {
	return m.flush(ctx, func(*Session) bool { return true })
}

// flush saves pending edits of the sessions match selects and closes them.
func (m *Manager) flush(ctx context.Context, match func(*Session) bool) int {
	m.mu.Lock()
	var matched []*Session
	for _, s := range m.sessions {
		if match(s) {
			matched = append(matched, s)
		}
	}
	m.mu.Unlock()

	for _, s := range matched {
		// Submit also waits for a persist that is still running.
		if s.ctrl.Status() != autosave.Saved {
			if _, err := s.ctrl.Submit(ctx); err != nil {
				editorLogger.Debug().Err(err).Str("session", s.ID).Msg("Dropping unsaved session")
			}
		}
		m.close(s)
	}
	return len(matched)
}

// Run sweeps idle sessions every interval until ctx is done, then flushes and
// closes the sessions still open.
func (m *Manager) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if n := m.Shutdown(flushCtx); n > 0 {
				editorLogger.Info().Int("sessions", n).Msg("Closed editor sessions on shutdown")
			}
			cancel()
			return
		case <-ticker.C:
			if n := m.Sweep(ctx, maxIdle); n > 0 {
				editorLogger.Debug().Int("sessions", n).Msg("Closed idle editor sessions")
			}
		}
	}
}

// StatusFragment renders an autosave event as the HTML swapped into the editor status bar.
func StatusFragment(e autosave.Event) string {
	label := map[autosave.Status]string{
		autosave.Saved:   "Saved",
		autosave.Saving:  "Saving…",
		autosave.Unsaved: "Unsaved changes",
	}[e.Status]

	detail := ""
	switch {
	case e.Invalid && e.Err != nil:
		detail = e.Err.Error()
	case e.Err != nil:
		detail = config.ErrSaveFailed
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<span class="autosave autosave-%s" data-key="%s">%s`,
		strings.ToLower(e.Status.String()), html.EscapeString(e.Key), label)
	if detail != "" {
		fmt.Fprintf(&sb, ` <small class="autosave-error">%s</small>`, html.EscapeString(detail))
	}
	sb.WriteString(`</span>`)
	return sb.String()
}
