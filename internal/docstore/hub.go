package docstore

import (
	"context"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 64

type subscriber struct {
	collection string
	ch         chan Change
	// lost is set while the subscriber owes a ChangeResync.
	lost atomic.Bool
}

// hub fans committed changes out to subscribers. A full subscriber buffer
// drops the change instead of stalling the writer; the subscriber then gets a
// ChangeResync as soon as its buffer has room again.
type hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

func (h *hub) subscribe(ctx context.Context, collection string) <-chan Change {
	s := &subscriber{collection: collection, ch: make(chan Change, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s.ch
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(s)
	}()

	return s.ch
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

func (h *hub) publish(c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.collection != c.Document.Collection {
			continue
		}
		if s.lost.CompareAndSwap(true, false) {
			select {
			case s.ch <- Change{Kind: ChangeResync, Document: &Document{Collection: s.collection}}:
			default:
				s.lost.Store(true)
			}
		}
		select {
		case s.ch <- c:
		default:
			s.lost.Store(true)
			storeLogger.Warn().
				Str("collection", s.collection).
				Str("id", c.Document.ID).
				Msg("Subscriber buffer full, dropping change")
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}
