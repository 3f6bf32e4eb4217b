package views

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, path string) *docstore.SQLite {
	t.Helper()
	s, err := docstore.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIncrementViewNewDocument(t *testing.T) {
	store := newStore(t, ":memory:")
	c := NewDocCounter(store, "pdfs")
	ctx := context.Background()

	require.NoError(t, c.IncrementView(ctx, "never-seen"))

	n, err := c.Views(ctx, "never-seen")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIncrementViewExisting(t *testing.T) {
	store := newStore(t, ":memory:")
	c := NewDocCounter(store, "pdfs")
	ctx := context.Background()

	for _, start := range []int64{0, 1, 41} {
		_, err := store.Set(ctx, "pdfs", "doc", map[string]any{"title": "t", Field: start})
		require.NoError(t, err)

		require.NoError(t, c.IncrementView(ctx, "doc"))

		n, err := c.Views(ctx, "doc")
		require.NoError(t, err)
		assert.Equal(t, start+1, n)
	}
}

func TestIncrementViewMissingField(t *testing.T) {
	store := newStore(t, ":memory:")
	c := NewDocCounter(store, "blogPosts")
	ctx := context.Background()

	_, err := store.Set(ctx, "blogPosts", "p", map[string]any{"title": "Hello"})
	require.NoError(t, err)

	require.NoError(t, c.IncrementView(ctx, "p"))

	doc, err := store.Get(ctx, "blogPosts", "p")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Int(Field))
	assert.Equal(t, "Hello", doc.String("title"))
}

func TestIncrementViewConcurrentFirstViews(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "views.db"))
	c := NewDocCounter(store, "pdfs")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.IncrementView(ctx, "race"))
		}()
	}
	wg.Wait()

	n, err := c.Views(ctx, "race")
	require.NoError(t, err)
	assert.Contains(t, []int64{1, 2}, n)
}

type failingStore struct {
	docstore.Store
	incrementErr error
	merges       int
}

func (s *failingStore) Increment(context.Context, string, string, string, int64) (*docstore.Document, error) {
	return nil, s.incrementErr
}

func (s *failingStore) Merge(context.Context, string, string, map[string]any) (*docstore.Document, error) {
	s.merges++
	return &docstore.Document{}, nil
}

func TestIncrementViewOtherErrorNotRetried(t *testing.T) {
	unavailable := errors.New("store unavailable")
	store := &failingStore{incrementErr: unavailable}
	c := NewDocCounter(store, "pdfs")

	err := c.IncrementView(context.Background(), "doc")
	assert.ErrorIs(t, err, unavailable)
	assert.Zero(t, store.merges)
}

func TestIncrementViewNotFoundFallsBack(t *testing.T) {
	store := &failingStore{incrementErr: docstore.ErrNotFound}
	c := NewDocCounter(store, "pdfs")

	require.NoError(t, c.IncrementView(context.Background(), "doc"))
	assert.Equal(t, 1, store.merges)
}

func TestRedisCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	store := newStore(t, ":memory:")
	ctx := context.Background()
	_, err = store.Set(ctx, "pdfs", "stored", map[string]any{Field: 7})
	require.NoError(t, err)
	_, err = store.Set(ctx, "pdfs", "fresh", map[string]any{"title": "Fresh"})
	require.NoError(t, err)

	c := NewRedisCounter(client, store, "pdfs")

	t.Run("falls back to the document", func(t *testing.T) {
		n, err := c.Views(ctx, "stored")
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
	})

	t.Run("increments", func(t *testing.T) {
		require.NoError(t, c.IncrementView(ctx, "fresh"))
		require.NoError(t, c.IncrementView(ctx, "fresh"))

		n, err := c.Views(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("flush writes dirty counts", func(t *testing.T) {
		written, err := c.Flush(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, written)

		doc, err := store.Get(ctx, "pdfs", "fresh")
		require.NoError(t, err)
		assert.Equal(t, int64(2), doc.Int(Field))
		assert.Equal(t, "Fresh", doc.String("title"))

		written, err = c.Flush(ctx)
		require.NoError(t, err)
		assert.Zero(t, written)
	})
}

func TestRedisCounterConcurrent(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	c := NewRedisCounter(client, nil, "blogPosts")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.IncrementView(ctx, "hot"))
		}()
	}
	wg.Wait()

	n, err := c.Views(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestRedisCounterRunFlushesOnStop(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	store := newStore(t, ":memory:")
	c := NewRedisCounter(client, store, "pdfs")
	_, err = store.Set(context.Background(), "pdfs", "doc", map[string]any{"title": "Doc"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.IncrementView(ctx, "doc"))

	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	<-done

	doc, err := store.Get(context.Background(), "pdfs", "doc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Int(Field))
}

func TestRedisCounterFlushSkipsMissingDocuments(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	store := newStore(t, ":memory:")
	c := NewRedisCounter(client, store, "pdfs")
	ctx := context.Background()

	require.NoError(t, c.IncrementView(ctx, "ghost"))

	written, err := c.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, written)

	_, err = store.Get(ctx, "pdfs", "ghost")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.False(t, mr.Exists("views:dirty:pdfs"))
}

// flakyStore fails updates of one document until healed.
type flakyStore struct {
	docstore.Store
	mu     sync.Mutex
	failID string
}

func (s *flakyStore) Update(ctx context.Context, collection, id string, data map[string]any) (*docstore.Document, error) {
	s.mu.Lock()
	fail := id == s.failID
	s.mu.Unlock()
	if fail {
		return nil, errors.New("store down")
	}
	return s.Store.Update(ctx, collection, id, data)
}

func (s *flakyStore) heal() {
	s.mu.Lock()
	s.failID = ""
	s.mu.Unlock()
}

func TestRedisCounterFlushRequeuesUnwrittenCounts(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	store := &flakyStore{Store: newStore(t, ":memory:"), failID: "d"}
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		_, err := store.Set(ctx, "pdfs", id, map[string]any{"title": id})
		require.NoError(t, err)
	}

	c := NewRedisCounter(client, store, "pdfs")
	for _, id := range ids {
		require.NoError(t, c.IncrementView(ctx, id))
	}

	written, err := c.Flush(ctx)
	require.Error(t, err)

	dirty, err := client.SMembers(ctx, "views:dirty:pdfs").Result()
	require.NoError(t, err)
	assert.Contains(t, dirty, "d")
	assert.Len(t, dirty, len(ids)-written)

	store.heal()
	again, err := c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(ids), written+again)

	for _, id := range ids {
		doc, err := store.Get(ctx, "pdfs", id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), doc.Int(Field), id)
	}
}

func TestNewRedisClientBadURL(t *testing.T) {
	_, err := NewRedisClient("not a url")
	assert.Error(t, err)
}
