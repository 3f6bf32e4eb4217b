package views

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// RedisCounter keeps counts in a Redis hash per collection. HINCRBY creates the
// hash and the field on first use, so there is no not-found path.
type RedisCounter struct {
	client     *redis.Client
	store      docstore.Store
	collection string
	key        string
	dirtyKey   string
}

// NewRedisClient parses url and checks the connection.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisCounter counts views of collection. store may be nil when counts are
// never flushed back to documents.
func NewRedisCounter(client *redis.Client, store docstore.Store, collection string) *RedisCounter {
	return &RedisCounter{
		client:     client,
		store:      store,
		collection: collection,
		key:        "views:" + collection,
		dirtyKey:   "views:dirty:" + collection,
	}
}

func (c *RedisCounter) IncrementView(ctx context.Context, documentID string) error {
	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, c.key, documentID, 1)
	pipe.SAdd(ctx, c.dirtyKey, documentID)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.ViewsIncremented.WithLabelValues(c.collection, "error").Inc()
		return fmt.Errorf("increment views %s/%s: %w", c.collection, documentID, err)
	}
	metrics.ViewsIncremented.WithLabelValues(c.collection, "incremented").Inc()
	return nil
}

// Views prefers the Redis count and falls back to the stored document.
func (c *RedisCounter) Views(ctx context.Context, documentID string) (int64, error) {
	raw, err := c.client.HGet(ctx, c.key, documentID).Result()
	if err == nil {
		return strconv.ParseInt(raw, 10, 64)
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("get views %s/%s: %w", c.collection, documentID, err)
	}
	if c.store == nil {
		return 0, nil
	}
	return NewDocCounter(c.store, c.collection).Views(ctx, documentID)
}

// Flush writes counts of documents viewed since the last flush into the store.
// Counts of documents that no longer exist are dropped. When a write fails, the
// ids not yet written go back to the dirty set. It returns how many documents
// were written.
func (c *RedisCounter) Flush(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}

	ids, err := c.client.SPopN(ctx, c.dirtyKey, 512).Result()
	if err != nil {
		return 0, fmt.Errorf("pop dirty views %s: %w", c.collection, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	counts, err := c.client.HMGet(ctx, c.key, ids...).Result()
	if err != nil {
		c.requeue(ctx, ids)
		return 0, fmt.Errorf("read views %s: %w", c.collection, err)
	}

	written := 0
	for i, id := range ids {
		raw, ok := counts[i].(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			viewsLogger.Warn().Err(err).Str("id", id).Msg("Skipping malformed view count")
			continue
		}

		_, err = c.store.Update(ctx, c.collection, id, map[string]any{Field: n})
		switch {
		case err == nil:
			written++
		case errors.Is(err, docstore.ErrNotFound):
			viewsLogger.Debug().Str("collection", c.collection).Str("id", id).Msg("Dropping views of missing document")
			c.client.HDel(ctx, c.key, id)
		default:
			c.requeue(ctx, ids[i:])
			return written, fmt.Errorf("flush views %s/%s: %w", c.collection, id, err)
		}
	}

	viewsLogger.Debug().Str("collection", c.collection).Int("documents", written).Msg("Flushed view counts")
	return written, nil
}

// requeue marks ids dirty again so the next flush retries them.
func (c *RedisCounter) requeue(ctx context.Context, ids []string) {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := c.client.SAdd(ctx, c.dirtyKey, members...).Err(); err != nil {
		viewsLogger.Error().Err(err).Str("collection", c.collection).Int("documents", len(ids)).Msg("Failed to requeue view counts")
	}
}

// Run flushes every interval until ctx is done, then flushes once more.
func (c *RedisCounter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := c.Flush(flushCtx); err != nil {
				viewsLogger.Error().Err(err).Msg("Final view flush failed")
			}
			cancel()
			return
		case <-ticker.C:
			if _, err := c.Flush(ctx); err != nil {
				viewsLogger.Error().Err(err).Msg("View flush failed")
			}
		}
	}
}
