// Package identity resolves user ids to display names for read views and
// organizer filters. It is a read-only collaborator of the club and review
// services; user records are owned elsewhere.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Shivanand-hulikatti/club-directory/internal/metrics"
	"github.com/Shivanand-hulikatti/club-directory/internal/model"
)

// Directory looks up identities.
type Directory interface {
	// DisplayNames returns usernames for ids; unknown ids are omitted.
	DisplayNames(ctx context.Context, ids []model.UserID) (map[model.UserID]string, error)
	// FindOrganizers returns ids of organizers whose username contains substr.
	FindOrganizers(ctx context.Context, substr string) ([]model.UserID, error)
}

const displayNameKeyPrefix = "clubdir:user:name:"

// Cached is a Redis read-through cache in front of a Directory. Only
// display names are cached; organizer search always reaches the source.
// Redis failures degrade to the source directory rather than failing reads.
type Cached struct {
	next    Directory
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// CachedOption configures a Cached directory.
type CachedOption func(*Cached)

// WithLogger sets the logger used for cache degradation warnings.
func WithLogger(logger *slog.Logger) CachedOption {
	return func(c *Cached) { c.logger = logger }
}

// WithMetrics records hit and miss counts.
func WithMetrics(m *metrics.Metrics) CachedOption {
	return func(c *Cached) { c.metrics = m }
}

// NewCached wraps next with a cache whose entries live for ttl.
func NewCached(next Directory, client *redis.Client, ttl time.Duration, opts ...CachedOption) *Cached {
	c := &Cached{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Cached) DisplayNames(ctx context.Context, ids []model.UserID) (map[model.UserID]string, error) {
	out := make(map[model.UserID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = displayNameKeyPrefix + model.CanonicalKey(id)
	}

	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.WarnContext(ctx, "identity cache read failed",
			slog.String("error", err.Error()),
		)
		return c.next.DisplayNames(ctx, ids)
	}

	var misses []model.UserID
	for i, v := range cached {
		if name, ok := v.(string); ok {
			out[model.UserID(model.CanonicalKey(ids[i]))] = name
			continue
		}
		misses = append(misses, ids[i])
	}
	c.metrics.RecordCache(len(ids)-len(misses), len(misses))
	if len(misses) == 0 {
		return out, nil
	}

	found, err := c.next.DisplayNames(ctx, misses)
	if err != nil {
		return nil, err
	}

	if len(found) == 0 {
		return out, nil
	}
	pipe := c.client.Pipeline()
	for id, name := range found {
		out[id] = name
		pipe.Set(ctx, displayNameKeyPrefix+model.CanonicalKey(id), name, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "identity cache write failed",
			slog.String("error", err.Error()),
		)
	}
	return out, nil
}

func (c *Cached) FindOrganizers(ctx context.Context, substr string) ([]model.UserID, error) {
	return c.next.FindOrganizers(ctx, substr)
}

// Invalidate drops cached names for ids, e.g. after a rename.
func (c *Cached) Invalidate(ctx context.Context, ids ...model.UserID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = displayNameKeyPrefix + model.CanonicalKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}
