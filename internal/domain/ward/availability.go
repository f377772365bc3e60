package ward

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ipd/internal/platform/cache"
	"github.com/ehr/ipd/internal/platform/db"
)

// AvailabilityCache holds the all-wards availability summary per tenant.
// Cache failures are logged and treated as misses. A nil cache is valid.
type AvailabilityCache struct {
	store  cache.Store
	ttl    time.Duration
	logger zerolog.Logger
}

func NewAvailabilityCache(store cache.Store, ttl time.Duration, logger zerolog.Logger) *AvailabilityCache {
	return &AvailabilityCache{store: store, ttl: ttl, logger: logger}
}

func availabilityKey(ctx context.Context) string {
	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		tenant = "_"
	}
	return "availability:" + tenant
}

func (c *AvailabilityCache) Get(ctx context.Context) ([]*Availability, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	raw, found, err := c.store.Get(ctx, availabilityKey(ctx))
	if err != nil {
		c.logger.Warn().Err(err).Msg("availability cache read failed")
		return nil, false
	}
	if !found {
		return nil, false
	}
	var out []*Availability
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn().Err(err).Msg("availability cache entry unreadable")
		return nil, false
	}
	return out, true
}

func (c *AvailabilityCache) Put(ctx context.Context, list []*Availability) {
	if c == nil || c.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, availabilityKey(ctx), raw, c.ttl); err != nil {
		c.logger.Warn().Err(err).Msg("availability cache write failed")
	}
}

func (c *AvailabilityCache) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	if err := c.store.Delete(ctx, availabilityKey(ctx)); err != nil {
		c.logger.Warn().Err(err).Msg("availability cache invalidation failed")
	}
}
