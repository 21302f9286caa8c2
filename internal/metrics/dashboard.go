package metrics

import (
	"context"
	"time"

	"github.com/triago/triago/domain"
	"github.com/triago/triago/infrastructure/service/logger"
	"github.com/triago/triago/internal/cache"
)

// Composer caches and serves full dashboard snapshots on top of the
// aggregator.
type Composer struct {
	aggregator *Aggregator
	cache      *cache.Store
	logger     logger.Logger
}

// NewComposer wires the composer to the aggregator and the shared cache.
func NewComposer(aggregator *Aggregator, store *cache.Store, log logger.Logger) *Composer {
	return &Composer{
		aggregator: aggregator,
		cache:      store,
		logger:     log,
	}
}

// BuildSnapshot returns the dashboard snapshot for the date range, serving
// from cache unless useCache is false. A freshly built snapshot is always
// cached for subsequent calls.
func (c *Composer) BuildSnapshot(ctx context.Context, startDate, endDate *time.Time, useCache bool) (*domain.DashboardSnapshot, error) {
	key := snapshotKey(startDate, endDate)
	if useCache {
		if v, ok := c.cache.Get(cache.NamespaceDashboard, key); ok {
			if snapshot, ok := v.(*domain.DashboardSnapshot); ok {
				return snapshot, nil
			}
		}
	}

	snapshot, err := c.aggregator.MetricsByLevel(ctx, startDate, endDate, useCache)
	if err != nil {
		return nil, err
	}

	c.cache.Set(cache.NamespaceDashboard, key, snapshot, cache.TTLDashboard)
	c.logger.Debug(ctx, "dashboard snapshot rebuilt", map[string]interface{}{
		"total_tickets": snapshot.TotalTickets,
		"degraded":      snapshot.Degraded,
	})
	return snapshot, nil
}

func snapshotKey(startDate, endDate *time.Time) string {
	key := "snapshot:"
	if startDate != nil {
		key += startDate.Format(glpiDateFormat)
	}
	key += "/"
	if endDate != nil {
		key += endDate.Format(glpiDateFormat)
	}
	return key
}
