package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/triago/triago/domain"
	"github.com/triago/triago/infrastructure/service/logger"
	"github.com/triago/triago/internal/cache"
)

// Analyzer computes period-over-period ticket trend comparisons.
type Analyzer struct {
	aggregator *Aggregator
	cache      *cache.Store
	logger     logger.Logger
}

// NewAnalyzer wires the analyzer to the aggregator and the shared cache.
func NewAnalyzer(aggregator *Aggregator, store *cache.Store, log logger.Logger) *Analyzer {
	return &Analyzer{
		aggregator: aggregator,
		cache:      store,
		logger:     log,
	}
}

// Compare counts tickets in the current window and in a same-length window
// shifted back by comparisonDays, then reports the percent change per
// status plus the overall total. The denominator is floor-clamped to 1 so
// an empty comparison window cannot divide by zero.
func (t *Analyzer) Compare(ctx context.Context, currentStart, currentEnd time.Time, comparisonDays int, useCache bool) (*domain.TrendComparison, error) {
	key := fmt.Sprintf("compare:%s/%s/%d",
		currentStart.Format(glpiDateFormat), currentEnd.Format(glpiDateFormat), comparisonDays)
	if useCache {
		if v, ok := t.cache.Get(cache.NamespaceTrends, key); ok {
			if cached, ok := v.(*domain.TrendComparison); ok {
				return cached, nil
			}
		}
	}

	comparisonStart := currentStart.AddDate(0, 0, -comparisonDays)
	comparisonEnd := currentEnd.AddDate(0, 0, -comparisonDays)

	current, err := t.totals(ctx, currentStart, currentEnd)
	if err != nil {
		return nil, err
	}
	previous, err := t.totals(ctx, comparisonStart, comparisonEnd)
	if err != nil {
		return nil, err
	}

	change := make(map[string]float64, len(current))
	for metric, cur := range current {
		prev := previous[metric]
		denom := prev
		if denom < 1 {
			denom = 1
		}
		change[metric] = float64(cur-prev) / float64(denom) * 100
	}

	comparison := &domain.TrendComparison{
		CurrentStart:     currentStart,
		CurrentEnd:       currentEnd,
		ComparisonStart:  comparisonStart,
		ComparisonEnd:    comparisonEnd,
		CurrentTotals:    current,
		ComparisonTotals: previous,
		PercentChange:    change,
		GeneratedAt:      time.Now(),
	}
	t.cache.Set(cache.NamespaceTrends, key, comparison, cache.TTLTrends)
	return comparison, nil
}

func (t *Analyzer) totals(ctx context.Context, start, end time.Time) (map[string]int, error) {
	lm, err := t.aggregator.CountGeneral(ctx, domain.TicketCountQuery{
		StartDate: &start,
		EndDate:   &end,
	})
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int, len(lm.Counts)+1)
	for status, count := range lm.Counts {
		totals[status] = count
	}
	totals["total"] = lm.Total
	return totals, nil
}
