// Package metrics builds the consolidated ticket metrics served by the
// facade: per-tier counts, dashboard snapshots, trend comparisons and the
// technician ranking.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/triago/triago/domain"
	"github.com/triago/triago/domain/apperror"
	"github.com/triago/triago/infrastructure/service/logger"
	"github.com/triago/triago/internal/cache"
	"github.com/triago/triago/internal/glpi"
)

// glpiDateFormat is the timestamp layout GLPI uses in criteria and rows.
const glpiDateFormat = "2006-01-02 15:04:05"

// Ticket status codes of a stock GLPI instance, keyed by the names the
// facade exposes.
var statusCodes = map[string]string{
	"new":        "1",
	"processing": "2",
	"planned":    "3",
	"pending":    "4",
	"solved":     "5",
	"closed":     "6",
}

// knownStatuses iterates statusCodes in a stable order.
var knownStatuses = []string{"new", "processing", "planned", "pending", "solved", "closed"}

// Aggregator issues the per-tier upstream searches and assembles hierarchy
// counts. Field IDs always go through the catalog so a reconfigured GLPI
// schema does not break the queries.
type Aggregator struct {
	gateway *glpi.Gateway
	cache   *cache.Store
	fields  *glpi.FieldCatalog
	logger  logger.Logger
}

// NewAggregator wires the aggregator to its collaborators.
func NewAggregator(gateway *glpi.Gateway, store *cache.Store, fields *glpi.FieldCatalog, log logger.Logger) *Aggregator {
	return &Aggregator{
		gateway: gateway,
		cache:   store,
		fields:  fields,
		logger:  log,
	}
}

// CountByHierarchy counts tickets per support tier. A tier whose upstream
// query fails is skipped and the result is flagged degraded; only when
// every tier fails does the call return an error.
func (a *Aggregator) CountByHierarchy(ctx context.Context, query domain.TicketCountQuery, useCache bool) (*domain.HierarchyResult, error) {
	key := "hierarchy:" + queryKey(query)
	if useCache {
		if v, ok := a.cache.Get(cache.NamespaceDashboard, key); ok {
			if cached, ok := v.(*domain.HierarchyResult); ok {
				return cached, nil
			}
		}
	}

	levels := domain.Levels
	if query.Level != nil {
		levels = []domain.Level{*query.Level}
	}

	result := &domain.HierarchyResult{
		Levels: make(map[domain.Level]domain.LevelMetrics, len(levels)),
	}
	var lastErr error

	for _, level := range levels {
		lm, err := a.countLevel(ctx, level, query)
		if err != nil {
			a.logger.Warn(ctx, "tier count failed, continuing degraded", map[string]interface{}{
				"level": string(level),
				"error": err.Error(),
			})
			result.Degraded = true
			lastErr = err
			continue
		}
		result.Levels[level] = *lm
		result.Total += lm.Total
	}

	if len(result.Levels) == 0 {
		return nil, apperror.Wrap(apperror.ErrCodePartialFailure, "all tier queries failed", lastErr)
	}

	a.cache.Set(cache.NamespaceDashboard, key, result, cache.TTLDashboard)
	return result, nil
}

// CountGeneral counts tickets matching the query without a tier constraint,
// unless the query itself names a level.
func (a *Aggregator) CountGeneral(ctx context.Context, query domain.TicketCountQuery) (*domain.LevelMetrics, error) {
	if query.Level != nil {
		return a.countLevel(ctx, *query.Level, query)
	}

	lm := &domain.LevelMetrics{Counts: make(map[string]int)}
	if err := a.fillCounts(ctx, lm, query, nil); err != nil {
		return nil, err
	}
	return lm, nil
}

// MetricsByLevel assembles the full dashboard snapshot for a date range.
func (a *Aggregator) MetricsByLevel(ctx context.Context, startDate, endDate *time.Time, useCache bool) (*domain.DashboardSnapshot, error) {
	query := domain.TicketCountQuery{StartDate: startDate, EndDate: endDate}

	hierarchy, err := a.CountByHierarchy(ctx, query, useCache)
	if err != nil {
		return nil, err
	}

	snapshot := &domain.DashboardSnapshot{
		Levels:          hierarchy.Levels,
		TotalTickets:    hierarchy.Total,
		StatusBreakdown: make(map[string]int),
		Degraded:        hierarchy.Degraded,
		GeneratedAt:     time.Now(),
	}
	for _, lm := range hierarchy.Levels {
		for status, count := range lm.Counts {
			snapshot.StatusBreakdown[status] += count
		}
	}

	avg, err := a.averageResolutionTime(ctx, query)
	if err != nil {
		// resolution time is an extra; its failure only degrades the snapshot
		a.logger.Warn(ctx, "average resolution time unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		snapshot.Degraded = true
	} else {
		snapshot.AverageResolutionTime = avg
	}
	return snapshot, nil
}

// countLevel counts one tier, broken down by status.
func (a *Aggregator) countLevel(ctx context.Context, level domain.Level, query domain.TicketCountQuery) (*domain.LevelMetrics, error) {
	groupID := level.GroupID()
	if query.GroupID != nil {
		groupID = *query.GroupID
	}

	lm := &domain.LevelMetrics{
		Level:   level,
		GroupID: groupID,
		Counts:  make(map[string]int),
	}
	if err := a.fillCounts(ctx, lm, query, &groupID); err != nil {
		return nil, err
	}
	return lm, nil
}

// fillCounts populates lm.Counts, either for the single requested status or
// for every known status.
func (a *Aggregator) fillCounts(ctx context.Context, lm *domain.LevelMetrics, query domain.TicketCountQuery, groupID *int) error {
	statuses := knownStatuses
	if query.Status != "" {
		statuses = []string{query.Status}
	}

	for _, status := range statuses {
		count, err := a.countTickets(ctx, query, status, groupID)
		if err != nil {
			return err
		}
		lm.Counts[status] = count
		lm.Total += count
	}
	return nil
}

// countTickets issues one counting search (range 0-0, totalcount only).
func (a *Aggregator) countTickets(ctx context.Context, query domain.TicketCountQuery, status string, groupID *int) (int, error) {
	q := glpi.NewSearchQuery().Range("0-0")

	if status != "" {
		code, ok := statusCodes[status]
		if !ok {
			return 0, apperror.Wrap(apperror.ErrCodeUpstreamRejected, "unknown ticket status "+status, nil)
		}
		q.Where(a.fieldID(ctx, glpi.FieldStatus), glpi.SearchEquals, code)
	}
	if groupID != nil {
		q.Where(a.fieldID(ctx, glpi.FieldGroup), glpi.SearchEquals, fmt.Sprintf("%d", *groupID))
	}
	a.applyDateRange(ctx, q, query)

	resp, err := a.gateway.Request(ctx, http.MethodGet, "/search/Ticket", q.Values(), true)
	if err != nil {
		return 0, err
	}
	result, err := glpi.DecodeSearchResult(resp.Body)
	if err != nil {
		return 0, apperror.Wrap(apperror.ErrCodeUpstreamRejected, "unparseable search response", err)
	}
	return result.TotalCount, nil
}

func (a *Aggregator) applyDateRange(ctx context.Context, q *glpi.SearchQuery, query domain.TicketCountQuery) {
	dateLogical := glpi.FieldDateCreation
	if query.DateField == "date_mod" {
		dateLogical = glpi.FieldDateMod
	}
	dateField := a.fieldID(ctx, dateLogical)

	if query.StartDate != nil {
		q.Where(dateField, glpi.SearchMoreThan, query.StartDate.Format(glpiDateFormat))
	}
	if query.EndDate != nil {
		q.Where(dateField, glpi.SearchLessThan, query.EndDate.Format(glpiDateFormat))
	}
}

// fieldID resolves a logical field to its first upstream ID.
func (a *Aggregator) fieldID(ctx context.Context, logical string) string {
	ids := a.fields.FieldID(ctx, logical)
	return ids[0]
}

// solveDateFieldID is the stock GLPI search option for the resolution date.
// It is not part of the discovered logical set.
const solveDateFieldID = "17"

// averageResolutionTime samples recently solved tickets and averages the
// gap between creation and resolution.
func (a *Aggregator) averageResolutionTime(ctx context.Context, query domain.TicketCountQuery) (time.Duration, error) {
	creationField := a.fieldID(ctx, glpi.FieldDateCreation)

	q := glpi.NewSearchQuery().
		Where(a.fieldID(ctx, glpi.FieldStatus), glpi.SearchEquals, statusCodes["solved"]).
		Display(creationField, solveDateFieldID).
		Range("0-199")
	a.applyDateRange(ctx, q, query)

	resp, err := a.gateway.Request(ctx, http.MethodGet, "/search/Ticket", q.Values(), true)
	if err != nil {
		return 0, err
	}
	result, err := glpi.DecodeSearchResult(resp.Body)
	if err != nil {
		return 0, apperror.Wrap(apperror.ErrCodeUpstreamRejected, "unparseable search response", err)
	}

	var total time.Duration
	var n int
	for _, row := range result.Data {
		created, okCreated := parseRowTime(row[creationField])
		solved, okSolved := parseRowTime(row[solveDateFieldID])
		if !okCreated || !okSolved || solved.Before(created) {
			continue
		}
		total += solved.Sub(created)
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return total / time.Duration(n), nil
}

func parseRowTime(raw json.RawMessage) (time.Time, bool) {
	s := glpi.StringValue(raw)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(glpiDateFormat, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// queryKey derives a stable cache key from the query value.
func queryKey(query domain.TicketCountQuery) string {
	b, err := json.Marshal(query)
	if err != nil {
		return "invalid"
	}
	return string(b)
}
