package metrics

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/triago/triago/domain"
	"github.com/triago/triago/domain/apperror"
	"github.com/triago/triago/infrastructure/service/logger"
	"github.com/triago/triago/internal/cache"
	"github.com/triago/triago/internal/glpi"
)

// rankingWindow bounds how far back the ranking looks.
const rankingWindow = 30 * 24 * time.Hour

// rankingSampleRange caps the rows fetched per ranking query.
const rankingSampleRange = "0-999"

// Ranker builds the technician leaderboard from per-ticket assignments.
type Ranker struct {
	gateway *glpi.Gateway
	cache   *cache.Store
	fields  *glpi.FieldCatalog
	logger  logger.Logger
}

// NewRanker wires the ranker to its collaborators.
func NewRanker(gateway *glpi.Gateway, store *cache.Store, fields *glpi.FieldCatalog, log logger.Logger) *Ranker {
	return &Ranker{
		gateway: gateway,
		cache:   store,
		fields:  fields,
		logger:  log,
	}
}

// Ranking returns technicians ordered by tickets resolved inside the
// ranking window; ties break on assigned load, then name.
func (r *Ranker) Ranking(ctx context.Context, useCache bool) ([]domain.TechnicianScore, error) {
	const key = "technicians"
	if useCache {
		if v, ok := r.cache.Get(cache.NamespaceRanking, key); ok {
			if cached, ok := v.([]domain.TechnicianScore); ok {
				return cached, nil
			}
		}
	}

	resolved, err := r.countByTechnician(ctx, []string{"solved", "closed"})
	if err != nil {
		return nil, err
	}
	assigned, err := r.countByTechnician(ctx, []string{"processing", "pending"})
	if err != nil {
		// resolved counts alone still make a usable ranking
		r.logger.Warn(ctx, "assigned counts unavailable for ranking", map[string]interface{}{
			"error": err.Error(),
		})
		assigned = map[string]int{}
	}

	names := make(map[string]struct{}, len(resolved)+len(assigned))
	for name := range resolved {
		names[name] = struct{}{}
	}
	for name := range assigned {
		names[name] = struct{}{}
	}

	scores := make([]domain.TechnicianScore, 0, len(names))
	for name := range names {
		scores = append(scores, domain.TechnicianScore{
			TechnicianName: name,
			ResolvedCount:  resolved[name],
			AssignedCount:  assigned[name],
		})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].ResolvedCount != scores[j].ResolvedCount {
			return scores[i].ResolvedCount > scores[j].ResolvedCount
		}
		if scores[i].AssignedCount != scores[j].AssignedCount {
			return scores[i].AssignedCount > scores[j].AssignedCount
		}
		return scores[i].TechnicianName < scores[j].TechnicianName
	})
	for i := range scores {
		scores[i].Rank = i + 1
	}

	r.cache.Set(cache.NamespaceRanking, key, scores, cache.TTLTechnicianRanking)
	return scores, nil
}

// countByTechnician samples tickets in the given statuses and tallies them
// per assigned technician.
func (r *Ranker) countByTechnician(ctx context.Context, statuses []string) (map[string]int, error) {
	techField := r.fields.FieldID(ctx, glpi.FieldTechnician)[0]
	dateField := r.fields.FieldID(ctx, glpi.FieldDateCreation)[0]
	since := time.Now().Add(-rankingWindow)

	codes := make([]string, 0, len(statuses))
	for _, status := range statuses {
		if code, ok := statusCodes[status]; ok {
			codes = append(codes, code)
		}
	}

	// the status alternatives are grouped so the date window applies to all
	// of them, not just the last ORed one
	q := glpi.NewSearchQuery().
		Display(techField).
		Range(rankingSampleRange).
		Where(dateField, glpi.SearchMoreThan, since.Format(glpiDateFormat)).
		WhereAnyOf(r.fields.FieldID(ctx, glpi.FieldStatus)[0], glpi.SearchEquals, codes...)

	resp, err := r.gateway.Request(ctx, http.MethodGet, "/search/Ticket", q.Values(), true)
	if err != nil {
		return nil, err
	}
	result, err := glpi.DecodeSearchResult(resp.Body)
	if err != nil {
		return nil, apperror.Wrap(apperror.ErrCodeUpstreamRejected, "unparseable search response", err)
	}

	counts := make(map[string]int)
	for _, row := range result.Data {
		for _, name := range glpi.StringValues(row[techField]) {
			if name == "" || isNumericZero(name) {
				continue
			}
			counts[name]++
		}
	}
	return counts, nil
}

// isNumericZero filters out GLPI's "0" placeholder for unassigned tickets.
func isNumericZero(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n == 0
}
