package domain

import "time"

// Level identifies a support tier in the ticket escalation hierarchy.
type Level string

const (
	LevelN1 Level = "N1"
	LevelN2 Level = "N2"
	LevelN3 Level = "N3"
	LevelN4 Level = "N4"
)

// Levels lists every tier in escalation order.
var Levels = []Level{LevelN1, LevelN2, LevelN3, LevelN4}

// GroupID returns the upstream GLPI group identifier bound to the tier.
func (l Level) GroupID() int {
	switch l {
	case LevelN1:
		return 4
	case LevelN2:
		return 5
	case LevelN3:
		return 6
	case LevelN4:
		return 7
	}
	return 0
}

// ParseLevel maps a string to a Level, reporting whether it matched.
func ParseLevel(s string) (Level, bool) {
	switch Level(s) {
	case LevelN1, LevelN2, LevelN3, LevelN4:
		return Level(s), true
	}
	return "", false
}

// TicketCountQuery is the filter input consumed by the aggregator.
// All fields are optional; the zero value means "count everything".
type TicketCountQuery struct {
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Level     *Level     `json:"level,omitempty"`
	Status    string     `json:"status,omitempty"`
	GroupID   *int       `json:"group_id,omitempty"`
	// DateField selects which upstream date the range applies to:
	// "date_creation" (default) or "date_mod".
	DateField string `json:"date_field,omitempty"`
}

// LevelMetrics holds ticket counts for one support tier.
type LevelMetrics struct {
	Level   Level          `json:"level"`
	GroupID int            `json:"group_id"`
	Counts  map[string]int `json:"counts"`
	Total   int            `json:"total"`
}

// HierarchyResult is the per-tier count map returned by the aggregator.
// Degraded marks a best-effort result where at least one tier query failed.
type HierarchyResult struct {
	Levels   map[Level]LevelMetrics `json:"levels"`
	Total    int                    `json:"total"`
	Degraded bool                   `json:"degraded"`
}

// DashboardSnapshot aggregates all tiers plus global totals. It is rebuilt
// on every cache miss and never mutated after construction.
type DashboardSnapshot struct {
	Levels                map[Level]LevelMetrics `json:"levels"`
	TotalTickets          int                    `json:"total_tickets"`
	StatusBreakdown       map[string]int         `json:"status_breakdown"`
	AverageResolutionTime time.Duration          `json:"average_resolution_time"`
	Degraded              bool                   `json:"degraded"`
	GeneratedAt           time.Time              `json:"generated_at"`
}

// TrendComparison holds a period-over-period comparison of ticket metrics.
type TrendComparison struct {
	CurrentStart     time.Time          `json:"current_start"`
	CurrentEnd       time.Time          `json:"current_end"`
	ComparisonStart  time.Time          `json:"comparison_start"`
	ComparisonEnd    time.Time          `json:"comparison_end"`
	CurrentTotals    map[string]int     `json:"current_totals"`
	ComparisonTotals map[string]int     `json:"comparison_totals"`
	PercentChange    map[string]float64 `json:"percent_change"`
	GeneratedAt      time.Time          `json:"generated_at"`
}

// TechnicianScore is one row of the technician ranking.
type TechnicianScore struct {
	TechnicianID   int    `json:"technician_id"`
	TechnicianName string `json:"technician_name"`
	ResolvedCount  int    `json:"resolved_count"`
	AssignedCount  int    `json:"assigned_count"`
	Rank           int    `json:"rank"`
}

// HealthStatus is the facade health report consumed by the route layer.
type HealthStatus struct {
	Authenticated     bool       `json:"authenticated"`
	UpstreamReachable bool       `json:"upstream_reachable"`
	CacheStats        CacheStats `json:"cache_stats"`
	CheckedAt         time.Time  `json:"checked_at"`
}

// CacheStats reports hit/miss counters for the shared cache.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}
