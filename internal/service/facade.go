// Package service assembles the component graph and exposes the unified
// contract the route layer consumes.
package service

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/triago/triago/domain"
	"github.com/triago/triago/domain/apperror"
	"github.com/triago/triago/infrastructure/service/logger"
	"github.com/triago/triago/internal/cache"
	"github.com/triago/triago/internal/glpi"
	"github.com/triago/triago/internal/metrics"
	"github.com/triago/triago/internal/retry"
)

// Runtime holds the per-process shared state: the single session manager
// and the single cache store. Every component receives it by reference at
// construction time, which keeps "one instance per process" semantics
// without package-level globals and lets tests build a fresh one each.
type Runtime struct {
	Cache    *cache.Store
	Sessions *glpi.SessionManager
}

// NewRuntime builds the shared state for the given upstream settings.
func NewRuntime(cfg glpi.ClientConfig, transport glpi.Transport, log logger.Logger, policy retry.Policy) *Runtime {
	return &Runtime{
		Cache:    cache.NewStore(),
		Sessions: glpi.NewSessionManager(cfg, transport, log, policy),
	}
}

// Facade is the synchronous public contract over the metrics core.
type Facade struct {
	runtime    *Runtime
	gateway    *glpi.Gateway
	fields     *glpi.FieldCatalog
	aggregator *metrics.Aggregator
	composer   *metrics.Composer
	trends     *metrics.Analyzer
	ranker     *metrics.Ranker
	logger     logger.Logger
}

// NewFacade constructs the whole component graph in dependency order:
// sessions and cache first, then the gateway over the sessions, then the
// field catalog, then the aggregation layers on top.
func NewFacade(cfg glpi.ClientConfig, log logger.Logger) *Facade {
	return NewFacadeWithTransport(cfg, glpi.NewTransport(cfg.Timeout), log, retry.DefaultPolicy())
}

// NewFacadeWithTransport is the injection point tests use to substitute
// the upstream transport and backoff policy.
func NewFacadeWithTransport(cfg glpi.ClientConfig, transport glpi.Transport, log logger.Logger, policy retry.Policy) *Facade {
	runtime := NewRuntime(cfg, transport, log, policy)
	gateway := glpi.NewGateway(cfg, transport, runtime.Sessions, log, policy)
	fields := glpi.NewFieldCatalog(gateway, runtime.Cache, log)
	aggregator := metrics.NewAggregator(gateway, runtime.Cache, fields, log)

	return &Facade{
		runtime:    runtime,
		gateway:    gateway,
		fields:     fields,
		aggregator: aggregator,
		composer:   metrics.NewComposer(aggregator, runtime.Cache, log),
		trends:     metrics.NewAnalyzer(aggregator, runtime.Cache, log),
		ranker:     metrics.NewRanker(gateway, runtime.Cache, fields, log),
		logger:     log,
	}
}

// Authenticate eagerly opens an upstream session, reporting success.
func (f *Facade) Authenticate(ctx context.Context) bool {
	if err := f.runtime.Sessions.Login(ctx); err != nil {
		f.logger.Error(ctx, "upstream authentication failed", err, map[string]interface{}{})
		return false
	}
	return true
}

// GetDashboardMetrics returns the dashboard snapshot for an optional date
// range.
func (f *Facade) GetDashboardMetrics(ctx context.Context, startDate, endDate *time.Time, useCache bool) (*domain.DashboardSnapshot, error) {
	return f.composer.BuildSnapshot(ctx, startDate, endDate, useCache)
}

// GetTicketCountByHierarchy returns per-tier ticket counts for the query.
func (f *Facade) GetTicketCountByHierarchy(ctx context.Context, query domain.TicketCountQuery, useCache bool) (*domain.HierarchyResult, error) {
	return f.aggregator.CountByHierarchy(ctx, query, useCache)
}

// GetTechnicianRanking returns the technician leaderboard.
func (f *Facade) GetTechnicianRanking(ctx context.Context, useCache bool) ([]domain.TechnicianScore, error) {
	return f.ranker.Ranking(ctx, useCache)
}

// CalculateTrends compares the given window to the preceding one.
func (f *Facade) CalculateTrends(ctx context.Context, currentStart, currentEnd time.Time, comparisonDays int, useCache bool) (*domain.TrendComparison, error) {
	return f.trends.Compare(ctx, currentStart, currentEnd, comparisonDays, useCache)
}

// DiscoverFields forces an immediate field-catalog refresh.
func (f *Facade) DiscoverFields(ctx context.Context) error {
	return f.fields.Refresh(ctx)
}

// HealthCheck probes session validity and upstream reachability. It never
// fails: problems show up as false flags in the report.
func (f *Facade) HealthCheck(ctx context.Context) domain.HealthStatus {
	status := domain.HealthStatus{
		Authenticated: f.runtime.Sessions.IsValid(),
		CacheStats:    f.runtime.Cache.Stats(),
		CheckedAt:     time.Now(),
	}

	// unauthenticated probe; any HTTP answer at all proves reachability,
	// including the expected 401 for missing credentials
	_, err := f.gateway.Request(ctx, http.MethodGet, "/initSession", url.Values{}, false)
	switch apperror.CodeOf(err) {
	case "", apperror.ErrCodeUpstreamUnauthorized, apperror.ErrCodeUpstreamRejected:
		status.UpstreamReachable = true
	default:
		f.logger.Debug(ctx, "upstream unreachable during health check", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return status
}

// Logout closes the upstream session.
func (f *Facade) Logout(ctx context.Context) {
	f.runtime.Sessions.Logout(ctx)
}
