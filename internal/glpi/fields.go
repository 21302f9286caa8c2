package glpi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"golang.org/x/sync/singleflight"

	"github.com/triago/triago/domain/apperror"
	"github.com/triago/triago/infrastructure/service/logger"
	"github.com/triago/triago/internal/cache"
)

// Logical field names the rest of the system navigates by. The catalog
// resolves them to whatever numeric IDs the deployed GLPI instance uses.
const (
	FieldStatus       = "status"
	FieldPriority     = "priority"
	FieldCategory     = "category"
	FieldTechnician   = "technician"
	FieldEntity       = "entity"
	FieldGroup        = "group"
	FieldDateCreation = "date_creation"
	FieldDateMod      = "date_mod"
)

// LogicalFields lists every logical name the catalog resolves.
var LogicalFields = []string{
	FieldStatus, FieldPriority, FieldCategory, FieldTechnician,
	FieldEntity, FieldGroup, FieldDateCreation, FieldDateMod,
}

// staticFieldTable holds the known-good IDs of a stock GLPI deployment,
// used whenever discovery has not run or has failed.
var staticFieldTable = map[string][]string{
	FieldStatus:       {"12"},
	FieldPriority:     {"3"},
	FieldCategory:     {"7"},
	FieldTechnician:   {"5", "8"},
	FieldEntity:       {"80"},
	FieldGroup:        {"8"},
	FieldDateCreation: {"15"},
	FieldDateMod:      {"19"},
}

// FieldSource tags where a mapping came from.
type FieldSource string

const (
	SourceDiscovered FieldSource = "discovered"
	SourceFallback   FieldSource = "fallback"
)

// FieldMapping is the resolved logical-name table. Immutable once cached.
type FieldMapping struct {
	Source FieldSource
	Fields map[string][]string
}

const fieldCacheKey = "ticket"

// FieldCatalog discovers the upstream search-field IDs for tickets and
// memoizes the result in the shared cache. Discovery failure is never
// fatal: the static table takes over with a shorter TTL so the next
// cache miss retries discovery sooner.
type FieldCatalog struct {
	gateway *Gateway
	cache   *cache.Store
	logger  logger.Logger
	flight  singleflight.Group
}

// NewFieldCatalog wires the catalog to the gateway and the shared cache.
func NewFieldCatalog(gateway *Gateway, store *cache.Store, log logger.Logger) *FieldCatalog {
	return &FieldCatalog{
		gateway: gateway,
		cache:   store,
		logger:  log,
	}
}

// searchOption is one entry of listSearchOptions. GLPI mixes option objects
// with plain string group labels, so every field is optional.
type searchOption struct {
	Name      string `json:"name"`
	Table     string `json:"table"`
	Field     string `json:"field"`
	LinkField string `json:"linkfield"`
}

// Discover queries the upstream schema endpoint and caches the resolved
// mapping. On any failure the static table is cached instead, under the
// shorter fallback TTL, and the discovery error is returned for logging.
func (c *FieldCatalog) Discover(ctx context.Context) error {
	mapping, err := c.discover(ctx)
	if err != nil {
		c.logger.Warn(ctx, "field discovery failed, using static fallback", map[string]interface{}{
			"error": err.Error(),
		})
		c.cache.Set(cache.NamespaceFields, fieldCacheKey, fallbackMapping(), cache.TTLFieldsFallback)
		return err
	}
	c.cache.Set(cache.NamespaceFields, fieldCacheKey, mapping, cache.TTLFieldsDiscovered)
	c.logger.Info(ctx, "field discovery completed", map[string]interface{}{
		"fields": len(mapping.Fields),
	})
	return nil
}

func (c *FieldCatalog) discover(ctx context.Context) (*FieldMapping, error) {
	resp, err := c.gateway.Request(ctx, http.MethodGet, "/listSearchOptions/Ticket", url.Values{}, true)
	if err != nil {
		return nil, apperror.Wrap(apperror.ErrCodeDiscoveryUnreachable, "field discovery endpoint unreachable", err)
	}

	var options map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &options); err != nil {
		return nil, apperror.Wrap(apperror.ErrCodeSchemaMismatch, "unexpected search options payload", err)
	}

	fields := make(map[string][]string, len(LogicalFields))
	for id, raw := range options {
		var opt searchOption
		if err := json.Unmarshal(raw, &opt); err != nil {
			// group labels arrive as bare strings, skip them
			continue
		}
		if logical, ok := classify(opt); ok {
			fields[logical] = appendOrdered(fields[logical], id)
		}
	}

	for _, logical := range LogicalFields {
		if len(fields[logical]) == 0 {
			return nil, apperror.Wrap(apperror.ErrCodeSchemaMismatch, "discovery resolved no ID for "+logical, nil)
		}
	}
	return &FieldMapping{Source: SourceDiscovered, Fields: fields}, nil
}

// classify maps one search option to a logical name. Matching follows the
// tables and link fields a stock GLPI exposes for the Ticket itemtype.
func classify(opt searchOption) (string, bool) {
	switch {
	case opt.Table == "glpi_tickets" && opt.Field == "status":
		return FieldStatus, true
	case opt.Table == "glpi_tickets" && opt.Field == "priority":
		return FieldPriority, true
	case opt.Table == "glpi_itilcategories":
		return FieldCategory, true
	case opt.Table == "glpi_users" && opt.LinkField == "users_id_tech":
		return FieldTechnician, true
	case opt.Table == "glpi_entities":
		return FieldEntity, true
	case opt.Table == "glpi_groups" && opt.LinkField == "groups_id_tech":
		return FieldGroup, true
	case opt.Table == "glpi_tickets" && opt.Field == "date":
		return FieldDateCreation, true
	case opt.Table == "glpi_tickets" && opt.Field == "date_mod":
		return FieldDateMod, true
	}
	return "", false
}

// appendOrdered keeps IDs sorted numerically-as-strings by insertion scan,
// so repeated discoveries yield a stable order regardless of map iteration.
func appendOrdered(ids []string, id string) []string {
	for i, existing := range ids {
		if lessNumeric(id, existing) {
			return append(ids[:i], append([]string{id}, ids[i:]...)...)
		}
	}
	return append(ids, id)
}

func lessNumeric(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// FieldID resolves a logical name to its ordered upstream IDs. It never
// returns an empty mapping: a cache miss triggers lazy discovery, and the
// static table covers every failure mode.
func (c *FieldCatalog) FieldID(ctx context.Context, logical string) []string {
	mapping := c.mapping(ctx)
	if ids := mapping.Fields[logical]; len(ids) > 0 {
		return ids
	}
	return staticFieldTable[logical]
}

// Source reports where the current mapping came from.
func (c *FieldCatalog) Source(ctx context.Context) FieldSource {
	return c.mapping(ctx).Source
}

func (c *FieldCatalog) mapping(ctx context.Context) *FieldMapping {
	if v, ok := c.cache.Get(cache.NamespaceFields, fieldCacheKey); ok {
		if m, ok := v.(*FieldMapping); ok {
			return m
		}
	}

	// collapse concurrent first-use discoveries into one upstream call
	v, _, _ := c.flight.Do(fieldCacheKey, func() (interface{}, error) {
		if v, ok := c.cache.Get(cache.NamespaceFields, fieldCacheKey); ok {
			return v, nil
		}
		_ = c.Discover(ctx)
		if v, ok := c.cache.Get(cache.NamespaceFields, fieldCacheKey); ok {
			return v, nil
		}
		return fallbackMapping(), nil
	})
	if m, ok := v.(*FieldMapping); ok {
		return m
	}
	return fallbackMapping()
}

// Refresh drops the cached mapping and re-runs discovery immediately.
func (c *FieldCatalog) Refresh(ctx context.Context) error {
	c.Invalidate()
	return c.Discover(ctx)
}

// Invalidate drops the cached mapping; the next FieldID call rediscovers.
func (c *FieldCatalog) Invalidate() {
	c.cache.Invalidate(cache.NamespaceFields, fieldCacheKey)
}

func fallbackMapping() *FieldMapping {
	fields := make(map[string][]string, len(staticFieldTable))
	for k, v := range staticFieldTable {
		fields[k] = append([]string(nil), v...)
	}
	return &FieldMapping{Source: SourceFallback, Fields: fields}
}
