package glpi

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// GLPI search link operators and search types.
const (
	LinkAND = "AND"
	LinkOR  = "OR"

	SearchEquals   = "equals"
	SearchContains = "contains"
	SearchMoreThan = "morethan"
	SearchLessThan = "lessthan"
)

// Criterion is one node of a GLPI search criteria tree. A node either
// matches a field or groups child criteria, never both.
type Criterion struct {
	Link       string
	FieldID    string
	SearchType string
	Value      string
	Children   []Criterion
}

// SearchQuery assembles the query string for GET /search/<itemtype>.
type SearchQuery struct {
	criteria     []Criterion
	forceDisplay []string
	rangeSpec    string
}

// NewSearchQuery starts an empty query.
func NewSearchQuery() *SearchQuery {
	return &SearchQuery{}
}

// Where appends a criterion; the first criterion carries no link operator.
func (q *SearchQuery) Where(fieldID, searchType, value string) *SearchQuery {
	link := LinkAND
	if len(q.criteria) == 0 {
		link = ""
	}
	q.criteria = append(q.criteria, Criterion{Link: link, FieldID: fieldID, SearchType: searchType, Value: value})
	return q
}

// WhereOr appends a criterion joined with OR.
func (q *SearchQuery) WhereOr(fieldID, searchType, value string) *SearchQuery {
	q.criteria = append(q.criteria, Criterion{Link: LinkOR, FieldID: fieldID, SearchType: searchType, Value: value})
	return q
}

// WhereAnyOf appends one grouped criterion matching any of the values.
// GLPI flattens top-level criteria into SQL where AND binds tighter than
// OR, so alternatives must be grouped to keep sibling criteria applied.
func (q *SearchQuery) WhereAnyOf(fieldID, searchType string, values ...string) *SearchQuery {
	group := make([]Criterion, 0, len(values))
	for i, value := range values {
		link := LinkOR
		if i == 0 {
			link = ""
		}
		group = append(group, Criterion{Link: link, FieldID: fieldID, SearchType: searchType, Value: value})
	}
	link := LinkAND
	if len(q.criteria) == 0 {
		link = ""
	}
	q.criteria = append(q.criteria, Criterion{Link: link, Children: group})
	return q
}

// Display requests the given field IDs in result rows.
func (q *SearchQuery) Display(fieldIDs ...string) *SearchQuery {
	q.forceDisplay = append(q.forceDisplay, fieldIDs...)
	return q
}

// Range limits the returned rows, e.g. "0-0" for a pure count.
func (q *SearchQuery) Range(spec string) *SearchQuery {
	q.rangeSpec = spec
	return q
}

// Values encodes the query into GLPI's criteria[i][...] URL parameters.
func (q *SearchQuery) Values() url.Values {
	v := url.Values{}
	for i, c := range q.criteria {
		prefix := fmt.Sprintf("criteria[%d]", i)
		if c.Link != "" {
			v.Set(prefix+"[link]", c.Link)
		}
		if len(c.Children) > 0 {
			for j, sub := range c.Children {
				subPrefix := fmt.Sprintf("%s[criteria][%d]", prefix, j)
				if sub.Link != "" {
					v.Set(subPrefix+"[link]", sub.Link)
				}
				v.Set(subPrefix+"[field]", sub.FieldID)
				v.Set(subPrefix+"[searchtype]", sub.SearchType)
				v.Set(subPrefix+"[value]", sub.Value)
			}
			continue
		}
		v.Set(prefix+"[field]", c.FieldID)
		v.Set(prefix+"[searchtype]", c.SearchType)
		v.Set(prefix+"[value]", c.Value)
	}
	for i, f := range q.forceDisplay {
		v.Set(fmt.Sprintf("forcedisplay[%d]", i), f)
	}
	if q.rangeSpec != "" {
		v.Set("range", q.rangeSpec)
	}
	return v
}

// SearchResult is the envelope GLPI wraps search answers in. Row values are
// left raw: depending on the field they arrive as strings, numbers or arrays.
type SearchResult struct {
	TotalCount int                          `json:"totalcount"`
	Count      int                          `json:"count"`
	Data       []map[string]json.RawMessage `json:"data"`
}

// DecodeSearchResult parses a /search response body.
func DecodeSearchResult(body []byte) (*SearchResult, error) {
	var result SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode search result: %w", err)
	}
	return &result, nil
}

// StringValue flattens a raw row value to a string: plain strings come back
// as-is, arrays yield their first element, anything else its JSON text.
func StringValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return StringValue(list[0])
	}
	return string(raw)
}

// StringValues flattens a raw row value to all its string elements.
func StringValues(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := StringValue(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s := StringValue(raw); s != "" {
		return []string{s}
	}
	return nil
}
