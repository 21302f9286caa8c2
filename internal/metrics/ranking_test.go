package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triago/triago/infrastructure/service/logger"
	"github.com/triago/triago/internal/cache"
	"github.com/triago/triago/internal/glpi"
)

func newRankerFixture(t *testing.T, search http.HandlerFunc) (*Ranker, *cache.Store) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/initSession", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"session_token":"tok-1"}`)
	})
	mux.HandleFunc("/search/Ticket", search)
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	cfg := glpi.ClientConfig{
		BaseURL:   upstream.URL,
		AppToken:  "app-token",
		UserToken: "user-token",
		Timeout:   5 * time.Second,
	}
	log := logger.NewNopLogger()
	sessions := glpi.NewSessionManager(cfg, upstream.Client(), log, fastPolicy())
	gateway := glpi.NewGateway(cfg, upstream.Client(), sessions, log, fastPolicy())
	store := cache.NewStore()
	fields := glpi.NewFieldCatalog(gateway, store, log)

	return NewRanker(gateway, store, fields, log), store
}

// technicianFieldID is the first fallback ID for the technician field.
const technicianFieldID = "5"

// groupedCriterionValue walks nested criteria[i][criteria][j] groups and
// returns the first value matching the field.
func groupedCriterionValue(r *http.Request, field string) string {
	q := r.URL.Query()
	for i := 0; ; i++ {
		flat := q.Get(fmt.Sprintf("criteria[%d][field]", i))
		nested := q.Get(fmt.Sprintf("criteria[%d][criteria][0][field]", i))
		if flat == "" && nested == "" {
			return ""
		}
		for j := 0; ; j++ {
			f := q.Get(fmt.Sprintf("criteria[%d][criteria][%d][field]", i, j))
			if f == "" {
				break
			}
			if f == field {
				return q.Get(fmt.Sprintf("criteria[%d][criteria][%d][value]", i, j))
			}
		}
	}
}

func TestRanker_Ranking_TalliesAndSorts(t *testing.T) {
	ranker, _ := newRankerFixture(t, func(w http.ResponseWriter, r *http.Request) {
		switch groupedCriterionValue(r, statusFieldID) {
		case "5": // resolved sample: solved or closed
			fmt.Fprint(w, `{"totalcount":6,"count":6,"data":[
				{"5":"alice"},{"5":"alice"},{"5":"alice"},
				{"5":"bob"},{"5":"0"},{"5":["carol","dave"]}
			]}`)
		case "2": // assigned sample: processing or pending
			fmt.Fprint(w, `{"totalcount":3,"count":3,"data":[
				{"5":"bob"},{"5":"bob"},{"5":"carol"}
			]}`)
		default:
			t.Errorf("unexpected status criterion in %s", r.URL.RawQuery)
		}
	})

	scores, err := ranker.Ranking(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, scores, 4, `the "0" placeholder must not become a technician`)

	assert.Equal(t, "alice", scores[0].TechnicianName)
	assert.Equal(t, 3, scores[0].ResolvedCount)
	assert.Equal(t, 1, scores[0].Rank)

	// bob and carol both resolved one; bob's heavier assigned load wins the tie
	assert.Equal(t, "bob", scores[1].TechnicianName)
	assert.Equal(t, 2, scores[1].AssignedCount)
	assert.Equal(t, "carol", scores[2].TechnicianName)
	assert.Equal(t, "dave", scores[3].TechnicianName)
	assert.Equal(t, 4, scores[3].Rank)
}

func TestRanker_Ranking_SurvivesAssignedFailure(t *testing.T) {
	ranker, _ := newRankerFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if groupedCriterionValue(r, statusFieldID) == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"totalcount":1,"count":1,"data":[{"5":"alice"}]}`)
	})

	scores, err := ranker.Ranking(context.Background(), true)
	require.NoError(t, err, "missing assigned counts must not fail the ranking")
	require.Len(t, scores, 1)
	assert.Equal(t, 1, scores[0].ResolvedCount)
	assert.Equal(t, 0, scores[0].AssignedCount)
}

func TestRanker_Ranking_DateWindowWrapsAllStatuses(t *testing.T) {
	ranker, _ := newRankerFixture(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		// the date constraint leads, ANDed against the grouped statuses
		assert.Equal(t, "15", q.Get("criteria[0][field]"))
		assert.Equal(t, glpi.SearchMoreThan, q.Get("criteria[0][searchtype]"))
		assert.Equal(t, glpi.LinkAND, q.Get("criteria[1][link]"))

		// both statuses sit inside one group so neither escapes the window
		assert.Equal(t, statusFieldID, q.Get("criteria[1][criteria][0][field]"))
		assert.Equal(t, statusFieldID, q.Get("criteria[1][criteria][1][field]"))
		assert.Equal(t, glpi.LinkOR, q.Get("criteria[1][criteria][1][link]"))
		assert.Empty(t, q.Get("criteria[1][field]"))

		fmt.Fprint(w, `{"totalcount":0,"count":0,"data":[]}`)
	})

	_, err := ranker.Ranking(context.Background(), false)
	require.NoError(t, err)
}

func TestRanker_Ranking_CacheShortCircuits(t *testing.T) {
	var searches int64
	ranker, _ := newRankerFixture(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&searches, 1)
		fmt.Fprint(w, `{"totalcount":1,"count":1,"data":[{"5":"alice"}]}`)
	})

	_, err := ranker.Ranking(context.Background(), true)
	require.NoError(t, err)
	first := atomic.LoadInt64(&searches)

	_, err = ranker.Ranking(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, first, atomic.LoadInt64(&searches), "cached ranking must not query upstream")
}
