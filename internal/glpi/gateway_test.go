package glpi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triago/triago/domain/apperror"
	"github.com/triago/triago/infrastructure/service/logger"
)

func newTestGateway(t *testing.T, upstream *httptest.Server) *Gateway {
	t.Helper()
	cfg := testClientConfig(upstream.URL)
	sessions := NewSessionManager(cfg, upstream.Client(), logger.NewNopLogger(), testPolicy())
	return NewGateway(cfg, upstream.Client(), sessions, logger.NewNopLogger(), testPolicy())
}

func TestGateway_Request_AttachesAuthHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/initSession":
			fmt.Fprint(w, `{"session_token":"tok-1"}`)
		case "/search/Ticket":
			assert.Equal(t, "tok-1", r.Header.Get("Session-Token"))
			assert.Equal(t, "app-token", r.Header.Get("App-Token"))
			fmt.Fprint(w, `{"totalcount":7,"count":0,"data":[]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	gw := newTestGateway(t, upstream)

	resp, err := gw.Request(context.Background(), http.MethodGet, "/search/Ticket", url.Values{}, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), `"totalcount":7`)
}

func TestGateway_Request_RetriesServerErrors(t *testing.T) {
	var searches int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/initSession" {
			fmt.Fprint(w, `{"session_token":"tok-1"}`)
			return
		}
		if atomic.AddInt64(&searches, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"totalcount":1,"count":0,"data":[]}`)
	}))
	defer upstream.Close()

	gw := newTestGateway(t, upstream)

	resp, err := gw.Request(context.Background(), http.MethodGet, "/search/Ticket", url.Values{}, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(3), atomic.LoadInt64(&searches))
}

func TestGateway_Request_SurfacesUnavailableAfterExhaustion(t *testing.T) {
	var searches int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/initSession" {
			fmt.Fprint(w, `{"session_token":"tok-1"}`)
			return
		}
		atomic.AddInt64(&searches, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	gw := newTestGateway(t, upstream)

	_, err := gw.Request(context.Background(), http.MethodGet, "/search/Ticket", url.Values{}, true)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeUpstreamUnavailable, apperror.CodeOf(err))
	assert.Equal(t, int64(3), atomic.LoadInt64(&searches))
}

func TestGateway_Request_ReauthenticatesOnceOn401(t *testing.T) {
	var logins int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/initSession":
			n := atomic.AddInt64(&logins, 1)
			fmt.Fprintf(w, `{"session_token":"tok-%d"}`, n)
		case "/search/Ticket":
			// the first token is treated as expired mid-flight
			if r.Header.Get("Session-Token") == "tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"totalcount":3,"count":0,"data":[]}`)
		}
	}))
	defer upstream.Close()

	gw := newTestGateway(t, upstream)

	resp, err := gw.Request(context.Background(), http.MethodGet, "/search/Ticket", url.Values{}, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), atomic.LoadInt64(&logins))
}

func TestGateway_Request_GivesUpAfterSecond401(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/initSession" {
			fmt.Fprint(w, `{"session_token":"tok-1"}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	gw := newTestGateway(t, upstream)

	_, err := gw.Request(context.Background(), http.MethodGet, "/search/Ticket", url.Values{}, true)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeUpstreamUnauthorized, apperror.CodeOf(err))
}

func TestGateway_Request_LoginFailureIsNotRetried(t *testing.T) {
	var logins int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/initSession" {
			atomic.AddInt64(&logins, 1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"totalcount":1,"count":0,"data":[]}`)
	}))
	defer upstream.Close()

	gw := newTestGateway(t, upstream)

	_, err := gw.Request(context.Background(), http.MethodGet, "/search/Ticket", url.Values{}, true)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeAuthExhausted, apperror.CodeOf(err))
	// the session manager's own loop is the only login budget: the gateway
	// must not multiply it by re-dispatching
	assert.Equal(t, int64(3), atomic.LoadInt64(&logins))
}

func TestGateway_Request_InvalidCredentialsAreNotRetried(t *testing.T) {
	var logins int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/initSession" {
			atomic.AddInt64(&logins, 1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"totalcount":1,"count":0,"data":[]}`)
	}))
	defer upstream.Close()

	gw := newTestGateway(t, upstream)

	_, err := gw.Request(context.Background(), http.MethodGet, "/search/Ticket", url.Values{}, true)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeAuthInvalid, apperror.CodeOf(err))
	assert.Equal(t, int64(1), atomic.LoadInt64(&logins))
}

func TestGateway_Request_PartialContentIsSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/initSession" {
			fmt.Fprint(w, `{"session_token":"tok-1"}`)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, `{"totalcount":500,"count":50,"data":[]}`)
	}))
	defer upstream.Close()

	gw := newTestGateway(t, upstream)

	resp, err := gw.Request(context.Background(), http.MethodGet, "/search/Ticket", url.Values{}, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
}

func TestGateway_Request_TransportFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // nothing is listening anymore

	cfg := testClientConfig(upstream.URL)
	sessions := NewSessionManager(cfg, http.DefaultClient, logger.NewNopLogger(), testPolicy())
	gw := NewGateway(cfg, http.DefaultClient, sessions, logger.NewNopLogger(), testPolicy())

	_, err := gw.Request(context.Background(), http.MethodGet, "/search/Ticket", url.Values{}, false)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeUpstreamUnavailable, apperror.CodeOf(err))
}
