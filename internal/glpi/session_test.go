package glpi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triago/triago/domain/apperror"
	"github.com/triago/triago/infrastructure/service/logger"
	"github.com/triago/triago/internal/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
}

func testClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:   baseURL,
		AppToken:  "app-token",
		UserToken: "user-token",
		Timeout:   5 * time.Second,
	}
}

func TestSessionManager_Login_Success(t *testing.T) {
	var calls int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/initSession", r.URL.Path)
		assert.Equal(t, "app-token", r.Header.Get("App-Token"))
		assert.Equal(t, "user_token user-token", r.Header.Get("Authorization"))
		atomic.AddInt64(&calls, 1)
		fmt.Fprint(w, `{"session_token":"tok-1"}`)
	}))
	defer upstream.Close()

	m := NewSessionManager(testClientConfig(upstream.URL), upstream.Client(), logger.NewNopLogger(), testPolicy())

	require.NoError(t, m.Login(context.Background()))
	assert.True(t, m.IsValid())
	assert.Equal(t, "tok-1", m.Token())
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestSessionManager_Login_RetriesThenExhausts(t *testing.T) {
	var calls int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	m := NewSessionManager(testClientConfig(upstream.URL), upstream.Client(), logger.NewNopLogger(), testPolicy())

	err := m.Login(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeAuthExhausted, apperror.CodeOf(err))
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
	assert.False(t, m.IsValid())
}

func TestSessionManager_Login_InvalidCredentials(t *testing.T) {
	var calls int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	m := NewSessionManager(testClientConfig(upstream.URL), upstream.Client(), logger.NewNopLogger(), testPolicy())

	err := m.Login(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeAuthInvalid, apperror.CodeOf(err))
	// a definitive rejection is not worth a backoff loop
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestSessionManager_AuthHeaders_SingleFlight(t *testing.T) {
	var logins int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&logins, 1)
		time.Sleep(10 * time.Millisecond) // widen the race window
		fmt.Fprintf(w, `{"session_token":"tok-%d"}`, n)
	}))
	defer upstream.Close()

	m := NewSessionManager(testClientConfig(upstream.URL), upstream.Client(), logger.NewNopLogger(), testPolicy())

	const workers = 16
	tokens := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			headers, err := m.AuthHeaders(context.Background())
			assert.NoError(t, err)
			tokens[i] = headers.Get("Session-Token")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&logins))
	for _, tok := range tokens {
		assert.Equal(t, "tok-1", tok)
	}
}

func TestSessionManager_AuthHeaders_ReusesValidSession(t *testing.T) {
	var logins int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&logins, 1)
		fmt.Fprint(w, `{"session_token":"tok-1"}`)
	}))
	defer upstream.Close()

	m := NewSessionManager(testClientConfig(upstream.URL), upstream.Client(), logger.NewNopLogger(), testPolicy())

	for i := 0; i < 3; i++ {
		headers, err := m.AuthHeaders(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", headers.Get("Session-Token"))
		assert.Equal(t, "app-token", headers.Get("App-Token"))
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&logins))
}

func TestSessionManager_InvalidateAndLogout(t *testing.T) {
	var killed int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/initSession":
			fmt.Fprint(w, `{"session_token":"tok-1"}`)
		case "/killSession":
			atomic.AddInt64(&killed, 1)
			fmt.Fprint(w, `{}`)
		}
	}))
	defer upstream.Close()

	m := NewSessionManager(testClientConfig(upstream.URL), upstream.Client(), logger.NewNopLogger(), testPolicy())
	require.NoError(t, m.Login(context.Background()))

	m.Invalidate()
	assert.False(t, m.IsValid())

	require.NoError(t, m.Login(context.Background()))
	m.Logout(context.Background())
	assert.False(t, m.IsValid())
	assert.Equal(t, int64(1), atomic.LoadInt64(&killed))
}
