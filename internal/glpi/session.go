package glpi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/triago/triago/domain/apperror"
	"github.com/triago/triago/infrastructure/service/logger"
	"github.com/triago/triago/internal/retry"
)

// defaultSessionTTL bounds token age when the upstream does not declare an
// expiry. GLPI sessions usually live for an hour; staying well under that
// avoids racing the server-side expiry.
const defaultSessionTTL = 30 * time.Minute

// SessionManager owns the single GLPI session token for the process.
// At most one valid session exists at a time; concurrent re-authentication
// attempts collapse into one login call.
type SessionManager struct {
	cfg       ClientConfig
	transport Transport
	logger    logger.Logger
	policy    retry.Policy
	flight    singleflight.Group

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

// NewSessionManager creates a session manager that logs in through the
// given transport. The retry policy is the shared 3-attempt backoff.
func NewSessionManager(cfg ClientConfig, transport Transport, log logger.Logger, policy retry.Policy) *SessionManager {
	return &SessionManager{
		cfg:       cfg,
		transport: transport,
		logger:    log,
		policy:    policy,
	}
}

type initSessionResponse struct {
	SessionToken string `json:"session_token"`
}

// Login opens a new upstream session, retrying with exponential backoff.
// The call goes straight through the transport, not through the gateway.
func (m *SessionManager) Login(ctx context.Context) error {
	var token string

	err := m.policy.Do(ctx, func(attempt int) error {
		t, err := m.initSession(ctx)
		if err != nil {
			m.logger.Warn(ctx, "GLPI login attempt failed", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
			// rejected credentials will not heal within a backoff window
			if apperror.CodeOf(err) == apperror.ErrCodeAuthInvalid {
				return retry.Permanent(err)
			}
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		if apperror.CodeOf(err) == apperror.ErrCodeAuthInvalid {
			return err
		}
		return apperror.Wrap(apperror.ErrCodeAuthExhausted, "authentication attempts exhausted", err)
	}

	m.mu.Lock()
	m.token = token
	m.issuedAt = time.Now()
	m.mu.Unlock()

	m.logger.Info(ctx, "GLPI session established", map[string]interface{}{
		"base_url": m.cfg.BaseURL,
	})
	return nil
}

func (m *SessionManager) initSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+"/initSession", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create initSession request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("App-Token", m.cfg.AppToken)
	if m.cfg.UserToken != "" {
		req.Header.Set("Authorization", "user_token "+m.cfg.UserToken)
	} else {
		req.SetBasicAuth(m.cfg.Username, m.cfg.Password)
	}

	resp, err := m.transport.Do(req)
	if err != nil {
		return "", apperror.Wrap(apperror.ErrCodeUpstreamUnavailable, "initSession transport failure", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperror.Wrap(apperror.ErrCodeUpstreamUnavailable, "failed to read initSession response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return "", apperror.Wrap(apperror.ErrCodeAuthInvalid, "invalid upstream credentials", fmt.Errorf("initSession returned %d", resp.StatusCode))
	default:
		return "", apperror.Wrap(apperror.ErrCodeUpstreamUnavailable, "initSession rejected", fmt.Errorf("initSession returned %d: %s", resp.StatusCode, truncate(body, 200)))
	}

	var parsed initSessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", apperror.Wrap(apperror.ErrCodeUpstreamUnavailable, "failed to decode initSession response", err)
	}
	if parsed.SessionToken == "" {
		return "", apperror.Wrap(apperror.ErrCodeUpstreamUnavailable, "initSession returned no token", nil)
	}
	return parsed.SessionToken, nil
}

// IsValid reports whether a token is present and younger than the session TTL.
func (m *SessionManager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != "" && time.Since(m.issuedAt) < defaultSessionTTL
}

// Token returns the current session token, which may be empty.
func (m *SessionManager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// AuthHeaders returns the headers for an authenticated upstream call,
// transparently logging in when the session is missing or expired.
// Concurrent callers during an invalid session share one login flight.
func (m *SessionManager) AuthHeaders(ctx context.Context) (http.Header, error) {
	if !m.IsValid() {
		_, err, _ := m.flight.Do("login", func() (interface{}, error) {
			// a flight that queued behind a finished login skips the upstream call
			if m.IsValid() {
				return nil, nil
			}
			return nil, m.Login(ctx)
		})
		if err != nil {
			return nil, err
		}
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("App-Token", m.cfg.AppToken)
	h.Set("Session-Token", m.Token())
	return h, nil
}

// Invalidate drops the current token so the next AuthHeaders call logs in
// again. Used by the gateway when the upstream answers 401 mid-flight.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.issuedAt = time.Time{}
	m.mu.Unlock()
}

// Logout closes the upstream session (best effort) and invalidates the
// local token.
func (m *SessionManager) Logout(ctx context.Context) {
	token := m.Token()
	if token != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+"/killSession", nil)
		if err == nil {
			req.Header.Set("App-Token", m.cfg.AppToken)
			req.Header.Set("Session-Token", token)
			if resp, err := m.transport.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}
	m.Invalidate()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
