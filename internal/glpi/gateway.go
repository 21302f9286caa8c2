package glpi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/triago/triago/domain/apperror"
	"github.com/triago/triago/infrastructure/service/logger"
	"github.com/triago/triago/internal/retry"
)

// Response is the decoded-enough result of an upstream call. GLPI answers
// 206 Partial Content on paginated searches; that is a success here.
type Response struct {
	StatusCode int
	Body       []byte
}

// Gateway performs every upstream call except the session manager's own
// login. Transient failures are retried with the shared backoff policy;
// a 401 mid-flight triggers exactly one re-authentication and one resend.
type Gateway struct {
	cfg       ClientConfig
	transport Transport
	sessions  *SessionManager
	logger    logger.Logger
	policy    retry.Policy
}

// NewGateway wires the gateway to the session manager it obtains auth
// headers from.
func NewGateway(cfg ClientConfig, transport Transport, sessions *SessionManager, log logger.Logger, policy retry.Policy) *Gateway {
	return &Gateway{
		cfg:       cfg,
		transport: transport,
		sessions:  sessions,
		logger:    log,
		policy:    policy,
	}
}

// Request performs method path?params against the upstream. When needsAuth
// is set, headers come from the session manager, re-authenticating first if
// the session is invalid.
func (g *Gateway) Request(ctx context.Context, method, path string, params url.Values, needsAuth bool) (*Response, error) {
	resp, err := g.dispatchWithRetry(ctx, method, path, params, needsAuth)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && needsAuth {
		// token expired mid-flight: one re-auth, one resend, then give up
		g.logger.Warn(ctx, "upstream returned 401, re-authenticating once", map[string]interface{}{
			"path": path,
		})
		g.sessions.Invalidate()
		resp, err = g.dispatchWithRetry(ctx, method, path, params, needsAuth)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, apperror.Wrap(apperror.ErrCodeUpstreamUnauthorized, "upstream rejected the session token", fmt.Errorf("%s %s returned 401", method, path))
	default:
		return nil, apperror.Wrap(apperror.ErrCodeUpstreamRejected, "upstream rejected the request", fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, truncate(resp.Body, 200)))
	}
}

// dispatchWithRetry retries transport errors and 5xx responses. Any other
// status, 401 included, is handed back to the caller untouched.
func (g *Gateway) dispatchWithRetry(ctx context.Context, method, path string, params url.Values, needsAuth bool) (*Response, error) {
	var resp *Response

	err := g.policy.Do(ctx, func(attempt int) error {
		r, err := g.dispatch(ctx, method, path, params, needsAuth)
		if err != nil {
			g.logger.Warn(ctx, "upstream request failed", map[string]interface{}{
				"method":  method,
				"path":    path,
				"attempt": attempt,
				"error":   err.Error(),
			})
			// the session manager already ran its own bounded login loop;
			// re-dispatching would multiply the attempts
			if code := apperror.CodeOf(err); code == apperror.ErrCodeAuthExhausted || code == apperror.ErrCodeAuthInvalid {
				return retry.Permanent(err)
			}
			return err
		}
		if r.StatusCode >= 500 {
			g.logger.Warn(ctx, "upstream returned server error", map[string]interface{}{
				"method":  method,
				"path":    path,
				"attempt": attempt,
				"status":  r.StatusCode,
			})
			return fmt.Errorf("%s %s returned %d", method, path, r.StatusCode)
		}
		resp = r
		return nil
	})
	if err != nil {
		// auth failures during header acquisition keep their own code
		if code := apperror.CodeOf(err); code == apperror.ErrCodeAuthExhausted || code == apperror.ErrCodeAuthInvalid {
			return nil, err
		}
		if isTimeout(err) {
			return nil, apperror.Wrap(apperror.ErrCodeUpstreamTimeout, "upstream request timed out", err)
		}
		return nil, apperror.Wrap(apperror.ErrCodeUpstreamUnavailable, "upstream service unavailable", err)
	}
	return resp, nil
}

func (g *Gateway) dispatch(ctx context.Context, method, path string, params url.Values, needsAuth bool) (*Response, error) {
	u := g.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}

	if needsAuth {
		headers, err := g.sessions.AuthHeaders(ctx)
		if err != nil {
			return nil, err
		}
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}
	} else {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("App-Token", g.cfg.AppToken)
	}

	httpResp, err := g.transport.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: body}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
