// Package glpi implements the client core for the upstream GLPI REST API:
// session lifecycle, the retrying HTTP gateway, and search-field discovery.
package glpi

import (
	"net/http"
	"time"
)

// ClientConfig carries the upstream connection settings shared by the
// session manager and the gateway.
type ClientConfig struct {
	// BaseURL is the GLPI REST root, e.g. https://glpi.example.com/apirest.php
	BaseURL  string
	AppToken string
	// UserToken authenticates initSession. When empty, Username/Password
	// are sent as basic auth instead.
	UserToken string
	Username  string
	Password  string
	Timeout   time.Duration
}

// DefaultTimeout bounds every upstream call; requests are not cancellable
// once dispatched, callers wait out the timeout.
const DefaultTimeout = 30 * time.Second

// Transport is the narrow dispatch interface shared by the session manager
// and the gateway. The session manager calls it directly for its own login
// request, which keeps it off the gateway's authenticated path and breaks
// the dependency cycle between the two.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewTransport returns the production transport: a plain http.Client with
// the fixed upstream timeout.
func NewTransport(timeout time.Duration) Transport {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
