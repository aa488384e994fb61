// Package transport builds the HTTP clients used to talk to providers and to
// probe dataset URLs.
package transport

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/classify"
)

const (
	DefaultTimeout             = 30 * time.Second
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
)

// ClientConfig configures an HTTP client.
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConnsPerHost int
	// InsecureSkipVerify disables certificate verification.
	InsecureSkipVerify bool
	// MaxRedirects caps followed redirects. Negative disables following
	// entirely and hands the redirect response back to the caller.
	MaxRedirects int
}

// NewClient creates an HTTP client with pooled keep-alive connections.
func NewClient(cfg ClientConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	perHost := cfg.MaxIdleConnsPerHost
	if perHost == 0 {
		perHost = DefaultMaxIdleConnsPerHost
	}

	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: perHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
	}
	if cfg.InsecureSkipVerify {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // probes must reach hosts with broken certificates
	}

	return &http.Client{
		Timeout:       timeout,
		Transport:     t,
		CheckRedirect: redirectPolicy(cfg.MaxRedirects),
	}
}

func redirectPolicy(limit int) func(*http.Request, []*http.Request) error {
	if limit < 0 {
		return func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return func(_ *http.Request, via []*http.Request) error {
		if len(via) > limit {
			return fmt.Errorf("%w (%d)", classify.ErrTooManyRedirects, limit)
		}
		return nil
	}
}
