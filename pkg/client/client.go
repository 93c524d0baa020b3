// Package client talks to the status API of a running pairwatch watchdog.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"
)

const (
	defaultBaseURL = "http://127.0.0.1:8089/api"
	defaultTimeout = 10 * time.Second
)

// Client is safe for concurrent use.
type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
	// CACert pins the server certificate, e.g. the tls_ca.crt written by an
	// auto-generated status API certificate.
	CACert string
	// Insecure skips server certificate verification.
	Insecure bool
}

// DefaultConfig returns the address of a watchdog started with default
// server settings.
func DefaultConfig() Config {
	return Config{BaseURL: defaultBaseURL, Timeout: defaultTimeout}
}

// New builds a client. It fails only when CACert cannot be loaded.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure || cfg.CACert != "" {
		tc, err := clientTLS(cfg)
		if err != nil {
			return nil, err
		}
		tr.TLSClientConfig = tc
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		http:   &http.Client{Timeout: cfg.Timeout, Transport: tr},
		logger: cfg.Logger,
	}, nil
}

func clientTLS(cfg Config) (*tls.Config, error) {
	// #nosec G402 opt-in via Insecure
	tc := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.Insecure}
	if cfg.CACert == "" {
		return tc, nil
	}
	pem, err := os.ReadFile(cfg.CACert)
	if err != nil {
		return nil, fmt.Errorf("read ca certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("ca certificate: no PEM certificates found")
	}
	tc.RootCAs = pool
	return tc, nil
}

// IsReachable reports whether the health endpoint answers at all; a stopped
// watchdog still counts as reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	var h Health
	err := c.do(ctx, http.MethodGet, "/healthz", &h, http.StatusOK, http.StatusServiceUnavailable)
	if err != nil {
		c.logger.Debug("watchdog unreachable", "url", c.base, "error", err)
		return false
	}
	return true
}

// Status returns the watchdog's current snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", &st, http.StatusOK)
	return st, err
}

// Check asks the watchdog to run one check cycle now. A watchdog that is
// stopping answers with an error.
func (c *Client) Check(ctx context.Context) (CycleResult, error) {
	var res CycleResult
	if err := c.do(ctx, http.MethodPost, "/check", &res, http.StatusOK); err != nil {
		return CycleResult{}, err
	}
	c.logger.Debug("check cycle", "action", res.Action, "peer_pid", res.PeerPID, "new_pid", res.NewPID)
	return res, nil
}

// Health reports the loop state. A stopped watchdog is not an error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/healthz", &h, http.StatusOK, http.StatusServiceUnavailable)
	return h, err
}

// Usage returns the sampled resource history of the peer.
func (c *Client) Usage(ctx context.Context) ([]PeerUsage, error) {
	var out []PeerUsage
	err := c.do(ctx, http.MethodGet, "/usage", &out, http.StatusOK)
	return out, err
}

// do sends a bodyless request and decodes the response into out when the
// status is one of ok. Other statuses become errors carrying the API's
// error message when there is one.
func (c *Client) do(ctx context.Context, method, path string, out any, ok ...int) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !slices.Contains(ok, resp.StatusCode) {
		var er ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil && er.Error != "" {
			c.logger.Warn("api error", "path", path, "status", resp.StatusCode, "error", er.Error)
			return fmt.Errorf("API error: %s", er.Error)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
