// Package httpclient provides the single shared, connection-pooled HTTP
// client that every outbound call in the service goes through.
package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxConns bounds the total number of connections in the pool.
	DefaultMaxConns = 100
	// DefaultMaxIdleConns bounds the number of kept-alive idle connections.
	DefaultMaxIdleConns = 20
	// DefaultIdleExpiry is how long an idle connection survives before being
	// closed.
	DefaultIdleExpiry = 30 * time.Second
	// DefaultTimeout applies to requests without an explicit per-call timeout.
	DefaultTimeout = 30 * time.Second

	userAgent = "FinAgent-Stablepay/1.0"
)

// Config tunes the shared pool.
type Config struct {
	MaxConns     int
	MaxIdleConns int
	IdleExpiry   time.Duration
	Timeout      time.Duration
}

// Pool owns the shared http.Client. The client is constructed once under a
// lock so concurrent first use cannot race-construct duplicate pools.
type Pool struct {
	mu     sync.Mutex
	client *http.Client
	cfg    Config
}

// New creates a pool with the given config; zero fields take defaults. The
// underlying client is built lazily on first use.
func New(cfg Config) *Pool {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = DefaultMaxIdleConns
	}
	if cfg.IdleExpiry <= 0 {
		cfg.IdleExpiry = DefaultIdleExpiry
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Pool{cfg: cfg}
}

// Client returns the shared pooled client, constructing it on first call.
func (p *Pool) Client() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		// No client-level Timeout: Request bounds every call with a context
		// deadline, and a client cap would silently override per-call
		// timeouts larger than the pool default.
		p.client = &http.Client{
			Transport: &http.Transport{
				MaxConnsPerHost:     p.cfg.MaxConns,
				MaxIdleConns:        p.cfg.MaxIdleConns,
				MaxIdleConnsPerHost: p.cfg.MaxIdleConns,
				IdleConnTimeout:     p.cfg.IdleExpiry,
			},
		}
	}
	return p.client
}

// Close releases idle connections held by the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
}

// Request performs an HTTP round-trip through the shared pool and returns the
// response body. GET requests carry params as the query string; other methods
// send them form-encoded. timeout <= 0 falls back to the pool default via a
// derived context deadline.
func (p *Pool) Request(ctx context.Context, method, rawURL string, params url.Values, timeout time.Duration) (int, []byte, error) {
	if timeout <= 0 {
		timeout = p.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(params) > 0 {
		if method == http.MethodGet {
			u, err := url.Parse(rawURL)
			if err != nil {
				return 0, nil, err
			}
			q := u.Query()
			for k, vs := range params {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			u.RawQuery = q.Encode()
			rawURL = u.String()
		} else {
			body = strings.NewReader(params.Encode())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.Client().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}
