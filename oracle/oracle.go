// Package oracle adapts the DIA price oracle: it fetches and caches the
// USDT/USD quote and converts USD amounts to USDT.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/finagent/stablepay"
	"github.com/finagent/stablepay/breaker"
	"github.com/finagent/stablepay/cache"
	"github.com/finagent/stablepay/httpclient"
)

const (
	// DefaultURL quotes USDT on Ethereum via DIA.
	DefaultURL = "https://api.diadata.org/v1/assetQuotation/Ethereum/0xdAC17F958D2ee523a2206206994597C13D831ec7"
	// DefaultQuoteTTL is how long a fetched quote stays valid in the cache.
	DefaultQuoteTTL = 60 * time.Second
	// DefaultTimeout bounds one oracle round-trip.
	DefaultTimeout = 30 * time.Second

	sourceTag = "DIA Oracle"
	cacheKey  = "usdt_price"
	symbol    = "USDT"
)

// quotePayload is the oracle's wire format.
type quotePayload struct {
	Price float64 `json:"Price"`
	Time  string  `json:"Time"`
}

// Config tunes a Client; zero fields take defaults.
type Config struct {
	URL      string
	QuoteTTL time.Duration
	Timeout  time.Duration
}

// Client fetches USDT quotes through the resilience layer.
type Client struct {
	cfg     Config
	pool    *httpclient.Pool
	breaker *breaker.Breaker
	cache   *cache.Cache
	log     *slog.Logger
}

// New creates an oracle client. pool, brk and c are shared process-wide
// resources owned by the caller.
func New(cfg Config, pool *httpclient.Pool, brk *breaker.Breaker, c *cache.Cache, log *slog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = DefaultQuoteTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{cfg: cfg, pool: pool, breaker: brk, cache: c, log: log}
}

// Quote returns the current USDT/USD quote, served from cache when fresh.
func (c *Client) Quote(ctx context.Context) (stablepay.PriceQuote, error) {
	if cached, ok := c.cache.Get(cacheKey); ok {
		if q, ok := cached.(stablepay.PriceQuote); ok {
			return q, nil
		}
	}

	var quote stablepay.PriceQuote
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		q, err := c.fetch(ctx)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		return stablepay.PriceQuote{}, err
	}

	c.cache.Set(cacheKey, quote, c.cfg.QuoteTTL)
	return quote, nil
}

// ConvertUSD converts a USD amount into USDT using the live quote. On any
// quote failure it falls back to a 1:1 ratio and reports degraded=true; the
// caller never sees the error. This trades accuracy for availability on
// purpose: payment creation must not fail because the oracle is down.
func (c *Client) ConvertUSD(ctx context.Context, usd float64) (usdt float64, degraded bool) {
	quote, err := c.Quote(ctx)
	if err != nil || quote.PriceUSD <= 0 {
		c.log.Warn("price oracle unavailable, falling back to 1:1 ratio",
			"usd", usd, "error", err)
		return usd, true
	}
	return usd / quote.PriceUSD, false
}

func (c *Client) fetch(ctx context.Context) (stablepay.PriceQuote, error) {
	status, body, err := c.pool.Request(ctx, http.MethodGet, c.cfg.URL, nil, c.cfg.Timeout)
	if err != nil {
		return stablepay.PriceQuote{}, stablepay.WrapError(stablepay.KindTransient, "oracle request failed", err)
	}
	if status != http.StatusOK {
		return stablepay.PriceQuote{}, stablepay.NewError(stablepay.KindTransient,
			fmt.Sprintf("oracle returned status %d", status), nil)
	}

	var payload quotePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return stablepay.PriceQuote{}, stablepay.WrapError(stablepay.KindUpstream, "oracle response malformed", err)
	}
	if payload.Price <= 0 {
		return stablepay.PriceQuote{}, stablepay.NewError(stablepay.KindUpstream,
			fmt.Sprintf("oracle returned non-positive price %v", payload.Price), nil)
	}

	ts, err := time.Parse(time.RFC3339, payload.Time)
	if err != nil {
		ts = time.Now().UTC()
	}

	return stablepay.PriceQuote{
		Symbol:    symbol,
		PriceUSD:  payload.Price,
		Timestamp: ts,
		Source:    sourceTag,
	}, nil
}
