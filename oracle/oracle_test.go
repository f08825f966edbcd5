package oracle

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finagent/stablepay"
	"github.com/finagent/stablepay/breaker"
	"github.com/finagent/stablepay/cache"
	"github.com/finagent/stablepay/httpclient"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	pool := httpclient.New(httpclient.Config{})
	t.Cleanup(pool.Close)
	c := cache.New(cache.WithSweepInterval(time.Hour))
	t.Cleanup(c.Close)
	brk := breaker.New(breaker.Config{Name: "oracle"})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{URL: url, Timeout: time.Second}, pool, brk, c, log)
}

func TestQuoteParsesOracleResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Price": 0.9998, "Time": "2026-08-29T10:00:00Z"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	quote, err := c.Quote(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Symbol != "USDT" {
		t.Errorf("expected symbol USDT, got %q", quote.Symbol)
	}
	if quote.PriceUSD != 0.9998 {
		t.Errorf("expected price 0.9998, got %v", quote.PriceUSD)
	}
	if quote.Source != "DIA Oracle" {
		t.Errorf("unexpected source %q", quote.Source)
	}
	if quote.Timestamp.IsZero() {
		t.Error("expected parsed timestamp")
	}
}

func TestQuoteServedFromCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"Price": 1.0, "Time": "2026-08-29T10:00:00Z"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.Quote(ctx); err != nil {
			t.Fatalf("quote %d: %v", i, err)
		}
	}
	if hits != 1 {
		t.Errorf("expected 1 upstream fetch, got %d", hits)
	}
}

func TestQuoteNonPositivePriceRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Price": 0, "Time": "2026-08-29T10:00:00Z"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Quote(context.Background()); stablepay.KindOf(err) != stablepay.KindUpstream {
		t.Errorf("expected upstream error for zero price, got %v", err)
	}
}

func TestConvertUSD(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Price": 1.0, "Time": "2026-08-29T10:00:00Z"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	usdt, degraded := c.ConvertUSD(context.Background(), 10.0)
	if degraded {
		t.Error("expected non-degraded conversion")
	}
	if usdt != 10.0 {
		t.Errorf("expected 10.0 USDT at 1:1 quote, got %v", usdt)
	}
}

func TestConvertUSDFallsBackOneToOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	usdt, degraded := c.ConvertUSD(context.Background(), 25.5)
	if !degraded {
		t.Error("expected degraded flag when oracle is down")
	}
	if usdt != 25.5 {
		t.Errorf("expected 1:1 fallback amount 25.5, got %v", usdt)
	}
}

func TestOracleFailuresCountTowardBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pool := httpclient.New(httpclient.Config{})
	defer pool.Close()
	ca := cache.New(cache.WithSweepInterval(time.Hour))
	defer ca.Close()
	brk := breaker.New(breaker.Config{Name: "oracle", FailureThreshold: 2, CoolDown: time.Minute})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(Config{URL: srv.URL, Timeout: time.Second}, pool, brk, ca, log)

	ctx := context.Background()
	c.Quote(ctx)
	c.Quote(ctx)

	if brk.State() != breaker.StateOpen {
		t.Errorf("expected breaker open after repeated oracle failures, got %v", brk.State())
	}
}
