// Command stablepayd runs the USDT payment orchestration service: the
// REST API, the MCP endpoint for agents, the invoice expiry sweeper and
// the runtime memory watcher.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/finagent/stablepay"
	"github.com/finagent/stablepay/agent"
	"github.com/finagent/stablepay/api"
	"github.com/finagent/stablepay/breaker"
	"github.com/finagent/stablepay/cache"
	"github.com/finagent/stablepay/config"
	"github.com/finagent/stablepay/httpclient"
	"github.com/finagent/stablepay/invoice"
	"github.com/finagent/stablepay/logging"
	"github.com/finagent/stablepay/mcp"
	"github.com/finagent/stablepay/memwatch"
	"github.com/finagent/stablepay/metrics"
	"github.com/finagent/stablepay/oracle"
	"github.com/finagent/stablepay/provider"
	"github.com/finagent/stablepay/transfer"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.Setup("stablepay", cfg.Debug)
	m := metrics.New()

	pool := httpclient.New(httpclient.Config{})
	defer pool.Close()

	priceCache := cache.New(cache.WithDefaultTTL(cfg.Oracle.CacheTTL))
	defer priceCache.Close()

	newBreaker := func(name string) *breaker.Breaker {
		return breaker.New(breaker.Config{
			Name: name,
			OnStateChange: func(name string, _, to breaker.State) {
				m.CircuitTransition(name, to.String())
			},
		})
	}

	orc := oracle.New(oracle.Config{
		URL:      cfg.Oracle.URL,
		QuoteTTL: cfg.Oracle.CacheTTL,
		Timeout:  cfg.Oracle.Timeout,
	}, pool, newBreaker("oracle"), priceCache, log)

	prov := provider.New(provider.Config{
		TRC20: provider.Credentials{
			BaseURL:       cfg.Provider.TRC20.BaseURL,
			APIKey:        cfg.Provider.TRC20.APIKey,
			Password:      cfg.Provider.TRC20.Password,
			WebhookSecret: cfg.Provider.TRC20.WebhookSecret,
		},
		ERC20: provider.Credentials{
			BaseURL:       cfg.Provider.ERC20.BaseURL,
			APIKey:        cfg.Provider.ERC20.APIKey,
			Password:      cfg.Provider.ERC20.Password,
			WebhookSecret: cfg.Provider.ERC20.WebhookSecret,
		},
		Timeout: cfg.Provider.Timeout,
		Observe: m.ObserveUpstream,
	}, pool, map[stablepay.Network]*breaker.Breaker{
		stablepay.NetworkTRC20: newBreaker("provider_trc20"),
		stablepay.NetworkERC20: newBreaker("provider_erc20"),
	}, log)

	var store stablepay.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		store = invoice.NewRedisStore(rdb, cfg.Redis.Retention)
		log.Info("using redis invoice store", "addr", cfg.Redis.Addr)
	} else {
		store = invoice.NewMemoryStore()
		log.Warn("using in-memory invoice store, invoices do not survive restarts")
	}

	manager := invoice.New(invoice.Config{
		MinAmount:      cfg.Invoice.MinAmount,
		MaxAmount:      cfg.Invoice.MaxAmount,
		PaymentTimeout: cfg.Invoice.PaymentTimeout,
		SweepInterval:  cfg.Invoice.SweepInterval,
	}, store, prov, orc, log)
	manager.StartExpirySweeper()
	defer manager.Close()

	orchestrator := transfer.New(transfer.Config{
		MinAmount: cfg.Transfer.MinAmount,
		MaxAmount: cfg.Transfer.MaxAmount,
	}, prov, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := agent.NewInProcBus()
	wallet := agent.NewWallet(agent.Config{}, bus, orchestrator, prov, prov, log)
	if err := wallet.Register(ctx); err != nil {
		return fmt.Errorf("register wallet agent: %w", err)
	}
	go func() {
		if err := wallet.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("wallet agent stopped", "error", err)
		}
	}()

	watcher := memwatch.New(memwatch.Config{
		CheckInterval: cfg.Memory.CheckInterval,
		ThresholdMB:   uint64(cfg.Memory.ThresholdMB),
	}, log)
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("memory watcher stopped", "error", err)
		}
	}()

	httpServer := api.New(manager, orchestrator, orc, prov, m, log)
	router := httpServer.Router()

	// The SSE handler advertises the stream path itself as the session
	// message endpoint, so it must accept every method on one route.
	mcpServer := mcp.New(manager, orchestrator, orc, prov, log)
	router.Any("/sse", gin.WrapH(mcpServer.SSEHandler()))

	srv := &http.Server{Addr: cfg.ListenAddress, Handler: router}

	go func() {
		log.Info("stablepay listening", "addr", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen failed", "error", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
