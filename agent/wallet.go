package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finagent/stablepay"
	"github.com/finagent/stablepay/transfer"
)

// DefaultHealthInterval is how often the running agent probes the
// provider rails.
const DefaultHealthInterval = 5 * time.Minute

// DefaultReadinessDelay gives the transport time to settle before the
// agent registers its handlers.
const DefaultReadinessDelay = 100 * time.Millisecond

// healthChecker is the slice of the provider the agent's periodic probe
// needs.
type healthChecker interface {
	HealthCheck(ctx context.Context) map[stablepay.Network]bool
}

// Config tunes a Wallet.
type Config struct {
	// Address is the agent's bus address.
	Address string

	HealthInterval time.Duration
	ReadinessDelay time.Duration
}

// Wallet is the payment agent: it listens for payment and balance
// requests on the bus and executes them against the wallet provider.
type Wallet struct {
	cfg          Config
	bus          Bus
	orchestrator *transfer.Orchestrator
	provider     stablepay.Provider
	health       healthChecker
	log          *slog.Logger
}

// NewWallet creates the agent. Call Register before Run. health may be
// nil, disabling the periodic probe.
func NewWallet(cfg Config, bus Bus, orchestrator *transfer.Orchestrator, provider stablepay.Provider, health healthChecker, log *slog.Logger) *Wallet {
	if cfg.Address == "" {
		cfg.Address = "wallet"
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.ReadinessDelay < 0 {
		cfg.ReadinessDelay = DefaultReadinessDelay
	}
	return &Wallet{
		cfg:          cfg,
		bus:          bus,
		orchestrator: orchestrator,
		provider:     provider,
		health:       health,
		log:          log,
	}
}

// Address returns the agent's bus address.
func (w *Wallet) Address() string { return w.cfg.Address }

// Register waits out the readiness delay and subscribes the agent's
// handlers on the bus.
func (w *Wallet) Register(ctx context.Context) error {
	if w.cfg.ReadinessDelay > 0 {
		select {
		case <-time.After(w.cfg.ReadinessDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.bus.Subscribe(w.cfg.Address, TopicPaymentRequest, w.handlePayment)
	w.bus.Subscribe(w.cfg.Address, TopicBalanceRequest, w.handleBalance)
	w.log.Info("wallet agent registered", "address", w.cfg.Address)
	return nil
}

// Run blocks running the periodic health probe until ctx is cancelled.
func (w *Wallet) Run(ctx context.Context) error {
	if w.health == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(w.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rails := w.health.HealthCheck(ctx)
			for network, ok := range rails {
				if !ok {
					w.log.Warn("rail unhealthy", "network", string(network))
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Wallet) handlePayment(ctx context.Context, sender string, msg any) {
	req, ok := msg.(PaymentRequest)
	if !ok {
		w.log.Error("unexpected payment request payload", "type", typeName(msg))
		return
	}
	w.log.Info("payment request received", "request_id", req.RequestID, "sender", sender)

	respond := func(resp PaymentResponse) {
		if err := w.bus.Send(ctx, w.cfg.Address, sender, TopicPaymentResponse, resp); err != nil {
			w.log.Error("payment response undeliverable", "request_id", req.RequestID, "error", err)
		}
	}

	network, err := stablepay.ParseNetwork(req.Network)
	if err != nil {
		respond(PaymentResponse{RequestID: req.RequestID, ErrorMessage: err.Error()})
		return
	}

	tx, err := w.orchestrator.Send(ctx, req.Amount, req.Recipient, network)
	if err != nil {
		w.log.Error("payment failed", "request_id", req.RequestID, "error", err)
		respond(PaymentResponse{RequestID: req.RequestID, ErrorMessage: err.Error()})
		return
	}

	w.log.Info("payment succeeded", "request_id", req.RequestID, "transaction_id", tx.ID)
	respond(PaymentResponse{RequestID: req.RequestID, Success: true, TransactionID: tx.ID})
}

func (w *Wallet) handleBalance(ctx context.Context, sender string, msg any) {
	if _, ok := msg.(BalanceRequest); !ok {
		w.log.Error("unexpected balance request payload", "type", typeName(msg))
		return
	}

	resp := BalanceResponse{}
	for _, network := range stablepay.Networks {
		balance, err := w.provider.GetBalance(ctx, network)
		if err != nil {
			w.log.Error("balance lookup failed", "network", string(network), "error", err)
			continue
		}
		switch network {
		case stablepay.NetworkTRC20:
			resp.TRC20Balance = balance.Amount
		case stablepay.NetworkERC20:
			resp.ERC20Balance = balance.Amount
		}
	}
	resp.TotalBalance = resp.TRC20Balance + resp.ERC20Balance

	if err := w.bus.Send(ctx, w.cfg.Address, sender, TopicBalanceResponse, resp); err != nil {
		w.log.Error("balance response undeliverable", "sender", sender, "error", err)
	}
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", v)
}
