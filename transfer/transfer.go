// Package transfer sends outbound USDT payments with a pre-flight
// funds guard.
package transfer

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/ethereum/go-ethereum/common"

	"github.com/finagent/stablepay"
)

// Default bounds for a single outbound transfer, in USDT.
const (
	DefaultMinAmount = 0.1
	DefaultMaxAmount = 10000.0
)

// Tron base58check addresses: a T prefix followed by 33 base58 characters.
var trc20AddressRe = regexp.MustCompile(`^T[1-9A-HJ-NP-Za-km-z]{33}$`)

// Config tunes an Orchestrator; zero fields take defaults.
type Config struct {
	MinAmount float64
	MaxAmount float64
}

// Orchestrator validates and executes outbound transfers against a
// payment provider.
type Orchestrator struct {
	cfg      Config
	provider stablepay.Provider
	log      *slog.Logger
}

// New creates a transfer orchestrator.
func New(cfg Config, provider stablepay.Provider, log *slog.Logger) *Orchestrator {
	if cfg.MinAmount <= 0 {
		cfg.MinAmount = DefaultMinAmount
	}
	if cfg.MaxAmount <= 0 {
		cfg.MaxAmount = DefaultMaxAmount
	}
	return &Orchestrator{cfg: cfg, provider: provider, log: log}
}

// ValidAddress reports whether address is well formed for the given network.
func ValidAddress(address string, network stablepay.Network) bool {
	switch network {
	case stablepay.NetworkTRC20:
		return trc20AddressRe.MatchString(address)
	case stablepay.NetworkERC20:
		return common.IsHexAddress(address)
	default:
		return false
	}
}

// Send transfers amount USDT to address on the given network.
//
// It checks the wallet balance immediately before withdrawing. The check
// and the withdrawal are not atomic: a concurrent transfer can still drain
// the wallet in between, in which case the provider rejects the withdrawal
// and the error surfaces to the caller.
func (o *Orchestrator) Send(ctx context.Context, amount float64, address string, network stablepay.Network) (stablepay.Transaction, error) {
	if amount <= 0 {
		return stablepay.Transaction{}, stablepay.NewError(stablepay.KindValidation,
			"transfer amount must be positive", map[string]any{"amount": amount})
	}
	if amount < o.cfg.MinAmount || amount > o.cfg.MaxAmount {
		return stablepay.Transaction{}, stablepay.NewError(stablepay.KindValidation,
			"transfer amount out of bounds", map[string]any{
				"amount": amount, "min": o.cfg.MinAmount, "max": o.cfg.MaxAmount,
			})
	}
	if !network.Valid() {
		return stablepay.Transaction{}, stablepay.NewError(stablepay.KindValidation,
			"unsupported network", map[string]any{"network": string(network)})
	}
	if !ValidAddress(address, network) {
		return stablepay.Transaction{}, stablepay.NewError(stablepay.KindValidation,
			"malformed recipient address", map[string]any{
				"address": address, "network": string(network),
			})
	}

	// The provider error is already classified; re-wrapping would hide a
	// transient or breaker-open kind from retry policy and status mapping.
	balance, err := o.provider.GetBalance(ctx, network)
	if err != nil {
		return stablepay.Transaction{}, err
	}
	if balance.Amount < amount {
		o.log.Warn("transfer blocked by funds guard",
			"network", string(network), "amount", amount, "balance", balance.Amount)
		return stablepay.Transaction{}, stablepay.NewError(stablepay.KindInsufficientFunds,
			"insufficient wallet balance", map[string]any{
				"requested": amount, "available": balance.Amount, "network": string(network),
			})
	}

	tx, err := o.provider.Withdraw(ctx, amount, address, network)
	if err != nil {
		return stablepay.Transaction{}, err
	}
	o.log.Info("transfer submitted",
		"transaction_id", tx.ID, "network", string(network), "amount", amount)
	return tx, nil
}
