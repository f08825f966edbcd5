// Package invoice owns the invoice lifecycle: creation, webhook-driven state
// transitions, and expiry sweeping. All state lives behind the injectable
// stablepay.Store; the manager hands out copies only.
package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/finagent/stablepay"
)

const (
	// DefaultMinAmount and DefaultMaxAmount bound the computed USDT amount of
	// a new invoice.
	DefaultMinAmount = 0.1
	DefaultMaxAmount = 10000.0
	// DefaultPaymentTimeout is how long an invoice stays payable.
	DefaultPaymentTimeout = time.Hour
)

// Config tunes a Manager; zero fields take defaults.
type Config struct {
	MinAmount      float64
	MaxAmount      float64
	PaymentTimeout time.Duration
	SweepInterval  time.Duration
}

// CreateRequest is the caller's payment creation request.
type CreateRequest struct {
	AmountUSD   float64
	Network     stablepay.Network
	Description string
	CallbackURL string
}

// Manager is the invoice lifecycle manager.
type Manager struct {
	cfg       Config
	store     stablepay.Store
	provider  stablepay.Provider
	converter stablepay.Converter
	log       *slog.Logger

	now func() time.Time

	sweepOnce    sync.Once
	sweepRunning atomic.Bool
	stop         chan struct{}
	done         chan struct{}
}

// New creates a manager. The expiry sweeper does not run until
// StartExpirySweeper is called.
func New(cfg Config, store stablepay.Store, provider stablepay.Provider, converter stablepay.Converter, log *slog.Logger) *Manager {
	if cfg.MinAmount <= 0 {
		cfg.MinAmount = DefaultMinAmount
	}
	if cfg.MaxAmount <= 0 {
		cfg.MaxAmount = DefaultMaxAmount
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = DefaultPaymentTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.PaymentTimeout
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		provider:  provider,
		converter: converter,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// GenerateID builds an invoice identifier: timestamp plus a random suffix.
func GenerateID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("INV_%d_%s", now.Unix(), suffix)
}

// Create validates the request, converts USD to USDT via the price oracle,
// obtains a payment address from the provider, and persists a new PENDING
// invoice. Validation failures happen before any upstream call.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*stablepay.Invoice, error) {
	if req.AmountUSD <= 0 {
		return nil, stablepay.NewError(stablepay.KindValidation,
			fmt.Sprintf("amount must be positive, got %v", req.AmountUSD), nil)
	}
	if !req.Network.Valid() {
		return nil, stablepay.NewError(stablepay.KindValidation,
			fmt.Sprintf("unsupported network: %q", req.Network), nil)
	}

	amountUSDT, degraded := m.converter.ConvertUSD(ctx, req.AmountUSD)
	if degraded {
		m.log.Warn("invoice priced with degraded 1:1 conversion", "amount_usd", req.AmountUSD)
	}
	if amountUSDT < m.cfg.MinAmount || amountUSDT > m.cfg.MaxAmount {
		return nil, stablepay.NewError(stablepay.KindValidation,
			fmt.Sprintf("USDT amount %v outside allowed range %v-%v", amountUSDT, m.cfg.MinAmount, m.cfg.MaxAmount),
			map[string]interface{}{"amount_usdt": amountUSDT})
	}

	now := m.now()
	id := GenerateID(now)

	provInv, err := m.provider.CreateInvoice(ctx, stablepay.InvoiceRequest{
		InvoiceID:   id,
		AmountUSDT:  amountUSDT,
		Network:     req.Network,
		Description: req.Description,
		CallbackURL: req.CallbackURL,
		ExpireIn:    int(m.cfg.PaymentTimeout / time.Minute),
	})
	if err != nil {
		return nil, err
	}

	inv := &stablepay.Invoice{
		ID:             id,
		AmountUSD:      req.AmountUSD,
		AmountUSDT:     amountUSDT,
		Network:        req.Network,
		PaymentAddress: provInv.Address,
		Status:         stablepay.StatusPending,
		Description:    req.Description,
		CallbackURL:    req.CallbackURL,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.PaymentTimeout),
	}
	if err := m.store.Put(ctx, inv); err != nil {
		return nil, err
	}

	m.log.Info("invoice created",
		"invoice_id", id, "network", req.Network,
		"amount_usd", req.AmountUSD, "amount_usdt", amountUSDT)
	out := *inv
	return &out, nil
}

// reportedStatus maps a provider webhook status onto the lifecycle table.
func reportedStatus(s string) (stablepay.InvoiceStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return stablepay.StatusCompleted, true
	case "pending":
		return stablepay.StatusProcessing, true
	case "failed":
		return stablepay.StatusFailed, true
	}
	return "", false
}

// ApplyWebhook applies a verified provider notification to the invoice it
// references. Unknown invoices yield a not-found error the caller is
// expected to acknowledge, not retry. Terminal re-applications and backward
// moves are no-ops: webhook senders retry deliveries and may deliver out of
// order. The manager does not serialize concurrent applications for the same
// invoice; the last write wins.
func (m *Manager) ApplyWebhook(ctx context.Context, event stablepay.WebhookEvent) error {
	target, ok := reportedStatus(event.Status)
	if !ok {
		return stablepay.NewError(stablepay.KindValidation,
			fmt.Sprintf("unknown webhook status %q", event.Status), nil)
	}

	inv, err := m.store.Get(ctx, event.InvoiceID)
	if err != nil {
		return err
	}
	if inv == nil {
		return stablepay.NewError(stablepay.KindNotFound,
			fmt.Sprintf("invoice %s not found", event.InvoiceID),
			map[string]interface{}{"invoice_id": event.InvoiceID})
	}

	if inv.Status.Terminal() {
		// Idempotent redelivery of the same terminal status is the normal
		// case; anything else is a downgrade attempt and is dropped.
		m.log.Debug("webhook ignored for terminal invoice",
			"invoice_id", inv.ID, "status", inv.Status, "reported", event.Status)
		return nil
	}
	if inv.Status != target && !inv.Status.CanTransition(target) {
		m.log.Debug("webhook would move invoice backward, ignoring",
			"invoice_id", inv.ID, "status", inv.Status, "reported", event.Status)
		return nil
	}

	if inv.Status != target {
		inv.Status = target
	}
	if event.TxHash != "" && inv.TxHash == "" {
		inv.TxHash = event.TxHash
	}
	if event.Amount > inv.AmountPaid {
		inv.AmountPaid = event.Amount
	}
	if event.Confirmations > inv.Confirmations {
		inv.Confirmations = event.Confirmations
	}
	inv.UpdatedAt = m.now()

	if err := m.store.Put(ctx, inv); err != nil {
		return err
	}

	m.log.Info("webhook applied",
		"invoice_id", inv.ID, "status", inv.Status,
		"amount_paid", inv.AmountPaid, "tx_hash", inv.TxHash)
	return nil
}

// Cancel moves a PENDING invoice to CANCELLED.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	inv, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv == nil {
		return stablepay.NewError(stablepay.KindNotFound,
			fmt.Sprintf("invoice %s not found", id), nil)
	}
	if inv.Status != stablepay.StatusPending {
		return stablepay.NewError(stablepay.KindValidation,
			fmt.Sprintf("invoice %s is %s, only pending invoices can be cancelled", id, inv.Status), nil)
	}
	inv.Status = stablepay.StatusCancelled
	inv.UpdatedAt = m.now()
	return m.store.Put(ctx, inv)
}

// Get returns a copy of one invoice, or a not-found error.
func (m *Manager) Get(ctx context.Context, id string) (*stablepay.Invoice, error) {
	inv, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, stablepay.NewError(stablepay.KindNotFound,
			fmt.Sprintf("invoice %s not found", id), nil)
	}
	return inv, nil
}

// ListFilter narrows List results; zero values match everything.
type ListFilter struct {
	Status  stablepay.InvoiceStatus
	Network stablepay.Network
}

// List returns copies of all invoices matching the filter.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*stablepay.Invoice, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*stablepay.Invoice, 0, len(all))
	for _, inv := range all {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.Network != "" && inv.Network != filter.Network {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

// StartExpirySweeper launches the background sweep that expires overdue
// non-terminal invoices. Safe to call once; Close stops it.
func (m *Manager) StartExpirySweeper() {
	m.sweepOnce.Do(func() {
		m.sweepRunning.Store(true)
		go m.sweepLoop()
	})
}

// Close stops the expiry sweeper and waits for the in-flight sweep to drain.
func (m *Manager) Close() {
	close(m.stop)
	if m.sweepRunning.Load() {
		<-m.done
	}
}

func (m *Manager) sweepLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.SweepExpired(context.Background())
		case <-m.stop:
			return
		}
	}
}

// SweepExpired transitions every non-terminal invoice past its deadline to
// EXPIRED and returns how many it expired.
func (m *Manager) SweepExpired(ctx context.Context) int {
	all, err := m.store.List(ctx)
	if err != nil {
		m.log.Error("expiry sweep failed to list invoices", "error", err)
		return 0
	}

	now := m.now()
	expired := 0
	for _, inv := range all {
		if inv.Status.Terminal() || !now.After(inv.ExpiresAt) {
			continue
		}
		inv.Status = stablepay.StatusExpired
		inv.UpdatedAt = now
		if err := m.store.Put(ctx, inv); err != nil {
			m.log.Error("expiry sweep failed to update invoice", "invoice_id", inv.ID, "error", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		m.log.Info("expired overdue invoices", "count", expired)
	}
	return expired
}
