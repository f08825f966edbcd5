package agent

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/finagent/stablepay"
	"github.com/finagent/stablepay/transfer"
)

type fakeProvider struct {
	balances map[stablepay.Network]float64
}

func (p *fakeProvider) CreateInvoice(context.Context, stablepay.InvoiceRequest) (stablepay.ProviderInvoice, error) {
	return stablepay.ProviderInvoice{}, nil
}

func (p *fakeProvider) GetBalance(_ context.Context, network stablepay.Network) (stablepay.Balance, error) {
	return stablepay.Balance{Network: network, Amount: p.balances[network], UpdatedAt: time.Now()}, nil
}

func (p *fakeProvider) Withdraw(_ context.Context, amount float64, address string, network stablepay.Network) (stablepay.Transaction, error) {
	return stablepay.Transaction{ID: "tx9", Status: "pending", Amount: amount, Network: network, Recipient: address}, nil
}

func (p *fakeProvider) VerifyWebhookSignature([]byte, string, stablepay.Network) bool { return true }

// collector subscribes to response topics and records what arrives.
type collector struct {
	mu       sync.Mutex
	payments []PaymentResponse
	balances []BalanceResponse
}

func (c *collector) attach(bus Bus, address string) {
	bus.Subscribe(address, TopicPaymentResponse, func(_ context.Context, _ string, msg any) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if resp, ok := msg.(PaymentResponse); ok {
			c.payments = append(c.payments, resp)
		}
	})
	bus.Subscribe(address, TopicBalanceResponse, func(_ context.Context, _ string, msg any) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if resp, ok := msg.(BalanceResponse); ok {
			c.balances = append(c.balances, resp)
		}
	})
}

const goodAddress = "TNPeeaaFB7K9cmo4uQpcU32zGK8G1NYqeL"

func newWallet(t *testing.T, balances map[stablepay.Network]float64) (*Wallet, *InProcBus, *collector) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	prov := &fakeProvider{balances: balances}
	orch := transfer.New(transfer.Config{}, prov, log)
	bus := NewInProcBus()

	w := NewWallet(Config{Address: "wallet", ReadinessDelay: time.Millisecond}, bus, orch, prov, nil, log)
	if err := w.Register(context.Background()); err != nil {
		t.Fatal(err)
	}

	c := &collector{}
	c.attach(bus, "caller")
	return w, bus, c
}

func TestPaymentRequestSucceeds(t *testing.T) {
	_, bus, c := newWallet(t, map[stablepay.Network]float64{stablepay.NetworkTRC20: 100})

	err := bus.Send(context.Background(), "caller", "wallet", TopicPaymentRequest, PaymentRequest{
		RequestID: "r1", Recipient: goodAddress, Amount: 10, Network: "trc20",
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(c.payments) != 1 {
		t.Fatalf("expected 1 response, got %d", len(c.payments))
	}
	resp := c.payments[0]
	if !resp.Success || resp.RequestID != "r1" || resp.TransactionID != "tx9" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestPaymentRequestInsufficientFunds(t *testing.T) {
	_, bus, c := newWallet(t, map[stablepay.Network]float64{stablepay.NetworkTRC20: 1})

	bus.Send(context.Background(), "caller", "wallet", TopicPaymentRequest, PaymentRequest{
		RequestID: "r2", Recipient: goodAddress, Amount: 10, Network: "trc20",
	})

	if len(c.payments) != 1 {
		t.Fatalf("expected 1 response, got %d", len(c.payments))
	}
	resp := c.payments[0]
	if resp.Success || resp.ErrorMessage == "" {
		t.Errorf("expected failure response, got %+v", resp)
	}
}

func TestPaymentRequestBadNetwork(t *testing.T) {
	_, bus, c := newWallet(t, nil)

	bus.Send(context.Background(), "caller", "wallet", TopicPaymentRequest, PaymentRequest{
		RequestID: "r3", Recipient: goodAddress, Amount: 10, Network: "bep20",
	})

	if len(c.payments) != 1 || c.payments[0].Success {
		t.Fatalf("expected failure response, got %+v", c.payments)
	}
}

func TestBalanceRequest(t *testing.T) {
	_, bus, c := newWallet(t, map[stablepay.Network]float64{
		stablepay.NetworkTRC20: 30,
		stablepay.NetworkERC20: 12,
	})

	bus.Send(context.Background(), "caller", "wallet", TopicBalanceRequest, BalanceRequest{})

	if len(c.balances) != 1 {
		t.Fatalf("expected 1 response, got %d", len(c.balances))
	}
	resp := c.balances[0]
	if resp.TRC20Balance != 30 || resp.ERC20Balance != 12 || resp.TotalBalance != 42 {
		t.Errorf("unexpected balances %+v", resp)
	}
}

func TestSendWithoutSubscriber(t *testing.T) {
	bus := NewInProcBus()
	err := bus.Send(context.Background(), "a", "nobody", TopicPaymentRequest, PaymentRequest{})
	if err == nil {
		t.Error("expected delivery error")
	}
}
