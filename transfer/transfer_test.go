package transfer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/finagent/stablepay"
)

type fakeProvider struct {
	balance       float64
	balanceErr    error
	balanceCalls  int
	withdrawCalls int
	withdrawErr   error
}

func (p *fakeProvider) CreateInvoice(context.Context, stablepay.InvoiceRequest) (stablepay.ProviderInvoice, error) {
	return stablepay.ProviderInvoice{}, nil
}

func (p *fakeProvider) GetBalance(_ context.Context, network stablepay.Network) (stablepay.Balance, error) {
	p.balanceCalls++
	if p.balanceErr != nil {
		return stablepay.Balance{}, p.balanceErr
	}
	return stablepay.Balance{Network: network, Amount: p.balance, UpdatedAt: time.Now()}, nil
}

func (p *fakeProvider) Withdraw(_ context.Context, amount float64, address string, network stablepay.Network) (stablepay.Transaction, error) {
	p.withdrawCalls++
	if p.withdrawErr != nil {
		return stablepay.Transaction{}, p.withdrawErr
	}
	return stablepay.Transaction{ID: "wd1", Status: "pending", Amount: amount, Network: network, Recipient: address}, nil
}

func (p *fakeProvider) VerifyWebhookSignature([]byte, string, stablepay.Network) bool { return true }

const (
	goodTronAddress = "TNPeeaaFB7K9cmo4uQpcU32zGK8G1NYqeL"
	goodEthAddress  = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
)

func newOrchestrator(p *fakeProvider) *Orchestrator {
	return New(Config{}, p, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestValidAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		network stablepay.Network
		want    bool
	}{
		{"tron ok", goodTronAddress, stablepay.NetworkTRC20, true},
		{"tron wrong prefix", "ANPeeaaFB7K9cmo4uQpcU32zGK8G1NYqeL", stablepay.NetworkTRC20, false},
		{"tron too short", "TNPeeaaFB7K9cmo4uQpcU32zGK8G1NYqe", stablepay.NetworkTRC20, false},
		{"tron base58 forbidden char", "TNPeeaaFB7K9cmo4uQpcU32zGK8G1NYqe0", stablepay.NetworkTRC20, false},
		{"eth ok", goodEthAddress, stablepay.NetworkERC20, true},
		{"eth no prefix", "5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", stablepay.NetworkERC20, true},
		{"eth too short", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeA", stablepay.NetworkERC20, false},
		{"eth non-hex", "0xZaAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", stablepay.NetworkERC20, false},
		{"cross-network", goodTronAddress, stablepay.NetworkERC20, false},
		{"unknown network", goodTronAddress, "bep20", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidAddress(tt.address, tt.network); got != tt.want {
				t.Errorf("ValidAddress(%q, %q) = %v, want %v", tt.address, tt.network, got, tt.want)
			}
		})
	}
}

func TestSendHappyPath(t *testing.T) {
	p := &fakeProvider{balance: 50}
	o := newOrchestrator(p)

	tx, err := o.Send(context.Background(), 10, goodTronAddress, stablepay.NetworkTRC20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.ID != "wd1" || tx.Amount != 10 || tx.Recipient != goodTronAddress {
		t.Errorf("unexpected transaction: %+v", tx)
	}
	if p.balanceCalls != 1 || p.withdrawCalls != 1 {
		t.Errorf("expected one balance check and one withdrawal, got %d/%d", p.balanceCalls, p.withdrawCalls)
	}
}

func TestSendValidationRejections(t *testing.T) {
	tests := []struct {
		name    string
		amount  float64
		address string
		network stablepay.Network
	}{
		{"zero amount", 0, goodTronAddress, stablepay.NetworkTRC20},
		{"negative amount", -5, goodTronAddress, stablepay.NetworkTRC20},
		{"below minimum", 0.05, goodTronAddress, stablepay.NetworkTRC20},
		{"above maximum", 20000, goodTronAddress, stablepay.NetworkTRC20},
		{"bad network", 10, goodTronAddress, "bep20"},
		{"bad address", 10, "not-an-address", stablepay.NetworkTRC20},
		{"eth address on tron", 10, goodEthAddress, stablepay.NetworkTRC20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{balance: 1_000_000}
			o := newOrchestrator(p)

			_, err := o.Send(context.Background(), tt.amount, tt.address, tt.network)
			if stablepay.KindOf(err) != stablepay.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			// Validation must fail before any provider traffic.
			if p.balanceCalls != 0 || p.withdrawCalls != 0 {
				t.Errorf("provider reached on invalid input: balance=%d withdraw=%d", p.balanceCalls, p.withdrawCalls)
			}
		})
	}
}

func TestSendInsufficientFunds(t *testing.T) {
	p := &fakeProvider{balance: 1.0}
	o := newOrchestrator(p)

	_, err := o.Send(context.Background(), 10.0, goodTronAddress, stablepay.NetworkTRC20)
	if stablepay.KindOf(err) != stablepay.KindInsufficientFunds {
		t.Fatalf("expected insufficient-funds error, got %v", err)
	}
	if p.withdrawCalls != 0 {
		t.Errorf("withdraw must not run when the funds guard trips, got %d calls", p.withdrawCalls)
	}
}

func TestSendBalanceCheckFailureKeepsKind(t *testing.T) {
	tests := []struct {
		name string
		err  *stablepay.Error
	}{
		{"transient outage", stablepay.NewError(stablepay.KindTransient, "rail down", nil)},
		{"breaker open", stablepay.NewError(stablepay.KindUnavailable, "circuit breaker is open", nil)},
		{"provider rejection", stablepay.NewError(stablepay.KindUpstream, "invalid api key", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{balanceErr: tt.err}
			o := newOrchestrator(p)

			_, err := o.Send(context.Background(), 10, goodTronAddress, stablepay.NetworkTRC20)
			if err == nil {
				t.Fatal("expected error")
			}
			// The balance check must pass the classified error through
			// so callers can key retry policy off its kind.
			if got := stablepay.KindOf(err); got != tt.err.Kind {
				t.Errorf("kind = %q, want %q", got, tt.err.Kind)
			}
			if p.withdrawCalls != 0 {
				t.Errorf("withdraw must not run when the balance check fails, got %d calls", p.withdrawCalls)
			}
		})
	}
}

func TestSendWithdrawFailurePropagates(t *testing.T) {
	p := &fakeProvider{
		balance:     100,
		withdrawErr: stablepay.NewError(stablepay.KindUpstream, "provider rejected withdrawal", nil),
	}
	o := newOrchestrator(p)

	_, err := o.Send(context.Background(), 10, goodTronAddress, stablepay.NetworkTRC20)
	if stablepay.KindOf(err) != stablepay.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
