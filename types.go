package stablepay

import (
	"fmt"
	"strings"
	"time"
)

// Network identifies one of the two supported USDT rails.
type Network string

const (
	NetworkTRC20 Network = "trc20"
	NetworkERC20 Network = "erc20"
)

// Networks lists every supported rail.
var Networks = []Network{NetworkTRC20, NetworkERC20}

// ParseNetwork normalizes a network string and rejects unsupported rails.
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case NetworkTRC20:
		return NetworkTRC20, nil
	case NetworkERC20:
		return NetworkERC20, nil
	}
	return "", NewError(KindValidation, fmt.Sprintf("unsupported network: %q", s), nil)
}

// Valid reports whether the network is one of the supported rails.
func (n Network) Valid() bool {
	return n == NetworkTRC20 || n == NetworkERC20
}

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	StatusPending    InvoiceStatus = "pending"
	StatusProcessing InvoiceStatus = "processing"
	StatusCompleted  InvoiceStatus = "completed"
	StatusFailed     InvoiceStatus = "failed"
	StatusExpired    InvoiceStatus = "expired"
	StatusCancelled  InvoiceStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s InvoiceStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a forward move from s to next is allowed by
// the lifecycle table. Re-applying the current status is not a transition and
// returns false; terminal states admit nothing.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusExpired ||
			next == StatusCancelled || next == StatusCompleted || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Invoice is a request for payment of a computed USDT amount on a specific
// network. Owned by the invoice lifecycle manager; everything outside it
// receives copies.
type Invoice struct {
	ID             string        `json:"invoice_id"`
	AmountUSD      float64       `json:"amount_usd"`
	AmountUSDT     float64       `json:"amount_usdt"`
	Network        Network       `json:"network"`
	PaymentAddress string        `json:"payment_address"`
	Status         InvoiceStatus `json:"status"`
	Description    string        `json:"description,omitempty"`
	CallbackURL    string        `json:"callback_url,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	AmountPaid     float64       `json:"amount_paid"`
	TxHash         string        `json:"transaction_hash,omitempty"`
	Confirmations  int           `json:"confirmations"`
}

// PriceQuote is a point-in-time USDT/USD quote. Immutable once constructed.
type PriceQuote struct {
	Symbol    string    `json:"symbol"`
	PriceUSD  float64   `json:"price_usd"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Balance is a wallet balance on one network as reported by the provider.
type Balance struct {
	Network   Network   `json:"network"`
	Amount    float64   `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is an outbound transfer record returned by the provider.
type Transaction struct {
	ID        string    `json:"transaction_id"`
	TxHash    string    `json:"transaction_hash,omitempty"`
	Status    string    `json:"status"`
	Amount    float64   `json:"amount"`
	Network   Network   `json:"network"`
	Recipient string    `json:"recipient"`
	CreatedAt time.Time `json:"created_at"`
}

// WebhookEvent is a normalized provider payment notification after signature
// verification.
type WebhookEvent struct {
	InvoiceID     string  `json:"invoice_id"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	TxHash        string  `json:"txid"`
	Network       Network `json:"network"`
	Confirmations int     `json:"confirmations,omitempty"`
}
