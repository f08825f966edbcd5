// Package stablepay is the payment orchestration core of the FinAgent USDT
// broker. It converts USD amounts to USDT via a price oracle, issues and
// tracks invoices against two independent payment-processor rails (TRC20 and
// ERC20), authenticates asynchronous webhook notifications, and executes
// outbound transfers with a funds guard.
//
// The root package holds the shared entities, the error taxonomy, and the
// interfaces that the orchestration components (invoice, transfer) use to
// reach the network provider, the price oracle, and the invoice store.
// Concrete implementations live in the subpackages and are wired together
// explicitly at process startup; there are no package-level singletons.
package stablepay

import "context"

// InvoiceRequest is a provider invoice creation request.
type InvoiceRequest struct {
	InvoiceID   string
	AmountUSDT  float64
	Network     Network
	Description string
	CallbackURL string
	ExpireIn    int // minutes
}

// ProviderInvoice is the provider's view of a created invoice.
type ProviderInvoice struct {
	Address    string
	QRCodeURL  string
	PaymentURL string
}

// Provider abstracts the upstream payment processor across both rails.
type Provider interface {
	// CreateInvoice registers an invoice with the processor and returns the
	// assigned payment address.
	CreateInvoice(ctx context.Context, req InvoiceRequest) (ProviderInvoice, error)

	// GetBalance reads the current wallet balance on one network. Never
	// served from cache; callers rely on it reflecting the latest state.
	GetBalance(ctx context.Context, network Network) (Balance, error)

	// Withdraw submits an outbound transfer and returns the pending
	// transaction record.
	Withdraw(ctx context.Context, amount float64, address string, network Network) (Transaction, error)

	// VerifyWebhookSignature recomputes the HMAC over the raw payload with
	// the network's webhook secret and compares in constant time. Returns
	// false on any mismatch or unknown network; never errors.
	VerifyWebhookSignature(payload []byte, signature string, network Network) bool
}

// Converter turns USD amounts into USDT amounts. degraded is true when the
// oracle could not be reached and a 1:1 fallback ratio was applied.
type Converter interface {
	ConvertUSD(ctx context.Context, usd float64) (usdt float64, degraded bool)
}

// Store is the injectable key-value store the invoice manager persists into.
// Implementations must make Put an atomic upsert per invoice ID.
type Store interface {
	Put(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	List(ctx context.Context) ([]*Invoice, error)
	Delete(ctx context.Context, id string) error
}
