// Package provider adapts the upstream payment processor behind one
// interface for both USDT rails. The two networks differ only in credentials
// and base endpoint; request building, envelope decoding and error mapping
// are shared.
package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/finagent/stablepay"
	"github.com/finagent/stablepay/breaker"
	"github.com/finagent/stablepay/httpclient"
)

const (
	// DefaultTimeout bounds one provider round-trip. Provider calls are
	// slower than the oracle, so the default is generous.
	DefaultTimeout = 60 * time.Second

	currency = "USDT"
)

// Credentials carries the per-network API credential set.
type Credentials struct {
	BaseURL       string
	APIKey        string
	Password      string
	WebhookSecret string
}

// Config tunes a Client.
type Config struct {
	TRC20   Credentials
	ERC20   Credentials
	Timeout time.Duration

	// Observe, if set, records the duration of each upstream call by target
	// name. Wired to metrics at startup.
	Observe func(target string, d time.Duration)
}

// Client implements stablepay.Provider against the processor's HTTP API.
// One circuit breaker guards each rail independently.
type Client struct {
	cfg      Config
	pool     *httpclient.Pool
	breakers map[stablepay.Network]*breaker.Breaker
	log      *slog.Logger
}

var _ stablepay.Provider = (*Client)(nil)

// New creates a provider client. breakers maps each network to its breaker;
// missing entries disable breaking for that rail (calls pass straight
// through), which only tests should rely on.
func New(cfg Config, pool *httpclient.Pool, breakers map[stablepay.Network]*breaker.Breaker, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if breakers == nil {
		breakers = map[stablepay.Network]*breaker.Breaker{}
	}
	return &Client{cfg: cfg, pool: pool, breakers: breakers, log: log}
}

func (c *Client) credentials(network stablepay.Network) (Credentials, error) {
	switch network {
	case stablepay.NetworkTRC20:
		return c.cfg.TRC20, nil
	case stablepay.NetworkERC20:
		return c.cfg.ERC20, nil
	}
	return Credentials{}, stablepay.NewError(stablepay.KindValidation,
		fmt.Sprintf("unsupported network: %q", network), nil)
}

// envelope is the provider's JSON response wrapper. flag != 1 signals a
// logical failure with the reason in msg.
type envelope struct {
	Flag int             `json:"flag"`
	Data json.RawMessage `json:"data"`
	Msg  string          `json:"msg"`
}

// floatString tolerates the provider sending numeric fields as either JSON
// numbers or quoted strings.
type floatString float64

func (f *floatString) UnmarshalJSON(data []byte) error {
	if len(data) > 1 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = floatString(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = floatString(v)
	return nil
}

// do performs one signed provider call and returns the envelope data. Errors
// are classified: transport failures and 5xx/429 responses are transient
// (breaker-accounted); everything the provider itself rejects is an upstream
// domain error and is never retried.
func (c *Client) do(ctx context.Context, method, endpoint string, network stablepay.Network, params url.Values) (json.RawMessage, error) {
	creds, err := c.credentials(network)
	if err != nil {
		return nil, err
	}

	payload := url.Values{}
	payload.Set("api_key", creds.APIKey)
	payload.Set("password", creds.Password)
	for k, vs := range params {
		for _, v := range vs {
			payload.Add(k, v)
		}
	}

	target := fmt.Sprintf("provider_%s_%s", network, endpoint)
	requestURL := creds.BaseURL + "/" + endpoint

	var data json.RawMessage
	call := func(ctx context.Context) error {
		start := time.Now()
		status, body, err := c.pool.Request(ctx, method, requestURL, payload, c.cfg.Timeout)
		if c.cfg.Observe != nil {
			c.cfg.Observe(target, time.Since(start))
		}
		if err != nil {
			return stablepay.WrapError(stablepay.KindTransient,
				fmt.Sprintf("provider request %s failed", endpoint), err)
		}
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return stablepay.NewError(stablepay.KindTransient,
				fmt.Sprintf("provider %s returned status %d", endpoint, status), nil)
		}
		if status >= http.StatusBadRequest {
			return stablepay.NewError(stablepay.KindUpstream,
				fmt.Sprintf("provider %s returned status %d", endpoint, status), nil)
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return stablepay.WrapError(stablepay.KindUpstream,
				fmt.Sprintf("provider %s response malformed", endpoint), err)
		}
		if env.Flag != 1 {
			msg := env.Msg
			if msg == "" {
				msg = "unknown provider error"
			}
			return stablepay.NewError(stablepay.KindUpstream, msg,
				map[string]interface{}{"endpoint": endpoint, "network": string(network)})
		}
		data = env.Data
		return nil
	}

	if brk, ok := c.breakers[network]; ok {
		err = brk.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		c.log.Error("provider call failed", "endpoint", endpoint, "network", network, "error", err)
		return nil, err
	}
	return data, nil
}

// CreateInvoice registers an invoice with the processor.
func (c *Client) CreateInvoice(ctx context.Context, req stablepay.InvoiceRequest) (stablepay.ProviderInvoice, error) {
	params := url.Values{}
	params.Set("amount", strconv.FormatFloat(req.AmountUSDT, 'f', -1, 64))
	params.Set("currency", currency)
	name := req.Description
	if name == "" {
		name = "Payment " + req.InvoiceID
	}
	params.Set("name", name)
	if req.ExpireIn > 0 {
		params.Set("expire_time", strconv.Itoa(req.ExpireIn))
	}
	if req.CallbackURL != "" {
		params.Set("notify_url", req.CallbackURL)
	}

	data, err := c.do(ctx, http.MethodPost, "get-invoice", req.Network, params)
	if err != nil {
		return stablepay.ProviderInvoice{}, err
	}

	var out struct {
		Address string `json:"address"`
		QRCode  string `json:"qr_code"`
		URL     string `json:"url"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return stablepay.ProviderInvoice{}, stablepay.WrapError(stablepay.KindUpstream, "invoice response malformed", err)
	}

	c.log.Info("invoice registered with provider",
		"invoice_id", req.InvoiceID, "network", req.Network, "amount_usdt", req.AmountUSDT)
	return stablepay.ProviderInvoice{
		Address:    out.Address,
		QRCodeURL:  out.QRCode,
		PaymentURL: out.URL,
	}, nil
}

// GetBalance reads the current wallet balance on one network.
func (c *Client) GetBalance(ctx context.Context, network stablepay.Network) (stablepay.Balance, error) {
	data, err := c.do(ctx, http.MethodGet, "get-balance", network, nil)
	if err != nil {
		return stablepay.Balance{}, err
	}

	var out struct {
		Balance floatString `json:"balance"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return stablepay.Balance{}, stablepay.WrapError(stablepay.KindUpstream, "balance response malformed", err)
	}

	return stablepay.Balance{
		Network:   network,
		Amount:    float64(out.Balance),
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Withdraw submits an outbound transfer.
func (c *Client) Withdraw(ctx context.Context, amount float64, address string, network stablepay.Network) (stablepay.Transaction, error) {
	params := url.Values{}
	params.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))
	params.Set("address", address)

	data, err := c.do(ctx, http.MethodPost, "withdraw", network, params)
	if err != nil {
		return stablepay.Transaction{}, err
	}

	var out struct {
		ID     string `json:"id"`
		TxID   string `json:"txid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return stablepay.Transaction{}, stablepay.WrapError(stablepay.KindUpstream, "withdraw response malformed", err)
	}

	status := out.Status
	if status == "" {
		status = "pending"
	}

	c.log.Info("withdrawal submitted",
		"network", network, "amount", amount, "recipient", address, "transaction_id", out.ID)
	return stablepay.Transaction{
		ID:        out.ID,
		TxHash:    out.TxID,
		Status:    status,
		Amount:    amount,
		Network:   network,
		Recipient: address,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// GetTransaction fetches transaction details by provider transaction ID.
func (c *Client) GetTransaction(ctx context.Context, id string, network stablepay.Network) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("id", id)

	data, err := c.do(ctx, http.MethodGet, "get-transaction", network, params)
	if err != nil {
		return nil, err
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, stablepay.WrapError(stablepay.KindUpstream, "transaction response malformed", err)
	}
	return out, nil
}

// VerifyWebhookSignature recomputes an HMAC-SHA256 over the raw payload with
// the network's webhook secret and compares in constant time.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string, network stablepay.Network) bool {
	creds, err := c.credentials(network)
	if err != nil || creds.WebhookSecret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(creds.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	expectedBytes, _ := hex.DecodeString(expected)
	return hmac.Equal(sigBytes, expectedBytes)
}

// Sign computes the webhook HMAC for payload on the given network. Used by
// tests and by the provider simulator.
func (c *Client) Sign(payload []byte, network stablepay.Network) string {
	creds, err := c.credentials(network)
	if err != nil {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(creds.WebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// HealthCheck reports per-network reachability by probing the balance
// endpoint.
func (c *Client) HealthCheck(ctx context.Context) map[stablepay.Network]bool {
	results := make(map[stablepay.Network]bool, len(stablepay.Networks))
	for _, network := range stablepay.Networks {
		_, err := c.GetBalance(ctx, network)
		results[network] = err == nil
	}
	return results
}
