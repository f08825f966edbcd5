// Package agent runs a wallet agent that answers payment and balance
// requests from other agents over a message bus.
package agent

import (
	"context"
	"fmt"
	"sync"
)

// Topics the wallet agent speaks.
const (
	TopicPaymentRequest  = "payment.request"
	TopicPaymentResponse = "payment.response"
	TopicBalanceRequest  = "balance.request"
	TopicBalanceResponse = "balance.response"
)

// PaymentRequest asks the wallet to send USDT to a recipient.
type PaymentRequest struct {
	RequestID string  `json:"request_id"`
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
	Network   string  `json:"network"`
}

// PaymentResponse reports the outcome of a PaymentRequest.
type PaymentResponse struct {
	RequestID     string `json:"request_id"`
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// BalanceRequest asks the wallet for its balances. An empty network means
// both rails.
type BalanceRequest struct {
	Network string `json:"network,omitempty"`
}

// BalanceResponse carries the wallet balances per rail.
type BalanceResponse struct {
	TRC20Balance float64 `json:"trc20_balance"`
	ERC20Balance float64 `json:"erc20_balance"`
	TotalBalance float64 `json:"total_balance"`
}

// Handler processes one message addressed to a subscriber. sender is the
// address responses should go back to.
type Handler func(ctx context.Context, sender string, msg any)

// Bus is the message transport between agents. Implementations must
// deliver each Send to the handler the recipient registered for the topic.
type Bus interface {
	Subscribe(address, topic string, h Handler)
	Send(ctx context.Context, from, to, topic string, msg any) error
}

// InProcBus is an in-process Bus for single-binary deployments and tests.
// Delivery is synchronous in Send's goroutine.
type InProcBus struct {
	mu       sync.RWMutex
	handlers map[string]map[string]Handler
}

// NewInProcBus creates an empty in-process bus.
func NewInProcBus() *InProcBus {
	return &InProcBus{handlers: make(map[string]map[string]Handler)}
}

// Subscribe registers h for messages sent to address on topic, replacing
// any previous handler.
func (b *InProcBus) Subscribe(address, topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[address] == nil {
		b.handlers[address] = make(map[string]Handler)
	}
	b.handlers[address][topic] = h
}

// Send delivers msg to the handler registered by to for topic.
func (b *InProcBus) Send(ctx context.Context, from, to, topic string, msg any) error {
	b.mu.RLock()
	h := b.handlers[to][topic]
	b.mu.RUnlock()
	if h == nil {
		return fmt.Errorf("no subscriber for %s on topic %s", to, topic)
	}
	h(ctx, from, msg)
	return nil
}
