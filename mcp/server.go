// Package mcp exposes the payment core as Model Context Protocol tools so
// AI agents can create invoices, send USDT and inspect wallet state.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/finagent/stablepay"
	"github.com/finagent/stablepay/invoice"
	"github.com/finagent/stablepay/oracle"
	"github.com/finagent/stablepay/transfer"
)

// Server wraps an MCP server over the payment core.
type Server struct {
	mcp          *mcpsdk.Server
	manager      *invoice.Manager
	orchestrator *transfer.Orchestrator
	oracle       *oracle.Client
	provider     stablepay.Provider
	log          *slog.Logger
}

// New creates the MCP server and registers all payment tools.
func New(manager *invoice.Manager, orchestrator *transfer.Orchestrator, o *oracle.Client, p stablepay.Provider, log *slog.Logger) *Server {
	s := &Server{
		mcp: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    "stablepay",
			Version: "1.0.0",
		}, nil),
		manager:      manager,
		orchestrator: orchestrator,
		oracle:       o,
		provider:     p,
		log:          log,
	}
	s.registerTools()
	return s
}

// Run serves the MCP protocol over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

// SSEHandler returns an HTTP handler speaking MCP over SSE, for mounting
// next to the REST API.
func (s *Server) SSEHandler() http.Handler {
	return mcpsdk.NewSSEHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(&mcpsdk.Tool{
		Name:        "create_payment",
		Description: "Create a USDT payment invoice for a given USD amount. Returns the invoice with a payment address the payer must send funds to.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"amount_usd": map[string]interface{}{
					"type":        "number",
					"description": "Amount to collect, in US dollars",
				},
				"network": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"trc20", "erc20"},
					"description": "USDT network to receive on",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "Optional human-readable purpose of the payment",
				},
			},
			"required": []string{"amount_usd", "network"},
		},
	}, s.handleCreatePayment)

	s.mcp.AddTool(&mcpsdk.Tool{
		Name:        "send_usdt",
		Description: "Send USDT from the service wallet to an external address. Fails without side effects if the wallet balance is insufficient.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"amount": map[string]interface{}{
					"type":        "number",
					"description": "Amount of USDT to send",
				},
				"address": map[string]interface{}{
					"type":        "string",
					"description": "Recipient address on the chosen network",
				},
				"network": map[string]interface{}{
					"type": "string",
					"enum": []string{"trc20", "erc20"},
				},
			},
			"required": []string{"amount", "address", "network"},
		},
	}, s.handleSendUSDT)

	s.mcp.AddTool(&mcpsdk.Tool{
		Name:        "check_balance",
		Description: "Read the service wallet balance on one USDT network.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"network": map[string]interface{}{
					"type": "string",
					"enum": []string{"trc20", "erc20"},
				},
			},
			"required": []string{"network"},
		},
	}, s.handleCheckBalance)

	s.mcp.AddTool(&mcpsdk.Tool{
		Name:        "get_usdt_price",
		Description: "Fetch the current USDT/USD price from the oracle.",
		InputSchema: map[string]interface{}{"type": "object"},
	}, s.handleGetPrice)

	s.mcp.AddTool(&mcpsdk.Tool{
		Name:        "list_invoices",
		Description: "List invoices, optionally filtered by status or network.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"status": map[string]interface{}{
					"type": "string",
					"enum": []string{"pending", "processing", "completed", "failed", "expired", "cancelled"},
				},
				"network": map[string]interface{}{
					"type": "string",
					"enum": []string{"trc20", "erc20"},
				},
			},
		},
	}, s.handleListInvoices)
}

// decodeArgs unmarshals tool arguments into dst.
func decodeArgs(req *mcpsdk.CallToolRequest, dst interface{}) error {
	if req.Params.Arguments == nil {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, dst)
}

// textResult marshals v as indented JSON into a tool result.
func textResult(v interface{}) (*mcpsdk.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
	}, nil
}

// errorResult reports a tool failure to the agent without failing the
// protocol call.
func errorResult(err error) (*mcpsdk.CallToolResult, error) {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}, nil
}

func (s *Server) handleCreatePayment(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		AmountUSD   float64 `json:"amount_usd"`
		Network     string  `json:"network"`
		Description string  `json:"description"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Errorf("invalid arguments: %w", err))
	}
	network, err := stablepay.ParseNetwork(args.Network)
	if err != nil {
		return errorResult(err)
	}

	inv, err := s.manager.Create(ctx, invoice.CreateRequest{
		AmountUSD:   args.AmountUSD,
		Network:     network,
		Description: args.Description,
	})
	if err != nil {
		return errorResult(err)
	}
	s.log.Info("mcp tool created invoice", "invoice_id", inv.ID, "network", network)
	return textResult(inv)
}

func (s *Server) handleSendUSDT(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		Amount  float64 `json:"amount"`
		Address string  `json:"address"`
		Network string  `json:"network"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Errorf("invalid arguments: %w", err))
	}
	network, err := stablepay.ParseNetwork(args.Network)
	if err != nil {
		return errorResult(err)
	}

	tx, err := s.orchestrator.Send(ctx, args.Amount, args.Address, network)
	if err != nil {
		return errorResult(err)
	}
	return textResult(tx)
}

func (s *Server) handleCheckBalance(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		Network string `json:"network"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Errorf("invalid arguments: %w", err))
	}
	network, err := stablepay.ParseNetwork(args.Network)
	if err != nil {
		return errorResult(err)
	}

	balance, err := s.provider.GetBalance(ctx, network)
	if err != nil {
		return errorResult(err)
	}
	return textResult(balance)
}

func (s *Server) handleGetPrice(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	quote, err := s.oracle.Quote(ctx)
	if err != nil {
		return errorResult(err)
	}
	return textResult(quote)
}

func (s *Server) handleListInvoices(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		Status  string `json:"status"`
		Network string `json:"network"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Errorf("invalid arguments: %w", err))
	}

	filter := invoice.ListFilter{}
	if args.Status != "" {
		filter.Status = stablepay.InvoiceStatus(args.Status)
	}
	if args.Network != "" {
		network, err := stablepay.ParseNetwork(args.Network)
		if err != nil {
			return errorResult(err)
		}
		filter.Network = network
	}

	invoices, err := s.manager.List(ctx, filter)
	if err != nil {
		return errorResult(err)
	}
	return textResult(map[string]interface{}{
		"invoices": invoices,
		"count":    len(invoices),
	})
}
