// Package api exposes the payment orchestration core over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finagent/stablepay"
	"github.com/finagent/stablepay/invoice"
	"github.com/finagent/stablepay/metrics"
	"github.com/finagent/stablepay/oracle"
	"github.com/finagent/stablepay/provider"
	"github.com/finagent/stablepay/transfer"
)

// SignatureHeader carries the provider's webhook HMAC.
const SignatureHeader = "X-Coinremitter-Signature"

// Server wires the HTTP routes to the payment core.
type Server struct {
	manager      *invoice.Manager
	orchestrator *transfer.Orchestrator
	oracle       *oracle.Client
	provider     *provider.Client
	metrics      *metrics.Metrics
	log          *slog.Logger

	// webhookDone, when set, is invoked after each async webhook
	// completes. Used by tests to observe completion.
	webhookDone func(err error)
}

// New creates an HTTP server over the given components.
func New(manager *invoice.Manager, orchestrator *transfer.Orchestrator, o *oracle.Client, p *provider.Client, m *metrics.Metrics, log *slog.Logger) *Server {
	return &Server{
		manager:      manager,
		orchestrator: orchestrator,
		oracle:       o,
		provider:     p,
		metrics:      m,
		log:          log,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	v1 := r.Group("/api/v1")
	{
		v1.POST("/pay", s.handleCreatePayment)
		v1.POST("/send", s.handleSend)
		v1.POST("/callback/:network", s.handleWebhook)
		v1.GET("/balance", s.handleBalance)
		v1.GET("/price", s.handlePrice)
		v1.GET("/health", s.handleHealth)
		v1.GET("/invoice/:id", s.handleGetInvoice)
		v1.GET("/invoices", s.handleListInvoices)
	}
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(err error) int {
	switch stablepay.KindOf(err) {
	case stablepay.KindValidation:
		return http.StatusBadRequest
	case stablepay.KindWebhookAuth:
		return http.StatusUnauthorized
	case stablepay.KindNotFound:
		return http.StatusNotFound
	case stablepay.KindInsufficientFunds, stablepay.KindUpstream:
		return http.StatusUnprocessableEntity
	case stablepay.KindTransient, stablepay.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	var perr *stablepay.Error
	if errors.As(err, &perr) {
		body["error"] = perr.Message
		body["kind"] = string(perr.Kind)
		if len(perr.Fields) > 0 {
			body["details"] = perr.Fields
		}
	}
	c.JSON(status, body)
}

type payRequest struct {
	AmountUSD   float64 `json:"amount_usd" binding:"required"`
	Network     string  `json:"network" binding:"required"`
	Description string  `json:"description"`
	CallbackURL string  `json:"callback_url"`
}

func (s *Server) handleCreatePayment(c *gin.Context) {
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, stablepay.WrapError(stablepay.KindValidation, "malformed payment request", err))
		return
	}
	network, err := stablepay.ParseNetwork(req.Network)
	if err != nil {
		s.fail(c, err)
		return
	}
	inv, err := s.manager.Create(c.Request.Context(), invoice.CreateRequest{
		AmountUSD:   req.AmountUSD,
		Network:     network,
		Description: req.Description,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.InvoiceCreated(string(network))
	}
	c.JSON(http.StatusCreated, inv)
}

type sendRequest struct {
	Amount  float64 `json:"amount" binding:"required"`
	Address string  `json:"address" binding:"required"`
	Network string  `json:"network" binding:"required"`
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, stablepay.WrapError(stablepay.KindValidation, "malformed transfer request", err))
		return
	}
	network, err := stablepay.ParseNetwork(req.Network)
	if err != nil {
		s.fail(c, err)
		return
	}
	tx, err := s.orchestrator.Send(c.Request.Context(), req.Amount, req.Address, network)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// handleWebhook authenticates the provider callback against the raw body,
// acknowledges immediately, and applies the state change asynchronously.
// The provider retries on non-2xx, so only authentication and parse
// failures are surfaced; processing errors are logged.
func (s *Server) handleWebhook(c *gin.Context) {
	network, err := stablepay.ParseNetwork(c.Param("network"))
	if err != nil {
		s.fail(c, err)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.fail(c, stablepay.WrapError(stablepay.KindValidation, "unreadable webhook body", err))
		return
	}

	signature := c.GetHeader(SignatureHeader)
	if !s.provider.VerifyWebhookSignature(body, signature, network) {
		if s.metrics != nil {
			s.metrics.WebhookAuthFailure(string(network))
		}
		s.log.Warn("webhook signature rejected", "network", string(network))
		s.fail(c, stablepay.NewError(stablepay.KindWebhookAuth, "invalid webhook signature", nil))
		return
	}

	event, err := parseWebhookEvent(body, network)
	if err != nil {
		s.fail(c, err)
		return
	}

	// Processing outlives the request; the ack has already committed us.
	go func() {
		err := s.manager.ApplyWebhook(context.Background(), event)
		if err != nil {
			s.log.Error("webhook processing failed",
				"invoice_id", event.InvoiceID, "error", err)
		}
		if s.webhookDone != nil {
			s.webhookDone(err)
		}
	}()

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (s *Server) handleBalance(c *gin.Context) {
	ctx := c.Request.Context()
	if raw := c.Query("network"); raw != "" {
		network, err := stablepay.ParseNetwork(raw)
		if err != nil {
			s.fail(c, err)
			return
		}
		balance, err := s.provider.GetBalance(ctx, network)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, balance)
		return
	}

	balances := map[string]any{}
	for _, network := range []stablepay.Network{stablepay.NetworkTRC20, stablepay.NetworkERC20} {
		balance, err := s.provider.GetBalance(ctx, network)
		if err != nil {
			balances[string(network)] = gin.H{"error": err.Error()}
			continue
		}
		balances[string(network)] = balance
	}
	c.JSON(http.StatusOK, balances)
}

func (s *Server) handlePrice(c *gin.Context) {
	quote, err := s.oracle.Quote(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (s *Server) handleHealth(c *gin.Context) {
	rails := s.provider.HealthCheck(c.Request.Context())
	healthy := true
	networks := gin.H{}
	for network, ok := range rails {
		networks[string(network)] = ok
		if !ok {
			healthy = false
		}
	}
	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
	}
	c.JSON(code, gin.H{"status": status, "networks": networks})
}

func (s *Server) handleGetInvoice(c *gin.Context) {
	inv, err := s.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) handleListInvoices(c *gin.Context) {
	filter := invoice.ListFilter{}
	if raw := c.Query("status"); raw != "" {
		filter.Status = stablepay.InvoiceStatus(raw)
	}
	if raw := c.Query("network"); raw != "" {
		network, err := stablepay.ParseNetwork(raw)
		if err != nil {
			s.fail(c, err)
			return
		}
		filter.Network = network
	}
	invoices, err := s.manager.List(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices, "count": len(invoices)})
}

// parseWebhookEvent decodes the provider's form-encoded callback body.
func parseWebhookEvent(body []byte, network stablepay.Network) (stablepay.WebhookEvent, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return stablepay.WebhookEvent{}, stablepay.WrapError(stablepay.KindValidation, "malformed webhook body", err)
	}
	event := stablepay.WebhookEvent{
		InvoiceID: values.Get("invoice_id"),
		Status:    values.Get("status"),
		TxHash:    values.Get("txid"),
		Network:   network,
	}
	if event.InvoiceID == "" {
		return stablepay.WebhookEvent{}, stablepay.NewError(stablepay.KindValidation, "webhook missing invoice_id", nil)
	}
	if raw := values.Get("amount"); raw != "" {
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return stablepay.WebhookEvent{}, stablepay.WrapError(stablepay.KindValidation, "malformed webhook amount", err)
		}
		event.Amount = amount
	}
	if raw := values.Get("confirmations"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			event.Confirmations = n
		}
	}
	return event, nil
}
