// Package mcp exposes the payment gateway as MCP tools over stdio. Every
// spend path funnels through the budget service before a wallet backend is
// touched.
package mcp

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	httpx "github.com/lightning-enable/lightning-enable/internal/adapter/inbound/http"
	"github.com/lightning-enable/lightning-enable/internal/config"
	"github.com/lightning-enable/lightning-enable/internal/l402"
	"github.com/lightning-enable/lightning-enable/internal/port/outbound"
	"github.com/lightning-enable/lightning-enable/internal/service"
)

// Server wires the application services into an MCP tool server.
type Server struct {
	mcpServer *mcpserver.MCPServer
	registry  *service.WalletRegistry
	budget    *service.BudgetService
	history   *service.HistoryService
	price     outbound.PriceOracle
	l402      *l402.Client
	cfg       config.BudgetConfig
	metrics   *httpx.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger

	// pendingMu guards the nonce -> invoice bindings awaiting confirmation.
	pendingMu       sync.Mutex
	pendingInvoices map[string]pendingInvoice
}

type pendingInvoice struct {
	bolt11    string
	expiresAt time.Time
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithMetrics attaches Prometheus metrics. Without it nothing is recorded.
func WithMetrics(m *httpx.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithTracer attaches a tracer for spans around the payment path.
func WithTracer(t trace.Tracer) ServerOption {
	return func(s *Server) { s.tracer = t }
}

// NewServer builds the MCP server and registers all tools.
func NewServer(name, version string, registry *service.WalletRegistry, budget *service.BudgetService, history *service.HistoryService, price outbound.PriceOracle, l402Client *l402.Client, cfg config.BudgetConfig, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		registry:        registry,
		budget:          budget,
		history:         history,
		price:           price,
		l402:            l402Client,
		cfg:             cfg,
		tracer:          noop.NewTracerProvider().Tracer("lightning-enable"),
		logger:          logger,
		pendingInvoices: make(map[string]pendingInvoice),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer = mcpserver.NewMCPServer(name, version,
		mcpserver.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// ServeStdio runs the server over stdin/stdout until EOF or a fatal error.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

// MCPServer returns the underlying server, for in-process test clients.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("pay_invoice",
		mcp.WithDescription("Pay a BOLT11 Lightning invoice, subject to budget approval"),
		mcp.WithString("invoice", mcp.Required(), mcp.Description("BOLT11 payment request")),
		mcp.WithString("description", mcp.Description("What this payment is for")),
	), s.handlePayInvoice)

	s.mcpServer.AddTool(mcp.NewTool("confirm_payment",
		mcp.WithDescription("Confirm a pending payment using its confirmation code"),
		mcp.WithString("nonce", mcp.Required(), mcp.Description("6-character confirmation code")),
	), s.handleConfirmPayment)

	s.mcpServer.AddTool(mcp.NewTool("check_wallet_balance",
		mcp.WithDescription("Check the active wallet's Lightning balance"),
	), s.handleCheckBalance)

	s.mcpServer.AddTool(mcp.NewTool("create_invoice",
		mcp.WithDescription("Create a BOLT11 invoice on the active wallet"),
		mcp.WithNumber("amount_sats", mcp.Required(), mcp.Description("Invoice amount in satoshis")),
		mcp.WithString("memo", mcp.Description("Invoice description")),
		mcp.WithNumber("expiry_seconds", mcp.Description("Invoice expiry in seconds")),
	), s.handleCreateInvoice)

	s.mcpServer.AddTool(mcp.NewTool("check_invoice_status",
		mcp.WithDescription("Check whether a created invoice has been paid"),
		mcp.WithString("invoice_id", mcp.Required(), mcp.Description("Invoice id from create_invoice")),
	), s.handleInvoiceStatus)

	s.mcpServer.AddTool(mcp.NewTool("get_btc_price",
		mcp.WithDescription("Get the current BTC/USD price"),
	), s.handleBtcPrice)

	s.mcpServer.AddTool(mcp.NewTool("get_all_balances",
		mcp.WithDescription("List balances across all currencies, for wallets that support it"),
	), s.handleAllBalances)

	s.mcpServer.AddTool(mcp.NewTool("exchange_currency",
		mcp.WithDescription("Convert between currencies inside the wallet"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source currency code, e.g. USD")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target currency code, e.g. BTC")),
		mcp.WithNumber("amount", mcp.Required(), mcp.Description("Amount in the source currency")),
	), s.handleExchange)

	s.mcpServer.AddTool(mcp.NewTool("send_onchain",
		mcp.WithDescription("Send an on-chain Bitcoin payment, subject to budget approval"),
		mcp.WithString("address", mcp.Required(), mcp.Description("Destination Bitcoin address")),
		mcp.WithNumber("amount_sats", mcp.Required(), mcp.Description("Amount in satoshis")),
	), s.handleSendOnChain)

	s.mcpServer.AddTool(mcp.NewTool("access_l402_resource",
		mcp.WithDescription("Fetch an L402 payment-gated URL, paying the challenge if within budget"),
		mcp.WithString("url", mcp.Required(), mcp.Description("The gated resource URL")),
		mcp.WithNumber("max_sats", mcp.Description("Maximum sats to pay for access")),
	), s.handleAccessL402)

	s.mcpServer.AddTool(mcp.NewTool("pay_l402_challenge",
		mcp.WithDescription("Pay a raw L402 WWW-Authenticate challenge and return the authorization token"),
		mcp.WithString("challenge", mcp.Required(), mcp.Description("The WWW-Authenticate header value")),
		mcp.WithNumber("max_sats", mcp.Description("Maximum sats to pay")),
	), s.handlePayL402Challenge)

	s.mcpServer.AddTool(mcp.NewTool("get_payment_history",
		mcp.WithDescription("List recent payment attempts"),
		mcp.WithNumber("limit", mcp.Description("Maximum records to return, default 50")),
	), s.handlePaymentHistory)

	s.mcpServer.AddTool(mcp.NewTool("get_budget_status",
		mcp.WithDescription("Show the session budget: spent, remaining, and limits"),
	), s.handleBudgetStatus)

	s.mcpServer.AddTool(mcp.NewTool("reset_session",
		mcp.WithDescription("Reset the session budget. Requires the reset passphrase"),
		mcp.WithString("passphrase", mcp.Required(), mcp.Description("Reset passphrase")),
	), s.handleResetSession)
}

// rememberInvoice binds a confirmation nonce to the invoice it approves.
func (s *Server) rememberInvoice(nonce, bolt11 string, expiresAt time.Time) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	now := time.Now()
	for n, p := range s.pendingInvoices {
		if now.After(p.expiresAt) {
			delete(s.pendingInvoices, n)
		}
	}
	s.pendingInvoices[nonce] = pendingInvoice{bolt11: bolt11, expiresAt: expiresAt}
}

// takeInvoice consumes the invoice bound to a nonce.
func (s *Server) takeInvoice(nonce string) (string, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	p, ok := s.pendingInvoices[nonce]
	if !ok {
		return "", false
	}
	delete(s.pendingInvoices, nonce)
	return p.bolt11, true
}

func (s *Server) countTool(tool, status string) {
	if s.metrics != nil {
		s.metrics.ToolCalls.WithLabelValues(tool, status).Inc()
	}
}

func (s *Server) countApproval(level string) {
	if s.metrics != nil {
		s.metrics.ApprovalChecks.WithLabelValues(level).Inc()
	}
}

func (s *Server) countPayment(backend, status string, sats int64) {
	if s.metrics == nil {
		return
	}
	s.metrics.PaymentsTotal.WithLabelValues(backend, status).Inc()
	if status == "paid" {
		s.metrics.PaymentSats.Add(float64(sats))
	}
	s.metrics.SessionSpentUSD.Set(s.budget.Status().SpentUSD)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("failed to encode result: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errResult(msg string) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(msg), nil
}

func stringArg(req mcp.CallToolRequest, key string) string {
	v, _ := req.GetArguments()[key].(string)
	return v
}

func numberArg(req mcp.CallToolRequest, key string, fallback float64) float64 {
	if v, ok := req.GetArguments()[key].(float64); ok {
		return v
	}
	return fallback
}
