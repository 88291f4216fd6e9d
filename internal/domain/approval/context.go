package approval

// PaymentContext is the evaluation context for deny rules: one candidate
// payment plus the current session state.
type PaymentContext struct {
	// AmountSats is the payment amount in satoshis.
	AmountSats int64

	// AmountUSD is the payment amount at the current BTC/USD price.
	AmountUSD float64

	// SessionSpentUSD is the cumulative spend so far this session.
	SessionSpentUSD float64

	// RequestCount is how many approval checks this session has seen,
	// including this one.
	RequestCount int64

	// ToolName is the MCP tool requesting the payment.
	ToolName string

	// Hour is the local hour of day, 0-23.
	Hour int
}
