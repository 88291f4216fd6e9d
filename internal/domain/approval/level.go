// Package approval defines the approval levels and results produced by the
// payment authorization engine.
package approval

// Level is the approval level required for a payment. Exactly one level is
// produced per approval check; it is a function of the amount, the session
// state, the configuration, and the clock, not a stored state transition.
type Level string

const (
	// LevelAutoApprove means the payment proceeds without any prompt.
	LevelAutoApprove Level = "auto_approve"

	// LevelLogAndApprove means the payment proceeds but is logged for user
	// awareness.
	LevelLogAndApprove Level = "log_and_approve"

	// LevelFormConfirm means the payment requires user confirmation in the
	// client interface (or a confirmation nonce when the client cannot
	// prompt).
	LevelFormConfirm Level = "form_confirm"

	// LevelURLConfirm means the payment requires out-of-band confirmation
	// that the agent cannot intercept.
	LevelURLConfirm Level = "url_confirm"

	// LevelDeny means the payment violates a hard limit and must not proceed.
	LevelDeny Level = "deny"
)

// CanProceed reports whether a payment at this level may go ahead, with or
// without confirmation.
func (l Level) CanProceed() bool {
	return l != LevelDeny
}

// RequiresConfirmation reports whether this level needs an explicit user
// confirmation before the payment is executed.
func (l Level) RequiresConfirmation() bool {
	return l == LevelFormConfirm || l == LevelURLConfirm
}

// Result is the outcome of a single approval check.
type Result struct {
	// Level is the approval level required for this payment.
	Level Level

	// AmountSats is the requested amount in satoshis.
	AmountSats int64

	// AmountUSD is the USD equivalent at check time, for display.
	AmountUSD float64

	// DenialReason explains a deny outcome. Empty unless Level is LevelDeny.
	DenialReason string

	// ConfirmationMessage is shown to the user when confirmation is needed.
	ConfirmationMessage string

	// ConfirmationNonce is the code to redeem when confirmation is needed.
	// Empty unless Level requires confirmation.
	ConfirmationNonce string

	// RemainingSessionUSD is the remaining session budget in USD, floored at
	// zero. Populated on every outcome for display; nil when no session cap
	// is configured.
	RemainingSessionUSD *float64
}
