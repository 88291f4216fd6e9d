// Package cel provides a CEL-based deny rule evaluator for payment
// authorization.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/lightning-enable/lightning-enable/internal/domain/approval"
)

// maxExpressionLength is the maximum allowed length for CEL expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single CEL evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL expressions for deny rules.
type Evaluator struct {
	env *cel.Env
}

// NewPaymentEnvironment creates a CEL environment with the payment
// evaluation variables:
//
//	amount_sats       int     payment amount in satoshis
//	amount_usd        double  payment amount in USD
//	session_spent_usd double  cumulative session spend in USD
//	request_count     int     approval checks this session, inclusive
//	tool_name         string  MCP tool requesting the payment
//	hour              int     local hour of day, 0-23
func NewPaymentEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("amount_sats", cel.IntType),
		cel.Variable("amount_usd", cel.DoubleType),
		cel.Variable("session_spent_usd", cel.DoubleType),
		cel.Variable("request_count", cel.IntType),
		cel.Variable("tool_name", cel.StringType),
		cel.Variable("hour", cel.IntType),
	)
}

// NewEvaluator creates a new CEL evaluator with the payment environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewPaymentEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create payment environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks a CEL expression, returning a compiled
// program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return prg, nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that a CEL expression is syntactically valid
// and within the safety limits (length, nesting depth).
func (e *Evaluator) ValidateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	if expr == "" {
		return errors.New("expression is empty")
	}

	if err := validateNesting(expr); err != nil {
		return err
	}

	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}

	return nil
}

// BuildActivation maps a payment context to the CEL variable bindings.
func BuildActivation(pc approval.PaymentContext) map[string]any {
	return map[string]any{
		"amount_sats":       pc.AmountSats,
		"amount_usd":        pc.AmountUSD,
		"session_spent_usd": pc.SessionSpentUSD,
		"request_count":     pc.RequestCount,
		"tool_name":         pc.ToolName,
		"hour":              pc.Hour,
	}
}

// Evaluate runs a compiled CEL program against the payment context.
// Returns true when the rule matches (payment should be denied). Uses
// ContextEval with a timeout to prevent indefinite evaluation hangs.
func (e *Evaluator) Evaluate(prg cel.Program, pc approval.PaymentContext) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, BuildActivation(pc))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}
