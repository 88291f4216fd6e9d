// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	celeval "github.com/lightning-enable/lightning-enable/internal/adapter/outbound/cel"
	"github.com/lightning-enable/lightning-enable/internal/config"
	"github.com/lightning-enable/lightning-enable/internal/domain/approval"
	"github.com/lightning-enable/lightning-enable/internal/port/outbound"
)

// thresholdTTL bounds how long the sats-denominated tier thresholds are
// reused before reconverting at the current BTC/USD price.
const thresholdTTL = 5 * time.Minute

// ErrNegativeSpend is returned by RecordSpend for negative amounts.
// A negative spend would silently widen the session budget.
var ErrNegativeSpend = errors.New("spend amount must not be negative")

// ErrUnknownNonce is returned when a confirmation nonce does not exist,
// was already redeemed, or expired.
var ErrUnknownNonce = errors.New("unknown or expired confirmation nonce")

// compiledDenyRule is a pre-compiled CEL deny rule.
type compiledDenyRule struct {
	name string
	prg  cel.Program
}

// satsThresholds are the USD tier boundaries converted to satoshis at a
// point-in-time price, so the hot path compares integers.
type satsThresholds struct {
	autoApprove   int64
	logAndApprove int64
	formConfirm   int64
	urlConfirm    int64
	// maxPerPayment is only meaningful when hasMaxPerPayment is set; an
	// absent cap means unlimited.
	maxPerPayment    int64
	hasMaxPerPayment bool
	refreshedAt      time.Time
}

// SessionStatus is a snapshot of the session budget state. The cap and
// remaining fields are nil when the corresponding limit is unconfigured.
type SessionStatus struct {
	SpentUSD             float64
	RemainingUSD         *float64
	MaxPerSessionUSD     *float64
	MaxPerPaymentUSD     *float64
	RequestCount         int64
	SessionStarted       time.Time
	LastPaymentAt        time.Time
	IsFirstPayment       bool
	CooldownActive       bool
	PendingConfirmations int
	BtcUsdPrice          float64
}

// BudgetService enforces the tiered payment authorization policy: spending
// caps, cooldown, deny rules, and confirmation nonces. All session state
// lives behind a single mutex; price lookups happen before it is taken.
type BudgetService struct {
	cfg       config.BudgetConfig
	price     outbound.PriceOracle
	evaluator *celeval.Evaluator
	rules     []compiledDenyRule
	cache     *ResultCache
	logger    *slog.Logger
	now       func() time.Time

	mu             sync.Mutex
	spentUSD       float64
	requestCount   int64
	sessionStarted time.Time
	lastPaymentAt  time.Time
	hadPayment     bool
	pending        map[string]approval.PendingConfirmation
	thresholds     satsThresholds
}

// BudgetServiceOption configures BudgetService.
type BudgetServiceOption func(*BudgetService)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) BudgetServiceOption {
	return func(s *BudgetService) { s.now = now }
}

// WithRuleCacheSize sets the maximum number of cached rule decisions.
func WithRuleCacheSize(size int) BudgetServiceOption {
	return func(s *BudgetService) { s.cache = NewResultCache(size) }
}

// NewBudgetService compiles the deny rules and returns a ready service.
// The budget config must already be normalized (tiers ordered, caps
// positive).
func NewBudgetService(cfg config.BudgetConfig, rules []config.RuleConfig, price outbound.PriceOracle, logger *slog.Logger, opts ...BudgetServiceOption) (*BudgetService, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	s := &BudgetService{
		cfg:       cfg,
		price:     price,
		evaluator: evaluator,
		cache:     NewResultCache(1000),
		logger:    logger,
		now:       time.Now,
		pending:   make(map[string]approval.PendingConfirmation),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sessionStarted = s.now()

	for _, rule := range rules {
		if err := evaluator.ValidateExpression(rule.Expression); err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		prg, err := evaluator.Compile(rule.Expression)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		s.rules = append(s.rules, compiledDenyRule{name: rule.Name, prg: prg})
	}

	logger.Info("budget service initialized",
		"auto_approve_usd", cfg.AutoApproveUSD,
		"max_per_payment_usd", capLabel(cfg.MaxPerPaymentUSD),
		"max_per_session_usd", capLabel(cfg.MaxPerSessionUSD),
		"deny_rules", len(s.rules),
	)
	return s, nil
}

// CheckApproval classifies a candidate payment. The checks run in a fixed
// order: deny rules, session limit, per-payment limit, cooldown, the
// first-payment gate, then tier classification. The first failing check
// wins and its reason is reported.
func (s *BudgetService) CheckApproval(ctx context.Context, amountSats int64, toolName, description string) approval.Result {
	res, _ := s.check(ctx, amountSats, toolName, description, false)
	return res
}

// CheckAndReserve runs CheckApproval and, when the payment is approved
// without confirmation, reserves the amount against the session budget in
// the same critical section. The returned release func rolls the
// reservation back; call it when the payment fails, and never after
// RecordSpend for the same payment. release is nil when nothing was
// reserved.
func (s *BudgetService) CheckAndReserve(ctx context.Context, amountSats int64, toolName, description string) (approval.Result, func()) {
	return s.check(ctx, amountSats, toolName, description, true)
}

func (s *BudgetService) check(ctx context.Context, amountSats int64, toolName, description string, reserve bool) (approval.Result, func()) {
	// Price work happens before the lock: both conversions can hit the
	// network.
	amountUSD := s.price.SatsToUsd(ctx, amountSats)
	fresh := s.freshThresholds(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if fresh != nil {
		s.thresholds = *fresh
	}
	s.purgePendingLocked()

	result := approval.Result{
		AmountSats:          amountSats,
		AmountUSD:           amountUSD,
		RemainingSessionUSD: s.remainingLocked(),
	}

	pc := approval.PaymentContext{
		AmountSats:      amountSats,
		AmountUSD:       amountUSD,
		SessionSpentUSD: s.spentUSD,
		RequestCount:    s.requestCount,
		ToolName:        toolName,
		Hour:            s.now().Hour(),
	}
	if name, denied := s.evalDenyRulesLocked(pc); denied {
		result.Level = approval.LevelDeny
		result.DenialReason = fmt.Sprintf("denied by rule %q", name)
		return result, nil
	}

	if s.cfg.MaxPerSessionUSD != nil && s.spentUSD+amountUSD > *s.cfg.MaxPerSessionUSD {
		result.Level = approval.LevelDeny
		result.DenialReason = fmt.Sprintf(
			"session limit exceeded: $%.2f spent + $%.2f requested > $%.2f limit",
			s.spentUSD, amountUSD, *s.cfg.MaxPerSessionUSD)
		return result, nil
	}

	if s.thresholds.hasMaxPerPayment && amountSats > s.thresholds.maxPerPayment {
		result.Level = approval.LevelDeny
		result.DenialReason = fmt.Sprintf(
			"payment of $%.2f exceeds per-payment limit of $%.2f",
			amountUSD, *s.cfg.MaxPerPaymentUSD)
		return result, nil
	}

	if !s.cooldownElapsedLocked() {
		cooldown := time.Duration(s.cfg.CooldownSeconds * float64(time.Second))
		elapsed := s.now().Sub(s.lastPaymentAt)
		result.Level = approval.LevelDeny
		result.DenialReason = fmt.Sprintf(
			"cooldown active: %.1fs remaining between payments",
			(cooldown - elapsed).Seconds())
		return result, nil
	}

	level := s.classifyLocked(amountSats)

	// The first payment of a session requires confirmation regardless of
	// amount when the gate is enabled.
	if s.cfg.FirstPaymentConfirm && !s.hadPayment &&
		(level == approval.LevelAutoApprove || level == approval.LevelLogAndApprove) {
		level = approval.LevelFormConfirm
	}

	result.Level = level
	switch level {
	case approval.LevelFormConfirm, approval.LevelURLConfirm:
		pending := s.createConfirmationLocked(amountSats, amountUSD, toolName, description)
		result.ConfirmationNonce = pending.Nonce
		result.ConfirmationMessage = fmt.Sprintf(
			"Payment of %d sats ($%.2f) requires confirmation. Call confirm_payment with nonce %s within %s.",
			amountSats, amountUSD, pending.Nonce, approval.ConfirmationTTL)
	case approval.LevelLogAndApprove:
		s.logger.Info("payment approved with logging",
			"tool", toolName, "amount_sats", amountSats, "amount_usd", amountUSD,
			"description", description)
	}

	if reserve && level.CanProceed() && !level.RequiresConfirmation() {
		s.spentUSD += amountUSD
		result.RemainingSessionUSD = s.remainingLocked()
		released := false
		return result, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if released {
				return
			}
			released = true
			s.spentUSD = math.Max(0, s.spentUSD-amountUSD)
		}
	}
	return result, nil
}

// evalDenyRulesLocked evaluates the compiled deny rules, consulting the
// result cache first. Returns the name of the first matching rule.
func (s *BudgetService) evalDenyRulesLocked(pc approval.PaymentContext) (string, bool) {
	if len(s.rules) == 0 {
		return "", false
	}

	key := computeRuleCacheKey(pc)
	if cached, ok := s.cache.Get(key); ok {
		return cached.RuleName, cached.Denied
	}

	for _, rule := range s.rules {
		matched, err := s.evaluator.Evaluate(rule.prg, pc)
		if err != nil {
			// An unevaluable rule denies: failing open would let a broken
			// rule wave payments through.
			s.logger.Error("deny rule evaluation failed", "rule", rule.name, "error", err)
			return rule.name, true
		}
		if matched {
			s.cache.Put(key, RuleDecision{Denied: true, RuleName: rule.name})
			return rule.name, true
		}
	}
	s.cache.Put(key, RuleDecision{})
	return "", false
}

// classifyLocked maps a sats amount onto an approval level using the
// cached sats thresholds. Amounts above every tier still classify as
// url_confirm: the tiers set the friction, the hard caps set the ceiling.
func (s *BudgetService) classifyLocked(amountSats int64) approval.Level {
	t := s.thresholds
	switch {
	case amountSats <= t.autoApprove:
		return approval.LevelAutoApprove
	case amountSats <= t.logAndApprove:
		return approval.LevelLogAndApprove
	case amountSats <= t.formConfirm:
		return approval.LevelFormConfirm
	default:
		return approval.LevelURLConfirm
	}
}

// freshThresholds reconverts the USD tiers to sats when the cached
// conversion is stale. Runs without the session lock held; returns nil
// when the cache is still fresh.
func (s *BudgetService) freshThresholds(ctx context.Context) *satsThresholds {
	s.mu.Lock()
	stale := s.now().Sub(s.thresholds.refreshedAt) >= thresholdTTL || s.thresholds.refreshedAt.IsZero()
	s.mu.Unlock()
	if !stale {
		return nil
	}

	t := &satsThresholds{
		autoApprove:   s.price.UsdToSats(ctx, s.cfg.AutoApproveUSD),
		logAndApprove: s.price.UsdToSats(ctx, s.cfg.LogAndApproveUSD),
		formConfirm:   s.price.UsdToSats(ctx, s.cfg.FormConfirmUSD),
		urlConfirm:    s.price.UsdToSats(ctx, s.cfg.URLConfirmUSD),
		refreshedAt:   s.now(),
	}
	if s.cfg.MaxPerPaymentUSD != nil {
		t.maxPerPayment = s.price.UsdToSats(ctx, *s.cfg.MaxPerPaymentUSD)
		t.hasMaxPerPayment = true
	}
	return t
}

// remainingLocked returns the remaining session budget floored at 0, or
// nil when no session cap is configured.
func (s *BudgetService) remainingLocked() *float64 {
	if s.cfg.MaxPerSessionUSD == nil {
		return nil
	}
	r := math.Max(0, *s.cfg.MaxPerSessionUSD-s.spentUSD)
	return &r
}

// RecordSpend adds a settled payment to the session total, bumps the
// request counter, and stamps the cooldown clock. Negative amounts are
// rejected.
func (s *BudgetService) RecordSpend(amountUSD float64) error {
	if amountUSD < 0 {
		return fmt.Errorf("%w: %.2f", ErrNegativeSpend, amountUSD)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.spentUSD += amountUSD
	s.requestCount++
	s.lastPaymentAt = s.now()
	s.hadPayment = true
	return nil
}

// RecordPaymentTime stamps the cooldown clock without changing the spent
// total, for reserved payments that already hit the budget.
func (s *BudgetService) RecordPaymentTime() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestCount++
	s.lastPaymentAt = s.now()
	s.hadPayment = true
}

// IsCooldownElapsed reports whether enough time has passed since the last
// recorded payment for the next one to proceed.
func (s *BudgetService) IsCooldownElapsed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldownElapsedLocked()
}

func (s *BudgetService) cooldownElapsedLocked() bool {
	cooldown := time.Duration(s.cfg.CooldownSeconds * float64(time.Second))
	if !s.hadPayment || cooldown <= 0 {
		return true
	}
	return s.now().Sub(s.lastPaymentAt) >= cooldown
}

// ResetSession zeroes the session state: spent total, request count,
// cooldown clock, and all pending confirmations. The session clock
// restarts.
func (s *BudgetService) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spentUSD = 0
	s.requestCount = 0
	s.sessionStarted = s.now()
	s.lastPaymentAt = time.Time{}
	s.hadPayment = false
	s.pending = make(map[string]approval.PendingConfirmation)
	s.logger.Info("session budget reset")
}

// Status returns a snapshot of the session budget.
func (s *BudgetService) Status() SessionStatus {
	price := s.price.CachedPrice()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgePendingLocked()
	return SessionStatus{
		SpentUSD:             s.spentUSD,
		RemainingUSD:         s.remainingLocked(),
		MaxPerSessionUSD:     s.cfg.MaxPerSessionUSD,
		MaxPerPaymentUSD:     s.cfg.MaxPerPaymentUSD,
		RequestCount:         s.requestCount,
		SessionStarted:       s.sessionStarted,
		LastPaymentAt:        s.lastPaymentAt,
		IsFirstPayment:       !s.hadPayment,
		CooldownActive:       !s.cooldownElapsedLocked(),
		PendingConfirmations: len(s.pending),
		BtcUsdPrice:          price,
	}
}

// ValidateConfirmation looks a confirmation nonce up without consuming
// it, for pre-flight checks. The nonce stays redeemable.
func (s *BudgetService) ValidateConfirmation(nonce string) (approval.PendingConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pending[nonce]
	if !ok || pending.Expired(s.now()) {
		return approval.PendingConfirmation{}, ErrUnknownNonce
	}
	return pending, nil
}

// RedeemConfirmation consumes a confirmation nonce. Each nonce is
// single-use and expires after approval.ConfirmationTTL.
func (s *BudgetService) RedeemConfirmation(nonce string) (approval.PendingConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pending[nonce]
	if !ok || pending.Expired(s.now()) {
		delete(s.pending, nonce)
		return approval.PendingConfirmation{}, ErrUnknownNonce
	}
	delete(s.pending, nonce)
	return pending, nil
}

func (s *BudgetService) createConfirmationLocked(amountSats int64, amountUSD float64, toolName, description string) approval.PendingConfirmation {
	nonce := approval.NewNonce()
	for _, exists := s.pending[nonce]; exists; _, exists = s.pending[nonce] {
		nonce = approval.NewNonce()
	}

	now := s.now()
	pending := approval.PendingConfirmation{
		Nonce:       nonce,
		AmountSats:  amountSats,
		AmountUSD:   amountUSD,
		ToolName:    toolName,
		Description: description,
		CreatedAt:   now,
		ExpiresAt:   now.Add(approval.ConfirmationTTL),
	}
	s.pending[nonce] = pending
	return pending
}

func (s *BudgetService) purgePendingLocked() {
	now := s.now()
	for nonce, pending := range s.pending {
		if pending.Expired(now) {
			delete(s.pending, nonce)
		}
	}
}

// capLabel renders an optional cap for logging.
func capLabel(v *float64) any {
	if v == nil {
		return "unlimited"
	}
	return *v
}

// computeRuleCacheKey hashes the full payment context: any field a rule
// can reference must be in the key.
func computeRuleCacheKey(pc approval.PaymentContext) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(pc.ToolName)
	_, _ = h.Write([]byte{0})
	_, _ = fmt.Fprintf(h, "%d\x00%.4f\x00%.4f\x00%d\x00%d",
		pc.AmountSats, pc.AmountUSD, pc.SessionSpentUSD, pc.RequestCount, pc.Hour)
	return h.Sum64()
}
