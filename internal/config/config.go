// Package config provides configuration types for the lightning-enable
// payment gateway. Configuration is file-based (JSON) with environment
// variable overrides; there is no remote config source.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Default budget values, applied on first run and substituted for invalid
// user-supplied values.
const (
	DefaultAutoApproveUSD   = 1.0
	DefaultLogAndApproveUSD = 5.0
	DefaultFormConfirmUSD   = 25.0
	DefaultURLConfirmUSD    = 100.0
	DefaultMaxPerPaymentUSD = 500.0
	DefaultMaxPerSessionUSD = 100.0
	DefaultCooldownSeconds  = 2.0

	DefaultPriceFallbackUSD = 100_000.0
	DefaultPriceCacheTTL    = "15m"
)

// Config is the top-level configuration for lightning-enable.
type Config struct {
	// Budget configures the tiered approval thresholds and spending caps.
	Budget BudgetConfig `json:"budget" mapstructure:"budget"`

	// Wallets configures the Lightning backends and their priority order.
	Wallets WalletsConfig `json:"wallets" mapstructure:"wallets"`

	// Price configures BTC/USD price discovery.
	Price PriceConfig `json:"price" mapstructure:"price"`

	// History configures payment history persistence.
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Rules are optional CEL deny rules evaluated before the budget tiers.
	// Any matching rule denies the payment.
	Rules []RuleConfig `json:"rules" mapstructure:"rules" validate:"omitempty,dive"`

	// Server configures logging and the optional observability surfaces.
	Server ServerConfig `json:"server" mapstructure:"server"`
}

// BudgetConfig configures the approval tiers, in USD. Tiers must satisfy
// 0 < autoApprove <= logAndApprove <= formConfirm <= urlConfirm; invalid
// values are replaced with defaults plus a warning, never a hard error,
// so a typo in the config cannot brick the wallet.
type BudgetConfig struct {
	// AutoApproveUSD is the ceiling for silent approval.
	AutoApproveUSD float64 `json:"autoApproveUsd" mapstructure:"autoApproveUsd"`

	// LogAndApproveUSD is the ceiling for approval with an audit log entry.
	LogAndApproveUSD float64 `json:"logAndApproveUsd" mapstructure:"logAndApproveUsd"`

	// FormConfirmUSD is the ceiling for in-band confirmation (nonce round trip).
	FormConfirmUSD float64 `json:"formConfirmUsd" mapstructure:"formConfirmUsd"`

	// URLConfirmUSD is the highest tier boundary. Amounts above it still
	// classify as url_confirm; only the hard caps below deny by amount.
	URLConfirmUSD float64 `json:"urlConfirmUsd" mapstructure:"urlConfirmUsd"`

	// MaxPerPaymentUSD caps any single payment regardless of tier.
	// Absent means unlimited.
	MaxPerPaymentUSD *float64 `json:"maxPerPaymentUsd,omitempty" mapstructure:"maxPerPaymentUsd"`

	// MaxPerSessionUSD caps cumulative spend per session. Absent means
	// unlimited.
	MaxPerSessionUSD *float64 `json:"maxPerSessionUsd,omitempty" mapstructure:"maxPerSessionUsd"`

	// CooldownSeconds is the minimum gap between consecutive payments.
	CooldownSeconds float64 `json:"cooldownSeconds" mapstructure:"cooldownSeconds"`

	// FirstPaymentConfirm forces confirmation on the first payment of a
	// session regardless of amount.
	FirstPaymentConfirm bool `json:"firstPaymentConfirm" mapstructure:"firstPaymentConfirm"`

	// ResetPassphraseHash is the argon2id hash of the passphrase that gates
	// session resets. Empty disables the reset_session tool.
	ResetPassphraseHash string `json:"resetPassphraseHash" mapstructure:"resetPassphraseHash" validate:"omitempty,startswith=$argon2id$"`
}

// WalletsConfig configures the Lightning backends.
type WalletsConfig struct {
	// Priority orders backend selection. Configured backends are tried in
	// this order; the first configured one wins. Defaults to
	// ["lnd", "nwc", "strike", "opennode"].
	Priority []string `json:"priority" mapstructure:"priority" validate:"omitempty,dive,oneof=lnd nwc strike opennode"`

	NWC      NWCConfig      `json:"nwc" mapstructure:"nwc"`
	Strike   StrikeConfig   `json:"strike" mapstructure:"strike"`
	OpenNode OpenNodeConfig `json:"opennode" mapstructure:"opennode"`
	LND      LNDConfig      `json:"lnd" mapstructure:"lnd"`
}

// NWCConfig configures the Nostr Wallet Connect backend.
type NWCConfig struct {
	// ConnectionURI is the nostr+walletconnect:// pairing string.
	ConnectionURI string `json:"connectionUri" mapstructure:"connectionUri" validate:"omitempty,startswith=nostr+walletconnect://"`
}

// StrikeConfig configures the Strike REST backend.
type StrikeConfig struct {
	APIKey  string `json:"apiKey" mapstructure:"apiKey"`
	BaseURL string `json:"baseUrl" mapstructure:"baseUrl" validate:"omitempty,url"`
}

// OpenNodeConfig configures the OpenNode REST backend.
type OpenNodeConfig struct {
	APIKey  string `json:"apiKey" mapstructure:"apiKey"`
	BaseURL string `json:"baseUrl" mapstructure:"baseUrl" validate:"omitempty,url"`
}

// LNDConfig configures the LND REST backend.
type LNDConfig struct {
	RESTURL     string `json:"restUrl" mapstructure:"restUrl" validate:"omitempty,url"`
	MacaroonHex string `json:"macaroonHex" mapstructure:"macaroonHex" validate:"omitempty,hexadecimal"`
	// TLSInsecure skips certificate verification, for self-signed node certs.
	TLSInsecure bool `json:"tlsInsecure" mapstructure:"tlsInsecure"`
}

// PriceConfig configures BTC/USD price discovery.
type PriceConfig struct {
	// CacheTTL is how long a fetched price stays fresh (e.g. "15m").
	CacheTTL string `json:"cacheTtl" mapstructure:"cacheTtl" validate:"omitempty,duration"`

	// FallbackUSD is used when every price source fails. Deliberately high
	// so USD estimates err toward requiring approval.
	FallbackUSD float64 `json:"fallbackUsd" mapstructure:"fallbackUsd" validate:"omitempty,gt=0"`
}

// HistoryConfig configures payment history persistence.
type HistoryConfig struct {
	// Enabled controls whether payments are recorded at all.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Path is the SQLite database file. Defaults to
	// ~/.lightning-enable/history.db.
	Path string `json:"path" mapstructure:"path"`
}

// RuleConfig is one CEL deny rule.
type RuleConfig struct {
	// Name identifies the rule in logs and denial reasons.
	Name string `json:"name" mapstructure:"name" validate:"required"`

	// Expression is a CEL expression over the payment context
	// (amount_sats, amount_usd, session_spent_usd, request_count,
	// tool_name, hour). True denies the payment.
	Expression string `json:"expression" mapstructure:"expression" validate:"required"`
}

// ServerConfig configures logging and observability.
type ServerConfig struct {
	// LogLevel sets the minimum log level: "debug", "info", "warn", "error".
	LogLevel string `json:"logLevel" mapstructure:"logLevel" validate:"omitempty,oneof=debug info warn warning error"`

	// MetricsAddr exposes Prometheus metrics when non-empty
	// (e.g. "127.0.0.1:9464").
	MetricsAddr string `json:"metricsAddr" mapstructure:"metricsAddr" validate:"omitempty,hostname_port"`

	// Trace enables OpenTelemetry stdout trace export.
	Trace bool `json:"trace" mapstructure:"trace"`
}

// DefaultPriority is the backend selection order when none is configured.
var DefaultPriority = []string{"lnd", "nwc", "strike", "opennode"}

// USD wraps a cap value. The cap fields are pointers because an absent
// cap means unlimited.
func USD(v float64) *float64 { return &v }

// SetDefaults applies default values for unset fields. It does not touch
// invalid values; Normalize handles those.
func (c *Config) SetDefaults() {
	// All four tiers unset means the budget section is absent entirely.
	if c.Budget.AutoApproveUSD == 0 && c.Budget.LogAndApproveUSD == 0 &&
		c.Budget.FormConfirmUSD == 0 && c.Budget.URLConfirmUSD == 0 {
		c.Budget.AutoApproveUSD = DefaultAutoApproveUSD
		c.Budget.LogAndApproveUSD = DefaultLogAndApproveUSD
		c.Budget.FormConfirmUSD = DefaultFormConfirmUSD
		c.Budget.URLConfirmUSD = DefaultURLConfirmUSD
	}
	// The payment caps are deliberately not defaulted: an absent cap means
	// unlimited. The default config file written on first run carries them.
	if c.Budget.CooldownSeconds == 0 {
		c.Budget.CooldownSeconds = DefaultCooldownSeconds
	}

	if len(c.Wallets.Priority) == 0 {
		c.Wallets.Priority = append([]string(nil), DefaultPriority...)
	}
	if c.Wallets.Strike.BaseURL == "" {
		c.Wallets.Strike.BaseURL = "https://api.strike.me"
	}
	if c.Wallets.OpenNode.BaseURL == "" {
		c.Wallets.OpenNode.BaseURL = "https://api.opennode.com"
	}

	if c.Price.CacheTTL == "" {
		c.Price.CacheTTL = DefaultPriceCacheTTL
	}
	if c.Price.FallbackUSD == 0 {
		c.Price.FallbackUSD = DefaultPriceFallbackUSD
	}

	if c.History.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.History.Path = filepath.Join(home, ".lightning-enable", "history.db")
		}
	}

	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
}

// Normalize replaces invalid budget values with defaults, logging a warning
// for each substitution. Invalid user input must never hard-fail startup:
// the agent would lose its wallet entirely.
func (c *Config) Normalize(logger *slog.Logger) {
	b := &c.Budget

	if b.AutoApproveUSD <= 0 {
		logger.Warn("invalid autoApproveUsd, using default",
			"value", b.AutoApproveUSD, "default", DefaultAutoApproveUSD)
		b.AutoApproveUSD = DefaultAutoApproveUSD
	}
	if b.LogAndApproveUSD < b.AutoApproveUSD {
		logger.Warn("logAndApproveUsd below autoApproveUsd, using default",
			"value", b.LogAndApproveUSD, "default", DefaultLogAndApproveUSD)
		b.LogAndApproveUSD = max(DefaultLogAndApproveUSD, b.AutoApproveUSD)
	}
	if b.FormConfirmUSD < b.LogAndApproveUSD {
		logger.Warn("formConfirmUsd below logAndApproveUsd, using default",
			"value", b.FormConfirmUSD, "default", DefaultFormConfirmUSD)
		b.FormConfirmUSD = max(DefaultFormConfirmUSD, b.LogAndApproveUSD)
	}
	if b.URLConfirmUSD < b.FormConfirmUSD {
		logger.Warn("urlConfirmUsd below formConfirmUsd, using default",
			"value", b.URLConfirmUSD, "default", DefaultURLConfirmUSD)
		b.URLConfirmUSD = max(DefaultURLConfirmUSD, b.FormConfirmUSD)
	}
	if b.MaxPerPaymentUSD != nil && *b.MaxPerPaymentUSD <= 0 {
		logger.Warn("invalid maxPerPaymentUsd, using default",
			"value", *b.MaxPerPaymentUSD, "default", DefaultMaxPerPaymentUSD)
		b.MaxPerPaymentUSD = USD(DefaultMaxPerPaymentUSD)
	}
	if b.MaxPerSessionUSD != nil && *b.MaxPerSessionUSD <= 0 {
		logger.Warn("invalid maxPerSessionUsd, using default",
			"value", *b.MaxPerSessionUSD, "default", DefaultMaxPerSessionUSD)
		b.MaxPerSessionUSD = USD(DefaultMaxPerSessionUSD)
	}
	if b.CooldownSeconds < 0 {
		logger.Warn("negative cooldownSeconds, using default",
			"value", b.CooldownSeconds, "default", DefaultCooldownSeconds)
		b.CooldownSeconds = DefaultCooldownSeconds
	}
}
