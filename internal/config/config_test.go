package config

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Budget.AutoApproveUSD != DefaultAutoApproveUSD {
		t.Errorf("AutoApproveUSD = %v, want %v", cfg.Budget.AutoApproveUSD, DefaultAutoApproveUSD)
	}
	if cfg.Budget.URLConfirmUSD != DefaultURLConfirmUSD {
		t.Errorf("URLConfirmUSD = %v, want %v", cfg.Budget.URLConfirmUSD, DefaultURLConfirmUSD)
	}
	// The caps stay absent: unset means unlimited, not defaulted.
	if cfg.Budget.MaxPerPaymentUSD != nil {
		t.Errorf("MaxPerPaymentUSD = %v, want nil", *cfg.Budget.MaxPerPaymentUSD)
	}
	if cfg.Budget.MaxPerSessionUSD != nil {
		t.Errorf("MaxPerSessionUSD = %v, want nil", *cfg.Budget.MaxPerSessionUSD)
	}
	if cfg.Budget.CooldownSeconds != DefaultCooldownSeconds {
		t.Errorf("CooldownSeconds = %v, want %v", cfg.Budget.CooldownSeconds, DefaultCooldownSeconds)
	}
	if len(cfg.Wallets.Priority) != 4 || cfg.Wallets.Priority[0] != "lnd" {
		t.Errorf("Priority = %v, want default order", cfg.Wallets.Priority)
	}
	if cfg.Price.CacheTTL != "15m" || cfg.Price.FallbackUSD != DefaultPriceFallbackUSD {
		t.Errorf("price defaults = %q/%v", cfg.Price.CacheTTL, cfg.Price.FallbackUSD)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
}

func TestSetDefaults_PartialTiersKept(t *testing.T) {
	t.Parallel()

	cfg := Config{Budget: BudgetConfig{AutoApproveUSD: 0.5, LogAndApproveUSD: 2, FormConfirmUSD: 10, URLConfirmUSD: 50}}
	cfg.SetDefaults()

	if cfg.Budget.AutoApproveUSD != 0.5 {
		t.Errorf("AutoApproveUSD = %v, want user value preserved", cfg.Budget.AutoApproveUSD)
	}
}

func TestNormalize_SubstitutesInvalidTiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		budget BudgetConfig
		check  func(t *testing.T, b BudgetConfig)
	}{
		{
			name:   "negative auto approve",
			budget: BudgetConfig{AutoApproveUSD: -1, LogAndApproveUSD: 5, FormConfirmUSD: 25, URLConfirmUSD: 100, MaxPerPaymentUSD: USD(500), MaxPerSessionUSD: USD(100), CooldownSeconds: 2},
			check: func(t *testing.T, b BudgetConfig) {
				if b.AutoApproveUSD != DefaultAutoApproveUSD {
					t.Errorf("AutoApproveUSD = %v, want default", b.AutoApproveUSD)
				}
			},
		},
		{
			name:   "tiers out of order",
			budget: BudgetConfig{AutoApproveUSD: 10, LogAndApproveUSD: 5, FormConfirmUSD: 25, URLConfirmUSD: 100, MaxPerPaymentUSD: USD(500), MaxPerSessionUSD: USD(100), CooldownSeconds: 2},
			check: func(t *testing.T, b BudgetConfig) {
				if b.LogAndApproveUSD < b.AutoApproveUSD {
					t.Errorf("LogAndApproveUSD = %v still below AutoApproveUSD = %v", b.LogAndApproveUSD, b.AutoApproveUSD)
				}
			},
		},
		{
			name:   "negative session cap",
			budget: BudgetConfig{AutoApproveUSD: 1, LogAndApproveUSD: 5, FormConfirmUSD: 25, URLConfirmUSD: 100, MaxPerPaymentUSD: USD(500), MaxPerSessionUSD: USD(-3), CooldownSeconds: 2},
			check: func(t *testing.T, b BudgetConfig) {
				if b.MaxPerSessionUSD == nil || *b.MaxPerSessionUSD != DefaultMaxPerSessionUSD {
					t.Errorf("MaxPerSessionUSD = %v, want default", b.MaxPerSessionUSD)
				}
			},
		},
		{
			name:   "negative cooldown",
			budget: BudgetConfig{AutoApproveUSD: 1, LogAndApproveUSD: 5, FormConfirmUSD: 25, URLConfirmUSD: 100, MaxPerPaymentUSD: USD(500), MaxPerSessionUSD: USD(100), CooldownSeconds: -1},
			check: func(t *testing.T, b BudgetConfig) {
				if b.CooldownSeconds != DefaultCooldownSeconds {
					t.Errorf("CooldownSeconds = %v, want default", b.CooldownSeconds)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Config{Budget: tt.budget}
			cfg.Normalize(discardLogger())

			// Tier ordering must always hold after normalization.
			b := cfg.Budget
			if !(b.AutoApproveUSD > 0 && b.AutoApproveUSD <= b.LogAndApproveUSD &&
				b.LogAndApproveUSD <= b.FormConfirmUSD && b.FormConfirmUSD <= b.URLConfirmUSD) {
				t.Errorf("tiers not ordered after Normalize: %+v", b)
			}
			tt.check(t, b)
		})
	}
}

func TestNormalize_ValidConfigUntouched(t *testing.T) {
	t.Parallel()

	budget := BudgetConfig{
		AutoApproveUSD: 0.5, LogAndApproveUSD: 2, FormConfirmUSD: 10,
		URLConfirmUSD: 40, MaxPerPaymentUSD: USD(50), MaxPerSessionUSD: USD(20),
		CooldownSeconds: 5,
	}
	cfg := Config{Budget: budget}
	cfg.Normalize(discardLogger())

	if cfg.Budget != budget {
		t.Errorf("Normalize changed valid budget: %+v -> %+v", budget, cfg.Budget)
	}
}

func TestNormalize_AbsentCapsStayUnlimited(t *testing.T) {
	t.Parallel()

	cfg := Config{Budget: BudgetConfig{
		AutoApproveUSD: 1, LogAndApproveUSD: 5, FormConfirmUSD: 25,
		URLConfirmUSD: 100, CooldownSeconds: 2,
	}}
	cfg.Normalize(discardLogger())

	if cfg.Budget.MaxPerPaymentUSD != nil {
		t.Errorf("MaxPerPaymentUSD = %v, want nil (unlimited)", *cfg.Budget.MaxPerPaymentUSD)
	}
	if cfg.Budget.MaxPerSessionUSD != nil {
		t.Errorf("MaxPerSessionUSD = %v, want nil (unlimited)", *cfg.Budget.MaxPerSessionUSD)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		var cfg Config
		cfg.SetDefaults()
		return cfg
	}

	t.Run("defaults pass", func(t *testing.T) {
		t.Parallel()
		cfg := valid()
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("bad nwc uri scheme", func(t *testing.T) {
		t.Parallel()
		cfg := valid()
		cfg.Wallets.NWC.ConnectionURI = "https://not-a-wallet"
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "ConnectionURI") {
			t.Errorf("Validate() error = %v, want ConnectionURI failure", err)
		}
	})

	t.Run("bad passphrase hash prefix", func(t *testing.T) {
		t.Parallel()
		cfg := valid()
		cfg.Budget.ResetPassphraseHash = "plaintext-password"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() accepted non-argon2id passphrase hash")
		}
	})

	t.Run("bad cache ttl", func(t *testing.T) {
		t.Parallel()
		cfg := valid()
		cfg.Price.CacheTTL = "fifteen minutes"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() accepted unparseable cacheTtl")
		}
	})

	t.Run("unknown backend in priority", func(t *testing.T) {
		t.Parallel()
		cfg := valid()
		cfg.Wallets.Priority = []string{"lnd", "coinbase"}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() accepted unknown backend name")
		}
	})

	t.Run("rule missing expression", func(t *testing.T) {
		t.Parallel()
		cfg := valid()
		cfg.Rules = []RuleConfig{{Name: "no-expr"}}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() accepted rule without expression")
		}
	})

	t.Run("duplicate rule names", func(t *testing.T) {
		t.Parallel()
		cfg := valid()
		cfg.Rules = []RuleConfig{
			{Name: "night", Expression: "hour >= 22"},
			{Name: "night", Expression: "hour < 6"},
		}
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "duplicate") {
			t.Errorf("Validate() error = %v, want duplicate rule name failure", err)
		}
	})
}

func TestEnsureDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path, err := EnsureDefaultFile()
	if err != nil {
		t.Fatalf("EnsureDefaultFile() error = %v", err)
	}

	// The starter file spells the caps out; only a deliberate removal
	// makes the wallet unlimited.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read default file: %v", err)
	}
	var written Config
	if err := json.Unmarshal(data, &written); err != nil {
		t.Fatalf("parse default file: %v", err)
	}
	if written.Budget.MaxPerPaymentUSD == nil || *written.Budget.MaxPerPaymentUSD != DefaultMaxPerPaymentUSD {
		t.Errorf("default file maxPerPaymentUsd = %v, want %v", written.Budget.MaxPerPaymentUSD, DefaultMaxPerPaymentUSD)
	}
	if written.Budget.MaxPerSessionUSD == nil || *written.Budget.MaxPerSessionUSD != DefaultMaxPerSessionUSD {
		t.Errorf("default file maxPerSessionUsd = %v, want %v", written.Budget.MaxPerSessionUSD, DefaultMaxPerSessionUSD)
	}

	// Second call must not rewrite the file.
	again, err := EnsureDefaultFile()
	if err != nil {
		t.Fatalf("EnsureDefaultFile() second call error = %v", err)
	}
	if again != path {
		t.Errorf("EnsureDefaultFile() = %q then %q", path, again)
	}
}
