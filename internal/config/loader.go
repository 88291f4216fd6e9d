// Package config provides configuration loading for lightning-enable.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigDir returns the per-user configuration directory,
// ~/.lightning-enable.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lightning-enable"
	}
	return filepath.Join(home, ".lightning-enable")
}

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty it searches standard locations for
// config.json; when none exists, ReadInConfig returns
// ConfigFileNotFoundError and callers fall through to env-only config.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("json")
	}

	// Environment variable support: LIGHTNING_ENABLE_BUDGET_MAXPERSESSIONUSD
	viper.SetEnvPrefix("LIGHTNING_ENABLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for config.json: the current
// directory first, then ~/.lightning-enable.
func findConfigFile() string {
	for _, dir := range []string{".", DefaultConfigDir()} {
		path := filepath.Join(dir, "config.json")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Arrays (wallets.priority, rules) are config-file only.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("budget.autoApproveUsd")
	_ = viper.BindEnv("budget.logAndApproveUsd")
	_ = viper.BindEnv("budget.formConfirmUsd")
	_ = viper.BindEnv("budget.urlConfirmUsd")
	_ = viper.BindEnv("budget.maxPerPaymentUsd")
	_ = viper.BindEnv("budget.maxPerSessionUsd")
	_ = viper.BindEnv("budget.cooldownSeconds")
	_ = viper.BindEnv("budget.firstPaymentConfirm")
	_ = viper.BindEnv("budget.resetPassphraseHash")

	_ = viper.BindEnv("wallets.nwc.connectionUri")
	_ = viper.BindEnv("wallets.strike.apiKey")
	_ = viper.BindEnv("wallets.strike.baseUrl")
	_ = viper.BindEnv("wallets.opennode.apiKey")
	_ = viper.BindEnv("wallets.opennode.baseUrl")
	_ = viper.BindEnv("wallets.lnd.restUrl")
	_ = viper.BindEnv("wallets.lnd.macaroonHex")
	_ = viper.BindEnv("wallets.lnd.tlsInsecure")

	_ = viper.BindEnv("price.cacheTtl")
	_ = viper.BindEnv("price.fallbackUsd")

	_ = viper.BindEnv("history.enabled")
	_ = viper.BindEnv("history.path")

	_ = viper.BindEnv("server.logLevel")
	_ = viper.BindEnv("server.metricsAddr")
	_ = viper.BindEnv("server.trace")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, normalizes invalid budget values, and validates.
func LoadConfig(logger *slog.Logger) (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.Normalize(logger)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or
// empty when running on env vars only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// EnsureDefaultFile writes a default config.json on first run so users have
// a file to edit. It never overwrites an existing file.
func EnsureDefaultFile() (string, error) {
	dir := DefaultConfigDir()
	path := filepath.Join(dir, "config.json")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}

	var cfg Config
	cfg.SetDefaults()
	// An absent cap means unlimited, so the starter file spells the caps
	// out rather than leaving a fresh install uncapped.
	cfg.Budget.MaxPerPaymentUSD = USD(DefaultMaxPerPaymentUSD)
	cfg.Budget.MaxPerSessionUSD = USD(DefaultMaxPerSessionUSD)
	cfg.History.Enabled = true

	data, err := json.MarshalIndent(&cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}
	// 0600: the file will hold wallet credentials once the user fills it in.
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("write default config: %w", err)
	}
	return path, nil
}
