package service

import (
	"errors"
	"log/slog"

	"github.com/lightning-enable/lightning-enable/internal/domain/wallet"
)

// ErrNoWalletConfigured is returned when no backend has usable credentials.
var ErrNoWalletConfigured = errors.New("no wallet backend configured")

// WalletRegistry holds the known backends and selects the active one by
// the configured priority order.
type WalletRegistry struct {
	backends map[string]wallet.Backend
	priority []string
	logger   *slog.Logger
}

// NewWalletRegistry builds a registry over the given backends. priority
// lists backend names in selection order; names without a matching backend
// are skipped.
func NewWalletRegistry(backends []wallet.Backend, priority []string, logger *slog.Logger) *WalletRegistry {
	byName := make(map[string]wallet.Backend, len(backends))
	for _, b := range backends {
		byName[b.Name()] = b
	}
	return &WalletRegistry{backends: byName, priority: priority, logger: logger}
}

// Active returns the first configured backend in priority order.
func (r *WalletRegistry) Active() (wallet.Backend, error) {
	for _, name := range r.priority {
		b, ok := r.backends[name]
		if !ok {
			continue
		}
		if b.IsConfigured() {
			return b, nil
		}
	}
	return nil, ErrNoWalletConfigured
}

// Get returns a backend by name, configured or not.
func (r *WalletRegistry) Get(name string) (wallet.Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Configured returns the names of all configured backends in priority
// order.
func (r *WalletRegistry) Configured() []string {
	var names []string
	for _, name := range r.priority {
		if b, ok := r.backends[name]; ok && b.IsConfigured() {
			names = append(names, name)
		}
	}
	return names
}
