// Package nwc implements a Nostr Wallet Connect (NIP-47) Lightning
// backend. Each request is one websocket exchange with the wallet's
// relay: publish an encrypted request event, subscribe for the encrypted
// response, tear the socket down.
package nwc

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/lightning-enable/lightning-enable/internal/domain/nostr"
)

// Scheme is the pairing URI scheme.
const Scheme = "nostr+walletconnect"

// ErrInvalidURI is returned for a malformed pairing URI.
var ErrInvalidURI = errors.New("invalid wallet connect URI")

// Connection is a parsed pairing URI: the wallet service identity, the
// relay to meet it at, and our client keypair derived from the shared
// secret.
type Connection struct {
	// WalletPubkey is the wallet service's x-only public key, hex.
	WalletPubkey string

	// RelayURL is the websocket relay both sides use.
	RelayURL string

	// ClientPubkey is our x-only public key, hex, derived from the URI
	// secret. Responses are addressed to it.
	ClientPubkey string

	// Lud16 is the wallet's Lightning address when the URI carries one.
	// It is passed through as-is; nothing here validates or uses it.
	Lud16 string

	secret *btcec.PrivateKey
}

// ParseConnectionURI parses a nostr+walletconnect:// pairing string.
func ParseConnectionURI(raw string) (*Connection, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme != Scheme {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURI, u.Scheme)
	}

	// The wallet pubkey sits in the authority position. Some generators
	// emit nostr+walletconnect:<pubkey>?... without slashes; url.Parse
	// leaves that in Opaque.
	walletPubkey := u.Host
	if walletPubkey == "" {
		walletPubkey, _, _ = strings.Cut(u.Opaque, "?")
	}
	walletPubkey = strings.ToLower(walletPubkey)
	if _, err := nostr.ParseXOnlyPubkey(walletPubkey); err != nil {
		return nil, fmt.Errorf("%w: wallet pubkey: %v", ErrInvalidURI, err)
	}

	query := u.Query()
	relay := query.Get("relay")
	if relay == "" {
		return nil, fmt.Errorf("%w: missing relay parameter", ErrInvalidURI)
	}
	if !strings.HasPrefix(relay, "ws://") && !strings.HasPrefix(relay, "wss://") {
		return nil, fmt.Errorf("%w: relay %q is not a websocket URL", ErrInvalidURI, relay)
	}

	secretHex := query.Get("secret")
	if secretHex == "" {
		return nil, fmt.Errorf("%w: missing secret parameter", ErrInvalidURI)
	}
	secret, err := nostr.ParseSecretKey(secretHex)
	if err != nil {
		return nil, fmt.Errorf("%w: secret: %v", ErrInvalidURI, err)
	}

	return &Connection{
		WalletPubkey: walletPubkey,
		RelayURL:     relay,
		ClientPubkey: nostr.PublicKeyHex(secret),
		Lud16:        query.Get("lud16"),
		secret:       secret,
	}, nil
}
