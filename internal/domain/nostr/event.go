// Package nostr implements the subset of the Nostr protocol needed for
// wallet-connect RPC: signed events, the canonical id hash, and NIP-04
// content encryption. It is not a general-purpose Nostr client.
package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event kinds used by NIP-47 wallet connect.
const (
	KindWalletRequest  = 23194
	KindWalletResponse = 23195
)

// ErrInvalidKey is returned when key material does not decode to a valid
// secp256k1 key.
var ErrInvalidKey = errors.New("invalid key material")

// Event is a Nostr event. The id is the SHA-256 of the canonical
// serialization and the signature is BIP-340 Schnorr over the id.
type Event struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// MarshalCompact serializes v as compact JSON without HTML escaping.
// The event id is a hash of these exact bytes, so every party must produce
// them bit-for-bit identically; encoding/json's default &, <, > escaping
// would change the hash.
func MarshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Serialize returns the canonical 6-element array the event id is computed
// over: [0, pubkey, created_at, kind, tags, content].
func (e *Event) Serialize() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	return MarshalCompact([]any{0, e.Pubkey, e.CreatedAt, e.Kind, tags, e.Content})
}

// ComputeID returns the hex event id, the SHA-256 of the canonical
// serialization.
func (e *Event) ComputeID() (string, error) {
	canonical, err := e.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Sign fills in Pubkey, ID, and Sig from the given private key.
func (e *Event) Sign(priv *btcec.PrivateKey) error {
	e.Pubkey = PublicKeyHex(priv)

	id, err := e.ComputeID()
	if err != nil {
		return fmt.Errorf("compute event id: %w", err)
	}
	e.ID = id

	idBytes, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("decode event id: %w", err)
	}
	sig, err := schnorr.Sign(priv, idBytes)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// ParseSecretKey decodes a 64-hex-character secret into a private key.
func ParseSecretKey(secretHex string) (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	if priv.Key.IsZero() {
		return nil, ErrInvalidKey
	}
	return priv, nil
}

// PublicKeyHex returns the x-only public key for priv as 64 hex characters,
// the form Nostr uses on the wire.
func PublicKeyHex(priv *btcec.PrivateKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
}

// ParseXOnlyPubkey reconstitutes a full curve point from a 64-hex-character
// x-only public key (the compressed-point x coordinate with an implied even
// y, per BIP-340).
func ParseXOnlyPubkey(pubHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	pub, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}
