package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

const testSecret = "5caa3cd87cf1ad069bcf590f8c3fe174e9aafd25405c6d2b8a3f5e65bf0c1d2e"

func TestSerialize_Deterministic(t *testing.T) {
	t.Parallel()

	ev := &Event{
		Pubkey:    strings.Repeat("ab", 32),
		CreatedAt: 1700000000,
		Kind:      KindWalletRequest,
		Tags:      [][]string{{"p", strings.Repeat("cd", 32)}},
		Content:   "payload",
	}

	first, err := ev.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := ev.Serialize()
		if err != nil {
			t.Fatalf("Serialize() error = %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("Serialize() not deterministic:\n%s\n%s", first, again)
		}
	}

	id1, err := ev.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID() error = %v", err)
	}
	id2, _ := ev.ComputeID()
	if id1 != id2 {
		t.Errorf("ComputeID() differs across calls: %s vs %s", id1, id2)
	}
}

func TestSerialize_NoHTMLEscaping(t *testing.T) {
	t.Parallel()

	ev := &Event{
		Pubkey:    strings.Repeat("00", 32),
		CreatedAt: 1,
		Kind:      KindWalletRequest,
		Content:   `a<b>&c`,
	}
	out, err := ev.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if strings.Contains(string(out), `\u003c`) || strings.Contains(string(out), `\u0026`) {
		t.Errorf("Serialize() HTML-escaped content: %s", out)
	}
	if !strings.Contains(string(out), `a<b>&c`) {
		t.Errorf("Serialize() lost content bytes: %s", out)
	}
}

func TestSerialize_CanonicalShape(t *testing.T) {
	t.Parallel()

	ev := &Event{
		Pubkey:    "pk",
		CreatedAt: 42,
		Kind:      KindWalletResponse,
		Tags:      [][]string{{"p", "target"}},
		Content:   "hello",
	}
	out, err := ev.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	want := `[0,"pk",42,23195,[["p","target"]],"hello"]`
	if string(out) != want {
		t.Errorf("Serialize() = %s, want %s", out, want)
	}

	// Nil tags serialize as an empty array, not null.
	ev.Tags = nil
	out, _ = ev.Serialize()
	if !strings.Contains(string(out), "[],") {
		t.Errorf("nil tags serialized as %s, want empty array", out)
	}
}

func TestSign_ProducesVerifiableSignature(t *testing.T) {
	t.Parallel()

	priv, err := ParseSecretKey(testSecret)
	if err != nil {
		t.Fatalf("ParseSecretKey() error = %v", err)
	}

	ev := &Event{
		CreatedAt: 1700000000,
		Kind:      KindWalletRequest,
		Tags:      [][]string{{"p", strings.Repeat("cd", 32)}},
		Content:   "ciphertext?iv=aXY=",
	}
	if err := ev.Sign(priv); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if ev.Pubkey != PublicKeyHex(priv) {
		t.Errorf("Sign() pubkey = %s, want %s", ev.Pubkey, PublicKeyHex(priv))
	}
	if len(ev.ID) != 64 || len(ev.Sig) != 128 {
		t.Fatalf("Sign() id len %d sig len %d, want 64/128", len(ev.ID), len(ev.Sig))
	}

	// The id must be the hash of the canonical serialization.
	canonical, _ := ev.Serialize()
	sum := sha256.Sum256(canonical)
	if ev.ID != hex.EncodeToString(sum[:]) {
		t.Error("Sign() id does not match canonical hash")
	}

	// And the signature must verify against the x-only pubkey.
	sigBytes, _ := hex.DecodeString(ev.Sig)
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		t.Fatalf("ParseSignature() error = %v", err)
	}
	idBytes, _ := hex.DecodeString(ev.ID)
	pub, err := ParseXOnlyPubkey(ev.Pubkey)
	if err != nil {
		t.Fatalf("ParseXOnlyPubkey() error = %v", err)
	}
	if !sig.Verify(idBytes, pub) {
		t.Error("signature does not verify")
	}
}

func TestParseSecretKey_Invalid(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "zz", strings.Repeat("0", 64), strings.Repeat("ab", 31), "nothex" + strings.Repeat("0", 58)} {
		if _, err := ParseSecretKey(bad); err == nil {
			t.Errorf("ParseSecretKey(%q) succeeded, want error", bad)
		}
	}
}
