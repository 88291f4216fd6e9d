package nostr

import (
	"strings"
	"testing"
)

const (
	aliceSecret = "0000000000000000000000000000000000000000000000000000000000000001"
	bobSecret   = "0000000000000000000000000000000000000000000000000000000000000002"
)

func TestSharedSecret_Symmetric(t *testing.T) {
	t.Parallel()

	alice, err := ParseSecretKey(aliceSecret)
	if err != nil {
		t.Fatalf("ParseSecretKey(alice) error = %v", err)
	}
	bob, err := ParseSecretKey(bobSecret)
	if err != nil {
		t.Fatalf("ParseSecretKey(bob) error = %v", err)
	}

	aliceToBob, err := SharedSecret(alice, PublicKeyHex(bob))
	if err != nil {
		t.Fatalf("SharedSecret(alice->bob) error = %v", err)
	}
	bobToAlice, err := SharedSecret(bob, PublicKeyHex(alice))
	if err != nil {
		t.Fatalf("SharedSecret(bob->alice) error = %v", err)
	}
	if aliceToBob != bobToAlice {
		t.Error("shared secrets differ between directions")
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()

	alice, _ := ParseSecretKey(aliceSecret)
	bob, _ := ParseSecretKey(bobSecret)
	key, err := SharedSecret(alice, PublicKeyHex(bob))
	if err != nil {
		t.Fatalf("SharedSecret() error = %v", err)
	}

	plaintexts := []string{
		"",
		"x",
		`{"method":"pay_invoice","params":{"invoice":"lnbc10n1..."}}`,
		strings.Repeat("0123456789abcdef", 16), // exact block multiple
		"unicode ⚡ payload",
	}
	for _, plaintext := range plaintexts {
		ciphertext, err := Encrypt(plaintext, key)
		if err != nil {
			t.Fatalf("Encrypt(%q) error = %v", plaintext, err)
		}
		if !strings.Contains(ciphertext, "?iv=") {
			t.Fatalf("Encrypt(%q) missing iv separator: %s", plaintext, ciphertext)
		}

		recovered, err := Decrypt(ciphertext, key)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if recovered != plaintext {
			t.Errorf("round trip = %q, want %q", recovered, plaintext)
		}
	}
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	t.Parallel()

	alice, _ := ParseSecretKey(aliceSecret)
	bob, _ := ParseSecretKey(bobSecret)
	key, _ := SharedSecret(alice, PublicKeyHex(bob))

	first, _ := Encrypt("same plaintext", key)
	second, _ := Encrypt("same plaintext", key)
	if first == second {
		t.Error("two encryptions of the same plaintext are identical; IV is not fresh")
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	t.Parallel()

	alice, _ := ParseSecretKey(aliceSecret)
	bob, _ := ParseSecretKey(bobSecret)
	key, _ := SharedSecret(alice, PublicKeyHex(bob))

	cases := []string{
		"",
		"noseparator",
		"!!!?iv=aXZpdml2aXZpdml2aXY=",
		"dmFsaWQ=?iv=!!!",
		"dmFsaWQ=?iv=c2hvcnQ=", // iv wrong length
	}
	for _, bad := range cases {
		if _, err := Decrypt(bad, key); err == nil {
			t.Errorf("Decrypt(%q) succeeded, want error", bad)
		}
	}
}

func TestDecrypt_WrongKeyFailsPadding(t *testing.T) {
	t.Parallel()

	alice, _ := ParseSecretKey(aliceSecret)
	bob, _ := ParseSecretKey(bobSecret)
	key, _ := SharedSecret(alice, PublicKeyHex(bob))

	ciphertext, _ := Encrypt("secret message for bob", key)

	var wrongKey [32]byte
	wrongKey[31] = 1
	if got, err := Decrypt(ciphertext, wrongKey); err == nil && got == "secret message for bob" {
		t.Error("decryption with wrong key recovered plaintext")
	}
}
