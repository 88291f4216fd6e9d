package nostr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ErrMalformedCiphertext is returned when NIP-04 content does not split into
// ciphertext and IV, or the ciphertext is not block-aligned.
var ErrMalformedCiphertext = errors.New("malformed nip04 ciphertext")

// SharedSecret computes the 32-byte NIP-04 symmetric key between our private
// key and the counterparty's x-only public key: the x coordinate of the ECDH
// shared point, unhashed.
func SharedSecret(priv *btcec.PrivateKey, counterpartyHex string) ([32]byte, error) {
	var key [32]byte

	pub, err := ParseXOnlyPubkey(counterpartyHex)
	if err != nil {
		return key, err
	}

	var point, shared secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&priv.Key, &point, &shared)
	shared.ToAffine()
	key = *shared.X.Bytes()
	return key, nil
}

// Encrypt encrypts plaintext with AES-256-CBC under the shared key and a
// fresh random IV, producing NIP-04 wire format:
// base64(ciphertext) + "?iv=" + base64(iv).
func Encrypt(plaintext string, key [32]byte) (string, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) +
		"?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// Decrypt inverts Encrypt.
func Decrypt(content string, key [32]byte) (string, error) {
	ctB64, ivB64, ok := strings.Cut(content, "?iv=")
	if !ok {
		return "", ErrMalformedCiphertext
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(iv) != aes.BlockSize || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrMalformedCiphertext
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrMalformedCiphertext
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, ErrMalformedCiphertext
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, ErrMalformedCiphertext
		}
	}
	return data[:len(data)-padding], nil
}
