package approval

import (
	"math/rand/v2"
	"time"
)

// ConfirmationTTL is how long a pending confirmation stays redeemable.
const ConfirmationTTL = 2 * time.Minute

// nonceAlphabet is the 36-character code alphabet. Uppercase alphanumerics
// keep the code easy to read back over a second channel.
const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// nonceLength is the length of a confirmation code.
const nonceLength = 6

// PendingConfirmation is a one-time confirmation of a specific payment,
// created when a payment needs out-of-band approval and the client has no
// richer confirmation channel. The code is an anti-fat-finger measure, not a
// capability secret: the real authorization is the amount/tool binding,
// consumed exactly once.
type PendingConfirmation struct {
	Nonce       string
	AmountSats  int64
	AmountUSD   float64
	ToolName    string
	Description string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the confirmation is past its TTL at the given time.
func (p PendingConfirmation) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// NewNonce generates a 6-character confirmation code. A non-cryptographic
// RNG is sufficient here; see PendingConfirmation.
func NewNonce() string {
	buf := make([]byte, nonceLength)
	for i := range buf {
		buf[i] = nonceAlphabet[rand.IntN(len(nonceAlphabet))]
	}
	return string(buf)
}
