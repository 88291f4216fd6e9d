// Package invoice provides BOLT11 amount extraction. It is deliberately not a
// full invoice decoder: the only field the payment guard needs is the amount,
// which lives in the human-readable part before the bech32 separator.
package invoice

import (
	"errors"
	"strconv"
	"strings"
)

// ErrNoAmount is returned for amountless invoices (the payer chooses the
// amount; the guard cannot cap what it cannot read).
var ErrNoAmount = errors.New("invoice specifies no amount")

// ErrMalformed is returned when the string does not look like a BOLT11
// invoice.
var ErrMalformed = errors.New("malformed bolt11 invoice")

// msatPerBtc is the number of millisatoshis in one bitcoin.
const msatPerBtc = 100_000_000_000

// network prefixes, longest first so "lnbcrt" wins over "lnbc".
var prefixes = []string{"lnbcrt", "lntbs", "lntb", "lnbc"}

// AmountMsat extracts the invoice amount in millisatoshis.
// The amount is the decimal run between the network prefix and the optional
// multiplier character (m, u, n, p), interpreted as a fraction of one BTC.
func AmountMsat(bolt11 string) (int64, error) {
	hrp := strings.ToLower(strings.TrimSpace(bolt11))

	// The last '1' separates the human-readable part from the data part.
	sep := strings.LastIndexByte(hrp, '1')
	if sep < 0 {
		return 0, ErrMalformed
	}
	hrp = hrp[:sep]

	var rest string
	for _, p := range prefixes {
		if strings.HasPrefix(hrp, p) {
			rest = hrp[len(p):]
			break
		}
	}
	if rest == "" {
		if hrp == "" || !isKnownPrefix(hrp) {
			return 0, ErrMalformed
		}
		return 0, ErrNoAmount
	}

	digits := rest
	multiplier := byte(0)
	if last := rest[len(rest)-1]; last < '0' || last > '9' {
		multiplier = last
		digits = rest[:len(rest)-1]
	}
	if digits == "" {
		return 0, ErrMalformed
	}

	amount, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || amount <= 0 {
		return 0, ErrMalformed
	}

	switch multiplier {
	case 0:
		return amount * msatPerBtc, nil
	case 'm':
		return amount * (msatPerBtc / 1_000), nil
	case 'u':
		return amount * (msatPerBtc / 1_000_000), nil
	case 'n':
		return amount * (msatPerBtc / 1_000_000_000), nil
	case 'p':
		// Pico-bitcoin is a tenth of a millisatoshi; BOLT11 requires a
		// multiple of 10.
		if amount%10 != 0 {
			return 0, ErrMalformed
		}
		return amount / 10, nil
	default:
		return 0, ErrMalformed
	}
}

// AmountSats extracts the invoice amount in whole satoshis, rounding down.
func AmountSats(bolt11 string) (int64, error) {
	msat, err := AmountMsat(bolt11)
	if err != nil {
		return 0, err
	}
	return msat / 1000, nil
}

func isKnownPrefix(hrp string) bool {
	for _, p := range prefixes {
		if hrp == p {
			return true
		}
	}
	return false
}
