package l402

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lightning-enable/lightning-enable/internal/domain/wallet"
)

// lnbc100n... decodes to 10 sats.
const (
	testInvoice  = "lnbc100n1pfakedata"
	testPreimage = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePayer struct {
	result  wallet.PaymentResult
	invoice string
}

func (p *fakePayer) PayInvoice(ctx context.Context, bolt11 string) wallet.PaymentResult {
	p.invoice = bolt11
	return p.result
}

func TestParseChallenge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		want    Challenge
		wantErr bool
	}{
		{
			name:   "l402",
			header: `L402 macaroon="mac123", invoice="lnbc100n1p"`,
			want:   Challenge{Scheme: "L402", Macaroon: "mac123", Invoice: "lnbc100n1p"},
		},
		{
			name:   "legacy lsat",
			header: `LSAT macaroon="oldmac", invoice="lnbc1u1p"`,
			want:   Challenge{Scheme: "LSAT", Macaroon: "oldmac", Invoice: "lnbc1u1p"},
		},
		{
			name:   "reversed order with spaces",
			header: `L402 invoice = "lnbc1u1p" , macaroon = "m"`,
			want:   Challenge{Scheme: "L402", Macaroon: "m", Invoice: "lnbc1u1p"},
		},
		{name: "wrong scheme", header: `Bearer token="x"`, wantErr: true},
		{name: "missing invoice", header: `L402 macaroon="mac123"`, wantErr: true},
		{name: "empty", header: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseChallenge(tt.header)
			if tt.wantErr {
				if !errors.Is(err, ErrNoChallenge) {
					t.Errorf("ParseChallenge() error = %v, want ErrNoChallenge", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseChallenge() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseChallenge() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func newGatedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "L402 mac123:"+testPreimage {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"data":"premium"}`))
			return
		}
		w.Header().Set("WWW-Authenticate", `L402 macaroon="mac123", invoice="`+testInvoice+`"`)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAccess_PaysChallengeAndRetries(t *testing.T) {
	t.Parallel()

	srv := newGatedServer(t)
	payer := &fakePayer{result: wallet.PaymentResult{Success: true, PreimageHex: testPreimage}}
	client := NewClient(srv.Client(), payer, discardLogger())

	res, err := client.Access(context.Background(), srv.URL, 100)
	if err != nil {
		t.Fatalf("Access() error = %v", err)
	}
	if res.StatusCode != http.StatusOK || !strings.Contains(string(res.Body), "premium") {
		t.Errorf("Access() = %d %s", res.StatusCode, res.Body)
	}
	if !res.Paid || res.AmountSats != 10 || res.PreimageHex != testPreimage || res.Macaroon != "mac123" {
		t.Errorf("payment details = %+v", res)
	}
	if payer.invoice != testInvoice {
		t.Errorf("paid invoice = %q, want %q", payer.invoice, testInvoice)
	}
}

func TestAccess_FreeResourcePassesThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("free"))
	}))
	t.Cleanup(srv.Close)

	payer := &fakePayer{result: wallet.PaymentResult{Success: true, PreimageHex: testPreimage}}
	client := NewClient(srv.Client(), payer, discardLogger())

	res, err := client.Access(context.Background(), srv.URL, 100)
	if err != nil {
		t.Fatalf("Access() error = %v", err)
	}
	if res.Paid || string(res.Body) != "free" {
		t.Errorf("Access() = %+v, want unpaid pass-through", res)
	}
	if payer.invoice != "" {
		t.Error("payer invoked for a free resource")
	}
}

func TestAccess_CapBlocksExpensiveChallenge(t *testing.T) {
	t.Parallel()

	srv := newGatedServer(t)
	payer := &fakePayer{result: wallet.PaymentResult{Success: true, PreimageHex: testPreimage}}
	client := NewClient(srv.Client(), payer, discardLogger())

	// The challenge asks for 10 sats; cap at 5.
	if _, err := client.Access(context.Background(), srv.URL, 5); !errors.Is(err, ErrAmountExceedsCap) {
		t.Errorf("Access() error = %v, want ErrAmountExceedsCap", err)
	}
	if payer.invoice != "" {
		t.Error("payer invoked despite cap")
	}
}

func TestAccess_PaymentFailure(t *testing.T) {
	t.Parallel()

	srv := newGatedServer(t)
	payer := &fakePayer{result: wallet.Failed(wallet.CodePaymentFailed, "no route")}
	client := NewClient(srv.Client(), payer, discardLogger())

	if _, err := client.Access(context.Background(), srv.URL, 100); !errors.Is(err, ErrPaymentFailed) {
		t.Errorf("Access() error = %v, want ErrPaymentFailed", err)
	}
}

func TestPayChallenge_Token(t *testing.T) {
	t.Parallel()

	payer := &fakePayer{result: wallet.PaymentResult{Success: true, PreimageHex: testPreimage}}
	client := NewClient(nil, payer, discardLogger())

	token, payment, err := client.PayChallenge(context.Background(),
		`L402 macaroon="mac123", invoice="`+testInvoice+`"`, 0)
	if err != nil {
		t.Fatalf("PayChallenge() error = %v", err)
	}
	if token != "L402 mac123:"+testPreimage {
		t.Errorf("token = %q", token)
	}
	if !payment.Success {
		t.Errorf("payment = %+v", payment)
	}
}
