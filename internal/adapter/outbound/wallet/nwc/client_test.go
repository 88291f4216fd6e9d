package nwc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/coder/websocket"

	"github.com/lightning-enable/lightning-enable/internal/domain/nostr"
	"github.com/lightning-enable/lightning-enable/internal/domain/wallet"
)

const (
	walletSecretHex = "9c1f5f4e8a2b7d6c5e4f3a2b1c0d9e8f7a6b5c4d3e2f1a0b9c8d7e6f5a4b3c2d"
	clientSecretHex = "1111111111111111111111111111111111111111111111111111111111111111"
	goodPreimage    = "aa11bb22cc33dd44ee55ff660077118822993344aabbccddeeff001122334455"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRelay is an in-process relay with the wallet service behind it:
// it decrypts incoming kind 23194 events, asks respond for the reply
// payloads, and delivers them once the client subscribes.
type fakeRelay struct {
	t       *testing.T
	secret  *btcec.PrivateKey
	respond func(method string, params json.RawMessage) []walletResponse
	silent  bool

	// responderSecret, when set, signs and encrypts responses instead of
	// the wallet key the request was addressed to.
	responderSecret *btcec.PrivateKey

	mu        sync.Mutex
	sinceSeen int64
}

func newFakeRelay(t *testing.T, respond func(method string, params json.RawMessage) []walletResponse) *fakeRelay {
	t.Helper()
	secret, err := nostr.ParseSecretKey(walletSecretHex)
	if err != nil {
		t.Fatalf("ParseSecretKey() error = %v", err)
	}
	return &fakeRelay{t: t, secret: secret, respond: respond}
}

func (f *fakeRelay) walletPubkey() string { return nostr.PublicKeyHex(f.secret) }

func (f *fakeRelay) start(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return "nostr+walletconnect://" + f.walletPubkey() +
		"?relay=" + url.QueryEscape("ws"+strings.TrimPrefix(srv.URL, "http")) +
		"&secret=" + clientSecretHex
}

func (f *fakeRelay) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := r.Context()
	var pending []*nostr.Event

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame []json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil || len(frame) < 2 {
			continue
		}
		var frameType string
		_ = json.Unmarshal(frame[0], &frameType)

		switch frameType {
		case "EVENT":
			var event nostr.Event
			if err := json.Unmarshal(frame[1], &event); err != nil {
				f.t.Errorf("relay got unparseable event: %v", err)
				continue
			}
			f.writeJSON(ctx, conn, []any{"OK", event.ID, true, ""})
			if f.silent {
				continue
			}
			pending = append(pending, f.buildResponses(event)...)
		case "REQ":
			var subID string
			_ = json.Unmarshal(frame[1], &subID)
			if len(frame) >= 3 {
				var filter struct {
					Since int64 `json:"since"`
				}
				if err := json.Unmarshal(frame[2], &filter); err == nil {
					f.mu.Lock()
					f.sinceSeen = filter.Since
					f.mu.Unlock()
				}
			}
			for _, resp := range pending {
				f.writeJSON(ctx, conn, []any{"EVENT", subID, resp})
			}
			f.writeJSON(ctx, conn, []any{"EOSE", subID})
			pending = nil
		}
	}
}

func (f *fakeRelay) subscribeSince() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinceSeen
}

func (f *fakeRelay) buildResponses(request nostr.Event) []*nostr.Event {
	key, err := nostr.SharedSecret(f.secret, request.Pubkey)
	if err != nil {
		f.t.Errorf("relay shared secret: %v", err)
		return nil
	}
	plaintext, err := nostr.Decrypt(request.Content, key)
	if err != nil {
		f.t.Errorf("relay decrypt request: %v", err)
		return nil
	}
	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal([]byte(plaintext), &req); err != nil {
		f.t.Errorf("relay parse request: %v", err)
		return nil
	}

	signer := f.secret
	if f.responderSecret != nil {
		signer = f.responderSecret
		key, err = nostr.SharedSecret(signer, request.Pubkey)
		if err != nil {
			f.t.Errorf("relay responder shared secret: %v", err)
			return nil
		}
	}

	var events []*nostr.Event
	for _, resp := range f.respond(req.Method, req.Params) {
		content, err := json.Marshal(resp)
		if err != nil {
			f.t.Errorf("relay marshal response: %v", err)
			continue
		}
		encrypted, err := nostr.Encrypt(string(content), key)
		if err != nil {
			f.t.Errorf("relay encrypt response: %v", err)
			continue
		}
		event := &nostr.Event{
			CreatedAt: time.Now().Unix(),
			Kind:      nostr.KindWalletResponse,
			Tags:      [][]string{{"p", request.Pubkey}, {"e", request.ID}},
			Content:   encrypted,
		}
		if err := event.Sign(signer); err != nil {
			f.t.Errorf("relay sign response: %v", err)
			continue
		}
		events = append(events, event)
	}
	return events
}

func (f *fakeRelay) writeJSON(ctx context.Context, conn *websocket.Conn, v any) {
	data, err := nostr.MarshalCompact(v)
	if err != nil {
		f.t.Errorf("relay marshal frame: %v", err)
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func newTestClient(t *testing.T, relay *fakeRelay) *Client {
	t.Helper()
	client, err := NewClient(relay.start(t), discardLogger(), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func rawResult(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return data
}

func TestParseConnectionURI(t *testing.T) {
	t.Parallel()

	secret, _ := nostr.ParseSecretKey(walletSecretHex)
	walletPub := nostr.PublicKeyHex(secret)

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		uri := "nostr+walletconnect://" + walletPub +
			"?relay=" + url.QueryEscape("wss://relay.example.com") +
			"&secret=" + clientSecretHex
		conn, err := ParseConnectionURI(uri)
		if err != nil {
			t.Fatalf("ParseConnectionURI() error = %v", err)
		}
		if conn.WalletPubkey != walletPub {
			t.Errorf("WalletPubkey = %s, want %s", conn.WalletPubkey, walletPub)
		}
		if conn.RelayURL != "wss://relay.example.com" {
			t.Errorf("RelayURL = %s", conn.RelayURL)
		}
		if conn.ClientPubkey == "" || conn.ClientPubkey == walletPub {
			t.Errorf("ClientPubkey = %s", conn.ClientPubkey)
		}
		if conn.Lud16 != "" {
			t.Errorf("Lud16 = %q, want empty when the URI carries none", conn.Lud16)
		}
	})

	t.Run("lud16 passthrough", func(t *testing.T) {
		t.Parallel()
		uri := "nostr+walletconnect://" + walletPub +
			"?relay=" + url.QueryEscape("wss://relay.example.com") +
			"&secret=" + clientSecretHex +
			"&lud16=" + url.QueryEscape("alice@getalby.com")
		conn, err := ParseConnectionURI(uri)
		if err != nil {
			t.Fatalf("ParseConnectionURI() error = %v", err)
		}
		if conn.Lud16 != "alice@getalby.com" {
			t.Errorf("Lud16 = %q, want alice@getalby.com", conn.Lud16)
		}
	})

	invalid := map[string]string{
		"wrong scheme":   "https://" + walletPub + "?relay=wss%3A%2F%2Fr&secret=" + clientSecretHex,
		"missing relay":  "nostr+walletconnect://" + walletPub + "?secret=" + clientSecretHex,
		"missing secret": "nostr+walletconnect://" + walletPub + "?relay=wss%3A%2F%2Fr",
		"bad pubkey":     "nostr+walletconnect://nothex?relay=wss%3A%2F%2Fr&secret=" + clientSecretHex,
		"non-ws relay":   "nostr+walletconnect://" + walletPub + "?relay=https%3A%2F%2Fr&secret=" + clientSecretHex,
	}
	for name, uri := range invalid {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseConnectionURI(uri); !errors.Is(err, ErrInvalidURI) {
				t.Errorf("ParseConnectionURI() error = %v, want ErrInvalidURI", err)
			}
		})
	}
}

func TestPayInvoice_Success(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t, func(method string, params json.RawMessage) []walletResponse {
		if method != "pay_invoice" {
			t.Errorf("method = %s, want pay_invoice", method)
		}
		var p struct {
			Invoice string `json:"invoice"`
		}
		if err := json.Unmarshal(params, &p); err != nil || p.Invoice != "lnbc10n1testinvoice" {
			t.Errorf("params = %s", params)
		}
		return []walletResponse{{
			ResultType: "pay_invoice",
			Result:     rawResult(t, map[string]string{"preimage": goodPreimage}),
		}}
	})
	client := newTestClient(t, relay)

	res := client.PayInvoice(context.Background(), "lnbc10n1testinvoice")
	if !res.Success {
		t.Fatalf("PayInvoice() failed: %s %s", res.ErrorCode, res.ErrorMessage)
	}
	if res.PreimageHex != goodPreimage {
		t.Errorf("PreimageHex = %s", res.PreimageHex)
	}
	if res.Warning != "" {
		t.Errorf("unexpected warning: %s", res.Warning)
	}
}

func TestPayInvoice_NoPreimage(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t, func(method string, params json.RawMessage) []walletResponse {
		return []walletResponse{{
			ResultType: "pay_invoice",
			Result:     rawResult(t, map[string]string{}),
		}}
	})
	client := newTestClient(t, relay)

	res := client.PayInvoice(context.Background(), "lnbc10n1testinvoice")
	if res.Success {
		t.Fatal("PayInvoice() succeeded without a preimage")
	}
	if res.ErrorCode != wallet.CodeNoPreimage {
		t.Errorf("ErrorCode = %s, want %s", res.ErrorCode, wallet.CodeNoPreimage)
	}
}

func TestPayInvoice_MalformedPreimageWarns(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t, func(method string, params json.RawMessage) []walletResponse {
		return []walletResponse{{
			ResultType: "pay_invoice",
			Result:     rawResult(t, map[string]string{"preimage": "not-hex-at-all"}),
		}}
	})
	client := newTestClient(t, relay)

	res := client.PayInvoice(context.Background(), "lnbc10n1testinvoice")
	if !res.Success {
		t.Fatalf("PayInvoice() failed: %s", res.ErrorMessage)
	}
	if res.Warning == "" {
		t.Error("malformed preimage produced no warning")
	}
}

func TestPayInvoice_WalletError(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t, func(method string, params json.RawMessage) []walletResponse {
		return []walletResponse{{
			ResultType: "pay_invoice",
			Error:      &walletError{Code: "INSUFFICIENT_BALANCE", Message: "not enough funds"},
		}}
	})
	client := newTestClient(t, relay)

	res := client.PayInvoice(context.Background(), "lnbc10n1testinvoice")
	if res.Success {
		t.Fatal("PayInvoice() succeeded despite wallet error")
	}
	if res.ErrorCode != "INSUFFICIENT_BALANCE" {
		t.Errorf("ErrorCode = %s, want INSUFFICIENT_BALANCE", res.ErrorCode)
	}
}

func TestExchange_SkipsMismatchedResultType(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t, func(method string, params json.RawMessage) []walletResponse {
		// A stale response for another method arrives first.
		return []walletResponse{
			{ResultType: "get_balance", Result: rawResult(t, map[string]int64{"balance": 1})},
			{ResultType: "pay_invoice", Result: rawResult(t, map[string]string{"preimage": goodPreimage})},
		}
	})
	client := newTestClient(t, relay)

	res := client.PayInvoice(context.Background(), "lnbc10n1testinvoice")
	if !res.Success || res.PreimageHex != goodPreimage {
		t.Errorf("PayInvoice() = %+v, want success with matching response", res)
	}
}

func TestExchange_OnlyMismatchedResponses(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t, func(method string, params json.RawMessage) []walletResponse {
		// Nothing for pay_invoice, ever.
		return []walletResponse{
			{ResultType: "get_balance", Result: rawResult(t, map[string]int64{"balance": 1})},
			{ResultType: "get_info", Result: rawResult(t, map[string]string{"alias": "w"})},
		}
	})
	client, err := NewClient(relay.start(t), discardLogger(), WithTimeout(300*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.exchange(context.Background(), "pay_invoice", map[string]string{"invoice": "lnbc1"})
	if !errors.Is(err, ErrWrongTypeExhausted) {
		t.Fatalf("exchange() error = %v, want ErrWrongTypeExhausted", err)
	}
	// The specific error still matches the broader deadline sentinel.
	if !errors.Is(err, ErrNoMatchingResponse) {
		t.Errorf("exchange() error = %v, does not wrap ErrNoMatchingResponse", err)
	}
}

func TestExchange_ResponseFromDelegatedKey(t *testing.T) {
	t.Parallel()

	// The wallet service answers from a key other than the one the
	// request was addressed to. The response pubkey decides decryption.
	delegated, err := nostr.ParseSecretKey("2222222222222222222222222222222222222222222222222222222222222222")
	if err != nil {
		t.Fatalf("ParseSecretKey() error = %v", err)
	}

	relay := newFakeRelay(t, func(method string, params json.RawMessage) []walletResponse {
		return []walletResponse{{
			ResultType: "pay_invoice",
			Result:     rawResult(t, map[string]string{"preimage": goodPreimage}),
		}}
	})
	relay.responderSecret = delegated
	client := newTestClient(t, relay)

	res := client.PayInvoice(context.Background(), "lnbc10n1testinvoice")
	if !res.Success || res.PreimageHex != goodPreimage {
		t.Errorf("PayInvoice() = %+v, want success via delegated response key", res)
	}
}

func TestExchange_SubscribeCutoffPredatesRequest(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t, func(method string, params json.RawMessage) []walletResponse {
		return []walletResponse{{
			ResultType: "pay_invoice",
			Result:     rawResult(t, map[string]string{"preimage": goodPreimage}),
		}}
	})
	client := newTestClient(t, relay)

	if res := client.PayInvoice(context.Background(), "lnbc10n1testinvoice"); !res.Success {
		t.Fatalf("PayInvoice() failed: %s %s", res.ErrorCode, res.ErrorMessage)
	}

	since := relay.subscribeSince()
	if since == 0 {
		t.Fatal("relay saw no since cutoff in the subscription filter")
	}
	// The cutoff reaches back far enough to survive clock skew.
	if margin := time.Now().Unix() - since; margin < 9 {
		t.Errorf("since cutoff only %ds before now, want at least ~10s", margin)
	}
}

func TestPayInvoice_Timeout(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t, nil)
	relay.silent = true
	client, err := NewClient(relay.start(t), discardLogger(), WithTimeout(300*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	res := client.PayInvoice(context.Background(), "lnbc10n1testinvoice")
	if res.Success {
		t.Fatal("PayInvoice() succeeded with a silent wallet")
	}
	if res.ErrorCode != wallet.CodeTimeout {
		t.Errorf("ErrorCode = %s, want %s", res.ErrorCode, wallet.CodeTimeout)
	}
}

func TestGetBalance(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t, func(method string, params json.RawMessage) []walletResponse {
		return []walletResponse{{
			ResultType: "get_balance",
			Result:     rawResult(t, map[string]int64{"balance": 123_456_000}),
		}}
	})
	client := newTestClient(t, relay)

	balance, err := client.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance() error = %v", err)
	}
	if balance.BalanceMsat != 123_456_000 || balance.Sats() != 123_456 {
		t.Errorf("GetBalance() = %+v", balance)
	}
}

func TestCreateInvoice(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t, func(method string, params json.RawMessage) []walletResponse {
		var p struct {
			Amount      int64  `json:"amount"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(params, &p); err != nil || p.Amount != 21_000 || p.Description != "coffee" {
			t.Errorf("make_invoice params = %s", params)
		}
		return []walletResponse{{
			ResultType: "make_invoice",
			Result: rawResult(t, map[string]any{
				"invoice":      "lnbc210n1fakeinvoice",
				"payment_hash": "deadbeef",
			}),
		}}
	})
	client := newTestClient(t, relay)

	inv, err := client.CreateInvoice(context.Background(), 21, "coffee", 0)
	if err != nil {
		t.Fatalf("CreateInvoice() error = %v", err)
	}
	if inv.Bolt11 != "lnbc210n1fakeinvoice" || inv.ID != "deadbeef" || inv.AmountSats != 21 {
		t.Errorf("CreateInvoice() = %+v", inv)
	}
}

func TestClient_Unconfigured(t *testing.T) {
	t.Parallel()

	client, err := NewClient("", discardLogger())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.IsConfigured() {
		t.Error("IsConfigured() = true for empty URI")
	}
	if res := client.PayInvoice(context.Background(), "lnbc1"); res.ErrorCode != wallet.CodeNotConfigured {
		t.Errorf("PayInvoice() code = %s, want %s", res.ErrorCode, wallet.CodeNotConfigured)
	}
	if _, err := client.GetBalance(context.Background()); !errors.Is(err, wallet.ErrNotConfigured) {
		t.Errorf("GetBalance() error = %v, want ErrNotConfigured", err)
	}
}
