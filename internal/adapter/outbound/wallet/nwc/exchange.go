package nwc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/lightning-enable/lightning-enable/internal/domain/nostr"
)

// defaultExchangeTimeout bounds one full request/response exchange with
// the relay, dial included.
const defaultExchangeTimeout = 30 * time.Second

// ErrNoMatchingResponse is returned when the exchange deadline passes
// without a response whose result_type matches the request method.
var ErrNoMatchingResponse = errors.New("no matching wallet response before deadline")

// ErrWrongTypeExhausted is the deadline outcome when responses did
// arrive but every one carried a different result_type. It wraps
// ErrNoMatchingResponse so callers matching the broader error still
// catch it; the distinction points at a wallet answering the wrong
// method rather than not answering at all.
var ErrWrongTypeExhausted = fmt.Errorf("%w: only mismatched result types received", ErrNoMatchingResponse)

// walletError is a NIP-47 error object inside a response event.
type walletError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// walletResponse is the decrypted content of a kind 23195 event.
type walletResponse struct {
	ResultType string          `json:"result_type"`
	Error      *walletError    `json:"error"`
	Result     json.RawMessage `json:"result"`
}

// WalletError is a failure reported by the wallet service itself.
type WalletError struct {
	Code    string
	Message string
}

func (e *WalletError) Error() string {
	return fmt.Sprintf("wallet error %s: %s", e.Code, e.Message)
}

// exchange performs one NIP-47 request/response round trip on a fresh
// socket. The socket is torn down on every path.
func (c *Client) exchange(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content, err := nostr.MarshalCompact(map[string]any{
		"method": method,
		"params": params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	key, err := nostr.SharedSecret(c.conn.secret, c.conn.WalletPubkey)
	if err != nil {
		return nil, fmt.Errorf("derive shared secret: %w", err)
	}
	encrypted, err := nostr.Encrypt(string(content), key)
	if err != nil {
		return nil, fmt.Errorf("encrypt request: %w", err)
	}

	event := &nostr.Event{
		CreatedAt: c.now().Unix(),
		Kind:      nostr.KindWalletRequest,
		Tags:      [][]string{{"p", c.conn.WalletPubkey}},
		Content:   encrypted,
	}
	if err := event.Sign(c.conn.secret); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	// The since cutoff predates the publish by a wide margin so a fast
	// wallet response is never filtered out, even across modest clock
	// skew between us and the relay.
	since := c.now().Add(-10 * time.Second).Unix()

	sock, _, err := websocket.Dial(ctx, c.conn.RelayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	defer sock.Close(websocket.StatusNormalClosure, "done")
	sock.SetReadLimit(1 << 20)

	publish, err := nostr.MarshalCompact([]any{"EVENT", event})
	if err != nil {
		return nil, fmt.Errorf("marshal publish frame: %w", err)
	}
	if err := sock.Write(ctx, websocket.MessageText, publish); err != nil {
		return nil, fmt.Errorf("publish request: %w", err)
	}

	subID := event.ID[:16]
	subscribe, err := nostr.MarshalCompact([]any{"REQ", subID, map[string]any{
		"kinds":   []int{nostr.KindWalletResponse},
		"authors": []string{c.conn.WalletPubkey},
		"#p":      []string{c.conn.ClientPubkey},
		"since":   since,
	}})
	if err != nil {
		return nil, fmt.Errorf("marshal subscribe frame: %w", err)
	}
	if err := sock.Write(ctx, websocket.MessageText, subscribe); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	result, skipped, err := c.awaitResponse(ctx, sock, method, key)
	if err != nil {
		if ctx.Err() != nil {
			if skipped > 0 {
				return nil, fmt.Errorf("%w (%d skipped): %v", ErrWrongTypeExhausted, skipped, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrNoMatchingResponse, err)
		}
		return nil, err
	}
	return result, nil
}

// awaitResponse reads relay frames until a response event whose
// result_type matches method arrives. Responses for other methods are
// skipped and counted; relay bookkeeping frames (OK, EOSE, NOTICE) are
// handled inline.
func (c *Client) awaitResponse(ctx context.Context, sock *websocket.Conn, method string, requestKey [32]byte) (json.RawMessage, int, error) {
	skipped := 0
	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			return nil, skipped, fmt.Errorf("read relay frame: %w", err)
		}

		var frame []json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil || len(frame) == 0 {
			c.logger.Warn("unparseable relay frame", "error", err)
			continue
		}
		var frameType string
		if err := json.Unmarshal(frame[0], &frameType); err != nil {
			continue
		}

		switch frameType {
		case "OK":
			// ["OK", event_id, accepted, message]
			if len(frame) >= 3 {
				var accepted bool
				if err := json.Unmarshal(frame[2], &accepted); err == nil && !accepted {
					var msg string
					if len(frame) >= 4 {
						_ = json.Unmarshal(frame[3], &msg)
					}
					return nil, skipped, fmt.Errorf("relay rejected request event: %s", msg)
				}
			}
		case "NOTICE":
			var msg string
			if len(frame) >= 2 {
				_ = json.Unmarshal(frame[1], &msg)
			}
			c.logger.Warn("relay notice", "message", msg)
		case "EOSE":
			// End of stored events; the live response may still follow.
		case "EVENT":
			// ["EVENT", sub_id, event]
			if len(frame) < 3 {
				continue
			}
			var event nostr.Event
			if err := json.Unmarshal(frame[2], &event); err != nil {
				c.logger.Warn("unparseable response event", "error", err)
				continue
			}
			if event.Kind != nostr.KindWalletResponse {
				continue
			}

			// The decryption secret is shared with whoever signed the
			// event, so the key comes from the event's own pubkey rather
			// than the wallet key we sent the request to.
			key := requestKey
			if event.Pubkey != c.conn.WalletPubkey {
				key, err = nostr.SharedSecret(c.conn.secret, event.Pubkey)
				if err != nil {
					c.logger.Warn("cannot derive secret for response sender",
						"event_id", event.ID, "pubkey", event.Pubkey, "error", err)
					continue
				}
			}

			plaintext, err := nostr.Decrypt(event.Content, key)
			if err != nil {
				c.logger.Warn("undecryptable response event", "event_id", event.ID, "error", err)
				continue
			}
			var resp walletResponse
			if err := json.Unmarshal([]byte(plaintext), &resp); err != nil {
				c.logger.Warn("unparseable response content", "event_id", event.ID, "error", err)
				continue
			}
			if resp.ResultType != method {
				skipped++
				c.logger.Debug("skipping response for different method",
					"got", resp.ResultType, "want", method)
				continue
			}
			if resp.Error != nil {
				return nil, skipped, &WalletError{Code: resp.Error.Code, Message: resp.Error.Message}
			}
			return resp.Result, skipped, nil
		}
	}
}
