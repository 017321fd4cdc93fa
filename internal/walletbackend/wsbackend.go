package walletbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"github.com/cap-protocol/cap-wallet/internal/walletstate"
	"github.com/cap-protocol/cap-wallet/pkg/logging"
)

// WSBackend is a Backend implementation that talks to a validator process
// over a websocket connection: a thin wire encoding of the same five
// operations, used to exercise the backend contract against a real
// transport rather than the in-memory reference.
type WSBackend struct {
	url  string
	conn *websocket.Conn
	log  *logging.Logger

	supportsResume bool
}

// WSConfig configures a websocket-backed wallet backend.
type WSConfig struct {
	URL string
}

// DialWSBackend connects to a validator's websocket endpoint. The server
// is expected to announce resume support in its handshake response; until
// that handshake completes SupportsResume conservatively reports false.
func DialWSBackend(ctx context.Context, cfg WSConfig) (*WSBackend, error) {
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial validator backend: %w", err)
	}
	b := &WSBackend{url: cfg.URL, conn: conn, log: logging.GetDefault().Component("wsbackend")}

	var hello struct {
		SupportsResume bool `json:"supports_resume"`
	}
	if err := conn.ReadJSON(&hello); err == nil {
		b.supportsResume = hello.SupportsResume
	}
	return b, nil
}

func (b *WSBackend) SupportsResume() bool { return b.supportsResume }

type wireRequest struct {
	Op string `json:"op"`

	StartingAt uint64 `json:"starting_at,omitempty"`

	Address *ledger.UserAddress `json:"address,omitempty"`

	Snapshot *walletstate.Snapshot `json:"snapshot,omitempty"`
}

type wireResponse struct {
	Error    string                `json:"error,omitempty"`
	Snapshot *walletstate.Snapshot `json:"snapshot,omitempty"`
	PubKey   *ledger.UserPubKey    `json:"pub_key,omitempty"`
}

func (b *WSBackend) call(req wireRequest) (wireResponse, error) {
	if err := b.conn.WriteJSON(req); err != nil {
		return wireResponse{}, fmt.Errorf("send %s request: %w", req.Op, err)
	}
	var resp wireResponse
	if err := b.conn.ReadJSON(&resp); err != nil {
		return wireResponse{}, fmt.Errorf("read %s response: %w", req.Op, err)
	}
	if resp.Error != "" {
		return wireResponse{}, fmt.Errorf("%s: %s", req.Op, resp.Error)
	}
	return resp, nil
}

func (b *WSBackend) Load(ctx context.Context, kp ledger.UserKeyPair) (walletstate.Snapshot, error) {
	addr := kp.Address()
	resp, err := b.call(wireRequest{Op: "load", Address: &addr})
	if err != nil {
		return walletstate.Snapshot{}, err
	}
	if resp.Snapshot == nil {
		return walletstate.Snapshot{}, nil
	}
	return *resp.Snapshot, nil
}

func (b *WSBackend) Store(ctx context.Context, kp ledger.UserKeyPair, snapshot walletstate.Snapshot) error {
	_, err := b.call(wireRequest{Op: "store", Snapshot: &snapshot})
	return err
}

func (b *WSBackend) Subscribe(ctx context.Context, startingAt uint64) (<-chan ledger.LedgerEvent, error) {
	if startingAt > 0 && !b.supportsResume {
		return nil, ErrResumeUnsupported
	}
	if err := b.conn.WriteJSON(wireRequest{Op: "subscribe", StartingAt: startingAt}); err != nil {
		return nil, fmt.Errorf("send subscribe request: %w", err)
	}

	ch := make(chan ledger.LedgerEvent, 16)
	go func() {
		defer close(ch)
		for {
			_, data, err := b.conn.ReadMessage()
			if err != nil {
				b.log.Warn("subscription stream closed", "error", err)
				return
			}
			var ev ledger.LedgerEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				b.log.Warn("malformed ledger event", "error", err)
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (b *WSBackend) GetPublicKey(ctx context.Context, addr ledger.UserAddress) (ledger.UserPubKey, error) {
	resp, err := b.call(wireRequest{Op: "get_public_key", Address: &addr})
	if err != nil {
		return ledger.UserPubKey{}, err
	}
	if resp.PubKey == nil {
		return ledger.UserPubKey{}, ErrInvalidAddress
	}
	return *resp.PubKey, nil
}

func (b *WSBackend) Submit(ctx context.Context, txn ledger.ElaboratedTransaction, memos []ledger.ReceiverMemo, sig ledger.MemoSignature) error {
	payload, err := json.Marshal(struct {
		Op        string                      `json:"op"`
		Txn       ledger.ElaboratedTransaction `json:"txn"`
		Memos     []ledger.ReceiverMemo        `json:"memos"`
		Signature ledger.MemoSignature         `json:"signature"`
	}{Op: "submit", Txn: txn, Memos: memos, Signature: sig})
	if err != nil {
		return fmt.Errorf("marshal submit request: %w", err)
	}
	return b.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close closes the underlying websocket connection.
func (b *WSBackend) Close() error { return b.conn.Close() }
