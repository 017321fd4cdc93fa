package walletbackend

import (
	"context"
	"sync"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"github.com/cap-protocol/cap-wallet/internal/walletstate"
	"github.com/cap-protocol/cap-wallet/pkg/logging"
)

// MemoryBackend is the in-memory reference Backend implementation used by
// tests and end-to-end scenarios. It retains its full
// event log, so it supports resumption from any starting_at.
type MemoryBackend struct {
	mu sync.Mutex

	log       []ledger.LedgerEvent
	addresses map[ledger.UserAddress]ledger.UserPubKey
	snapshots map[ledger.UserAddress]walletstate.Snapshot

	subscribers []chan ledger.LedgerEvent

	log_ *logging.Logger
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		addresses: make(map[ledger.UserAddress]ledger.UserPubKey),
		snapshots: make(map[ledger.UserAddress]walletstate.Snapshot),
		log_:      logging.GetDefault().Component("membackend"),
	}
}

// RegisterAddress makes a public key resolvable via GetPublicKey, as a
// real validator would once it observes the key on-chain.
func (b *MemoryBackend) RegisterAddress(pub ledger.UserPubKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addresses[pub.Address()] = pub
}

// Publish appends an event to the log and fans it out to every live
// subscriber, simulating a validator committing or rejecting a block.
func (b *MemoryBackend) Publish(ev ledger.LedgerEvent) {
	b.mu.Lock()
	b.log = append(b.log, ev)
	subs := append([]chan ledger.LedgerEvent(nil), b.subscribers...)
	b.mu.Unlock()

	for _, ch := range subs {
		ch <- ev
	}
}

func (b *MemoryBackend) Load(ctx context.Context, kp ledger.UserKeyPair) (walletstate.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := b.snapshots[kp.Address()]
	if !ok {
		return walletstate.Snapshot{}, nil
	}
	return snap, nil
}

func (b *MemoryBackend) Store(ctx context.Context, kp ledger.UserKeyPair, snapshot walletstate.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots[kp.Address()] = snapshot
	return nil
}

func (b *MemoryBackend) Subscribe(ctx context.Context, startingAt uint64) (<-chan ledger.LedgerEvent, error) {
	b.mu.Lock()
	ch := make(chan ledger.LedgerEvent, 16)
	backlog := append([]ledger.LedgerEvent(nil), b.log[min(startingAt, uint64(len(b.log))):]...)
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()

	go func() {
		for _, ev := range backlog {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subscribers {
			if s == ch {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				break
			}
		}
	}()

	return ch, nil
}

func (b *MemoryBackend) GetPublicKey(ctx context.Context, addr ledger.UserAddress) (ledger.UserPubKey, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pub, ok := b.addresses[addr]
	if !ok {
		return ledger.UserPubKey{}, ErrInvalidAddress
	}
	return pub, nil
}

func (b *MemoryBackend) Submit(ctx context.Context, txn ledger.ElaboratedTransaction, memos []ledger.ReceiverMemo, sig ledger.MemoSignature) error {
	b.log_.Debug("transaction submitted", "kind", txn.Note.Kind, "nullifiers", len(txn.Note.Nullifiers))
	return nil
}

func (b *MemoryBackend) SupportsResume() bool { return true }
