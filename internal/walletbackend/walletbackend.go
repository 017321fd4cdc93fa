// Package walletbackend defines the wallet's sole network/disk
// collaborator contract and provides a reference in-memory
// implementation plus a websocket-based one for driving a real validator
// process.
package walletbackend

import (
	"context"
	"errors"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"github.com/cap-protocol/cap-wallet/internal/walletstate"
)

// ErrInvalidAddress is returned by GetPublicKey when the backend cannot
// resolve the given address.
var ErrInvalidAddress = errors.New("walletbackend: invalid address")

// ErrResumeUnsupported is returned by Subscribe when startingAt is nonzero
// and the backend cannot guarantee replay from that index.
var ErrResumeUnsupported = errors.New("walletbackend: subscription resume from nonzero offset is not supported")

// Backend is the capability set a wallet requires from its network and
// disk collaborator.
type Backend interface {
	// Load restores previously persisted state for the given key pair, or
	// an initial default if none exists.
	Load(ctx context.Context, kp ledger.UserKeyPair) (walletstate.Snapshot, error)

	// Store persists state; backends may treat this as a no-op if they
	// are purely volatile.
	Store(ctx context.Context, kp ledger.UserKeyPair, snapshot walletstate.Snapshot) error

	// Subscribe returns an ordered, resumable stream of ledger events
	// starting at the given index. Events never skip. ErrResumeUnsupported
	// is returned instead of a channel if startingAt > 0 and the backend
	// cannot guarantee replay from that index.
	Subscribe(ctx context.Context, startingAt uint64) (<-chan ledger.LedgerEvent, error)

	// GetPublicKey resolves an address to a public key, failing with
	// ErrInvalidAddress if unknown.
	GetPublicKey(ctx context.Context, addr ledger.UserAddress) (ledger.UserPubKey, error)

	// Submit enqueues an elaborated transaction for the validator; there
	// is no ordering guarantee across calls.
	Submit(ctx context.Context, txn ledger.ElaboratedTransaction, memos []ledger.ReceiverMemo, sig ledger.MemoSignature) error

	// SupportsResume reports whether this backend can replay events from
	// an arbitrary historical index.
	SupportsResume() bool
}
