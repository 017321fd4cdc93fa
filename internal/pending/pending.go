// Package pending implements the pending-transaction tracker: in-flight
// transactions indexed by their fee nullifier, with a timeout index for
// efficient expiry.
package pending

import (
	"errors"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
)

// ErrNotFound is returned when a lookup has no matching pending entry.
var ErrNotFound = errors.New("pending: transaction not found")

// Transaction is the bookkeeping the wallet keeps for a submitted,
// not-yet-resolved transaction.
type Transaction struct {
	Note          ledger.TransactionNote
	ReceiverMemos []ledger.ReceiverMemo
	Signature     ledger.MemoSignature
	FreezeOutputs []ledger.RecordOpening
	Timeout       uint64
}

// Key returns the pending-transaction tracker's unique key for a
// transaction: its fee nullifier, the first nullifier of every
// transaction (a known, accepted shortcut: a real transaction-uid field
// would let this be decoupled from the fee nullifier).
func Key(t Transaction) ledger.Nullifier {
	return t.Note.Nullifiers[0]
}

// Tracker is the pending-transaction tracker.
type Tracker struct {
	byFeeNullifier map[ledger.Nullifier]Transaction
	expiring       map[uint64]map[ledger.Nullifier]struct{}
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{
		byFeeNullifier: make(map[ledger.Nullifier]Transaction),
		expiring:       make(map[uint64]map[ledger.Nullifier]struct{}),
	}
}

// Insert records a newly submitted transaction, indexed by its fee
// nullifier and its timeout.
func (tr *Tracker) Insert(t Transaction) {
	key := Key(t)
	tr.byFeeNullifier[key] = t
	bucket, ok := tr.expiring[t.Timeout]
	if !ok {
		bucket = make(map[ledger.Nullifier]struct{})
		tr.expiring[t.Timeout] = bucket
	}
	bucket[key] = struct{}{}
}

// Get returns the pending transaction keyed by the given fee nullifier.
func (tr *Tracker) Get(feeNullifier ledger.Nullifier) (Transaction, bool) {
	t, ok := tr.byFeeNullifier[feeNullifier]
	return t, ok
}

// Remove deletes the pending entry for feeNullifier from both indices.
func (tr *Tracker) Remove(feeNullifier ledger.Nullifier) (Transaction, error) {
	t, ok := tr.byFeeNullifier[feeNullifier]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	delete(tr.byFeeNullifier, feeNullifier)
	if bucket, ok := tr.expiring[t.Timeout]; ok {
		delete(bucket, feeNullifier)
		if len(bucket) == 0 {
			delete(tr.expiring, t.Timeout)
		}
	}
	return t, nil
}

// Expire removes every transaction whose timeout equals now and returns
// them, for the caller to release the associated record holds. It
// removes the entire expiring[now] bucket along with each corresponding
// pending entry.
func (tr *Tracker) Expire(now uint64) []Transaction {
	bucket, ok := tr.expiring[now]
	if !ok {
		return nil
	}
	out := make([]Transaction, 0, len(bucket))
	for feeNullifier := range bucket {
		t := tr.byFeeNullifier[feeNullifier]
		out = append(out, t)
		delete(tr.byFeeNullifier, feeNullifier)
	}
	delete(tr.expiring, now)
	return out
}

// EarliestTimeout returns the smallest timeout with pending entries, and
// whether one exists. Used to assert the invariant that
// immediately after expiry the earliest remaining timeout is >= now.
func (tr *Tracker) EarliestTimeout() (uint64, bool) {
	var min uint64
	found := false
	for t := range tr.expiring {
		if !found || t < min {
			min = t
			found = true
		}
	}
	return min, found
}

// Len returns the number of pending transactions currently tracked.
func (tr *Tracker) Len() int { return len(tr.byFeeNullifier) }

// All returns every pending transaction currently tracked, for
// snapshotting into the persistent store.
func (tr *Tracker) All() []Transaction {
	out := make([]Transaction, 0, len(tr.byFeeNullifier))
	for _, t := range tr.byFeeNullifier {
		out = append(out, t)
	}
	return out
}
