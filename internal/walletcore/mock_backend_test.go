package walletcore

import (
	"context"
	"sync"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"github.com/cap-protocol/cap-wallet/internal/walletbackend"
)

// scriptedBackend wraps MemoryBackend and, by default, commits every
// submitted transaction as the sole transaction of its own block the
// instant it is submitted, simulating a validator with no latency and no
// rejections. Tests that need a reject can arm one with rejectNextSubmit.
type scriptedBackend struct {
	*walletbackend.MemoryBackend

	mu         sync.Mutex
	rejectNext ledger.ValidationError
	reject     bool
	submits    int
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{MemoryBackend: walletbackend.NewMemoryBackend()}
}

// rejectNextSubmit arranges for the next Submit call to produce a Reject
// event carrying verr instead of a Commit.
func (b *scriptedBackend) rejectNextSubmit(verr ledger.ValidationError) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reject = true
	b.rejectNext = verr
}

// submitCount reports how many times Submit has been called, so tests can
// confirm an automatic resubmit actually happened.
func (b *scriptedBackend) submitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submits
}

func (b *scriptedBackend) Submit(ctx context.Context, txn ledger.ElaboratedTransaction, memos []ledger.ReceiverMemo, sig ledger.MemoSignature) error {
	if err := b.MemoryBackend.Submit(ctx, txn, memos, sig); err != nil {
		return err
	}

	b.mu.Lock()
	reject, verr := b.reject, b.rejectNext
	b.reject = false
	b.submits++
	b.mu.Unlock()

	block := ledger.Block{Transactions: []ledger.TransactionNote{txn.Note}}
	if reject {
		b.Publish(ledger.LedgerEvent{Kind: ledger.EventReject, Block: block, Err: verr})
		return nil
	}
	b.Publish(ledger.LedgerEvent{
		Kind:        ledger.EventCommit,
		Block:       block,
		MemosPerTxn: [][]ledger.ReceiverMemo{memos},
	})
	return nil
}

// publishGenesisGrant simulates a validator's initial native-asset grant:
// a commit event minting amount of the native asset directly to pub, with
// no corresponding pending entry on the wallet side.
func publishGenesisGrant(b *walletbackend.MemoryBackend, pub ledger.UserPubKey, amount uint64) error {
	blind, err := ledger.GenerateBlind()
	if err != nil {
		return err
	}
	ro := ledger.RecordOpening{AssetDef: ledger.NativeAssetDefinition, Amount: amount, Owner: pub, Blind: blind}
	memo, err := ledger.EncryptReceiverMemo(ro)
	if err != nil {
		return err
	}
	txn := ledger.TransactionNote{
		Kind:        ledger.KindMint,
		Nullifiers:  []ledger.Nullifier{ledger.RandomNullifier()},
		OutputCount: 2, // uid 0 reserved for a fee-change slot this grant never uses, uid 1 is the grant
		AssetCode:   ledger.NativeAssetCode,
	}
	b.Publish(ledger.LedgerEvent{
		Kind:        ledger.EventCommit,
		Block:       ledger.Block{Transactions: []ledger.TransactionNote{txn}},
		MemosPerTxn: [][]ledger.ReceiverMemo{{memo}},
	})
	return nil
}

// identity is one test wallet's full key material, bundled for brevity.
type identity struct {
	user    ledger.UserKeyPair
	auditor ledger.AuditorKeyPair
	freezer ledger.FreezerKeyPair
}

func newIdentity() (identity, error) {
	user, err := ledger.GenerateUserKeyPair()
	if err != nil {
		return identity{}, err
	}
	auditor, err := ledger.GenerateAuditorKeyPair()
	if err != nil {
		return identity{}, err
	}
	freezer, err := ledger.GenerateFreezerKeyPair()
	if err != nil {
		return identity{}, err
	}
	return identity{user: user, auditor: auditor, freezer: freezer}, nil
}

func openTestWallet(ctx context.Context, be walletbackend.Backend, id identity) (*Wallet, error) {
	return Open(ctx, be, id.user, id.auditor, id.freezer, DevProvingKeys())
}
