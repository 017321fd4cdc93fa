package walletcore

import (
	"context"
	"sync"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"github.com/cap-protocol/cap-wallet/internal/walletbackend"
	"github.com/cap-protocol/cap-wallet/internal/walletstate"
	"github.com/cap-protocol/cap-wallet/pkg/logging"
)

// RecordHoldTimeDefault is used when no validator mirror history exists
// yet (a brand-new wallet); it is replaced by the real depth once the
// backend's Load populates Validator.RecordRootHistory.
const RecordHoldTimeDefault = 10

// Wallet is a thread-safe handle over (State, Session, SyncHandles) with
// a background event-consumption task. All mutation happens behind mu,
// a single mutual-exclusion guard.
type Wallet struct {
	mu    sync.Mutex
	state *State
	be    walletbackend.Backend

	recordHoldTime int

	waiters map[uint64][]chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	log *logging.Logger
}

// Open loads persisted state from be for kp and starts the event-loop
// task. Callers must call Close to cancel the task and release the
// handle; callers must not leak it.
func Open(ctx context.Context, be walletbackend.Backend, kp ledger.UserKeyPair, auditorKey ledger.AuditorKeyPair, freezerKey ledger.FreezerKeyPair, keys ledger.ProvingKeySet) (*Wallet, error) {
	snap, err := be.Load(ctx, kp)
	if err != nil {
		return nil, err
	}

	if snap.Now > 0 && !be.SupportsResume() {
		// Refuse to load rather than silently replay from 0.
		return nil, walletbackend.ErrResumeUnsupported
	}

	var st *State
	recordHoldTime := RecordHoldTimeDefault
	if len(snap.Validator.RecordRootHistory) > 0 || snap.Now > 0 {
		st = Restore(snap, kp, auditorKey, freezerKey, keys)
		recordHoldTime = len(st.Validator.RecordRootHistory)
		if recordHoldTime == 0 {
			recordHoldTime = RecordHoldTimeDefault
		}
	} else {
		st = NewState(kp, auditorKey, freezerKey, keys, recordHoldTime)
	}

	stream, err := be.Subscribe(ctx, snap.Now)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &Wallet{
		state:          st,
		be:             be,
		recordHoldTime: recordHoldTime,
		waiters:        make(map[uint64][]chan struct{}),
		ctx:            wctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		log:            logging.GetDefault().Component("walletcore"),
	}
	go w.run(stream)
	return w, nil
}

// Close cancels the event-loop task. sync(t) futures still outstanding
// resolve with a cancellation signal, never a panic.
func (w *Wallet) Close() {
	w.cancel()
	<-w.done
}

func (w *Wallet) run(stream <-chan ledger.LedgerEvent) {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			w.failAllWaiters()
			return
		case ev, ok := <-stream:
			if !ok {
				w.failAllWaiters()
				return
			}
			w.handleEvent(ev)
		}
	}
}

func (w *Wallet) handleEvent(ev ledger.LedgerEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	resubmit := func(elaborated ledger.ElaboratedTransaction) error {
		return w.be.Submit(w.ctx, elaborated, nil, ledger.MemoSignature{})
	}
	resolvePubKey := func(addr ledger.UserAddress) (ledger.UserPubKey, error) {
		return w.be.GetPublicKey(w.ctx, addr)
	}
	w.state.HandleEvent(ev, w.recordHoldTime, resubmit, resolvePubKey)
	w.log.Debug("processed ledger event", "kind", ev.Kind, "now", w.state.Now)

	w.resolveWaiters(w.state.Now)
}

// Sync returns a channel that closes once state.now >= t. If the wallet
// is closed before then, the channel still closes
// (a cancellation signal, not a panic).
func (w *Wallet) Sync(t uint64) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan struct{})
	if w.state.Now >= t {
		close(ch)
		return ch
	}
	w.waiters[t] = append(w.waiters[t], ch)
	return ch
}

func (w *Wallet) resolveWaiters(now uint64) {
	for t, chans := range w.waiters {
		if t > now {
			continue
		}
		for _, ch := range chans {
			close(ch)
		}
		delete(w.waiters, t)
	}
}

func (w *Wallet) failAllWaiters() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for t, chans := range w.waiters {
		for _, ch := range chans {
			close(ch)
		}
		delete(w.waiters, t)
	}
}

// withState runs fn under the state lock, the pattern every user-facing
// operation below uses: each user call acquires the guard for the
// duration of the call.
func (w *Wallet) withState(fn func(*State) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn(w.state)
}

// Transfer sends amounts of asset to one or more receivers.
func (w *Wallet) Transfer(ctx context.Context, asset ledger.AssetCode, receivers []Receiver, fee uint64) error {
	return w.withState(func(s *State) error { return s.Transfer(ctx, w.be, asset, receivers, fee) })
}

// Mint creates new units of a defined asset.
func (w *Wallet) Mint(ctx context.Context, asset ledger.AssetCode, amount uint64, owner ledger.UserAddress, fee uint64) error {
	return w.withState(func(s *State) error { return s.Mint(ctx, w.be, asset, amount, owner, fee) })
}

// FreezeRecords freezes amount of asset owned by owner.
func (w *Wallet) FreezeRecords(ctx context.Context, asset ledger.AssetCode, owner ledger.UserAddress, amount uint64, fee uint64) error {
	return w.withState(func(s *State) error { return s.Freeze(ctx, w.be, asset, owner, amount, fee) })
}

// UnfreezeRecords releases a freeze on amount of asset owned by owner.
func (w *Wallet) UnfreezeRecords(ctx context.Context, asset ledger.AssetCode, owner ledger.UserAddress, amount uint64, fee uint64) error {
	return w.withState(func(s *State) error { return s.Unfreeze(ctx, w.be, asset, owner, amount, fee) })
}

// DefineAsset registers a new asset this wallet may mint.
func (w *Wallet) DefineAsset(description []byte, policy ledger.AssetPolicy) (ledger.AssetDefinition, error) {
	var def ledger.AssetDefinition
	err := w.withState(func(s *State) error {
		var err error
		def, err = s.DefineAsset(description, policy)
		return err
	})
	return def, err
}

// AuditAsset registers an externally defined asset for auditing.
func (w *Wallet) AuditAsset(def ledger.AssetDefinition) error {
	return w.withState(func(s *State) error { return s.AuditAsset(def) })
}

// Balance returns the spendable balance of asset.
func (w *Wallet) Balance(asset ledger.AssetCode) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Balance(asset)
}

// FrozenBalance returns the frozen balance of asset.
func (w *Wallet) FrozenBalance(asset ledger.AssetCode) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.FrozenBalance(asset)
}

// PubKey returns this wallet's own public key.
func (w *Wallet) PubKey() ledger.UserPubKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.PubKey()
}

// Snapshot returns the current persistable state, for the caller to write
// to the encrypted store.
func (w *Wallet) Snapshot() (walletstate.Snapshot, ledger.UserKeyPair) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Snapshot(), w.state.UserKey
}
