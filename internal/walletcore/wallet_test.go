package walletcore

import (
	"context"
	"testing"
	"time"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"github.com/cap-protocol/cap-wallet/internal/walletbackend"
)

func waitSync(t *testing.T, w *Wallet, at uint64) {
	t.Helper()
	select {
	case <-w.Sync(at):
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for wallet to reach tick %d", at)
	}
}

func TestNativeTransferRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be := newScriptedBackend()

	sender, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(sender): %v", err)
	}
	receiver, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(receiver): %v", err)
	}
	be.RegisterAddress(sender.user.PubKey())
	be.RegisterAddress(receiver.user.PubKey())

	senderW, err := openTestWallet(ctx, be, sender)
	if err != nil {
		t.Fatalf("open sender wallet: %v", err)
	}
	defer senderW.Close()
	receiverW, err := openTestWallet(ctx, be, receiver)
	if err != nil {
		t.Fatalf("open receiver wallet: %v", err)
	}
	defer receiverW.Close()

	if err := publishGenesisGrant(be.MemoryBackend, sender.user.PubKey(), 1000); err != nil {
		t.Fatalf("publishGenesisGrant: %v", err)
	}
	waitSync(t, senderW, 1)
	waitSync(t, receiverW, 1)

	if got := senderW.Balance(ledger.NativeAssetCode); got != 1000 {
		t.Fatalf("sender balance after grant = %d, want 1000", got)
	}

	if err := senderW.Transfer(ctx, ledger.NativeAssetCode, []Receiver{{Address: receiver.user.Address(), Amount: 400}}, 10); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	waitSync(t, senderW, 2)
	waitSync(t, receiverW, 2)

	if got := receiverW.Balance(ledger.NativeAssetCode); got != 400 {
		t.Fatalf("receiver balance after transfer = %d, want 400", got)
	}
	if got := senderW.Balance(ledger.NativeAssetCode); got != 0 {
		t.Fatalf("sender balance after transfer = %d, want 0 (whole input record spent)", got)
	}
}

func TestNonNativeAssetDefineMintTransfer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be := newScriptedBackend()

	issuer, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(issuer): %v", err)
	}
	receiver, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(receiver): %v", err)
	}
	be.RegisterAddress(issuer.user.PubKey())
	be.RegisterAddress(receiver.user.PubKey())

	issuerW, err := openTestWallet(ctx, be, issuer)
	if err != nil {
		t.Fatalf("open issuer wallet: %v", err)
	}
	defer issuerW.Close()
	receiverW, err := openTestWallet(ctx, be, receiver)
	if err != nil {
		t.Fatalf("open receiver wallet: %v", err)
	}
	defer receiverW.Close()

	if err := publishGenesisGrant(be.MemoryBackend, issuer.user.PubKey(), 5000); err != nil {
		t.Fatalf("publishGenesisGrant: %v", err)
	}
	waitSync(t, issuerW, 1)
	waitSync(t, receiverW, 1)

	def, err := issuerW.DefineAsset([]byte("test token"), ledger.AssetPolicy{
		AuditorPubKey: issuer.auditor.PubKey(),
		FreezerPubKey: issuer.freezer.PubKey(),
	})
	if err != nil {
		t.Fatalf("DefineAsset: %v", err)
	}

	if err := issuerW.Mint(ctx, def.Code, 500, issuer.user.Address(), 5); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	waitSync(t, issuerW, 2)

	if got := issuerW.Balance(def.Code); got != 500 {
		t.Fatalf("issuer balance of minted asset = %d, want 500", got)
	}

	if err := receiverW.AuditAsset(def); err == nil {
		t.Fatalf("AuditAsset unexpectedly succeeded for a wallet without the asset's auditor key")
	}
	if err := issuerW.AuditAsset(def); err != nil {
		t.Fatalf("AuditAsset with matching auditor key: %v", err)
	}

	// The mint above consumed the whole 5000-unit fee input record (this
	// reference wallet does not track the proof system's auto-generated
	// fee-change output, see submitTransaction), so a second native grant
	// covers the transfer's own fee.
	if err := publishGenesisGrant(be.MemoryBackend, issuer.user.PubKey(), 50); err != nil {
		t.Fatalf("publishGenesisGrant: %v", err)
	}
	waitSync(t, issuerW, 3)

	if err := issuerW.Transfer(ctx, def.Code, []Receiver{{Address: receiver.user.Address(), Amount: 200}}, 1); err != nil {
		t.Fatalf("Transfer non-native: %v", err)
	}
	waitSync(t, issuerW, 4)
	waitSync(t, receiverW, 4)

	if got := receiverW.Balance(def.Code); got != 200 {
		t.Fatalf("receiver balance of transferred asset = %d, want 200", got)
	}
	if got := issuerW.Balance(def.Code); got != 300 {
		t.Fatalf("issuer balance of asset after transfer = %d, want 300 (change returned)", got)
	}
}

func TestFreezeUnfreezeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be := newScriptedBackend()

	owner, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(owner): %v", err)
	}
	be.RegisterAddress(owner.user.PubKey())

	ownerW, err := openTestWallet(ctx, be, owner)
	if err != nil {
		t.Fatalf("open owner wallet: %v", err)
	}
	defer ownerW.Close()

	if err := publishGenesisGrant(be.MemoryBackend, owner.user.PubKey(), 2000); err != nil {
		t.Fatalf("publishGenesisGrant: %v", err)
	}
	waitSync(t, ownerW, 1)

	def, err := ownerW.DefineAsset([]byte("freezable token"), ledger.AssetPolicy{
		AuditorPubKey: owner.auditor.PubKey(),
		FreezerPubKey: owner.freezer.PubKey(),
	})
	if err != nil {
		t.Fatalf("DefineAsset: %v", err)
	}
	if err := ownerW.Mint(ctx, def.Code, 1000, owner.user.Address(), 5); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	waitSync(t, ownerW, 2)
	if got := ownerW.Balance(def.Code); got != 1000 {
		t.Fatalf("balance before freeze = %d, want 1000", got)
	}

	// Each fee-paying operation below consumes its whole native input
	// record (no fee-change tracking, see submitTransaction), so every
	// one needs its own fresh native grant.
	if err := publishGenesisGrant(be.MemoryBackend, owner.user.PubKey(), 50); err != nil {
		t.Fatalf("publishGenesisGrant: %v", err)
	}
	waitSync(t, ownerW, 3)

	// Freeze transactions take whole input records and produce no asset
	// change (they may over-freeze, see freezeOrUnfreeze): requesting 400
	// against a single 1000-unit record freezes the entire record.
	if err := ownerW.FreezeRecords(ctx, def.Code, owner.user.Address(), 400, 1); err != nil {
		t.Fatalf("FreezeRecords: %v", err)
	}
	waitSync(t, ownerW, 4)

	if got := ownerW.Balance(def.Code); got != 0 {
		t.Fatalf("spendable balance after freeze = %d, want 0 (over-frozen)", got)
	}
	if got := ownerW.FrozenBalance(def.Code); got != 1000 {
		t.Fatalf("frozen balance after freeze = %d, want 1000 (over-frozen)", got)
	}

	if err := publishGenesisGrant(be.MemoryBackend, owner.user.PubKey(), 50); err != nil {
		t.Fatalf("publishGenesisGrant: %v", err)
	}
	waitSync(t, ownerW, 5)

	if err := ownerW.UnfreezeRecords(ctx, def.Code, owner.user.Address(), 400, 1); err != nil {
		t.Fatalf("UnfreezeRecords: %v", err)
	}
	waitSync(t, ownerW, 6)

	if got := ownerW.FrozenBalance(def.Code); got != 0 {
		t.Fatalf("frozen balance after unfreeze = %d, want 0", got)
	}
	if got := ownerW.Balance(def.Code); got != 1000 {
		t.Fatalf("spendable balance after unfreeze = %d, want 1000 (whole record released)", got)
	}
}

func TestPendingHoldReleasedOnTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be := walletbackend.NewMemoryBackend()

	sender, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(sender): %v", err)
	}
	receiver, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(receiver): %v", err)
	}
	be.RegisterAddress(sender.user.PubKey())
	be.RegisterAddress(receiver.user.PubKey())

	senderW, err := openTestWallet(ctx, be, sender)
	if err != nil {
		t.Fatalf("open sender wallet: %v", err)
	}
	defer senderW.Close()

	if err := publishGenesisGrant(be, sender.user.PubKey(), 1000); err != nil {
		t.Fatalf("publishGenesisGrant: %v", err)
	}
	waitSync(t, senderW, 1)
	if got := senderW.Balance(ledger.NativeAssetCode); got != 1000 {
		t.Fatalf("balance after grant = %d, want 1000", got)
	}

	// Submit on this plain backend is a no-op: the transaction never
	// commits or rejects, leaving the input record held indefinitely
	// until its timeout fires.
	if err := senderW.Transfer(ctx, ledger.NativeAssetCode, []Receiver{{Address: receiver.user.Address(), Amount: 100}}, 1); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if got := senderW.Balance(ledger.NativeAssetCode); got != 0 {
		t.Fatalf("balance while transaction pending = %d, want 0 (input record held)", got)
	}

	// RecordHoldTime is 1 at this point (one root pushed by the grant),
	// so the hold placed at now=1 times out at now=2: one more committed
	// block, even an empty one, releases it.
	be.Publish(ledger.LedgerEvent{Kind: ledger.EventCommit, Block: ledger.Block{}})
	waitSync(t, senderW, 2)

	if got := senderW.Balance(ledger.NativeAssetCode); got != 1000 {
		t.Fatalf("balance after timeout = %d, want 1000 (hold released)", got)
	}
}

func TestFragmentationSignalOnInputOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be := newScriptedBackend()

	alice, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(alice): %v", err)
	}
	bob, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(bob): %v", err)
	}
	be.RegisterAddress(alice.user.PubKey())
	be.RegisterAddress(bob.user.PubKey())

	aliceW, err := openTestWallet(ctx, be, alice)
	if err != nil {
		t.Fatalf("open alice wallet: %v", err)
	}
	defer aliceW.Close()
	bobW, err := openTestWallet(ctx, be, bob)
	if err != nil {
		t.Fatalf("open bob wallet: %v", err)
	}
	defer bobW.Close()

	if err := publishGenesisGrant(be.MemoryBackend, alice.user.PubKey(), 100); err != nil {
		t.Fatalf("publishGenesisGrant: %v", err)
	}
	waitSync(t, aliceW, 1)
	waitSync(t, bobW, 1)

	def, err := aliceW.DefineAsset([]byte("fragmented token"), ledger.AssetPolicy{
		AuditorPubKey: alice.auditor.PubKey(),
		FreezerPubKey: alice.freezer.PubKey(),
	})
	if err != nil {
		t.Fatalf("DefineAsset: %v", err)
	}

	// Mint three separate 1-unit records of def.Code to alice. Each mint
	// spends its whole native fee input (no fee-change tracking here, see
	// submitTransaction), so each needs its own fresh grant.
	for i, tick := 0, uint64(1); i < 3; i++ {
		if err := publishGenesisGrant(be.MemoryBackend, alice.user.PubKey(), 10); err != nil {
			t.Fatalf("publishGenesisGrant: %v", err)
		}
		tick++
		waitSync(t, aliceW, tick)
		if err := aliceW.Mint(ctx, def.Code, 1, alice.user.Address(), 1); err != nil {
			t.Fatalf("Mint #%d: %v", i+1, err)
		}
		tick++
		waitSync(t, aliceW, tick)
	}
	if got := aliceW.Balance(def.Code); got != 3 {
		t.Fatalf("alice balance of def.Code = %d, want 3 (three 1-unit records)", got)
	}

	// Fund the fee side for the transfer attempts below; DevProvingKeys's
	// largest transfer key admits 3 total inputs (fee + 2 asset records),
	// so spending all three 1-unit records (fee + 3 asset inputs = 4)
	// overflows every key, while spending two (fee + 2 = 3) just fits.
	if err := publishGenesisGrant(be.MemoryBackend, alice.user.PubKey(), 10); err != nil {
		t.Fatalf("publishGenesisGrant: %v", err)
	}
	waitSync(t, aliceW, 8)
	waitSync(t, bobW, 8)

	err = aliceW.Transfer(ctx, def.Code, []Receiver{{Address: bob.user.Address(), Amount: 3}}, 1)
	frag, ok := err.(Fragmentation)
	if !ok {
		t.Fatalf("Transfer(3) error = %v (%T), want Fragmentation", err, err)
	}
	if frag.SuggestedAmount != 2 || frag.MaxRecords != 2 {
		t.Fatalf("Fragmentation = %+v, want SuggestedAmount=2 MaxRecords=2", frag)
	}

	// Construction failures don't mutate state, so alice's records and fee
	// grant are still untouched; a transfer within the suggested amount
	// now succeeds.
	if err := aliceW.Transfer(ctx, def.Code, []Receiver{{Address: bob.user.Address(), Amount: 2}}, 1); err != nil {
		t.Fatalf("Transfer(2): %v", err)
	}
	waitSync(t, aliceW, 9)
	waitSync(t, bobW, 9)

	if got := bobW.Balance(def.Code); got != 2 {
		t.Fatalf("bob balance of def.Code = %d, want 2", got)
	}
}

func TestInsufficientBalanceWhenNoRecordsOwned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be := newScriptedBackend()

	sender, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(sender): %v", err)
	}
	receiver, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(receiver): %v", err)
	}
	be.RegisterAddress(sender.user.PubKey())
	be.RegisterAddress(receiver.user.PubKey())

	senderW, err := openTestWallet(ctx, be, sender)
	if err != nil {
		t.Fatalf("open sender wallet: %v", err)
	}
	defer senderW.Close()

	// No grant at all: sender owns zero native records.
	err = senderW.Transfer(ctx, ledger.NativeAssetCode, []Receiver{{Address: receiver.user.Address(), Amount: 100}}, 1)
	ib, ok := err.(InsufficientBalance)
	if !ok {
		t.Fatalf("Transfer error = %v (%T), want InsufficientBalance", err, err)
	}
	if ib.Required != 101 || ib.Actual != 0 {
		t.Fatalf("InsufficientBalance = %+v, want Required=101 Actual=0", ib)
	}
}

func TestTooManyOutputsWhenReceiverCountExceedsEveryKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be := newScriptedBackend()

	sender, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(sender): %v", err)
	}
	be.RegisterAddress(sender.user.PubKey())

	senderW, err := openTestWallet(ctx, be, sender)
	if err != nil {
		t.Fatalf("open sender wallet: %v", err)
	}
	defer senderW.Close()

	if err := publishGenesisGrant(be.MemoryBackend, sender.user.PubKey(), 10000); err != nil {
		t.Fatalf("publishGenesisGrant: %v", err)
	}
	waitSync(t, senderW, 1)

	// DevProvingKeys's widest transfer key admits 5 outputs; 6 receivers
	// (plus the auto fee-change slot) exceeds every key regardless of how
	// few input records the single 10000-unit grant needs.
	var receivers []Receiver
	for i := 0; i < 6; i++ {
		rcv, err := newIdentity()
		if err != nil {
			t.Fatalf("newIdentity(receiver %d): %v", i, err)
		}
		be.RegisterAddress(rcv.user.PubKey())
		receivers = append(receivers, Receiver{Address: rcv.user.Address(), Amount: 1})
	}

	err = senderW.Transfer(ctx, ledger.NativeAssetCode, receivers, 1)
	tmo, ok := err.(TooManyOutputs)
	if !ok {
		t.Fatalf("Transfer error = %v (%T), want TooManyOutputs", err, err)
	}
	if tmo.NumReceivers != 6 {
		t.Fatalf("TooManyOutputs.NumReceivers = %d, want 6", tmo.NumReceivers)
	}
}

func TestAutomaticResubmitOnBadNullifierProof(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be := newScriptedBackend()

	sender, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(sender): %v", err)
	}
	receiver, err := newIdentity()
	if err != nil {
		t.Fatalf("newIdentity(receiver): %v", err)
	}
	be.RegisterAddress(sender.user.PubKey())
	be.RegisterAddress(receiver.user.PubKey())

	senderW, err := openTestWallet(ctx, be, sender)
	if err != nil {
		t.Fatalf("open sender wallet: %v", err)
	}
	defer senderW.Close()

	if err := publishGenesisGrant(be.MemoryBackend, sender.user.PubKey(), 1000); err != nil {
		t.Fatalf("publishGenesisGrant: %v", err)
	}
	waitSync(t, senderW, 1)

	be.rejectNextSubmit(ledger.ValidationError{Reason: "stale nullifier proof", BadNullifierProof: true})

	if err := senderW.Transfer(ctx, ledger.NativeAssetCode, []Receiver{{Address: receiver.user.Address(), Amount: 300}}, 5); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	// Two ticks: the reject, then the commit of the automatic resubmit.
	waitSync(t, senderW, 3)

	if got := be.submitCount(); got != 2 {
		t.Fatalf("backend saw %d Submit calls, want 2 (original + automatic resubmit)", got)
	}
	if got := senderW.Balance(ledger.NativeAssetCode); got != 0 {
		t.Fatalf("sender balance after resubmitted commit = %d, want 0 (input record spent)", got)
	}
}
