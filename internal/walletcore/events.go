package walletcore

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"github.com/cap-protocol/cap-wallet/internal/recorddb"
	"github.com/cap-protocol/cap-wallet/pkg/logging"
)

var log = logging.GetDefault().Component("walletcore")

// assignedOutput is one newly-assigned ledger position produced by
// validating a block locally.
type assignedOutput struct {
	UID      uint64
	TxnIndex int
	OutIndex int
	Remember bool
}

// validateAndApply re-runs the validator locally on a block, assigning
// uids to every output in order and advancing the record-root history.
// The proof system itself is opaque: this checks only that every note
// carries at least one nullifier, the fee nullifier. A note's output
// count is not compared with the number of memos delivered with it.
func (s *State) validateAndApply(block ledger.Block, recordHoldTime int) ([]assignedOutput, error) {
	var assigned []assignedOutput
	for ti, txn := range block.Transactions {
		if len(txn.Nullifiers) == 0 {
			return nil, ledger.ValidationError{Reason: fmt.Sprintf("transaction %d has no fee nullifier", ti)}
		}
		for oi := 0; oi < txn.OutputCount; oi++ {
			assigned = append(assigned, assignedOutput{
				UID:      s.Validator.NextUID,
				TxnIndex: ti,
				OutIndex: oi,
				Remember: false,
			})
			s.Validator.NextUID++
		}
	}
	s.Validator.PushRoot(rootOf(block), recordHoldTime)
	return assigned, nil
}

// rootOf stands in for the proof system's real record Merkle root
// computation (an opaque external collaborator in the real system); it
// only needs to change whenever
// the block's contents change, to drive RECORD_HOLD_TIME expiry.
func rootOf(block ledger.Block) [32]byte {
	var root [32]byte
	for _, txn := range block.Transactions {
		for _, n := range txn.Nullifiers {
			for i := range root {
				root[i] ^= n[i]
			}
		}
	}
	return root
}

// HandleEvent advances the wallet's local clock and applies a Commit or
// Reject event. Each call is tagged with a trace id purely for log
// correlation across the Debug/Warn lines it produces.
func (s *State) HandleEvent(ev ledger.LedgerEvent, recordHoldTime int, resubmit func(ledger.ElaboratedTransaction) error, resolvePubKey func(ledger.UserAddress) (ledger.UserPubKey, error)) {
	s.Now++
	traceID := uuid.NewString()

	switch ev.Kind {
	case ledger.EventCommit:
		log.Debug("processing commit event", "trace_id", traceID, "now", s.Now, "txns", len(ev.Block.Transactions))
		s.handleCommit(ev, recordHoldTime, resolvePubKey)
	case ledger.EventReject:
		log.Debug("processing reject event", "trace_id", traceID, "now", s.Now, "txns", len(ev.Block.Transactions))
		s.handleReject(ev, resubmit)
	}
}

func (s *State) handleCommit(ev ledger.LedgerEvent, recordHoldTime int, resolvePubKey func(ledger.UserAddress) (ledger.UserPubKey, error)) {
	assigned, err := s.validateAndApply(ev.Block, recordHoldTime)
	if err != nil {
		log.Warn("local validation failed, dropping commit", "error", err)
		return
	}

	s.clearExpiredTransactions()

	byTxn := make(map[int][]assignedOutput)
	for _, a := range assigned {
		byTxn[a.TxnIndex] = append(byTxn[a.TxnIndex], a)
	}

	for ti, txn := range ev.Block.Transactions {
		outs := byTxn[ti]
		var memos []ledger.ReceiverMemo
		if ti < len(ev.MemosPerTxn) {
			memos = ev.MemosPerTxn[ti]
		}
		s.clearPending(txn, outs, nil)
		s.audit(txn, outs, resolvePubKey)
		s.receive(memos, outs)
		s.spend(txn)
		s.forgetUnremembered(outs)
	}
}

func (s *State) handleReject(ev ledger.LedgerEvent, resubmit func(ledger.ElaboratedTransaction) error) {
	for _, txn := range ev.Block.Transactions {
		// Look up the pending entry before clearPending removes it: the
		// resubmit path below still needs its note after the reject has
		// been processed.
		pt, ok := s.Pending.Get(txn.Nullifiers[0])
		s.clearPending(txn, nil, &ev.Err)

		if !ok || !ev.Err.BadNullifierProof || resubmit == nil {
			continue
		}
		proofs := make([]ledger.NullifierProof, len(pt.Note.Nullifiers))
		for i, n := range pt.Note.Nullifiers {
			_, proof := s.Nullifiers.Contains(n)
			proofs[i] = ledger.NullifierProof{Nullifier: n, Opaque: proof.Siblings[0][:]}
		}
		if err := resubmit(ledger.ElaboratedTransaction{Note: pt.Note, Proofs: proofs}); err != nil {
			log.Warn("automatic resubmit failed", "error", err)
		}
	}
}

// clearExpiredTransactions pops everything in expiring[now], releasing the
// holds of each removed entry's input records. Expiry must release
// holds before any new pending entries can be inserted in the same tick.
func (s *State) clearExpiredTransactions() {
	expired := s.Pending.Expire(s.Now)
	for _, pt := range expired {
		for _, n := range pt.Note.Nullifiers {
			if ri, ok := s.Records.RecordWithNullifier(n); ok && ri.HoldUntil != nil && *ri.HoldUntil == s.Now {
				_ = s.Records.SetHold(n, nil)
			}
		}
	}
	if _, found := s.Pending.EarliestTimeout(); found {
		// invariant: earliest_timeout >= now, asserted by construction
		// since Expire only removes the exact-now bucket.
	}
}

// clearPending checks whether nullifiers[0] identifies one of our pending
// transactions, and if so releases its holds (on reject) or leaves them for
// the spend step (on commit), and marks freeze outputs as remembered.
func (s *State) clearPending(txn ledger.TransactionNote, outs []assignedOutput, rejectErr *ledger.ValidationError) {
	feeNullifier := txn.Nullifiers[0]
	pt, ok := s.Pending.Get(feeNullifier)
	if !ok {
		return
	}
	if _, err := s.Pending.Remove(feeNullifier); err != nil {
		log.Warn("clearPending: remove failed", "error", err)
	}

	if rejectErr != nil {
		for _, n := range txn.Nullifiers {
			if ri, ok := s.Records.RecordWithNullifier(n); ok {
				_ = s.Records.SetHold(n, nil)
				_ = ri
			}
		}
		return
	}

	// Committed: mark every freeze output remembered, skipping the first
	// fee-change output uid.
	for i, fo := range pt.FreezeOutputs {
		idx := i + 1
		if idx >= len(outs) {
			break
		}
		uid := outs[idx].UID
		outs[idx].Remember = true
		recorddb.InsertFreezable(s.Records, fo, uid, s.FreezerKey)
	}
}

// audit tries this wallet's auditor key against every audit memo of a
// transfer or mint whose asset is in the auditable-asset registry; mints
// yield one audit output, freezes are not audited here. On a successful
// decrypt whose asset's freezer key also matches ours, the decoded fields
// are reconstructed into an unfrozen RecordOpening and remembered as a
// freezable record, per spec.md 4.D.1.b.
func (s *State) audit(txn ledger.TransactionNote, outs []assignedOutput, resolvePubKey func(ledger.UserAddress) (ledger.UserPubKey, error)) {
	if txn.Kind == ledger.KindFreeze || resolvePubKey == nil {
		return
	}
	def, ok := s.auditableAssets[txn.AssetCode]
	if !ok {
		return
	}
	myFreezerKey := s.FreezerKey.PubKey()
	for i, memo := range txn.AuditMemos {
		idx := i + 1 // skip the auto-generated fee-change output
		if idx >= len(outs) {
			break
		}
		data, ok := s.AuditorKey.OpenAuditMemo(memo)
		if !ok {
			continue
		}
		if !def.Policy.FreezerPubKey.Equal(myFreezerKey) {
			continue
		}
		owner, err := resolvePubKey(data.Address)
		if err != nil {
			log.Warn("audit: could not resolve output owner address", "error", err)
			continue
		}
		ro := ledger.RecordOpening{
			AssetDef: def,
			Amount:   data.Amount,
			Owner:    owner,
			Freeze:   false,
			Blind:    data.Blind,
		}
		recorddb.InsertFreezable(s.Records, ro, outs[idx].UID, s.FreezerKey)
		outs[idx].Remember = true
	}
}

// receive attempts to decrypt each receiver memo with our user key; on
// success, inserts the opening and marks it remembered. Memo i belongs to
// output uid i+1, the same convention clearPending and audit use to skip
// the auto-generated fee-change output at index 0.
func (s *State) receive(memos []ledger.ReceiverMemo, outs []assignedOutput) {
	for i, m := range memos {
		idx := i + 1
		if idx >= len(outs) {
			break
		}
		ro, ok := m.Open(s.UserKey)
		if !ok {
			continue
		}
		// The nullifier must be derived against the asset's actual policy
		// freezer, not this wallet's own freezer key pair, so that if the
		// real freezer later freezes this record, its independently
		// derived nullifier matches the one stored here.
		recorddb.Insert(s.Records, ro, outs[idx].UID, s.UserKey, ro.AssetDef.Policy.FreezerPubKey)
		outs[idx].Remember = true
	}
}

// spend inserts every transaction nullifier into the Nullifier Mirror and
// removes any matching owned record.
func (s *State) spend(txn ledger.TransactionNote) {
	for _, n := range txn.Nullifiers {
		s.Nullifiers.Insert(n)
		if _, err := s.Records.RemoveByNullifier(n); err != nil {
			// not one of ours; nothing to forget
			continue
		}
	}
}

// forgetUnremembered would drop every output uid still marked
// remember=false. This wallet's record database is already sparse (it
// never stores uids it has no RecordInfo for), so there is nothing
// further to release here; the hook exists for symmetry with a
// Merkle-leaf-forgetting step a full record-commitment tree would need.
func (s *State) forgetUnremembered(outs []assignedOutput) {
	for _, o := range outs {
		_ = o
	}
}
