package walletcore

import (
	"context"
	"fmt"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"github.com/cap-protocol/cap-wallet/internal/pending"
)

// addPendingTransaction places holds on every input nullifier (including
// the fee) and inserts the pending entry.
func (s *State) addPendingTransaction(note ledger.TransactionNote, memos []ledger.ReceiverMemo, sig ledger.MemoSignature, freezeOutputs []ledger.RecordOpening) (pending.Transaction, error) {
	timeout := s.Now + s.Validator.RecordHoldTime()
	for _, n := range note.Nullifiers {
		ri, ok := s.Records.RecordWithNullifier(n)
		if !ok {
			return pending.Transaction{}, fmt.Errorf("addPendingTransaction: input nullifier %s not in record database", n)
		}
		if ri.OnHold(s.Now) {
			return pending.Transaction{}, fmt.Errorf("addPendingTransaction: record for nullifier %s is already on hold", n)
		}
		if err := s.Records.SetHold(n, &timeout); err != nil {
			return pending.Transaction{}, fmt.Errorf("addPendingTransaction: %w", err)
		}
	}
	pt := pending.Transaction{
		Note:          note,
		ReceiverMemos: memos,
		Signature:     sig,
		FreezeOutputs: freezeOutputs,
		Timeout:       timeout,
	}
	s.Pending.Insert(pt)
	return pt, nil
}

// auditMemosFor encrypts one AuditData per output to its asset's policy
// auditor key, preserving output order so the receiving wallet can map
// AuditMemos[i] back to outs[i+1] (the +1 skips the auto fee-change
// output, following the same convention as freeze-output remembering).
// Outputs of an asset with no named auditor (the zero AuditorPubKey) are
// still encrypted so indices stay aligned; nobody holds the matching
// private key, so they simply never decrypt.
func auditMemosFor(outputs []ledger.RecordOpening) ([]ledger.AuditMemo, error) {
	if len(outputs) == 0 {
		return nil, nil
	}
	memos := make([]ledger.AuditMemo, len(outputs))
	for i, ro := range outputs {
		data := ledger.AuditData{
			AssetCode: ro.AssetDef.Code,
			Address:   ro.Owner.Address(),
			Amount:    ro.Amount,
			Blind:     ro.Blind,
			Revealed:  ro.AssetDef.Policy,
		}
		m, err := ledger.EncryptAuditMemo(ro.AssetDef.Policy.AuditorPubKey, data)
		if err != nil {
			return nil, err
		}
		memos[i] = m
	}
	return memos, nil
}

func dummyOutput(self ledger.UserPubKey, def ledger.AssetDefinition) (ledger.RecordOpening, error) {
	blind, err := ledger.GenerateBlind()
	if err != nil {
		return ledger.RecordOpening{}, err
	}
	return ledger.RecordOpening{AssetDef: def, Amount: 0, Owner: self, Blind: blind}, nil
}

func padOutputs(outputs []ledger.RecordOpening, self ledger.UserPubKey, def ledger.AssetDefinition, keyOutputs int) ([]ledger.RecordOpening, error) {
	// -1 reserves room for the auto-generated fee-change output.
	target := keyOutputs - 1
	for len(outputs) < target {
		dummy, err := dummyOutput(self, def)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, dummy)
	}
	if len(outputs) > target {
		return nil, TooManyOutputs{Asset: def.Code, MaxRecords: target, NumReceivers: len(outputs)}
	}
	return outputs, nil
}

// buildNullifiers derives the wallet's nullifier for each input record.
func buildNullifiers(s *State, inputs []*ledger.RecordInfo) []ledger.Nullifier {
	out := make([]ledger.Nullifier, len(inputs))
	for i, ri := range inputs {
		out[i] = ri.Nullifier
	}
	return out
}

// backendSubmitter is the subset of walletbackend.Backend that submitting
// a constructed transaction needs.
type backendSubmitter interface {
	Submit(ctx context.Context, txn ledger.ElaboratedTransaction, memos []ledger.ReceiverMemo, sig ledger.MemoSignature) error
}

// submitTransaction signs the receiver memos, assembles nullifier proofs
// from the local mirror, places holds, and submits via the backend.
func (s *State) submitTransaction(ctx context.Context, be backendSubmitter, note ledger.TransactionNote, outputs []ledger.RecordOpening, freezeOutputs []ledger.RecordOpening) error {
	// Every created output (freeze outputs included) needs a receiver
	// memo so its owner's wallet can learn of it via the regular receive
	// step, even when that owner is a third party who never submitted
	// this transaction (the freeze round-trip scenario).
	memoSource := outputs
	if len(memoSource) == 0 {
		memoSource = freezeOutputs
	}
	memos := make([]ledger.ReceiverMemo, 0, len(memoSource))
	for _, ro := range memoSource {
		m, err := ledger.EncryptReceiverMemo(ro)
		if err != nil {
			return CryptoError{Err: err}
		}
		memos = append(memos, m)
	}

	// Freezes are not audited; transfers and mints get one audit memo
	// per created output, whether or not the asset's policy names an
	// auditor.
	if note.Kind != ledger.KindFreeze {
		auditMemos, err := auditMemosFor(outputs)
		if err != nil {
			return CryptoError{Err: err}
		}
		note.AuditMemos = auditMemos
	}
	signingKey, err := ledger.NewMemoSigningKey()
	if err != nil {
		return CryptoError{Err: err}
	}
	sig := signingKey.Sign(memos)

	if _, err := s.addPendingTransaction(note, memos, sig, freezeOutputs); err != nil {
		return err
	}

	proofs := make([]ledger.NullifierProof, len(note.Nullifiers))
	for i, n := range note.Nullifiers {
		_, proof := s.Nullifiers.Contains(n)
		proofs[i] = ledger.NullifierProof{Nullifier: n, Opaque: proof.Siblings[0][:]}
	}
	elaborated := ledger.ElaboratedTransaction{Note: note, Proofs: proofs}

	if err := be.Submit(ctx, elaborated, memos, sig); err != nil {
		return fmt.Errorf("submit transaction: %w", err)
	}
	return nil
}
