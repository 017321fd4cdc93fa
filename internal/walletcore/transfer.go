package walletcore

import (
	"context"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
)

// Receiver is one output of a transfer: an address and the amount to send
// it.
type Receiver struct {
	Address ledger.UserAddress
	Amount  uint64
}

// Transfer sends amounts of asset to one or more receivers, paying fee in
// the native asset. Dispatches to the native or non-native path
// according to asset.
func (s *State) Transfer(ctx context.Context, be backendResolver, asset ledger.AssetCode, receivers []Receiver, fee uint64) error {
	if asset.IsNative() {
		return s.transferNative(ctx, be, receivers, fee)
	}
	return s.transferNonNative(ctx, be, asset, receivers, fee)
}

// backendResolver is the subset of walletbackend.Backend transaction
// construction needs: resolving receiver addresses to public keys and
// submitting the built transaction.
type backendResolver interface {
	GetPublicKey(ctx context.Context, addr ledger.UserAddress) (ledger.UserPubKey, error)
	Submit(ctx context.Context, txn ledger.ElaboratedTransaction, memos []ledger.ReceiverMemo, sig ledger.MemoSignature) error
}

func (s *State) resolveReceivers(ctx context.Context, be backendResolver, receivers []Receiver) ([]ledger.RecordOpening, uint64, error) {
	var outputs []ledger.RecordOpening
	var total uint64
	for _, r := range receivers {
		pub, err := be.GetPublicKey(ctx, r.Address)
		if err != nil {
			return nil, 0, InvalidAddress{Address: r.Address}
		}
		blind, err := ledger.GenerateBlind()
		if err != nil {
			return nil, 0, CryptoError{Err: err}
		}
		total += r.Amount
		outputs = append(outputs, ledger.RecordOpening{Amount: r.Amount, Owner: pub, Blind: blind})
	}
	return outputs, total, nil
}

// transferNative handles the case where fee and
// amount share the same asset, inputs are user records only, fee-change is
// added automatically by the proof system.
func (s *State) transferNative(ctx context.Context, be backendResolver, receivers []Receiver, fee uint64) error {
	outputs, total, err := s.resolveReceivers(ctx, be, receivers)
	if err != nil {
		return err
	}
	for i := range outputs {
		outputs[i].AssetDef = ledger.NativeAssetDefinition
	}

	inputs, _, err := s.findRecords(ledger.NativeAssetCode, s.UserKey.Address(), false, total+fee, -1)
	if err != nil {
		return err
	}

	key, err := s.xfrProvingKey(ledger.NativeAssetCode, len(inputs), len(outputs), 0, s.ownedAmountsDesc(ledger.NativeAssetCode), total+fee)
	if err != nil {
		return err
	}
	outputs, err = padOutputs(outputs, s.PubKey(), ledger.NativeAssetDefinition, key.NumOutputs)
	if err != nil {
		return err
	}

	note := ledger.TransactionNote{
		Kind:        ledger.KindTransfer,
		Nullifiers:  buildNullifiers(s, inputs),
		OutputCount: len(outputs) + 1, // +1 for auto fee-change
		AssetCode:   ledger.NativeAssetCode,
	}
	return s.submitTransaction(ctx, be, note, outputs, nil)
}

// transferNonNative handles the case where fee and transfer assets differ:
// a separate native fee input, an optional change output to self, and a
// proving key sized for inputs+1/outputs+1.
func (s *State) transferNonNative(ctx context.Context, be backendResolver, asset ledger.AssetCode, receivers []Receiver, fee uint64) error {
	outputs, total, err := s.resolveReceivers(ctx, be, receivers)
	if err != nil {
		return err
	}
	assetDef, ok := s.assetDefinition(asset)
	if !ok {
		return UndefinedAsset{Asset: asset}
	}
	for i := range outputs {
		outputs[i].AssetDef = assetDef
	}

	feeInput, err := s.findNativeRecordForFee(s.UserKey.Address(), fee)
	if err != nil {
		return err
	}
	assetInputs, change, err := s.findRecords(asset, s.UserKey.Address(), false, total, -1)
	if err != nil {
		return err
	}
	if change > 0 {
		blind, err := ledger.GenerateBlind()
		if err != nil {
			return CryptoError{Err: err}
		}
		outputs = append(outputs, ledger.RecordOpening{AssetDef: assetDef, Amount: change, Owner: s.PubKey(), Blind: blind})
	}

	allInputs := append([]*ledger.RecordInfo{feeInput}, assetInputs...)
	key, err := s.xfrProvingKey(asset, len(allInputs), len(outputs), 1, s.ownedAmountsDesc(asset), total)
	if err != nil {
		return err
	}
	outputs, err = padOutputs(outputs, s.PubKey(), assetDef, key.NumOutputs)
	if err != nil {
		return err
	}

	note := ledger.TransactionNote{
		Kind:        ledger.KindTransfer,
		Nullifiers:  buildNullifiers(s, allInputs),
		OutputCount: len(outputs) + 1,
		AssetCode:   asset,
	}
	return s.submitTransaction(ctx, be, note, outputs, nil)
}

func (s *State) assetDefinition(code ledger.AssetCode) (ledger.AssetDefinition, bool) {
	if def, ok := s.definedAssets[code]; ok {
		return def.Definition, true
	}
	if def, ok := s.auditableAssets[code]; ok {
		return def, true
	}
	return ledger.AssetDefinition{}, false
}
