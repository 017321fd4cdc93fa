package walletcore

import (
	"context"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
)

// Freeze freezes amount of asset owned by owner. Unfreeze toggles the
// opposite direction. Both require this wallet to hold the asset's
// freezer key for the asset.
func (s *State) Freeze(ctx context.Context, be backendResolver, asset ledger.AssetCode, owner ledger.UserAddress, amount uint64, fee uint64) error {
	return s.freezeOrUnfreeze(ctx, be, asset, owner, amount, fee, true)
}

// Unfreeze releases a freeze on amount of asset owned by owner.
func (s *State) Unfreeze(ctx context.Context, be backendResolver, asset ledger.AssetCode, owner ledger.UserAddress, amount uint64, fee uint64) error {
	return s.freezeOrUnfreeze(ctx, be, asset, owner, amount, fee, false)
}

func (s *State) freezeOrUnfreeze(ctx context.Context, be backendResolver, asset ledger.AssetCode, owner ledger.UserAddress, amount uint64, fee uint64, freeze bool) error {
	assetDef, ok := s.assetDefinition(asset)
	if !ok {
		return UndefinedAsset{Asset: asset}
	}
	myFreezerKey := s.FreezerKey.PubKey()
	if !myFreezerKey.Equal(assetDef.Policy.FreezerPubKey) {
		return InvalidFreezerKey{MyKey: myFreezerKey, AssetKey: assetDef.Policy.FreezerPubKey}
	}

	feeInput, err := s.findNativeRecordForFee(s.UserKey.Address(), fee)
	if err != nil {
		return err
	}

	// Inputs are taken with the opposite freeze flag of the requested
	// outcome.
	inputs, _, err := s.findRecords(asset, owner, !freeze, amount, -1)
	if err != nil {
		return err
	}

	key, err := s.freezeProvingKey(asset, len(inputs))
	if err != nil {
		return err
	}
	_ = key

	outputs := make([]ledger.RecordOpening, len(inputs))
	for i, ri := range inputs {
		blind, err := ledger.GenerateBlind()
		if err != nil {
			return CryptoError{Err: err}
		}
		outputs[i] = ledger.RecordOpening{AssetDef: assetDef, Amount: ri.Amount, Owner: ri.Owner, Freeze: freeze, Blind: blind}
	}

	allInputs := append([]*ledger.RecordInfo{feeInput}, inputs...)
	note := ledger.TransactionNote{
		Kind:        ledger.KindFreeze,
		Nullifiers:  buildNullifiers(s, allInputs),
		OutputCount: len(outputs) + 1, // +1 for auto fee-change
		AssetCode:   asset,
	}
	return s.submitTransaction(ctx, be, note, nil, outputs)
}
