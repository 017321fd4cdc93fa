package walletcore

import (
	"context"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
)

// Mint creates amount new units of asset, owned by owner, paying fee in
// the native asset. Requires asset to be in this wallet's defined-asset
// registry.
func (s *State) Mint(ctx context.Context, be backendResolver, asset ledger.AssetCode, amount uint64, owner ledger.UserAddress, fee uint64) error {
	defAsset, ok := s.definedAssets[asset]
	if !ok {
		return UndefinedAsset{Asset: asset}
	}

	ownerPub, err := be.GetPublicKey(ctx, owner)
	if err != nil {
		return InvalidAddress{Address: owner}
	}

	feeInput, err := s.findNativeRecordForFee(s.UserKey.Address(), fee)
	if err != nil {
		return err
	}

	blind, err := ledger.GenerateBlind()
	if err != nil {
		return CryptoError{Err: err}
	}
	mintOutput := ledger.RecordOpening{AssetDef: defAsset.Definition, Amount: amount, Owner: ownerPub, Blind: blind}

	note := ledger.TransactionNote{
		Kind:        ledger.KindMint,
		Nullifiers:  buildNullifiers(s, []*ledger.RecordInfo{feeInput}),
		OutputCount: 2, // mint output + auto fee-change
		AssetCode:   asset,
	}
	return s.submitTransaction(ctx, be, note, []ledger.RecordOpening{mintOutput}, nil)
}
