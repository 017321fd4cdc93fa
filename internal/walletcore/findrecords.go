package walletcore

import (
	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"github.com/cap-protocol/cap-wallet/internal/recorddb"
)

// findRecords picks input records for an amount: if a non-held
// exact-amount record exists, return it alone with change=0. Otherwise
// accumulate non-held records in descending size order until the running
// total reaches amount, failing with Fragmentation if that would take
// more than maxRecords, or InsufficientBalance if funds run out first.
// maxRecords < 0 means unbounded.
func (s *State) findRecords(asset ledger.AssetCode, owner ledger.UserAddress, frozen bool, amount uint64, maxRecords int) ([]*ledger.RecordInfo, uint64, error) {
	key := recorddb.Key{Asset: asset, Owner: owner, Freeze: frozen}

	if exact, ok := s.Records.InputRecordWithAmount(key, amount, s.Now); ok {
		return []*ledger.RecordInfo{exact}, 0, nil
	}

	candidates := s.Records.InputRecords(key, s.Now)
	var chosen []*ledger.RecordInfo
	var total uint64
	for _, ri := range candidates {
		if maxRecords >= 0 && len(chosen) >= maxRecords {
			return nil, 0, Fragmentation{
				Asset:           asset,
				Amount:          amount,
				SuggestedAmount: total,
				MaxRecords:      maxRecords,
			}
		}
		chosen = append(chosen, ri)
		total += ri.Amount
		if total >= amount {
			return chosen, total - amount, nil
		}
	}
	return nil, 0, InsufficientBalance{Asset: asset, Required: amount, Actual: total}
}

// ownedAmountsDesc returns this wallet's owned unfrozen record amounts of
// asset in descending order, used by xfrProvingKey's Fragmentation
// diagnosis.
func (s *State) ownedAmountsDesc(asset ledger.AssetCode) []uint64 {
	key := recorddb.Key{Asset: asset, Owner: s.UserKey.Address(), Freeze: false}
	records := s.Records.InputRecords(key, s.Now)
	out := make([]uint64, len(records))
	for i, ri := range records {
		out[i] = ri.Amount
	}
	return out
}

// findNativeRecordForFee finds exactly one unfrozen native record able to
// cover fee: exactly one native record suffices, no multi-record fee
// input is permitted.
func (s *State) findNativeRecordForFee(owner ledger.UserAddress, fee uint64) (*ledger.RecordInfo, error) {
	records, _, err := s.findRecords(ledger.NativeAssetCode, owner, false, fee, 1)
	if err != nil {
		return nil, err
	}
	return records[0], nil
}
