package walletcore

import (
	"sort"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
)

// sortedByArity returns keys ordered by (num_outputs, num_inputs)
// ascending, the ordering best-fit selection depends on.
func sortedByArity(keys []ledger.ProvingKey) []ledger.ProvingKey {
	out := append([]ledger.ProvingKey(nil), keys...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].NumOutputs != out[j].NumOutputs {
			return out[i].NumOutputs < out[j].NumOutputs
		}
		return out[i].NumInputs < out[j].NumInputs
	})
	return out
}

// bestFitKey chooses the smallest key (by the (outputs, inputs)
// ordering) with enough input and output capacity. If none exists,
// diagnose whether the shortfall is on the input or output side.
func bestFitKey(keys []ledger.ProvingKey, neededInputs, neededOutputs int) (ledger.ProvingKey, bool, ledger.ProvingKey) {
	ordered := sortedByArity(keys)
	for _, k := range ordered {
		if k.NumOutputs >= neededOutputs && k.NumInputs >= neededInputs {
			return k, true, ledger.ProvingKey{}
		}
	}
	// No fit: report the largest key available for diagnosis.
	var max ledger.ProvingKey
	for _, k := range ordered {
		if k.NumInputs > max.NumInputs || (k.NumInputs == max.NumInputs && k.NumOutputs > max.NumOutputs) {
			max = k
		}
	}
	return ledger.ProvingKey{}, false, max
}

// xfrProvingKey selects a transfer proving key for the given input/output
// counts and asset, or returns the Fragmentation/TooManyOutputs
// diagnostic. ownedAmountsDesc must list this wallet's owned record
// amounts for the asset in descending order, used to compute
// Fragmentation's SuggestedAmount.
func (s *State) xfrProvingKey(asset ledger.AssetCode, neededInputs, neededOutputs int, feeInputs int, ownedAmountsDesc []uint64, requestedAmount uint64) (ledger.ProvingKey, error) {
	// A transfer key's output count also covers the auto-generated
	// fee-change output, which padOutputs leaves room for.
	totalOutputs := neededOutputs + 1
	key, ok, max := bestFitKey(s.ProvingKeys.Xfr, neededInputs, totalOutputs)
	if ok {
		return key, nil
	}

	if max.NumOutputs >= totalOutputs {
		// Inputs are the problem: suggest the largest reachable amount
		// within max.NumInputs - feeInputs owned records.
		capacity := max.NumInputs - feeInputs
		if capacity < 0 {
			capacity = 0
		}
		var suggested uint64
		for i := 0; i < capacity && i < len(ownedAmountsDesc); i++ {
			suggested += ownedAmountsDesc[i]
		}
		return ledger.ProvingKey{}, Fragmentation{
			Asset:           asset,
			Amount:          requestedAmount,
			SuggestedAmount: suggested,
			MaxRecords:      capacity,
		}
	}
	return ledger.ProvingKey{}, TooManyOutputs{
		Asset:        asset,
		MaxRecords:   max.NumInputs,
		NumReceivers: neededOutputs,
	}
}

// freezeProvingKey selects a freeze proving key. Freeze transactions
// require equal input and output counts.
func (s *State) freezeProvingKey(asset ledger.AssetCode, numRecords int) (ledger.ProvingKey, error) {
	key, ok, max := bestFitKey(s.ProvingKeys.Freeze, numRecords, numRecords)
	if ok {
		return key, nil
	}
	if max.NumOutputs >= numRecords {
		return ledger.ProvingKey{}, Fragmentation{
			Asset:           asset,
			Amount:          uint64(numRecords),
			SuggestedAmount: uint64(max.NumInputs),
			MaxRecords:      max.NumInputs,
		}
	}
	return ledger.ProvingKey{}, TooManyOutputs{
		Asset:        asset,
		MaxRecords:   max.NumInputs,
		NumReceivers: numRecords,
	}
}
