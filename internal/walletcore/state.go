package walletcore

import (
	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"github.com/cap-protocol/cap-wallet/internal/nullset"
	"github.com/cap-protocol/cap-wallet/internal/pending"
	"github.com/cap-protocol/cap-wallet/internal/recorddb"
	"github.com/cap-protocol/cap-wallet/internal/walletstate"
)

// definedAsset is a row of the defined-asset registry:
// assets this wallet may mint.
type definedAsset struct {
	Definition  ledger.AssetDefinition
	Seed        ledger.AssetCodeSeed
	Description []byte
}

// State is the wallet's full mutable state: the record
// database, pending-transaction tracker, nullifier mirror, validator
// mirror, asset registries, key material, and the local clock.
//
// All mutation happens through the methods in this package; callers
// outside walletcore only ever reach State through Wallet, which
// serializes access behind a single lock.
type State struct {
	Now       uint64
	Validator walletstate.ValidatorMirror

	Records    *recorddb.Database
	Nullifiers *nullset.Set
	Pending    *pending.Tracker

	UserKey     ledger.UserKeyPair
	AuditorKey  ledger.AuditorKeyPair
	FreezerKey  ledger.FreezerKeyPair
	ProvingKeys ledger.ProvingKeySet

	definedAssets   map[ledger.AssetCode]definedAsset
	auditableAssets map[ledger.AssetCode]ledger.AssetDefinition
}

// NewState constructs an empty wallet state for the given identity and
// proving-key set, as a backend's Load would for a brand-new wallet.
func NewState(userKey ledger.UserKeyPair, auditorKey ledger.AuditorKeyPair, freezerKey ledger.FreezerKeyPair, keys ledger.ProvingKeySet, recordHoldTime int) *State {
	return &State{
		Validator:       walletstate.ValidatorMirror{RecordRootHistory: make([][32]byte, 0, recordHoldTime)},
		Records:         recorddb.New(),
		Nullifiers:      nullset.New(),
		Pending:         pending.New(),
		UserKey:         userKey,
		AuditorKey:      auditorKey,
		FreezerKey:      freezerKey,
		ProvingKeys:     keys,
		definedAssets:   make(map[ledger.AssetCode]definedAsset),
		auditableAssets: make(map[ledger.AssetCode]ledger.AssetDefinition),
	}
}

// Balance returns the spendable balance of an asset for this wallet's own
// unfrozen records.
func (s *State) Balance(asset ledger.AssetCode) uint64 {
	key := recorddb.Key{Asset: asset, Owner: s.UserKey.Address(), Freeze: false}
	return s.Records.Balance(key, s.Now)
}

// FrozenBalance returns the sum of this wallet's frozen records of asset.
func (s *State) FrozenBalance(asset ledger.AssetCode) uint64 {
	key := recorddb.Key{Asset: asset, Owner: s.UserKey.Address(), Freeze: true}
	return s.Records.Balance(key, s.Now)
}

// PubKey returns this wallet's own user public key.
func (s *State) PubKey() ledger.UserPubKey { return s.UserKey.PubKey() }

// Snapshot captures the full persisted state for the encrypted store or a
// backend's Store call.
func (s *State) Snapshot() walletstate.Snapshot {
	snap := walletstate.Snapshot{
		Now:        s.Now,
		Validator:  s.Validator,
		Nullifiers: s.Nullifiers.All(),
	}
	for _, uid := range s.Records.AllUIDs() {
		ri, _ := s.Records.RecordByUID(uid)
		snap.Records = append(snap.Records, walletstate.RecordEntry{
			Opening:   ri.RecordOpening,
			UID:       ri.UID,
			Nullifier: ri.Nullifier,
			HoldUntil: ri.HoldUntil,
		})
	}
	for _, pt := range s.Pending.All() {
		snap.Pending = append(snap.Pending, walletstate.PendingEntry{
			Note:          pt.Note,
			ReceiverMemos: pt.ReceiverMemos,
			Signature:     pt.Signature,
			FreezeOutputs: pt.FreezeOutputs,
			Timeout:       pt.Timeout,
		})
	}
	for def := range s.definedAssets {
		snap.DefinedAssets = append(snap.DefinedAssets, walletstate.DefinedAsset{
			Definition:  s.definedAssets[def].Definition,
			Seed:        s.definedAssets[def].Seed,
			Description: s.definedAssets[def].Description,
		})
	}
	for _, def := range s.auditableAssets {
		snap.AuditableAssets = append(snap.AuditableAssets, def)
	}
	return snap
}

// Restore rebuilds in-memory indices from a persisted snapshot, the way
// a fresh Open replays one loaded from the backend or encrypted store.
func Restore(snap walletstate.Snapshot, userKey ledger.UserKeyPair, auditorKey ledger.AuditorKeyPair, freezerKey ledger.FreezerKeyPair, keys ledger.ProvingKeySet) *State {
	s := NewState(userKey, auditorKey, freezerKey, keys, len(snap.Validator.RecordRootHistory))
	s.Now = snap.Now
	s.Validator = snap.Validator
	for _, re := range snap.Records {
		recorddb.Restore(s.Records, re.Opening, re.UID, re.Nullifier, re.HoldUntil)
	}
	for _, n := range snap.Nullifiers {
		s.Nullifiers.Insert(n)
	}
	for _, pe := range snap.Pending {
		s.Pending.Insert(pending.Transaction{
			Note:          pe.Note,
			ReceiverMemos: pe.ReceiverMemos,
			Signature:     pe.Signature,
			FreezeOutputs: pe.FreezeOutputs,
			Timeout:       pe.Timeout,
		})
	}
	for _, def := range snap.DefinedAssets {
		s.definedAssets[def.Definition.Code] = definedAsset{Definition: def.Definition, Seed: def.Seed, Description: def.Description}
	}
	for _, def := range snap.AuditableAssets {
		s.auditableAssets[def.Code] = def
	}
	return s
}
