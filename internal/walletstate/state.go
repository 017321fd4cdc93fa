// Package walletstate holds the plain-old-data snapshot types shared by
// the backend contract and the persistent store, kept separate from
// internal/walletcore so that backends can be implemented without
// importing the (much heavier) wallet engine package.
package walletstate

import "github.com/cap-protocol/cap-wallet/internal/ledger"

// ValidatorMirror is the wallet's local mirror of the validator state
// needed to re-validate blocks and derive RECORD_HOLD_TIME:
// the record-root history ring buffer and the current nullifier root.
type ValidatorMirror struct {
	// RecordRootHistory holds the last RECORD_ROOT_HISTORY_SIZE record
	// Merkle roots, oldest first. Its length is RECORD_HOLD_TIME.
	RecordRootHistory [][32]byte
	NullifierRoot     [32]byte
	NextUID           uint64
}

// RecordHoldTime is the validator-time window after which a
// transaction's proofs become unverifiable:
// "equals the validator's root-history depth."
func (v ValidatorMirror) RecordHoldTime() uint64 {
	return uint64(len(v.RecordRootHistory))
}

// PushRoot appends a new record root, evicting the oldest once the
// history reaches its configured depth.
func (v *ValidatorMirror) PushRoot(root [32]byte, historySize int) {
	v.RecordRootHistory = append(v.RecordRootHistory, root)
	if len(v.RecordRootHistory) > historySize {
		v.RecordRootHistory = v.RecordRootHistory[len(v.RecordRootHistory)-historySize:]
	}
}

// RecordEntry is one row of the dynamic snapshot's record table.
type RecordEntry struct {
	Opening   ledger.RecordOpening
	UID       uint64
	Nullifier ledger.Nullifier
	HoldUntil *uint64
}

// PendingEntry is one row of the dynamic snapshot's pending-transaction
// table.
type PendingEntry struct {
	Note          ledger.TransactionNote
	ReceiverMemos []ledger.ReceiverMemo
	Signature     ledger.MemoSignature
	FreezeOutputs []ledger.RecordOpening
	Timeout       uint64
}

// Snapshot is the full dynamic wallet state as persisted and exchanged
// with a backend's Load/Store.
type Snapshot struct {
	Now        uint64
	Validator  ValidatorMirror
	Records    []RecordEntry
	Nullifiers []ledger.Nullifier
	Pending    []PendingEntry

	AuditableAssets []ledger.AssetDefinition
	DefinedAssets   []DefinedAsset
}

// DefinedAsset is a row of the defined-asset registry:
// assets this wallet may mint.
type DefinedAsset struct {
	Definition  ledger.AssetDefinition
	Seed        ledger.AssetCodeSeed
	Description []byte
}

// StaticState is the wallet's long-lived key material and proving keys
// (the static state), persisted separately from the dynamic
// snapshot since it changes far less often.
type StaticState struct {
	UserKeyPair    ledger.UserKeyPair
	AuditorKeyPair ledger.AuditorKeyPair
	FreezerKeyPair ledger.FreezerKeyPair
	ProvingKeys    ledger.ProvingKeySet
}
