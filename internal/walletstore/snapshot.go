package walletstore

import (
	"encoding/json"
	"fmt"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"github.com/cap-protocol/cap-wallet/internal/walletstate"
)

// metaRow is the plaintext row of the metadata stream: everything needed
// to derive the same key from a password, but nothing that reveals
// wallet contents.
type metaRow struct {
	Version int    `json:"version"`
	Salt    []byte `json:"salt"`
}

// staticWire is StaticState with its key-pair fields flattened to their
// serialized byte form, since the key-pair types keep their private
// scalars unexported.
type staticWire struct {
	UserKeyPair    []byte               `json:"user_key_pair"`
	AuditorKeyPair []byte               `json:"auditor_key_pair"`
	FreezerKeyPair []byte               `json:"freezer_key_pair"`
	ProvingKeys    ledger.ProvingKeySet `json:"proving_keys"`
}

// Unlock derives the stream cipher from password against the store's
// persisted salt. For a brand-new store (no metadata row yet), it
// generates a fresh salt and stages the metadata row; call Commit to
// persist it.
func (s *Store) Unlock(password string) error {
	row, err := s.latestSnapshot(streamMeta)
	if err != nil {
		return err
	}
	if row == nil {
		salt, err := generateSalt()
		if err != nil {
			return err
		}
		s.cipher = deriveStreamCipher(password, salt)
		payload, err := json.Marshal(metaRow{Version: 1, Salt: salt})
		if err != nil {
			return fmt.Errorf("marshal metadata row: %w", err)
		}
		s.markDirty(streamMeta, payload, true)
		return nil
	}

	var meta metaRow
	if err := json.Unmarshal(row, &meta); err != nil {
		return fmt.Errorf("unmarshal metadata row: %w", err)
	}
	s.cipher = deriveStreamCipher(password, meta.Salt)

	// Verify the password against the static stream if one exists; a
	// brand-new store that hasn't saved static state yet has nothing to
	// verify against and is trusted until the first real decrypt.
	if static, err := s.latestSnapshot(streamStatic); err != nil {
		return err
	} else if static != nil {
		if _, err := s.cipher.open(streamStatic, static); err != nil {
			s.cipher = nil
			return err
		}
	}
	return nil
}

func (s *Store) requireUnlocked() error {
	if s.cipher == nil {
		return fmt.Errorf("walletstore: store is locked, call Unlock first")
	}
	return nil
}

// SaveStatic stages the long-lived key material for the next Commit.
func (s *Store) SaveStatic(ss walletstate.StaticState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return err
	}

	wire := staticWire{
		UserKeyPair:    ss.UserKeyPair.Bytes(),
		AuditorKeyPair: ss.AuditorKeyPair.Bytes(),
		FreezerKeyPair: ss.FreezerKeyPair.Bytes(),
		ProvingKeys:    ss.ProvingKeys,
	}
	plaintext, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal static state: %w", err)
	}
	sealed, err := s.cipher.seal(streamStatic, plaintext)
	if err != nil {
		return err
	}
	s.markDirty(streamStatic, sealed, true)
	return nil
}

// LoadStatic reads the most recently committed key material.
func (s *Store) LoadStatic() (walletstate.StaticState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return walletstate.StaticState{}, err
	}

	row, err := s.latestSnapshot(streamStatic)
	if err != nil {
		return walletstate.StaticState{}, err
	}
	if row == nil {
		return walletstate.StaticState{}, ErrNotExist
	}
	plaintext, err := s.cipher.open(streamStatic, row)
	if err != nil {
		return walletstate.StaticState{}, err
	}
	var wire staticWire
	if err := json.Unmarshal(plaintext, &wire); err != nil {
		return walletstate.StaticState{}, fmt.Errorf("unmarshal static state: %w", err)
	}

	userKey, err := ledger.UserKeyPairFromBytes(wire.UserKeyPair)
	if err != nil {
		return walletstate.StaticState{}, fmt.Errorf("decode user key pair: %w", err)
	}
	auditorKey, err := ledger.AuditorKeyPairFromBytes(wire.AuditorKeyPair)
	if err != nil {
		return walletstate.StaticState{}, fmt.Errorf("decode auditor key pair: %w", err)
	}
	freezerKey, err := ledger.FreezerKeyPairFromBytes(wire.FreezerKeyPair)
	if err != nil {
		return walletstate.StaticState{}, fmt.Errorf("decode freezer key pair: %w", err)
	}

	return walletstate.StaticState{
		UserKeyPair:    userKey,
		AuditorKeyPair: auditorKey,
		FreezerKeyPair: freezerKey,
		ProvingKeys:    wire.ProvingKeys,
	}, nil
}

// dynamicWire mirrors walletstate.Snapshot without the asset-registry
// fields, which live in their own append-only streams.
type dynamicWire struct {
	Now        uint64                      `json:"now"`
	Validator  walletstate.ValidatorMirror `json:"validator"`
	Records    []walletstate.RecordEntry   `json:"records"`
	Nullifiers []ledger.Nullifier          `json:"nullifiers"`
	Pending    []walletstate.PendingEntry  `json:"pending"`
}

// SaveDynamic stages the mutable ledger-mirror state for the next
// Commit.
func (s *Store) SaveDynamic(snap walletstate.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return err
	}

	wire := dynamicWire{
		Now:        snap.Now,
		Validator:  snap.Validator,
		Records:    snap.Records,
		Nullifiers: snap.Nullifiers,
		Pending:    snap.Pending,
	}
	plaintext, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal dynamic state: %w", err)
	}
	sealed, err := s.cipher.seal(streamDyn, plaintext)
	if err != nil {
		return err
	}
	s.markDirty(streamDyn, sealed, true)
	return nil
}

// LoadDynamic reads the most recently committed ledger-mirror state,
// merged with the asset registries from their own streams.
func (s *Store) LoadDynamic() (walletstate.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return walletstate.Snapshot{}, err
	}

	row, err := s.latestSnapshot(streamDyn)
	if err != nil {
		return walletstate.Snapshot{}, err
	}
	var wire dynamicWire
	if row != nil {
		plaintext, err := s.cipher.open(streamDyn, row)
		if err != nil {
			return walletstate.Snapshot{}, err
		}
		if err := json.Unmarshal(plaintext, &wire); err != nil {
			return walletstate.Snapshot{}, fmt.Errorf("unmarshal dynamic state: %w", err)
		}
	}

	defined, err := s.loadDefinedAssetsLocked()
	if err != nil {
		return walletstate.Snapshot{}, err
	}
	auditable, err := s.loadAuditableAssetsLocked()
	if err != nil {
		return walletstate.Snapshot{}, err
	}

	return walletstate.Snapshot{
		Now:             wire.Now,
		Validator:       wire.Validator,
		Records:         wire.Records,
		Nullifiers:      wire.Nullifiers,
		Pending:         wire.Pending,
		DefinedAssets:   defined,
		AuditableAssets: auditable,
	}, nil
}

// SaveAssetRegistries stages the defined- and auditable-asset tables as
// one new row each in their append-only logs. Each row carries the full
// table as of this save, so Load only ever needs the latest row rather
// than folding the whole history.
func (s *Store) SaveAssetRegistries(defined []walletstate.DefinedAsset, auditable []ledger.AssetDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return err
	}

	definedPlain, err := json.Marshal(defined)
	if err != nil {
		return fmt.Errorf("marshal defined assets: %w", err)
	}
	definedSealed, err := s.cipher.seal(streamDef, definedPlain)
	if err != nil {
		return err
	}
	s.markDirty(streamDef, definedSealed, false)

	auditablePlain, err := json.Marshal(auditable)
	if err != nil {
		return fmt.Errorf("marshal auditable assets: %w", err)
	}
	auditableSealed, err := s.cipher.seal(streamAud, auditablePlain)
	if err != nil {
		return err
	}
	s.markDirty(streamAud, auditableSealed, false)
	return nil
}

func (s *Store) loadDefinedAssetsLocked() ([]walletstate.DefinedAsset, error) {
	rows, err := s.appendedRows(streamDef)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	plaintext, err := s.cipher.open(streamDef, rows[len(rows)-1])
	if err != nil {
		return nil, err
	}
	var defined []walletstate.DefinedAsset
	if err := json.Unmarshal(plaintext, &defined); err != nil {
		return nil, fmt.Errorf("unmarshal defined assets: %w", err)
	}
	return defined, nil
}

func (s *Store) loadAuditableAssetsLocked() ([]ledger.AssetDefinition, error) {
	rows, err := s.appendedRows(streamAud)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	plaintext, err := s.cipher.open(streamAud, rows[len(rows)-1])
	if err != nil {
		return nil, err
	}
	var auditable []ledger.AssetDefinition
	if err := json.Unmarshal(plaintext, &auditable); err != nil {
		return nil, fmt.Errorf("unmarshal auditable assets: %w", err)
	}
	return auditable, nil
}
