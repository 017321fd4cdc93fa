package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// AssetCode is a 256-bit deterministic identifier for an asset type,
// derived as H(seed, description).
type AssetCode [32]byte

func (c AssetCode) String() string { return hex.EncodeToString(c[:]) }

// NativeAssetCode is the reserved code for the ledger's native asset; it
// has no defining seed or description.
var NativeAssetCode = AssetCode{}

// IsNative reports whether this is the native asset code.
func (c AssetCode) IsNative() bool { return c == NativeAssetCode }

// AssetCodeSeed is the random value mixed into an asset code so that two
// assets with the same description still get distinct codes.
type AssetCodeSeed [32]byte

// DeriveAssetCode computes H(seed, description), the asset code derivation
// used by define_asset.
func DeriveAssetCode(seed AssetCodeSeed, description []byte) AssetCode {
	h, _ := blake2b.New256(seed[:])
	h.Write(description)
	var code AssetCode
	copy(code[:], h.Sum(nil))
	return code
}

// GenerateAssetCodeSeed returns a fresh random seed for a new asset.
func GenerateAssetCodeSeed() (AssetCodeSeed, error) {
	var seed AssetCodeSeed
	if _, err := rand.Read(seed[:]); err != nil {
		return seed, fmt.Errorf("generate asset seed: %w", err)
	}
	return seed, nil
}

// AssetPolicy declares who may audit or freeze records of an asset and
// which fields the auditor is permitted to decrypt.
type AssetPolicy struct {
	AuditorPubKey   AuditorPubKey
	FreezerPubKey   FreezerPubKey
	RevealAmount    bool
	RevealOwner     bool
	RevealBlind     bool
}

// AssetDefinition ties an asset code to the policy governing its records.
type AssetDefinition struct {
	Code   AssetCode
	Policy AssetPolicy
}

// NativeAssetDefinition is the well-known definition of the native asset:
// no auditor, no freezer, minted only by the validator's initial grants.
var NativeAssetDefinition = AssetDefinition{Code: NativeAssetCode}

// RecordOpening is the plaintext contents of a ledger record.
type RecordOpening struct {
	AssetDef AssetDefinition
	Amount   uint64
	Owner    UserPubKey
	Freeze   bool
	Blind    [32]byte
}

// RecordCommitment is the cryptographic commitment to a RecordOpening that
// is appended to the validator's record Merkle tree.
type RecordCommitment [32]byte

func (c RecordCommitment) String() string { return hex.EncodeToString(c[:]) }

// Commit computes the record commitment. The proof system's real
// commitment scheme is opaque; this binds every field that
// must be hidden and is bijective enough for wallet-side bookkeeping.
func (ro RecordOpening) Commit() RecordCommitment {
	h, _ := blake2b.New256(nil)
	h.Write(ro.AssetDef.Code[:])
	var amt [8]byte
	for i := 0; i < 8; i++ {
		amt[i] = byte(ro.Amount >> (8 * i))
	}
	h.Write(amt[:])
	h.Write(ro.Owner.SigKey[:])
	h.Write(ro.Owner.EncKey[:])
	if ro.Freeze {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(ro.Blind[:])
	var rc RecordCommitment
	copy(rc[:], h.Sum(nil))
	return rc
}

// GenerateBlind returns a fresh random blinding factor.
func GenerateBlind() ([32]byte, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return b, fmt.Errorf("generate blind: %w", err)
	}
	return b, nil
}

// RecordInfo augments a RecordOpening with its ledger position and hold
// status. hold_until, if set, is the validator-time at which an
// in-flight-transaction hold on this record expires.
type RecordInfo struct {
	RecordOpening
	UID        uint64
	HoldUntil  *uint64
	Nullifier  Nullifier
}

// OnHold reports whether the record is currently held for an in-flight
// transaction as of validator-time now.
func (r RecordInfo) OnHold(now uint64) bool {
	return r.HoldUntil != nil && *r.HoldUntil > now
}
