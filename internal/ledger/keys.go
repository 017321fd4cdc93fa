// Package ledger defines the plaintext data model of the confidential asset
// ledger: records, asset definitions, keys, nullifiers and transaction notes.
// The zero-knowledge proof system itself is an opaque collaborator (see
// ProvingKey in note.go); this package only models the structures the wallet needs to
// track and serialize.
package ledger

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/blake2b"
)

// UserPubKey identifies the owner of a record. It carries both the signing
// key used to derive nullifiers and the encryption key used to decrypt
// receiver memos.
type UserPubKey struct {
	SigKey [33]byte // compressed secp256k1 point
	EncKey [32]byte // X25519-style encryption key, derived from the same seed
}

// UserAddress is the externally shared handle for a UserPubKey. The backend
// resolves addresses to public keys via get_public_key (see internal/walletbackend).
type UserAddress [20]byte

// Address derives the address for a public key (ripemd-style truncation of
// a hash over the signing key, matching the coin-agnostic P2WPKH-style
// addresses the wallet already knows how to compute).
func (k UserPubKey) Address() UserAddress {
	h := blake2b.Sum256(k.SigKey[:])
	var addr UserAddress
	copy(addr[:], h[:20])
	return addr
}

func (a UserAddress) String() string { return hex.EncodeToString(a[:]) }

func (k UserPubKey) String() string { return hex.EncodeToString(k.SigKey[:]) }

// Equal reports whether two public keys are the same.
func (k UserPubKey) Equal(o UserPubKey) bool {
	return k.SigKey == o.SigKey && k.EncKey == o.EncKey
}

// UserKeyPair is the wallet owner's spend key. It is used to sign
// transactions it authorizes and to compute the nullifier of records it
// spends.
type UserKeyPair struct {
	priv   *btcec.PrivateKey
	encKey [32]byte
}

// GenerateUserKeyPair derives a fresh key pair from the system RNG.
func GenerateUserKeyPair() (UserKeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return UserKeyPair{}, fmt.Errorf("generate user key: %w", err)
	}
	return newUserKeyPairFromPriv(priv)
}

// UserKeyPairFromSeed deterministically derives a key pair from 32 bytes of
// seed material, e.g. a sub-seed walletcore's LoadFromMnemonic derives
// from a recovery phrase.
func UserKeyPairFromSeed(seed [32]byte) (UserKeyPair, error) {
	priv, _ := btcec.PrivKeyFromBytes(seed[:])
	return newUserKeyPairFromPriv(priv)
}

func newUserKeyPairFromPriv(priv *btcec.PrivateKey) (UserKeyPair, error) {
	encSeed := blake2b.Sum256(append([]byte("cap-wallet/enc-key"), priv.Serialize()...))
	return UserKeyPair{priv: priv, encKey: encSeed}, nil
}

// PubKey returns the public half of the key pair.
func (kp UserKeyPair) PubKey() UserPubKey {
	var pub UserPubKey
	copy(pub.SigKey[:], kp.priv.PubKey().SerializeCompressed())
	pub.EncKey = encPubFromPriv(kp.encKey)
	return pub
}

func encPubFromPriv(priv [32]byte) [32]byte {
	// The proof system's memo encryption is opaque to the wallet; we only
	// need a key derivation that is deterministic and bijective enough for
	// round-tripping in tests. Blake2b stands in for a real DH public key.
	return blake2b.Sum256(append([]byte("cap-wallet/enc-pub"), priv[:]...))
}

// Address returns the wallet owner's externally shared address.
func (kp UserKeyPair) Address() UserAddress { return kp.PubKey().Address() }

// Bytes serializes the key pair's private material for storage in the
// encrypted persistent store.
func (kp UserKeyPair) Bytes() []byte {
	return append(kp.priv.Serialize(), kp.encKey[:]...)
}

// UserKeyPairFromBytes reconstructs a key pair serialized by Bytes.
func UserKeyPairFromBytes(b []byte) (UserKeyPair, error) {
	if len(b) != 32+32 {
		return UserKeyPair{}, fmt.Errorf("malformed user key pair: got %d bytes, want 64", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b[:32])
	var kp UserKeyPair
	kp.priv = priv
	copy(kp.encKey[:], b[32:])
	return kp, nil
}

// Nullify derives the nullifier for a record this key pair owns, per the
// owner-key nullification rule: a function of the owning key, the
// record's freezer, its ledger position (uid), and its commitment. It is
// keyed on the two PUBLIC keys rather than either side's private
// material so that the owner's wallet and the freezer's independent
// mirror (which only ever learns the owner's public key via an audit
// memo, see walletcore's audit step) always agree on the same value
// without exchanging secrets.
func (kp UserKeyPair) Nullify(freezer FreezerPubKey, uid uint64, rc RecordCommitment) Nullifier {
	return deriveNullifier(kp.PubKey().SigKey[:], freezer.Key[:], uid, rc)
}

// AuditorPubKey is the public half of an auditor key pair, embedded in an
// asset's policy to designate who may decrypt its audit memos.
type AuditorPubKey struct {
	EncKey [32]byte
}

func (k AuditorPubKey) Equal(o AuditorPubKey) bool { return k.EncKey == o.EncKey }

// IsZero reports whether this is the zero value, the convention an asset
// policy uses to declare "no auditor" for this asset.
func (k AuditorPubKey) IsZero() bool { return k.EncKey == [32]byte{} }
func (k AuditorPubKey) String() string             { return hex.EncodeToString(k.EncKey[:]) }

// AuditorKeyPair can decrypt the audit memo attached to transfers and mints
// of assets whose policy names its public key.
type AuditorKeyPair struct {
	priv [32]byte
}

// GenerateAuditorKeyPair derives a fresh auditor key pair.
func GenerateAuditorKeyPair() (AuditorKeyPair, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return AuditorKeyPair{}, err
	}
	return AuditorKeyPair{priv: seed}, nil
}

// AuditorKeyPairFromSeed deterministically derives an auditor key pair from
// 32 bytes of seed material.
func AuditorKeyPairFromSeed(seed [32]byte) (AuditorKeyPair, error) {
	return AuditorKeyPair{priv: seed}, nil
}

// PubKey returns the auditor's public key.
func (kp AuditorKeyPair) PubKey() AuditorPubKey {
	return AuditorPubKey{EncKey: blake2b.Sum256(append([]byte("cap-wallet/audit-pub"), kp.priv[:]...))}
}

// OpenAuditMemo attempts to decrypt an audit memo attached to a transfer or
// mint note. It returns ok=false if this key pair is not the memo's
// recipient (the memo was not encrypted to it).
func (kp AuditorKeyPair) OpenAuditMemo(memo AuditMemo) (AuditData, bool) {
	return memo.open(kp.priv)
}

// Bytes serializes the key pair's private material for storage.
func (kp AuditorKeyPair) Bytes() []byte { return kp.priv[:] }

// AuditorKeyPairFromBytes reconstructs a key pair serialized by Bytes.
func AuditorKeyPairFromBytes(b []byte) (AuditorKeyPair, error) {
	if len(b) != 32 {
		return AuditorKeyPair{}, fmt.Errorf("malformed auditor key pair: got %d bytes, want 32", len(b))
	}
	var kp AuditorKeyPair
	copy(kp.priv[:], b)
	return kp, nil
}

// FreezerPubKey is the public half of a freezer key pair, embedded in an
// asset's policy to designate who may freeze/unfreeze its records.
type FreezerPubKey struct {
	Key [33]byte
}

func (k FreezerPubKey) Equal(o FreezerPubKey) bool { return k.Key == o.Key }
func (k FreezerPubKey) String() string             { return hex.EncodeToString(k.Key[:]) }

// FreezerKeyPair can compute the nullifier of records it does not own but
// is entitled to freeze, and can sign freeze/unfreeze transactions.
type FreezerKeyPair struct {
	priv *btcec.PrivateKey
}

// GenerateFreezerKeyPair derives a fresh freezer key pair.
func GenerateFreezerKeyPair() (FreezerKeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return FreezerKeyPair{}, fmt.Errorf("generate freezer key: %w", err)
	}
	return FreezerKeyPair{priv: priv}, nil
}

// FreezerKeyPairFromSeed deterministically derives a freezer key pair from
// 32 bytes of seed material.
func FreezerKeyPairFromSeed(seed [32]byte) (FreezerKeyPair, error) {
	priv, _ := btcec.PrivKeyFromBytes(seed[:])
	return FreezerKeyPair{priv: priv}, nil
}

// PubKey returns the freezer's public key.
func (kp FreezerKeyPair) PubKey() FreezerPubKey {
	var pub FreezerPubKey
	copy(pub.Key[:], kp.priv.PubKey().SerializeCompressed())
	return pub
}

// Nullify derives the nullifier for a record owned by someone else but
// freezable by this key pair; see UserKeyPair.Nullify for why this is
// keyed on public material from both sides.
func (kp FreezerKeyPair) Nullify(owner UserPubKey, uid uint64, rc RecordCommitment) Nullifier {
	return deriveNullifier(kp.PubKey().Key[:], owner.SigKey[:], uid, rc)
}

// Bytes serializes the key pair's private material for storage.
func (kp FreezerKeyPair) Bytes() []byte { return kp.priv.Serialize() }

// FreezerKeyPairFromBytes reconstructs a key pair serialized by Bytes.
func FreezerKeyPairFromBytes(b []byte) (FreezerKeyPair, error) {
	if len(b) != 32 {
		return FreezerKeyPair{}, fmt.Errorf("malformed freezer key pair: got %d bytes, want 32", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return FreezerKeyPair{priv: priv}, nil
}

// deriveNullifier combines an (owner, freezer) public key pair with a
// record's ledger position and commitment. It is order-independent in
// the two key arguments (the lexicographically smaller one is always
// hashed first) so that the owner's wallet, computing this from its own
// key pair plus the freezer's public key, and the freezer's mirror,
// computing it the other way around from an audited record, always
// arrive at the same value.
func deriveNullifier(a, b []byte, uid uint64, rc RecordCommitment) Nullifier {
	first, second := a, b
	if bytes.Compare(a, b) > 0 {
		first, second = b, a
	}
	h, _ := blake2b.New256(nil)
	h.Write([]byte("cap-wallet/nullifier"))
	h.Write(first)
	h.Write(second)
	var uidBytes [8]byte
	for i := 0; i < 8; i++ {
		uidBytes[i] = byte(uid >> (8 * i))
	}
	h.Write(uidBytes[:])
	h.Write(rc[:])
	var n Nullifier
	copy(n[:], h.Sum(nil))
	return n
}

// Nullifier is the deterministic tag revealed when a record is spent,
// preventing double-spends without disclosing which record was spent.
type Nullifier [32]byte

func (n Nullifier) String() string { return hex.EncodeToString(n[:]) }

// RandomNullifier returns a nullifier populated from the system RNG, used
// only by tests that need a unique placeholder value.
func RandomNullifier() Nullifier {
	var n Nullifier
	_, _ = rand.Read(n[:])
	return n
}
