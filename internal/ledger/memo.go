package ledger

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// ReceiverMemo is the encrypted payload attached to each output of a
// transaction note, decryptable only by the record's owner, revealing the
// record opening and its blinding factor.
type ReceiverMemo struct {
	Ciphertext []byte
	Nonce      [chacha20poly1305.NonceSize]byte
}

// EncryptReceiverMemo encrypts a record opening to its owner's encryption
// key.
func EncryptReceiverMemo(ro RecordOpening) (ReceiverMemo, error) {
	plaintext, err := marshalRecordOpening(ro)
	if err != nil {
		return ReceiverMemo{}, err
	}
	return sealTo(ro.Owner.EncKey, plaintext)
}

// Open decrypts a receiver memo using the recipient's key pair's encryption
// key. ok is false if kp is not the memo's intended recipient.
func (m ReceiverMemo) Open(kp UserKeyPair) (RecordOpening, bool) {
	plaintext, ok := openWith(encPubFromPriv(kp.encKey), m.Ciphertext, m.Nonce)
	if !ok {
		return RecordOpening{}, false
	}
	ro, err := unmarshalRecordOpening(plaintext)
	if err != nil {
		return RecordOpening{}, false
	}
	return ro, true
}

// AuditData is the decoded payload of an audit memo: the policy-revealed
// fields of one transaction output.
type AuditData struct {
	AssetCode AssetCode
	Address   UserAddress
	Amount    uint64
	Blind     [32]byte
	// Revealed carries the reveal flags of this memo's asset policy. The
	// fields above hold the output's actual values whatever these flags
	// say; unrevealed fields are not zeroed.
	Revealed AssetPolicy
}

// AuditMemo is the encrypted payload decryptable only by an asset's
// auditor key, carrying the AuditData of one output of a transfer or mint.
type AuditMemo struct {
	Ciphertext []byte
	Nonce      [chacha20poly1305.NonceSize]byte
}

// EncryptAuditMemo encrypts audit data to an auditor's public key.
func EncryptAuditMemo(to AuditorPubKey, data AuditData) (AuditMemo, error) {
	plaintext := marshalAuditData(data)
	ciphertext, nonce, err := seal(to.EncKey, plaintext)
	if err != nil {
		return AuditMemo{}, err
	}
	return AuditMemo{Ciphertext: ciphertext, Nonce: nonce}, nil
}

func (m AuditMemo) open(priv [32]byte) (AuditData, bool) {
	pub := blake2b.Sum256(append([]byte("cap-wallet/audit-pub"), priv[:]...))
	plaintext, ok := openWith(pub, m.Ciphertext, m.Nonce)
	if !ok {
		return AuditData{}, false
	}
	return unmarshalAuditData(plaintext)
}

func sealTo(pub [32]byte, plaintext []byte) (ReceiverMemo, error) {
	ciphertext, nonce, err := seal(pub, plaintext)
	if err != nil {
		return ReceiverMemo{}, err
	}
	return ReceiverMemo{Ciphertext: ciphertext, Nonce: nonce}, nil
}

func seal(pub [32]byte, plaintext []byte) ([]byte, [chacha20poly1305.NonceSize]byte, error) {
	var nonce [chacha20poly1305.NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nonce, fmt.Errorf("generate memo nonce: %w", err)
	}
	aead, err := chacha20poly1305.New(deriveSharedKey(pub))
	if err != nil {
		return nil, nonce, fmt.Errorf("init memo cipher: %w", err)
	}
	return aead.Seal(nil, nonce[:], plaintext, nil), nonce, nil
}

func openWith(key [32]byte, ciphertext []byte, nonce [chacha20poly1305.NonceSize]byte) ([]byte, bool) {
	aead, err := chacha20poly1305.New(deriveSharedKey(key))
	if err != nil {
		return nil, false
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

// deriveSharedKey stands in for the proof system's real memo-encryption
// scheme (opaque in the real proof system): it derives a symmetric key from the
// recipient's key material alone, which is sufficient for the wallet's
// own encrypt-then-decrypt round trip in tests and simulation.
func deriveSharedKey(k [32]byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("cap-wallet/memo-key"))
	h.Write(k[:])
	return h.Sum(nil)[:chacha20poly1305.KeySize]
}

func marshalRecordOpening(ro RecordOpening) ([]byte, error) {
	buf := make([]byte, 0, 128)
	buf = append(buf, ro.AssetDef.Code[:]...)
	buf = append(buf, ro.AssetDef.Policy.AuditorPubKey.EncKey[:]...)
	buf = append(buf, ro.AssetDef.Policy.FreezerPubKey.Key[:]...)
	buf = append(buf, boolByte(ro.AssetDef.Policy.RevealAmount))
	buf = append(buf, boolByte(ro.AssetDef.Policy.RevealOwner))
	buf = append(buf, boolByte(ro.AssetDef.Policy.RevealBlind))
	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], ro.Amount)
	buf = append(buf, amt[:]...)
	buf = append(buf, ro.Owner.SigKey[:]...)
	buf = append(buf, ro.Owner.EncKey[:]...)
	buf = append(buf, boolByte(ro.Freeze))
	buf = append(buf, ro.Blind[:]...)
	return buf, nil
}

func unmarshalRecordOpening(data []byte) (RecordOpening, error) {
	const want = 32 + 32 + 33 + 3 + 8 + 33 + 32 + 1 + 32
	if len(data) != want {
		return RecordOpening{}, fmt.Errorf("malformed record opening: got %d bytes, want %d", len(data), want)
	}
	var ro RecordOpening
	off := 0
	copy(ro.AssetDef.Code[:], data[off:off+32])
	off += 32
	copy(ro.AssetDef.Policy.AuditorPubKey.EncKey[:], data[off:off+32])
	off += 32
	copy(ro.AssetDef.Policy.FreezerPubKey.Key[:], data[off:off+33])
	off += 33
	ro.AssetDef.Policy.RevealAmount = data[off] != 0
	off++
	ro.AssetDef.Policy.RevealOwner = data[off] != 0
	off++
	ro.AssetDef.Policy.RevealBlind = data[off] != 0
	off++
	ro.Amount = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	copy(ro.Owner.SigKey[:], data[off:off+33])
	off += 33
	copy(ro.Owner.EncKey[:], data[off:off+32])
	off += 32
	ro.Freeze = data[off] != 0
	off++
	copy(ro.Blind[:], data[off:off+32])
	return ro, nil
}

func marshalAuditData(d AuditData) []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, d.AssetCode[:]...)
	buf = append(buf, d.Address[:]...)
	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], d.Amount)
	buf = append(buf, amt[:]...)
	buf = append(buf, d.Blind[:]...)
	buf = append(buf, boolByte(d.Revealed.RevealAmount))
	buf = append(buf, boolByte(d.Revealed.RevealOwner))
	buf = append(buf, boolByte(d.Revealed.RevealBlind))
	return buf
}

func unmarshalAuditData(data []byte) (AuditData, error) {
	const want = 32 + 20 + 8 + 32 + 3
	if len(data) != want {
		return AuditData{}, fmt.Errorf("malformed audit data: got %d bytes, want %d", len(data), want)
	}
	var d AuditData
	off := 0
	copy(d.AssetCode[:], data[off:off+32])
	off += 32
	copy(d.Address[:], data[off:off+20])
	off += 20
	d.Amount = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	copy(d.Blind[:], data[off:off+32])
	off += 32
	d.Revealed.RevealAmount = data[off] != 0
	off++
	d.Revealed.RevealOwner = data[off] != 0
	off++
	d.Revealed.RevealBlind = data[off] != 0
	return d, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// memoSigningKey derives an edwards25519 scalar used to sign the vector of
// receiver memos attached to a transaction note.
type memoSigningKey struct {
	scalar *edwards25519.Scalar
}

// NewMemoSigningKey derives a fresh per-transaction memo signing key.
func NewMemoSigningKey() (memoSigningKey, error) {
	var seed [64]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return memoSigningKey{}, fmt.Errorf("generate memo signing key: %w", err)
	}
	s, err := edwards25519.NewScalar().SetUniformBytes(seed[:])
	if err != nil {
		return memoSigningKey{}, fmt.Errorf("derive memo signing scalar: %w", err)
	}
	return memoSigningKey{scalar: s}, nil
}

// MemoSignature signs the serialized receiver-memo vector, binding it to
// the transaction note it accompanies.
type MemoSignature struct {
	Point [32]byte
	Hash  [32]byte
}

// Sign produces a deterministic binding over the memos; the proof system's
// real EdDSA verification is opaque to the wallet, so this signature
// exists to satisfy the "sign then transmit with the note" shape of the
// interface, not to replace SNARK-level verification.
func (k memoSigningKey) Sign(memos []ReceiverMemo) MemoSignature {
	h, _ := blake2b.New256(nil)
	for _, m := range memos {
		h.Write(m.Ciphertext)
		h.Write(m.Nonce[:])
	}
	point := (&edwards25519.Point{}).ScalarBaseMult(k.scalar)
	var sig MemoSignature
	copy(sig.Point[:], point.Bytes())
	copy(sig.Hash[:], h.Sum(nil))
	return sig
}
