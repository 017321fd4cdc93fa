package walletcore

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
)

// GenerateMnemonic returns a fresh 24-word recovery phrase.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic reports whether a recovery phrase is well-formed.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// LoadedKeys holds the three key pairs a wallet needs, all deterministically
// recoverable from one recovery phrase.
type LoadedKeys struct {
	UserKey    ledger.UserKeyPair
	AuditorKey ledger.AuditorKeyPair
	FreezerKey ledger.FreezerKeyPair
}

// LoadFromMnemonic recovers a wallet's key tree from a recovery phrase and
// optional BIP39 passphrase. The same phrase and passphrase always yield the
// same three key pairs, each split off the master seed by domain-separated
// hashing so that none can be derived from another.
func LoadFromMnemonic(mnemonic, passphrase string) (LoadedKeys, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return LoadedKeys{}, fmt.Errorf("invalid mnemonic")
	}
	master := bip39.NewSeed(mnemonic, passphrase)

	userKey, err := ledger.UserKeyPairFromSeed(subSeed(master, "user"))
	if err != nil {
		return LoadedKeys{}, fmt.Errorf("derive user key: %w", err)
	}
	auditorKey, err := ledger.AuditorKeyPairFromSeed(subSeed(master, "auditor"))
	if err != nil {
		return LoadedKeys{}, fmt.Errorf("derive auditor key: %w", err)
	}
	freezerKey, err := ledger.FreezerKeyPairFromSeed(subSeed(master, "freezer"))
	if err != nil {
		return LoadedKeys{}, fmt.Errorf("derive freezer key: %w", err)
	}
	return LoadedKeys{UserKey: userKey, AuditorKey: auditorKey, FreezerKey: freezerKey}, nil
}

// subSeed derives a domain-separated 32-byte sub-seed from a BIP39 master
// seed, so the user, auditor and freezer keys cannot be derived from one
// another even though they share a single recovery phrase.
func subSeed(master []byte, domain string) [32]byte {
	return blake2b.Sum256(append([]byte("cap-wallet/loader/"+domain), master...))
}
