// Package walletcore is the wallet state engine and its concurrency
// wrapper: event handling, transaction construction, and the
// thread-safe handle wrapping them.
package walletcore

import (
	"fmt"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
)

// InsufficientBalance is returned when an account does not hold enough of
// an asset to satisfy a requested amount, even when every owned record is
// combined.
type InsufficientBalance struct {
	Asset    ledger.AssetCode
	Required uint64
	Actual   uint64
}

func (e InsufficientBalance) Error() string {
	return fmt.Sprintf("insufficient balance of asset %s: need %d, have %d", e.Asset, e.Required, e.Actual)
}

// Fragmentation is returned when enough funds exist but cannot be combined
// within the allowed input count; SuggestedAmount is a reachable smaller
// amount.
type Fragmentation struct {
	Asset           ledger.AssetCode
	Amount          uint64
	SuggestedAmount uint64
	MaxRecords      int
}

func (e Fragmentation) Error() string {
	return fmt.Sprintf("asset %s fragmented across too many records to reach %d within %d inputs; try %d",
		e.Asset, e.Amount, e.MaxRecords, e.SuggestedAmount)
}

// TooManyOutputs is returned when no proving key supports the requested
// output count, regardless of input count.
type TooManyOutputs struct {
	Asset            ledger.AssetCode
	MaxRecords       int
	NumReceivers     int
	NumChangeRecords int
}

func (e TooManyOutputs) Error() string {
	return fmt.Sprintf("asset %s: %d receivers + %d change records exceeds every proving key's output capacity",
		e.Asset, e.NumReceivers, e.NumChangeRecords)
}

// UndefinedAsset is returned when a mint's target asset is not in the
// defined-asset registry.
type UndefinedAsset struct {
	Asset ledger.AssetCode
}

func (e UndefinedAsset) Error() string { return fmt.Sprintf("asset %s is not defined by this wallet", e.Asset) }

// InvalidBlock is returned when a locally re-validated block does not
// verify.
type InvalidBlock struct {
	Err ledger.ValidationError
}

func (e InvalidBlock) Error() string { return fmt.Sprintf("invalid block: %s", e.Err) }

// NullifierAlreadyPublished is returned when a proof refresh finds the
// nullifier already spent on-chain.
type NullifierAlreadyPublished struct {
	Nullifier ledger.Nullifier
}

func (e NullifierAlreadyPublished) Error() string {
	return fmt.Sprintf("nullifier %s already published", e.Nullifier)
}

// CryptoError wraps a proof/sign/verify failure from the opaque
// zero-knowledge proof layer.
type CryptoError struct {
	Err error
}

func (e CryptoError) Error() string { return fmt.Sprintf("crypto error: %s", e.Err) }
func (e CryptoError) Unwrap() error { return e.Err }

// InvalidAddress is returned when the backend cannot resolve an address.
type InvalidAddress struct {
	Address ledger.UserAddress
}

func (e InvalidAddress) Error() string { return fmt.Sprintf("invalid address: %s", e.Address) }

// InvalidAuditorKey is returned when the caller's auditor key does not
// match the asset's policy.
type InvalidAuditorKey struct {
	MyKey    ledger.AuditorPubKey
	AssetKey ledger.AuditorPubKey
}

func (e InvalidAuditorKey) Error() string {
	return fmt.Sprintf("auditor key %s does not match asset's auditor key %s", e.MyKey, e.AssetKey)
}

// InvalidFreezerKey is returned when the caller's freezer key does not
// match the asset's policy.
type InvalidFreezerKey struct {
	MyKey    ledger.FreezerPubKey
	AssetKey ledger.FreezerPubKey
}

func (e InvalidFreezerKey) Error() string {
	return fmt.Sprintf("freezer key %s does not match asset's freezer key %s", e.MyKey, e.AssetKey)
}
