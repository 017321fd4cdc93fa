package walletcore

import (
	"github.com/cap-protocol/cap-wallet/internal/ledger"
)

// DefineAsset derives a random seed, computes the asset code from it and
// description, and registers the definition in the defined-asset table.
// If policy's auditor key is ours, the asset is also auto-registered for
// auditing.
func (s *State) DefineAsset(description []byte, policy ledger.AssetPolicy) (ledger.AssetDefinition, error) {
	seed, err := ledger.GenerateAssetCodeSeed()
	if err != nil {
		return ledger.AssetDefinition{}, CryptoError{Err: err}
	}
	code := ledger.DeriveAssetCode(seed, description)
	def := ledger.AssetDefinition{Code: code, Policy: policy}

	s.definedAssets[code] = definedAsset{Definition: def, Seed: seed, Description: description}

	if policy.AuditorPubKey.Equal(s.AuditorKey.PubKey()) {
		s.auditableAssets[code] = def
	}
	return def, nil
}

// AuditAsset registers an externally defined asset for auditing. Fails
// with InvalidAuditorKey if its policy's auditor key is not ours.
func (s *State) AuditAsset(def ledger.AssetDefinition) error {
	myKey := s.AuditorKey.PubKey()
	if !def.Policy.AuditorPubKey.Equal(myKey) {
		return InvalidAuditorKey{MyKey: myKey, AssetKey: def.Policy.AuditorPubKey}
	}
	s.auditableAssets[def.Code] = def
	return nil
}
