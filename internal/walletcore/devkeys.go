package walletcore

import "github.com/cap-protocol/cap-wallet/internal/ledger"

// DevProvingKeys returns a fixed proving-key set covering the transfer
// and freeze shapes a single-user wallet typically needs, plus the mint
// key. The proof system is an opaque collaborator in this repository, so
// Material is an inert placeholder rather than real preprocessed key
// material; this is meant for local wallets talking to the in-memory or
// websocket reference backends, not a production trusted setup.
func DevProvingKeys() ledger.ProvingKeySet {
	xfrShapes := []struct{ in, out int }{
		{1, 2}, {2, 2}, {2, 3}, {3, 3}, {3, 5},
	}
	freezeArities := []int{1, 2, 3, 5}

	xfr := make([]ledger.ProvingKey, 0, len(xfrShapes))
	for _, sh := range xfrShapes {
		xfr = append(xfr, ledger.ProvingKey{NumInputs: sh.in, NumOutputs: sh.out, Material: []byte("dev-xfr")})
	}
	freeze := make([]ledger.ProvingKey, 0, len(freezeArities))
	for _, n := range freezeArities {
		freeze = append(freeze, ledger.ProvingKey{NumInputs: n, NumOutputs: n, Material: []byte("dev-freeze")})
	}
	return ledger.ProvingKeySet{
		Xfr:    xfr,
		Freeze: freeze,
		Mint:   ledger.MintProvingKey{Material: []byte("dev-mint")},
	}
}
