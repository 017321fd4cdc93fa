package ledger

import "testing"

func TestTransactionKindString(t *testing.T) {
	cases := map[TransactionKind]string{
		KindTransfer:        "transfer",
		KindMint:            "mint",
		KindFreeze:          "freeze",
		TransactionKind(99): "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("TransactionKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
