package pending

import (
	"testing"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
)

func txn(fee ledger.Nullifier, timeout uint64) Transaction {
	return Transaction{
		Note:    ledger.TransactionNote{Nullifiers: []ledger.Nullifier{fee}},
		Timeout: timeout,
	}
}

func TestInsertGetRemove(t *testing.T) {
	tr := New()
	fee := ledger.RandomNullifier()
	t1 := txn(fee, 10)
	tr.Insert(t1)

	got, ok := tr.Get(fee)
	if !ok || got.Timeout != 10 {
		t.Fatalf("Get = %v, %v", got, ok)
	}

	if _, err := tr.Remove(fee); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := tr.Get(fee); ok {
		t.Error("transaction still present after remove")
	}
	if _, err := tr.Remove(fee); err != ErrNotFound {
		t.Errorf("second remove: got %v, want ErrNotFound", err)
	}
}

func TestExpireRemovesOnlyMatchingBucket(t *testing.T) {
	tr := New()
	feeA := ledger.RandomNullifier()
	feeB := ledger.RandomNullifier()
	tr.Insert(txn(feeA, 10))
	tr.Insert(txn(feeB, 20))

	expired := tr.Expire(10)
	if len(expired) != 1 {
		t.Fatalf("Expire(10) returned %d transactions, want 1", len(expired))
	}
	if _, ok := tr.Get(feeA); ok {
		t.Error("expired transaction still present")
	}
	if _, ok := tr.Get(feeB); !ok {
		t.Error("unrelated transaction was removed by unrelated expiry")
	}

	min, found := tr.EarliestTimeout()
	if !found || min != 20 {
		t.Errorf("EarliestTimeout = %d, %v; want 20, true", min, found)
	}
}

func TestExpireEmptyBucketIsNoop(t *testing.T) {
	tr := New()
	if expired := tr.Expire(5); expired != nil {
		t.Errorf("Expire on empty tracker returned %v, want nil", expired)
	}
}
