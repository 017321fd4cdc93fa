package nullset

import (
	"testing"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
)

func TestEmptySetNonMembership(t *testing.T) {
	s := New()
	n := ledger.RandomNullifier()

	present, proof := s.Contains(n)
	if present {
		t.Fatal("empty set reports nullifier present")
	}
	if !Verify(s.Root(), proof) {
		t.Error("non-membership proof did not verify against empty root")
	}
}

func TestInsertThenMembership(t *testing.T) {
	s := New()
	n := ledger.RandomNullifier()
	s.Insert(n)

	present, proof := s.Contains(n)
	if !present {
		t.Fatal("inserted nullifier reports absent")
	}
	if !Verify(s.Root(), proof) {
		t.Error("membership proof did not verify against current root")
	}
}

func TestRootChangesOnInsert(t *testing.T) {
	s := New()
	before := s.Root()
	s.Insert(ledger.RandomNullifier())
	after := s.Root()
	if before == after {
		t.Error("root did not change after insert")
	}
}

func TestDistinctNullifiersDoNotCollide(t *testing.T) {
	s := New()
	a := ledger.RandomNullifier()
	b := ledger.RandomNullifier()
	s.Insert(a)

	present, _ := s.Contains(b)
	if present {
		t.Error("uninserted nullifier reported present")
	}
	present, _ = s.Contains(a)
	if !present {
		t.Error("inserted nullifier reported absent")
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	s := New()
	n := ledger.RandomNullifier()
	s.Insert(n)
	root1 := s.Root()
	s.Insert(n)
	root2 := s.Root()
	if root1 != root2 {
		t.Error("re-inserting a nullifier changed the root")
	}
}
