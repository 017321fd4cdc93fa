package walletstore

import (
	"os"
	"testing"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"github.com/cap-protocol/cap-wallet/internal/walletstate"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "cap-wallet-store-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := Open(Config{DataDir: dir})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testStaticState(t *testing.T) walletstate.StaticState {
	t.Helper()
	userKey, err := ledger.GenerateUserKeyPair()
	if err != nil {
		t.Fatalf("GenerateUserKeyPair() error = %v", err)
	}
	auditorKey, err := ledger.GenerateAuditorKeyPair()
	if err != nil {
		t.Fatalf("GenerateAuditorKeyPair() error = %v", err)
	}
	freezerKey, err := ledger.GenerateFreezerKeyPair()
	if err != nil {
		t.Fatalf("GenerateFreezerKeyPair() error = %v", err)
	}
	return walletstate.StaticState{
		UserKeyPair:    userKey,
		AuditorKeyPair: auditorKey,
		FreezerKeyPair: freezerKey,
	}
}

func TestUnlockOnNewStoreStagesMetadata(t *testing.T) {
	s := openTestStore(t)

	exists, err := s.Exists()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Fatal("Exists() = true on a brand-new store")
	}

	if err := s.Unlock("correct horse battery staple"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	exists, err = s.Exists()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Fatal("Exists() = false after committing the metadata row")
	}
}

func TestStaticStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.Unlock("correct horse battery staple"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	want := testStaticState(t)
	if err := s.SaveStatic(want); err != nil {
		t.Fatalf("SaveStatic() error = %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	got, err := s.LoadStatic()
	if err != nil {
		t.Fatalf("LoadStatic() error = %v", err)
	}
	if got.UserKeyPair.PubKey().Address() != want.UserKeyPair.PubKey().Address() {
		t.Error("LoadStatic() returned a different user key pair")
	}
	if got.AuditorKeyPair.PubKey() != want.AuditorKeyPair.PubKey() {
		t.Error("LoadStatic() returned a different auditor key pair")
	}
	if got.FreezerKeyPair.PubKey() != want.FreezerKeyPair.PubKey() {
		t.Error("LoadStatic() returned a different freezer key pair")
	}
}

func TestWrongPasswordFailsToDecrypt(t *testing.T) {
	dir, err := os.MkdirTemp("", "cap-wallet-store-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	defer os.RemoveAll(dir)

	s, err := Open(Config{DataDir: dir})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Unlock("correct password"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if err := s.SaveStatic(testStaticState(t)); err != nil {
		t.Fatalf("SaveStatic() error = %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	s.Close()

	s2, err := Open(Config{DataDir: dir})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s2.Close()
	if err := s2.Unlock("wrong password"); err != ErrWrongPassword {
		t.Fatalf("Unlock() with wrong password error = %v, want ErrWrongPassword", err)
	}
}

func TestRevertDiscardsStagedWrites(t *testing.T) {
	s := openTestStore(t)
	if err := s.Unlock("correct horse battery staple"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if err := s.SaveStatic(testStaticState(t)); err != nil {
		t.Fatalf("SaveStatic() error = %v", err)
	}
	s.Revert()
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit() after Revert() error = %v", err)
	}

	if _, err := s.LoadStatic(); err != ErrNotExist {
		t.Fatalf("LoadStatic() after revert error = %v, want ErrNotExist", err)
	}
}

func TestDynamicStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.Unlock("correct horse battery staple"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	snap := walletstate.Snapshot{
		Now: 42,
		Validator: walletstate.ValidatorMirror{
			NextUID: 7,
		},
	}
	if err := s.SaveDynamic(snap); err != nil {
		t.Fatalf("SaveDynamic() error = %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	got, err := s.LoadDynamic()
	if err != nil {
		t.Fatalf("LoadDynamic() error = %v", err)
	}
	if got.Now != 42 || got.Validator.NextUID != 7 {
		t.Errorf("LoadDynamic() = %+v, want Now=42 NextUID=7", got)
	}
}

func TestCommitIsNoopWithoutDirtyStreams(t *testing.T) {
	s := openTestStore(t)
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit() on a clean store error = %v", err)
	}
	exists, err := s.Exists()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Fatal("Exists() = true after a no-op Commit()")
	}
}
