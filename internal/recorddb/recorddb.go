// Package recorddb is the wallet's indexed store of known record
// openings: the primary uid map, the secondary (asset, owner, freeze)
// ordered-by-amount index, and the reverse nullifier map.
package recorddb

import (
	"errors"
	"sort"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
)

// ErrNotFound is returned when a lookup by uid or nullifier has no match.
var ErrNotFound = errors.New("recorddb: record not found")

// ErrOnHold is returned when an operation requires a record to be free but
// it is currently on hold.
var ErrOnHold = errors.New("recorddb: record is on hold")

// Key identifies the secondary index's (asset, owner, freeze) bucket.
type Key struct {
	Asset  ledger.AssetCode
	Owner  ledger.UserAddress
	Freeze bool
}

type entry struct {
	Amount uint64
	UID    uint64
}

// Database is the record database. All three
// indices are mutated only through Insert and Remove, which keep them
// atomically consistent.
type Database struct {
	byUID       map[uint64]*ledger.RecordInfo
	byNullifier map[ledger.Nullifier]uint64
	byKey       map[Key][]entry // kept sorted ascending by Amount
}

// New returns an empty record database.
func New() *Database {
	return &Database{
		byUID:       make(map[uint64]*ledger.RecordInfo),
		byNullifier: make(map[ledger.Nullifier]uint64),
		byKey:       make(map[Key][]entry),
	}
}

func keyFor(ri *ledger.RecordInfo) Key {
	return Key{Asset: ri.AssetDef.Code, Owner: ri.Owner.Address(), Freeze: ri.Freeze}
}

// Insert adds a record owned (for spend purposes) by the given key,
// computing its nullifier from the owner key pair.
func Insert(db *Database, ro ledger.RecordOpening, uid uint64, owner ledger.UserKeyPair, freezer ledger.FreezerPubKey) *ledger.RecordInfo {
	ri := &ledger.RecordInfo{RecordOpening: ro, UID: uid}
	ri.Nullifier = owner.Nullify(freezer, uid, ro.Commit())
	db.insert(ri)
	return ri
}

// InsertFreezable adds a record this wallet can freeze/unfreeze (not
// necessarily own), computing its nullifier from the freezer key pair.
func InsertFreezable(db *Database, ro ledger.RecordOpening, uid uint64, freezer ledger.FreezerKeyPair) *ledger.RecordInfo {
	ri := &ledger.RecordInfo{RecordOpening: ro, UID: uid}
	ri.Nullifier = freezer.Nullify(ro.Owner, uid, ro.Commit())
	db.insert(ri)
	return ri
}

// Restore reinserts a record whose nullifier was already computed,
// bypassing key-pair-based derivation. Used when reloading a persisted
// snapshot, replaying its stored records back into these in-memory
// indices.
func Restore(db *Database, ro ledger.RecordOpening, uid uint64, nullifier ledger.Nullifier, holdUntil *uint64) *ledger.RecordInfo {
	ri := &ledger.RecordInfo{RecordOpening: ro, UID: uid, Nullifier: nullifier, HoldUntil: holdUntil}
	db.insert(ri)
	return ri
}

// insert is idempotent in uid: a record can legitimately be inserted twice
// under the same uid (e.g. a self-freeze, where both the freezer's
// InsertFreezable and the owner's own receive step resolve to the same
// wallet). Re-inserting removes the stale byKey entry first so the
// secondary index never carries two entries for one uid.
func (db *Database) insert(ri *ledger.RecordInfo) {
	if prev, ok := db.byUID[ri.UID]; ok {
		prevKey := keyFor(prev)
		lst := db.byKey[prevKey]
		for i, e := range lst {
			if e.UID == ri.UID {
				lst = append(lst[:i], lst[i+1:]...)
				break
			}
		}
		if len(lst) == 0 {
			delete(db.byKey, prevKey)
		} else {
			db.byKey[prevKey] = lst
		}
		delete(db.byNullifier, prev.Nullifier)
	}

	db.byUID[ri.UID] = ri
	db.byNullifier[ri.Nullifier] = ri.UID
	k := keyFor(ri)
	lst := db.byKey[k]
	i := sort.Search(len(lst), func(i int) bool { return lst[i].Amount >= ri.Amount })
	lst = append(lst, entry{})
	copy(lst[i+1:], lst[i:])
	lst[i] = entry{Amount: ri.Amount, UID: ri.UID}
	db.byKey[k] = lst
}

// RemoveByNullifier removes the record with the given nullifier from all
// three indices. Returns ErrNotFound if no such record is known.
func (db *Database) RemoveByNullifier(n ledger.Nullifier) (*ledger.RecordInfo, error) {
	uid, ok := db.byNullifier[n]
	if !ok {
		return nil, ErrNotFound
	}
	ri := db.byUID[uid]
	delete(db.byNullifier, n)
	delete(db.byUID, uid)
	k := keyFor(ri)
	lst := db.byKey[k]
	for i, e := range lst {
		if e.UID == uid {
			lst = append(lst[:i], lst[i+1:]...)
			break
		}
	}
	if len(lst) == 0 {
		delete(db.byKey, k)
	} else {
		db.byKey[k] = lst
	}
	return ri, nil
}

// RecordWithNullifier returns the record with the given nullifier, if
// known.
func (db *Database) RecordWithNullifier(n ledger.Nullifier) (*ledger.RecordInfo, bool) {
	uid, ok := db.byNullifier[n]
	if !ok {
		return nil, false
	}
	return db.byUID[uid], true
}

// RecordByUID returns the record with the given uid, if known.
func (db *Database) RecordByUID(uid uint64) (*ledger.RecordInfo, bool) {
	ri, ok := db.byUID[uid]
	return ri, ok
}

// SetHold sets or clears the hold on the record identified by nullifier.
// Passing nil clears the hold.
func (db *Database) SetHold(n ledger.Nullifier, until *uint64) error {
	uid, ok := db.byNullifier[n]
	if !ok {
		return ErrNotFound
	}
	db.byUID[uid].HoldUntil = until
	return nil
}

// InputRecords returns every non-held, non-zero-amount record of the given
// (asset, owner, freeze) triple, in descending amount order.
func (db *Database) InputRecords(key Key, now uint64) []*ledger.RecordInfo {
	lst := db.byKey[key]
	out := make([]*ledger.RecordInfo, 0, len(lst))
	for i := len(lst) - 1; i >= 0; i-- {
		ri := db.byUID[lst[i].UID]
		if ri.Amount == 0 || ri.OnHold(now) {
			continue
		}
		out = append(out, ri)
	}
	return out
}

// InputRecordWithAmount returns the first non-held record of the given
// triple whose amount exactly equals amount, if any.
func (db *Database) InputRecordWithAmount(key Key, amount uint64, now uint64) (*ledger.RecordInfo, bool) {
	lst := db.byKey[key]
	i := sort.Search(len(lst), func(i int) bool { return lst[i].Amount >= amount })
	for ; i < len(lst) && lst[i].Amount == amount; i++ {
		ri := db.byUID[lst[i].UID]
		if !ri.OnHold(now) {
			return ri, true
		}
	}
	return nil, false
}

// Balance sums the amounts of non-held records of the given triple — the
// spendable balance invariant.
func (db *Database) Balance(key Key, now uint64) uint64 {
	var total uint64
	for _, ri := range db.InputRecords(key, now) {
		total += ri.Amount
	}
	return total
}

// AllUIDs returns every uid currently tracked, for invariant checks that
// the three record-database indices agree on the set of live uids.
func (db *Database) AllUIDs() []uint64 {
	out := make([]uint64, 0, len(db.byUID))
	for uid := range db.byUID {
		out = append(out, uid)
	}
	return out
}
