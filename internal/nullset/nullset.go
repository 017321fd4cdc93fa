// Package nullset implements a sparse authenticated set of published
// nullifiers, supporting membership and non-membership proofs against a
// single root hash.
//
// The tree is a depth-256 binary Merkle tree over the nullifier's bit
// pattern, made sparse by precomputing the hash of every all-empty
// subtree of each depth so that only branches containing an actual
// nullifier need to be materialized.
package nullset

import (
	"encoding/hex"

	"github.com/cap-protocol/cap-wallet/internal/ledger"
	"golang.org/x/crypto/blake2b"
)

const depth = 256

// emptyHashes[i] is the root hash of an empty subtree of height i
// (emptyHashes[0] is the hash of an empty leaf).
var emptyHashes [depth + 1][32]byte

func init() {
	emptyHashes[0] = blake2b.Sum256([]byte("cap-wallet/nullset/empty-leaf"))
	for i := 1; i <= depth; i++ {
		emptyHashes[i] = hashPair(emptyHashes[i-1], emptyHashes[i-1])
	}
}

func hashPair(l, r [32]byte) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write(l[:])
	h.Write(r[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func leafHash(n ledger.Nullifier) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("cap-wallet/nullset/leaf"))
	h.Write(n[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// bit returns the i-th most significant bit of n, 0 being the root's first
// branch decision.
func bit(n ledger.Nullifier, i int) int {
	byteIdx := i / 8
	bitIdx := 7 - uint(i%8)
	return int((n[byteIdx] >> bitIdx) & 1)
}

type node struct {
	children [2]*node // nil means "empty subtree"
	hash     [32]byte
}

// Proof is an authentication path usable to prove membership or
// non-membership of a nullifier against a Set's root.
type Proof struct {
	Nullifier ledger.Nullifier
	Siblings  [depth][32]byte
	Present   bool
}

// Set is the sparse authenticated set of published nullifiers.
type Set struct {
	root    *node
	present map[ledger.Nullifier]struct{}
}

// New returns an empty nullifier set, whose root equals the well-known
// all-empty root hash.
func New() *Set {
	return &Set{present: make(map[ledger.Nullifier]struct{})}
}

// Root returns the current root hash of the set.
func (s *Set) Root() [32]byte {
	if s.root == nil {
		return emptyHashes[depth]
	}
	return s.root.hash
}

// Contains reports whether n has been inserted, and returns a proof of
// that fact (membership or non-membership) against the current root.
func (s *Set) Contains(n ledger.Nullifier) (bool, Proof) {
	_, present := s.present[n]
	proof := Proof{Nullifier: n, Present: present}
	cur := s.root
	for i := 0; i < depth; i++ {
		b := bit(n, i)
		var sibling *node
		if cur != nil {
			sibling = cur.children[1-b]
		}
		if sibling == nil {
			proof.Siblings[i] = emptyHashes[depth-i-1]
		} else {
			proof.Siblings[i] = sibling.hash
		}
		if cur == nil {
			cur = nil
		} else {
			cur = cur.children[b]
		}
	}
	return present, proof
}

// Insert adds n to the set, updating the root. Inserting an
// already-present nullifier is a no-op.
func (s *Set) Insert(n ledger.Nullifier) {
	if _, ok := s.present[n]; ok {
		return
	}
	s.present[n] = struct{}{}
	s.root = insert(s.root, n, 0, leafHash(n))
}

func insert(cur *node, n ledger.Nullifier, level int, leaf [32]byte) *node {
	if level == depth {
		return &node{hash: leaf}
	}
	if cur == nil {
		cur = &node{hash: emptyHashes[depth-level]}
	}
	b := bit(n, level)
	cur.children[b] = insert(cur.children[b], n, level+1, leaf)
	var left, right [32]byte
	if cur.children[0] != nil {
		left = cur.children[0].hash
	} else {
		left = emptyHashes[depth-level-1]
	}
	if cur.children[1] != nil {
		right = cur.children[1].hash
	} else {
		right = emptyHashes[depth-level-1]
	}
	cur.hash = hashPair(left, right)
	return cur
}

// Verify checks a proof against a given root hash, without requiring
// access to the Set itself — the shape of verification a validator or
// peer would perform.
func Verify(root [32]byte, proof Proof) bool {
	var cur [32]byte
	if proof.Present {
		cur = leafHash(proof.Nullifier)
	} else {
		cur = emptyHashes[0]
	}
	for i := depth - 1; i >= 0; i-- {
		b := bit(proof.Nullifier, i)
		if b == 0 {
			cur = hashPair(cur, proof.Siblings[i])
		} else {
			cur = hashPair(proof.Siblings[i], cur)
		}
	}
	return cur == root
}

// RootHex renders the root hash for logging.
func (s *Set) RootHex() string { r := s.Root(); return hex.EncodeToString(r[:]) }

// All returns every nullifier inserted so far, for snapshotting into the
// persistent store.
func (s *Set) All() []ledger.Nullifier {
	out := make([]ledger.Nullifier, 0, len(s.present))
	for n := range s.present {
		out = append(out, n)
	}
	return out
}
