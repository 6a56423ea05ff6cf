// Package smt implements the sparse Merkle commitment over the live UTXO
// set. The tree is a fixed-depth (256 level) binary tree addressed by the
// sha256 of the UTXO key. Updates are copy-on-write: every mutation builds a
// fresh path of nodes and shares the rest of the tree, so a snapshot is just
// a retained root pointer and historical proofs stay cheap.
package smt

import (
	"fmt"
	"slices"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Bidon15/fontana/internal/types"
)

// Depth is the tree depth in bits; keys are sha256 digests.
const Depth = 256

// node is an immutable subtree. A nil *node is an empty subtree whose hash
// is the default hash for its depth.
type node struct {
	hash  chainhash.Hash
	left  *node
	right *node
}

var (
	defaultsOnce sync.Once
	// defaults[d] is the hash of an empty subtree rooted at depth d;
	// defaults[Depth] is the empty leaf slot.
	defaults [Depth + 1]chainhash.Hash
)

func defaultHashes() *[Depth + 1]chainhash.Hash {
	defaultsOnce.Do(func() {
		defaults[Depth] = types.Hash256([]byte("smt:empty"))
		for d := Depth - 1; d >= 0; d-- {
			defaults[d] = hashPair(defaults[d+1], defaults[d+1])
		}
	})
	return &defaults
}

func hashPair(left, right chainhash.Hash) chainhash.Hash {
	return types.Hash256(slices.Concat(left[:], right[:]))
}

func hashOrDefault(n *node, depth int) chainhash.Hash {
	if n == nil {
		return defaultHashes()[depth]
	}
	return n.hash
}

// KeyFor maps a UTXO reference to its tree key.
func KeyFor(ref types.UTXORef) chainhash.Hash {
	return types.Hash256([]byte(ref.Key()))
}

// LeafHash commits to the UTXO contents stored under a key.
func LeafHash(recipient string, amount uint64, ref types.UTXORef) chainhash.Hash {
	return types.Hash256([]byte(fmt.Sprintf("leaf:%s:%d:%s", recipient, amount, ref.Key())))
}

func bitAt(key chainhash.Hash, depth int) byte {
	return (key[depth/8] >> (7 - uint(depth)%8)) & 1
}

// Tree is the live versioned sparse Merkle tree. The current version is
// writer-exclusive; snapshots are immutable and may be proved against
// concurrently.
type Tree struct {
	mu        sync.RWMutex
	root      *node
	count     int
	keep      int
	snapshots map[uint64]*node
	order     []uint64
}

// NewTree creates an empty tree retaining up to keep historical snapshots.
func NewTree(keep int) *Tree {
	if keep < 1 {
		keep = 1
	}
	return &Tree{
		keep:      keep,
		snapshots: make(map[uint64]*node),
	}
}

// Put inserts or overwrites the leaf for key.
func (t *Tree) Put(key chainhash.Hash, leaf chainhash.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var existed bool
	t.root, existed = put(t.root, 0, key, leaf)
	if !existed {
		t.count++
	}
}

// Delete removes the leaf for key. Deleting an absent key is a no-op.
func (t *Tree) Delete(key chainhash.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var existed bool
	t.root, existed = del(t.root, 0, key)
	if existed {
		t.count--
	}
}

func put(n *node, depth int, key chainhash.Hash, leaf chainhash.Hash) (*node, bool) {
	if depth == Depth {
		return &node{hash: leaf}, n != nil
	}
	var left, right *node
	if n != nil {
		left, right = n.left, n.right
	}
	var existed bool
	if bitAt(key, depth) == 0 {
		left, existed = put(left, depth+1, key, leaf)
	} else {
		right, existed = put(right, depth+1, key, leaf)
	}
	return &node{
		hash:  hashPair(hashOrDefault(left, depth+1), hashOrDefault(right, depth+1)),
		left:  left,
		right: right,
	}, existed
}

func del(n *node, depth int, key chainhash.Hash) (*node, bool) {
	if n == nil {
		return nil, false
	}
	if depth == Depth {
		return nil, true
	}
	left, right := n.left, n.right
	var existed bool
	if bitAt(key, depth) == 0 {
		left, existed = del(left, depth+1, key)
	} else {
		right, existed = del(right, depth+1, key)
	}
	if !existed {
		return n, false
	}
	if left == nil && right == nil {
		return nil, true
	}
	return &node{
		hash:  hashPair(hashOrDefault(left, depth+1), hashOrDefault(right, depth+1)),
		left:  left,
		right: right,
	}, true
}

// Root returns the current root hash.
func (t *Tree) Root() chainhash.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return hashOrDefault(t.root, 0)
}

// Len returns the number of live leaves.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Snapshot retains the current version under height, evicting the oldest
// snapshot beyond the retention depth.
func (t *Tree) Snapshot(height uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.snapshots[height]; !ok {
		t.order = append(t.order, height)
	}
	t.snapshots[height] = t.root
	for len(t.order) > t.keep {
		evict := t.order[0]
		t.order = t.order[1:]
		delete(t.snapshots, evict)
	}
}

// ErrNoSnapshot is returned when a proof is requested against an evicted or
// never-taken snapshot.
var ErrNoSnapshot = fmt.Errorf("smt: no snapshot for requested version")

// RootAt returns the root of a retained snapshot.
func (t *Tree) RootAt(height uint64) (chainhash.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	root, ok := t.snapshots[height]
	if !ok {
		return chainhash.Hash{}, ErrNoSnapshot
	}
	return hashOrDefault(root, 0), nil
}

// SnapshotHeights returns retained snapshot heights in ascending order.
func (t *Tree) SnapshotHeights() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.order)
}
