package smt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/fontana/internal/types"
)

func refFor(i int) types.UTXORef {
	return types.UTXORef{TxID: types.HashHex([]byte{byte(i)}), Index: 0}
}

func putN(t *Tree, n int) {
	for i := 0; i < n; i++ {
		ref := refFor(i)
		t.Put(KeyFor(ref), LeafHash(fmt.Sprintf("addr-%d", i), uint64(i+1), ref))
	}
}

func TestEmptyTreeRootStable(t *testing.T) {
	a := NewTree(2)
	b := NewTree(2)
	assert.Equal(t, a.Root(), b.Root())
	assert.Equal(t, 0, a.Len())
}

func TestPutChangesRoot(t *testing.T) {
	tree := NewTree(2)
	empty := tree.Root()

	ref := refFor(0)
	tree.Put(KeyFor(ref), LeafHash("alice", 100, ref))
	assert.NotEqual(t, empty, tree.Root())
	assert.Equal(t, 1, tree.Len())
}

func TestPutDeleteRestoresRoot(t *testing.T) {
	tree := NewTree(2)
	putN(tree, 5)
	before := tree.Root()

	extra := refFor(99)
	tree.Put(KeyFor(extra), LeafHash("mallory", 7, extra))
	assert.NotEqual(t, before, tree.Root())

	tree.Delete(KeyFor(extra))
	assert.Equal(t, before, tree.Root())
	assert.Equal(t, 5, tree.Len())
}

func TestDeleteAbsentIsNoOp(t *testing.T) {
	tree := NewTree(2)
	putN(tree, 3)
	before := tree.Root()

	tree.Delete(KeyFor(refFor(42)))
	assert.Equal(t, before, tree.Root())
	assert.Equal(t, 3, tree.Len())
}

func TestInsertionOrderIndependent(t *testing.T) {
	a := NewTree(2)
	b := NewTree(2)
	for i := 0; i < 8; i++ {
		ref := refFor(i)
		a.Put(KeyFor(ref), LeafHash("x", uint64(i+1), ref))
	}
	for i := 7; i >= 0; i-- {
		ref := refFor(i)
		b.Put(KeyFor(ref), LeafHash("x", uint64(i+1), ref))
	}
	assert.Equal(t, a.Root(), b.Root())
}

func TestSnapshotsRetainHistoricalRoots(t *testing.T) {
	tree := NewTree(3)
	putN(tree, 2)
	tree.Snapshot(1)
	root1 := tree.Root()

	ref := refFor(50)
	tree.Put(KeyFor(ref), LeafHash("bob", 9, ref))
	tree.Snapshot(2)
	root2 := tree.Root()

	got1, err := tree.RootAt(1)
	require.NoError(t, err)
	assert.Equal(t, root1, got1)

	got2, err := tree.RootAt(2)
	require.NoError(t, err)
	assert.Equal(t, root2, got2)

	assert.NotEqual(t, root1, root2)
}

func TestSnapshotEviction(t *testing.T) {
	tree := NewTree(2)
	for h := uint64(1); h <= 4; h++ {
		ref := refFor(int(h))
		tree.Put(KeyFor(ref), LeafHash("x", h, ref))
		tree.Snapshot(h)
	}

	_, err := tree.RootAt(1)
	assert.ErrorIs(t, err, ErrNoSnapshot)
	_, err = tree.RootAt(2)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = tree.RootAt(3)
	assert.NoError(t, err)
	_, err = tree.RootAt(4)
	assert.NoError(t, err)

	assert.Equal(t, []uint64{3, 4}, tree.SnapshotHeights())
}

func TestProveVerifyMembership(t *testing.T) {
	tree := NewTree(2)
	putN(tree, 6)

	ref := refFor(3)
	proof := tree.Prove(KeyFor(ref))
	assert.True(t, proof.Membership)
	assert.Equal(t, types.HashToHex(LeafHash("addr-3", 4, ref)), proof.Leaf)
	assert.True(t, Verify(tree.Root(), proof))
}

func TestProveVerifyNonMembership(t *testing.T) {
	tree := NewTree(2)
	putN(tree, 6)

	proof := tree.Prove(KeyFor(refFor(77)))
	assert.False(t, proof.Membership)
	assert.True(t, Verify(tree.Root(), proof))
}

func TestVerifyRejectsMutations(t *testing.T) {
	tree := NewTree(2)
	putN(tree, 6)
	root := tree.Root()

	ref := refFor(2)
	proof := tree.Prove(KeyFor(ref))
	require.True(t, Verify(root, proof))

	wrongRoot := types.Hash256([]byte("nope"))
	assert.False(t, Verify(wrongRoot, proof))

	tampered := proof
	tampered.Leaf = types.HashHex([]byte("tampered"))
	assert.False(t, Verify(root, tampered))

	tampered = proof
	tampered.Siblings = append([]string{}, proof.Siblings...)
	tampered.Siblings[10] = types.HashHex([]byte("tampered"))
	assert.False(t, Verify(root, tampered))
}

func TestProveAtHistoricalRoot(t *testing.T) {
	tree := NewTree(3)
	ref := refFor(0)
	tree.Put(KeyFor(ref), LeafHash("alice", 100, ref))
	tree.Snapshot(1)
	root1 := tree.Root()

	// spend it afterwards
	tree.Delete(KeyFor(ref))
	tree.Snapshot(2)

	proof, err := tree.ProveAt(1, KeyFor(ref))
	require.NoError(t, err)
	assert.True(t, proof.Membership)
	assert.True(t, Verify(root1, proof))

	// against the current version it is gone
	now := tree.Prove(KeyFor(ref))
	assert.False(t, now.Membership)
	assert.True(t, Verify(tree.Root(), now))

	_, err = tree.ProveAt(9, KeyFor(ref))
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

// The tree must be rebuildable from the UTXO table alone.
func TestRebuildEquivalence(t *testing.T) {
	live := NewTree(2)
	putN(live, 10)
	live.Delete(KeyFor(refFor(4)))
	live.Delete(KeyFor(refFor(7)))

	rebuilt := NewTree(2)
	for i := 0; i < 10; i++ {
		if i == 4 || i == 7 {
			continue
		}
		ref := refFor(i)
		rebuilt.Put(KeyFor(ref), LeafHash(fmt.Sprintf("addr-%d", i), uint64(i+1), ref))
	}
	assert.Equal(t, live.Root(), rebuilt.Root())
}
