package smt

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Bidon15/fontana/internal/types"
)

// Proof is a (non-)membership proof for a key against a specific root.
// Siblings are ordered leaf to root.
type Proof struct {
	Key        string   `json:"key"`
	Leaf       string   `json:"leaf"`
	Membership bool     `json:"membership"`
	Siblings   []string `json:"siblings"`
}

// Prove builds a proof for key against the current version.
func (t *Tree) Prove(key chainhash.Hash) Proof {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()
	return prove(root, key)
}

// ProveAt builds a proof for key against a retained snapshot.
func (t *Tree) ProveAt(height uint64, key chainhash.Hash) (Proof, error) {
	t.mu.RLock()
	root, ok := t.snapshots[height]
	t.mu.RUnlock()

	if !ok {
		return Proof{}, ErrNoSnapshot
	}
	return prove(root, key), nil
}

func prove(root *node, key chainhash.Hash) Proof {
	siblings := make([]chainhash.Hash, Depth)

	n := root
	for depth := 0; depth < Depth; depth++ {
		var next, sibling *node
		if n != nil {
			if bitAt(key, depth) == 0 {
				next, sibling = n.left, n.right
			} else {
				next, sibling = n.right, n.left
			}
		}
		// siblings are recorded top-down, the proof wants leaf-first
		siblings[Depth-1-depth] = hashOrDefault(sibling, depth+1)
		n = next
	}

	leaf := defaultHashes()[Depth]
	membership := n != nil
	if membership {
		leaf = n.hash
	}

	out := Proof{
		Key:        types.HashToHex(key),
		Leaf:       types.HashToHex(leaf),
		Membership: membership,
		Siblings:   make([]string, Depth),
	}
	for i, s := range siblings {
		out.Siblings[i] = types.HashToHex(s)
	}
	return out
}

// Verify recomputes the root from a proof and compares it to root.
func Verify(root chainhash.Hash, proof Proof) bool {
	if len(proof.Siblings) != Depth {
		return false
	}
	key, err := types.HexToHash(proof.Key)
	if err != nil {
		return false
	}
	current, err := types.HexToHash(proof.Leaf)
	if err != nil {
		return false
	}

	for i, sibHex := range proof.Siblings {
		sibling, err := types.HexToHash(sibHex)
		if err != nil {
			return false
		}
		depth := Depth - 1 - i
		if bitAt(key, depth) == 0 {
			current = hashPair(current, sibling)
		} else {
			current = hashPair(sibling, current)
		}
	}
	return current == root
}
