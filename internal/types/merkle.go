package types

import (
	"slices"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func computeParentNode(left, right chainhash.Hash) chainhash.Hash {
	return Hash256(slices.Concat(left[:], right[:]))
}

// ComputeTxMerkleRoot builds the transaction merkle root over txids in block
// order. Odd levels duplicate the last node. Empty blocks commit to the zero
// hash.
func ComputeTxMerkleRoot(txids []string) string {
	if len(txids) == 0 {
		return HashToHex(ZeroHash)
	}

	level := make([]chainhash.Hash, 0, len(txids))
	for _, id := range txids {
		h, err := HexToHash(id)
		if err != nil {
			// txids are produced by ComputeTxID and always valid hex;
			// an invalid one here is a programming error.
			panic(err)
		}
		level = append(level, h)
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		parents := make([]chainhash.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			parents = append(parents, computeParentNode(level[i], level[i+1]))
		}
		level = parents
	}
	return HashToHex(level[0])
}

// ComputeTxMerkleProof returns the sibling path for the transaction at
// txIndex, leaf to root.
func ComputeTxMerkleProof(txids []string, txIndex int) []string {
	if txIndex < 0 || txIndex >= len(txids) {
		return nil
	}

	level := make([]chainhash.Hash, 0, len(txids))
	for _, id := range txids {
		h, err := HexToHash(id)
		if err != nil {
			panic(err)
		}
		level = append(level, h)
	}

	var proof []string
	idx := txIndex
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		proof = append(proof, HashToHex(level[idx^1]))

		parents := make([]chainhash.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			parents = append(parents, computeParentNode(level[i], level[i+1]))
		}
		level = parents
		idx >>= 1
	}
	return proof
}

// VerifyTxMerkleProof checks a sibling path produced by
// ComputeTxMerkleProof against a root.
func VerifyTxMerkleProof(txid, root string, txIndex int, path []string) bool {
	current, err := HexToHash(txid)
	if err != nil {
		return false
	}
	want, err := HexToHash(root)
	if err != nil {
		return false
	}

	for _, sib := range path {
		sibling, err := HexToHash(sib)
		if err != nil {
			return false
		}
		if txIndex&1 == 0 {
			current = computeParentNode(current, sibling)
		} else {
			current = computeParentNode(sibling, current)
		}
		txIndex >>= 1
	}
	return current == want
}
