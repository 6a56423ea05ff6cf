package ledger

import (
	"github.com/Bidon15/fontana/internal/smt"
	"github.com/Bidon15/fontana/internal/types"
)

// GenerateUTXOProof proves (non-)membership of a UTXO against a retained
// historical root given by its hex representation. Roots older than the
// snapshot retention depth return ErrRootUnknown.
func (l *Ledger) GenerateUTXOProof(ref types.UTXORef, atRoot string) (smt.Proof, error) {
	key := smt.KeyFor(ref)

	if atRoot == l.GetCurrentStateRoot() {
		return l.tree.Prove(key), nil
	}

	for _, height := range l.tree.SnapshotHeights() {
		root, err := l.tree.RootAt(height)
		if err != nil {
			continue
		}
		if types.HashToHex(root) == atRoot {
			return l.tree.ProveAt(height, key)
		}
	}
	return smt.Proof{}, ErrRootUnknown
}

// VerifyUTXOProof checks a proof against a root, both hex-encoded.
func VerifyUTXOProof(rootHex string, proof smt.Proof) bool {
	root, err := types.HexToHash(rootHex)
	if err != nil {
		return false
	}
	return smt.Verify(root, proof)
}
