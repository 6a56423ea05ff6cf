package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var sha256Pool = &sync.Pool{
	New: func() any {
		return sha256.New()
	},
}

// SHA256Sum hashes data with a pooled sha256 state.
func SHA256Sum(data []byte) []byte {
	h := sha256Pool.Get().(hash.Hash)
	defer sha256Pool.Put(h)

	h.Reset()
	_, _ = h.Write(data)
	return h.Sum(make([]byte, 0, chainhash.HashSize))
}

// Hash256 returns the sha256 digest of data as a chainhash.Hash.
func Hash256(data []byte) chainhash.Hash {
	var out chainhash.Hash
	copy(out[:], SHA256Sum(data))
	return out
}

// ZeroHash is the all-zero hash used as the genesis prev_hash.
var ZeroHash = chainhash.Hash{}

// HashToHex renders a hash as lowercase hex in byte order (no bitcoin-style
// byte reversal, unlike chainhash.Hash.String).
func HashToHex(h chainhash.Hash) string {
	return hex.EncodeToString(h[:])
}

// HexToHash parses a 64-character hex string into a hash.
func HexToHash(s string) (chainhash.Hash, error) {
	var out chainhash.Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hash hex %q: %w", s, err)
	}
	if len(raw) != chainhash.HashSize {
		return out, fmt.Errorf("invalid hash length %d, want %d", len(raw), chainhash.HashSize)
	}
	copy(out[:], raw)
	return out, nil
}

// HashHex is a shortcut for HashToHex(Hash256(data)).
func HashHex(data []byte) string {
	return hex.EncodeToString(SHA256Sum(data))
}
