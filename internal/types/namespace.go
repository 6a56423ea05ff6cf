package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"slices"
)

// NamespaceSize is the DA-side namespace identifier width.
const NamespaceSize = 8

// Namespace is the fixed-width blob namespace identifier.
type Namespace [NamespaceSize]byte

func (n Namespace) Hex() string {
	return hex.EncodeToString(n[:])
}

// ParseNamespace parses a 16-hex-character namespace base. Anything else is
// a configuration error, rejected at startup.
func ParseNamespace(s string) (Namespace, error) {
	var ns Namespace
	if len(s) != NamespaceSize*2 {
		return ns, fmt.Errorf("namespace %q must be %d hex characters", s, NamespaceSize*2)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ns, fmt.Errorf("namespace %q is not valid hex: %w", s, err)
	}
	copy(ns[:], raw)
	return ns, nil
}

// DeriveBlockNamespace maps the configured base namespace and a block height
// to the per-block namespace: sha256(base || height_be64) truncated.
func DeriveBlockNamespace(base Namespace, height uint64) Namespace {
	var hb [8]byte
	binary.BigEndian.PutUint64(hb[:], height)

	digest := SHA256Sum(slices.Concat(base[:], hb[:]))

	var ns Namespace
	copy(ns[:], digest[:NamespaceSize])
	return ns
}
