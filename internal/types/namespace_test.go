package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNamespace(t *testing.T) {
	ns, err := ParseNamespace("66746e6100000001")
	require.NoError(t, err)
	assert.Equal(t, "66746e6100000001", ns.Hex())

	_, err = ParseNamespace("66746e61000001") // too short
	assert.Error(t, err)

	_, err = ParseNamespace("66746e610000000g") // not hex
	assert.Error(t, err)

	_, err = ParseNamespace("")
	assert.Error(t, err)
}

func TestDeriveBlockNamespace(t *testing.T) {
	base, err := ParseNamespace("66746e6100000001")
	require.NoError(t, err)

	ns1 := DeriveBlockNamespace(base, 1)
	ns1Again := DeriveBlockNamespace(base, 1)
	ns2 := DeriveBlockNamespace(base, 2)

	assert.Equal(t, ns1, ns1Again)
	assert.NotEqual(t, ns1, ns2)
	assert.Len(t, ns1, NamespaceSize)

	other, err := ParseNamespace("66746e6100000002")
	require.NoError(t, err)
	assert.NotEqual(t, ns1, DeriveBlockNamespace(other, 1))
}
