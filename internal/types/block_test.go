package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBlock(t *testing.T, txCount int) *Block {
	txs := make([]SignedTransaction, 0, txCount)
	txids := make([]string, 0, txCount)
	for i := 0; i < txCount; i++ {
		tx := sampleTx()
		tx.Timestamp = int64(1700000000 + i)
		tx.TxID = tx.ComputeTxID()
		txs = append(txs, *tx)
		txids = append(txids, tx.TxID)
	}
	return &Block{
		Header: BlockHeader{
			Height:       4,
			PrevHash:     HashHex([]byte("prev")),
			StateRoot:    HashHex([]byte("root")),
			TxMerkleRoot: ComputeTxMerkleRoot(txids),
			Timestamp:    1700000100,
			TxCount:      uint32(txCount),
		},
		Transactions: txs,
	}
}

func TestBlockCodecRoundTrip(t *testing.T) {
	block := sampleBlock(t, 3)

	data, err := EncodeBlock(block)
	require.NoError(t, err)

	decoded, err := DecodeBlock(data)
	require.NoError(t, err)
	assert.Equal(t, block, decoded)

	// byte-identical re-encode
	again, err := EncodeBlock(decoded)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestEmptyBlockCodec(t *testing.T) {
	block := sampleBlock(t, 0)

	data, err := EncodeBlock(block)
	require.NoError(t, err)

	decoded, err := DecodeBlock(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), decoded.Header.TxCount)
	assert.Empty(t, decoded.Transactions)
}

func TestDecodeBlockRejectsTrailingBytes(t *testing.T) {
	block := sampleBlock(t, 1)
	data, err := EncodeBlock(block)
	require.NoError(t, err)

	_, err = DecodeBlock(append(data, 0x00))
	assert.Error(t, err)
}

func TestDecodeBlockRejectsTruncated(t *testing.T) {
	block := sampleBlock(t, 2)
	data, err := EncodeBlock(block)
	require.NoError(t, err)

	_, err = DecodeBlock(data[:len(data)-5])
	assert.Error(t, err)
}

func TestHeaderHashChangesWithContents(t *testing.T) {
	h := sampleBlock(t, 0).Header
	hash1 := h.Hash()
	h.Height++
	assert.NotEqual(t, hash1, h.Hash())
}
