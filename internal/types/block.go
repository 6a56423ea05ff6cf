package types

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// BlockHeader commits to the chain position, the UTXO state after the block
// and the transactions it contains.
type BlockHeader struct {
	Height       uint64 `json:"height"`
	PrevHash     string `json:"prev_hash"`
	StateRoot    string `json:"state_root"`
	TxMerkleRoot string `json:"tx_merkle_root"`
	Timestamp    int64  `json:"timestamp"`
	TxCount      uint32 `json:"tx_count"`
}

// CanonicalBytes is the encoding the header hash and the DA blob use.
func (h *BlockHeader) CanonicalBytes() []byte {
	raw, _ := json.Marshal(h)
	return raw
}

// Hash returns the header hash in hex. Successive headers chain on it.
func (h *BlockHeader) Hash() string {
	return HashHex(h.CanonicalBytes())
}

type Block struct {
	Header       BlockHeader         `json:"header"`
	Transactions []SignedTransaction `json:"transactions"`
}

const maxBlobField = 1 << 26 // 64 MiB, sanity bound when decoding untrusted blobs

// EncodeBlock serialises a block into the canonical DA blob layout:
// len(header) || header || tx_count || (len(tx) || tx)*, all integers
// big-endian u32. Empty blocks carry only the header and a zero count.
func EncodeBlock(b *Block) ([]byte, error) {
	var buf bytes.Buffer

	header := b.Header.CanonicalBytes()
	if err := writeField(&buf, header); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(b.Transactions))); err != nil {
		return nil, err
	}
	for i := range b.Transactions {
		raw, err := json.Marshal(&b.Transactions[i])
		if err != nil {
			return nil, fmt.Errorf("encode tx %d: %w", i, err)
		}
		if err := writeField(&buf, raw); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeBlock parses canonical blob bytes back into a block.
func DecodeBlock(data []byte) (*Block, error) {
	r := bytes.NewReader(data)

	header, err := readField(r)
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	var b Block
	if err := json.Unmarshal(header, &b.Header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}

	var txCount uint32
	if err := binary.Read(r, binary.BigEndian, &txCount); err != nil {
		return nil, fmt.Errorf("decode tx count: %w", err)
	}
	if txCount > maxBlobField {
		return nil, fmt.Errorf("decode tx count: %d exceeds bound", txCount)
	}

	b.Transactions = make([]SignedTransaction, 0, txCount)
	for i := uint32(0); i < txCount; i++ {
		raw, err := readField(r)
		if err != nil {
			return nil, fmt.Errorf("decode tx %d: %w", i, err)
		}
		var tx SignedTransaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			return nil, fmt.Errorf("decode tx %d: %w", i, err)
		}
		b.Transactions = append(b.Transactions, tx)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("trailing %d bytes after block", r.Len())
	}
	return &b, nil
}

func writeField(buf *bytes.Buffer, raw []byte) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(raw))); err != nil {
		return err
	}
	_, err := buf.Write(raw)
	return err
}

func readField(r *bytes.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	if size > maxBlobField {
		return nil, fmt.Errorf("field size %d exceeds bound", size)
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}
	return raw, nil
}
