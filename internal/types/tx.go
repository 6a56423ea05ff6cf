package types

import (
	"encoding/json"
	"fmt"
)

const (
	TxKindTransfer = "transfer"
	TxKindMint     = "mint"
	TxKindBurn     = "burn"
)

// UTXORef points at the output of a prior transaction.
type UTXORef struct {
	TxID  string `json:"txid"`
	Index uint32 `json:"index"`
}

func (r UTXORef) Key() string {
	return fmt.Sprintf("%s:%d", r.TxID, r.Index)
}

// TxOutput is a new credit created by a transaction.
type TxOutput struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

// SignedTransaction is the canonical rollup transaction. Amounts are in the
// smallest TIA unit. L1Recipient is set only on burns and names the L1
// address the withdrawal pays out to.
type SignedTransaction struct {
	TxID         string     `json:"txid"`
	Kind         string     `json:"kind"`
	SenderPubKey string     `json:"sender_pubkey"`
	Inputs       []UTXORef  `json:"inputs"`
	Outputs      []TxOutput `json:"outputs"`
	Fee          uint64     `json:"fee"`
	PayloadHash  string     `json:"payload_hash"`
	L1Recipient  string     `json:"l1_recipient,omitempty"`
	Timestamp    int64      `json:"timestamp"`
	Signature    string     `json:"signature"`
}

// txEnvelope is the signing/hashing view of a transaction: everything except
// the signature and the txid itself, in fixed field order.
type txEnvelope struct {
	Kind         string     `json:"kind"`
	SenderPubKey string     `json:"sender_pubkey"`
	Inputs       []UTXORef  `json:"inputs"`
	Outputs      []TxOutput `json:"outputs"`
	Fee          uint64     `json:"fee"`
	PayloadHash  string     `json:"payload_hash"`
	L1Recipient  string     `json:"l1_recipient,omitempty"`
	Timestamp    int64      `json:"timestamp"`
}

// SigningBytes returns the canonical encoding the wallet signs and the txid
// is derived from.
func (tx *SignedTransaction) SigningBytes() []byte {
	env := txEnvelope{
		Kind:         tx.Kind,
		SenderPubKey: tx.SenderPubKey,
		Inputs:       tx.Inputs,
		Outputs:      tx.Outputs,
		Fee:          tx.Fee,
		PayloadHash:  tx.PayloadHash,
		L1Recipient:  tx.L1Recipient,
		Timestamp:    tx.Timestamp,
	}
	raw, _ := json.Marshal(env)
	return raw
}

// ComputeTxID returns the deterministic transaction id.
func (tx *SignedTransaction) ComputeTxID() string {
	return HashHex(tx.SigningBytes())
}

// SenderAddress is the rollup address of the signer. Addresses are the
// base64 encoding of the ed25519 public key, so derivation is the identity.
func (tx *SignedTransaction) SenderAddress() string {
	return tx.SenderPubKey
}

func (tx *SignedTransaction) InputKeys() []string {
	keys := make([]string, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		keys = append(keys, in.Key())
	}
	return keys
}

// OutputRef returns the reference of the i-th output of this transaction.
func (tx *SignedTransaction) OutputRef(i int) UTXORef {
	return UTXORef{TxID: tx.TxID, Index: uint32(i)}
}

func (tx *SignedTransaction) TotalOutput() uint64 {
	var sum uint64
	for _, out := range tx.Outputs {
		sum += out.Amount
	}
	return sum
}

// MintTxID derives the synthetic txid for a deposit mint, unique per L1
// transaction hash so re-delivered deposits collapse to the same mint.
func MintTxID(l1TxHash string) string {
	return HashHex([]byte("mint" + l1TxHash))
}

// GenesisTxID derives the synthetic txid for the i-th genesis allocation.
func GenesisTxID(index int) string {
	return HashHex([]byte(fmt.Sprintf("genesis:%d", index)))
}
