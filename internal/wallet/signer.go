package wallet

import (
	"crypto/ed25519"
	"encoding/base64"

	"github.com/Bidon15/fontana/internal/types"
)

// Verify checks an ed25519 signature against a rollup address (the base64
// public key). Malformed inputs verify as false.
func Verify(address string, message []byte, signature string) bool {
	pub, err := base64.StdEncoding.DecodeString(address)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
}

// SignTransaction stamps the wallet's address onto the transaction, signs
// its canonical envelope and fills in the derived txid.
func (w *Wallet) SignTransaction(tx *types.SignedTransaction) {
	tx.SenderPubKey = w.Address()
	msg := tx.SigningBytes()
	tx.Signature = w.Sign(msg)
	tx.TxID = tx.ComputeTxID()
}
