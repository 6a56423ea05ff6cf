// Package wallet holds the ed25519 signing primitive. Keys live with
// clients; the node itself only ever verifies.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Wallet wraps an ed25519 key pair. The rollup address is the base64
// encoding of the public key.
type Wallet struct {
	priv ed25519.PrivateKey
}

type walletFile struct {
	PrivateKey string `json:"private_key"` // base64 of the 32-byte seed
}

func Generate() (*Wallet, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Wallet{priv: priv}, nil
}

func Load(path string) (*Wallet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet file: %w", err)
	}
	var wf walletFile
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("parse wallet file: %w", err)
	}
	seed, err := base64.StdEncoding.DecodeString(wf.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid private key length %d", len(seed))
	}
	return &Wallet{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (w *Wallet) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create wallet directory: %w", err)
	}
	raw, err := json.Marshal(walletFile{
		PrivateKey: base64.StdEncoding.EncodeToString(w.priv.Seed()),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func (w *Wallet) Address() string {
	pub := w.priv.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub)
}

func (w *Wallet) Sign(message []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(w.priv, message))
}
