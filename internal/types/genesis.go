package types

import (
	"encoding/json"
	"fmt"
	"os"
)

// GenesisUTXO is an initial allocation in the genesis file.
type GenesisUTXO struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

// GenesisState is the declarative initial ledger state.
type GenesisState struct {
	Version     string        `json:"version"`
	ChainID     string        `json:"chain_id"`
	Timestamp   int64         `json:"timestamp"`
	UTXOs       []GenesisUTXO `json:"utxos"`
	Description string        `json:"description,omitempty"`
}

func (g *GenesisState) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("genesis: chain_id is required")
	}
	for i, u := range g.UTXOs {
		if u.Recipient == "" {
			return fmt.Errorf("genesis: utxo %d has no recipient", i)
		}
		if u.Amount == 0 {
			return fmt.Errorf("genesis: utxo %d has zero amount", i)
		}
	}
	return nil
}

// LoadGenesisFile reads and validates a genesis file.
func LoadGenesisFile(path string) (*GenesisState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis file: %w", err)
	}
	var g GenesisState
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("parse genesis file: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}
