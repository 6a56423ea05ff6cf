package ledger

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Bidon15/fontana/internal/db"
	"github.com/Bidon15/fontana/internal/smt"
	"github.com/Bidon15/fontana/internal/types"
)

// LoadGenesis initialises an empty ledger from a genesis state: the initial
// UTXO set, the chain id and the height-0 header. Loading is single-shot;
// a ledger that already has a genesis block ignores the call. The whole
// load is one storage transaction.
func (l *Ledger) LoadGenesis(g *types.GenesisState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := g.Validate(); err != nil {
		return err
	}

	if _, err := l.store.GetSystemVar(db.SYSVAR_GENESIS_LOADED); err == nil {
		log.Debug("Genesis already loaded, skipping")
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return &StorageError{Err: err}
	}
	if l.tree.Len() != 0 {
		return fmt.Errorf("genesis: ledger state is not empty")
	}

	// Stage the genesis UTXOs in a scratch tree first so the header can
	// commit to the resulting root before anything is persisted.
	staged := smt.NewTree(1)
	for i, u := range g.UTXOs {
		ref := types.UTXORef{TxID: types.GenesisTxID(i), Index: 0}
		staged.Put(smt.KeyFor(ref), smt.LeafHash(u.Recipient, u.Amount, ref))
	}
	stateRoot := types.HashToHex(staged.Root())

	header := types.BlockHeader{
		Height:       0,
		PrevHash:     types.HashToHex(types.ZeroHash),
		StateRoot:    stateRoot,
		TxMerkleRoot: types.ComputeTxMerkleRoot(nil),
		Timestamp:    g.Timestamp,
		TxCount:      0,
	}

	err := l.store.Tx(func(st *db.Storage) error {
		for i, u := range g.UTXOs {
			if err := st.InsertUtxo(&db.Utxo{
				Txid:      types.GenesisTxID(i),
				OutIndex:  0,
				Recipient: u.Recipient,
				Amount:    u.Amount,
				Status:    db.UTXO_STATUS_UNSPENT,
			}); err != nil {
				return err
			}
		}
		if err := st.InsertBlock(&db.Block{
			Height:         0,
			HeaderHash:     header.Hash(),
			PrevHash:       header.PrevHash,
			StateRoot:      header.StateRoot,
			TxMerkleRoot:   header.TxMerkleRoot,
			Timestamp:      header.Timestamp,
			TxCount:        0,
			LocalCommitted: true,
			// the genesis block is distributed out of band, never posted
			DaCommitted: true,
			BlobRef:     "genesis",
		}); err != nil {
			return err
		}
		if err := st.SetSystemVar(db.SYSVAR_CHAIN_ID, g.ChainID); err != nil {
			return err
		}
		return st.SetSystemVar(db.SYSVAR_GENESIS_LOADED, "1")
	})
	if err != nil {
		return &StorageError{Err: err}
	}

	for i, u := range g.UTXOs {
		ref := types.UTXORef{TxID: types.GenesisTxID(i), Index: 0}
		l.tree.Put(smt.KeyFor(ref), smt.LeafHash(u.Recipient, u.Amount, ref))
	}
	l.tree.Snapshot(0)

	log.Infof("Genesis loaded: chain %s, %d UTXOs, state root %s", g.ChainID, len(g.UTXOs), stateRoot)
	return nil
}

// GenesisHeader rebuilds the height-0 header for a genesis state without
// touching storage; recovery verifies the trusted header against it.
func GenesisHeader(g *types.GenesisState) types.BlockHeader {
	staged := smt.NewTree(1)
	for i, u := range g.UTXOs {
		ref := types.UTXORef{TxID: types.GenesisTxID(i), Index: 0}
		staged.Put(smt.KeyFor(ref), smt.LeafHash(u.Recipient, u.Amount, ref))
	}
	return types.BlockHeader{
		Height:       0,
		PrevHash:     types.HashToHex(types.ZeroHash),
		StateRoot:    types.HashToHex(staged.Root()),
		TxMerkleRoot: types.ComputeTxMerkleRoot(nil),
		Timestamp:    g.Timestamp,
		TxCount:      0,
	}
}
