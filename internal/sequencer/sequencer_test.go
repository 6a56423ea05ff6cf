package sequencer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/fontana/internal/db"
	"github.com/Bidon15/fontana/internal/ledger"
	"github.com/Bidon15/fontana/internal/state"
	"github.com/Bidon15/fontana/internal/types"
	"github.com/Bidon15/fontana/internal/wallet"
)

func newTestSequencer(t *testing.T) (*Sequencer, *ledger.Ledger, *db.Storage, *wallet.Wallet) {
	t.Helper()

	dbm := db.NewDatabaseManager(t.TempDir())
	store := db.NewStorage(dbm)
	bus := state.NewEventBus()

	l, err := ledger.New(store, 8, bus)
	require.NoError(t, err)

	w, err := wallet.Generate()
	require.NoError(t, err)
	require.NoError(t, l.LoadGenesis(&types.GenesisState{
		ChainID:   "fontana-test",
		Timestamp: 1700000000,
		UTXOs:     []types.GenesisUTXO{{Recipient: w.Address(), Amount: 100}},
	}))

	return NewSequencer(l, store, bus, 50*time.Millisecond, 10), l, store, w
}

func transferFromGenesis(w *wallet.Wallet, to string, amount, change, fee uint64) *types.SignedTransaction {
	outputs := []types.TxOutput{{Recipient: to, Amount: amount}}
	if change > 0 {
		outputs = append(outputs, types.TxOutput{Recipient: w.Address(), Amount: change})
	}
	tx := &types.SignedTransaction{
		Kind:        types.TxKindTransfer,
		Inputs:      []types.UTXORef{{TxID: types.GenesisTxID(0), Index: 0}},
		Outputs:     outputs,
		Fee:         fee,
		PayloadHash: types.HashHex([]byte("payload")),
		Timestamp:   time.Now().Unix(),
	}
	w.SignTransaction(tx)
	return tx
}

func TestEmptyBlockProduction(t *testing.T) {
	seq, l, store, _ := newTestSequencer(t)

	genesis, err := store.GetBlockByHeight(0)
	require.NoError(t, err)

	header, err := seq.BuildBlock()
	require.NoError(t, err)

	assert.Equal(t, uint64(1), header.Height)
	assert.Equal(t, uint32(0), header.TxCount)
	assert.Equal(t, genesis.HeaderHash, header.PrevHash)
	// empty block carries the previous state root forward
	assert.Equal(t, genesis.StateRoot, header.StateRoot)
	assert.Equal(t, l.GetCurrentStateRoot(), header.StateRoot)

	rec, err := store.GetBlockByHeight(1)
	require.NoError(t, err)
	assert.True(t, rec.LocalCommitted)
	assert.False(t, rec.DaCommitted)
	assert.Empty(t, rec.BlobRef)
}

func TestBlockIncludesPendingTxs(t *testing.T) {
	seq, l, store, w := newTestSequencer(t)

	tx := transferFromGenesis(w, "bob-address", 60, 39, 1)
	require.NoError(t, l.ApplyTransaction(tx))

	header, err := seq.BuildBlock()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), header.TxCount)
	assert.Equal(t, types.ComputeTxMerkleRoot([]string{tx.TxID}), header.TxMerkleRoot)
	// the block's state root is the root observed after its txs applied
	assert.Equal(t, l.GetCurrentStateRoot(), header.StateRoot)

	// tx no longer pending, stamped with the height
	pending, err := l.GetUnconfirmedTxs(0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	row, err := store.GetTransaction(tx.TxID)
	require.NoError(t, err)
	require.NotNil(t, row.BlockHeight)
	assert.Equal(t, uint64(1), *row.BlockHeight)

	out, err := store.GetUtxo(tx.TxID, 0)
	require.NoError(t, err)
	require.NotNil(t, out.CreatedBlock)
	assert.Equal(t, uint64(1), *out.CreatedBlock)

	spent, err := store.GetUtxo(types.GenesisTxID(0), 0)
	require.NoError(t, err)
	require.NotNil(t, spent.SpentBlock)
	assert.Equal(t, uint64(1), *spent.SpentBlock)
}

func TestBlocksFormHashChain(t *testing.T) {
	seq, _, store, _ := newTestSequencer(t)

	h1, err := seq.BuildBlock()
	require.NoError(t, err)
	h2, err := seq.BuildBlock()
	require.NoError(t, err)
	h3, err := seq.BuildBlock()
	require.NoError(t, err)

	assert.Equal(t, h1.Hash(), h2.PrevHash)
	assert.Equal(t, h2.Hash(), h3.PrevHash)
	assert.Equal(t, uint64(3), h3.Height)

	latest, err := store.GetLatestBlock()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), latest.Height)
}

func TestReceiptsWrittenOnInclusion(t *testing.T) {
	seq, l, store, w := newTestSequencer(t)

	tx := transferFromGenesis(w, "bob-address", 100, 0, 0)
	require.NoError(t, l.ApplyTransaction(tx))

	header, err := seq.BuildBlock()
	require.NoError(t, err)

	receipt, err := store.GetReceiptByTxid(tx.TxID)
	require.NoError(t, err)
	assert.Equal(t, header.Height, receipt.BlockHeight)
	assert.Equal(t, tx.PayloadHash, receipt.PayloadHash)
	assert.NotEmpty(t, receipt.ReceiptID)
}

func TestSubmitThroughWriterLoop(t *testing.T) {
	seq, _, store, w := newTestSequencer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		seq.Start(ctx)
		close(done)
	}()

	tx := transferFromGenesis(w, "bob-address", 99, 0, 1)
	require.NoError(t, seq.SubmitTransaction(ctx, tx))

	// rejected duplicates surface through the same path
	dup := transferFromGenesis(w, "bob-address", 99, 0, 1)
	err := seq.SubmitTransaction(ctx, dup)
	assert.Error(t, err)

	// wait for an interval tick to seal the tx into a block
	require.Eventually(t, func() bool {
		row, err := store.GetTransaction(tx.TxID)
		return err == nil && row.BlockHeight != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestSnapshotTakenPerBlock(t *testing.T) {
	seq, l, store, w := newTestSequencer(t)

	genesis, err := store.GetBlockByHeight(0)
	require.NoError(t, err)

	tx := transferFromGenesis(w, "bob-address", 100, 0, 0)
	require.NoError(t, l.ApplyTransaction(tx))
	h1, err := seq.BuildBlock()
	require.NoError(t, err)

	// proofs work against both the genesis root and the block-1 root
	ref := types.UTXORef{TxID: types.GenesisTxID(0), Index: 0}
	proof, err := l.GenerateUTXOProof(ref, genesis.StateRoot)
	require.NoError(t, err)
	assert.True(t, proof.Membership)

	proof, err = l.GenerateUTXOProof(ref, h1.StateRoot)
	require.NoError(t, err)
	assert.False(t, proof.Membership)
}
