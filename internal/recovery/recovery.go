// Package recovery rebuilds node state from DA-resident block data. DA is
// authoritative: any disagreement between the replayed state and the
// fetched headers halts the rebuild with a divergence report.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"

	goerrors "github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Bidon15/fontana/internal/db"
	"github.com/Bidon15/fontana/internal/ledger"
	"github.com/Bidon15/fontana/internal/types"
)

// Divergence reasons.
var (
	ErrStateRootMismatch  = errors.New("state root mismatch")
	ErrChainDiscontinuity = errors.New("chain discontinuity")
)

// DivergenceError reports where and why the replay stopped matching DA.
type DivergenceError struct {
	Height uint64
	Reason error
	Detail string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("divergence at height %d: %s: %s", e.Height, e.Reason, e.Detail)
}

func (e *DivergenceError) Unwrap() error {
	return e.Reason
}

// BlobSource yields consecutive blocks starting at height 1, with the DA
// reference each was fetched from. io.EOF ends the stream.
type BlobSource interface {
	Next(ctx context.Context) (*types.Block, string, error)
}

// Recoverer replays a blob stream into a fresh ledger.
type Recoverer struct {
	ledger *ledger.Ledger
	store  *db.Storage
}

func NewRecoverer(l *ledger.Ledger, store *db.Storage) *Recoverer {
	return &Recoverer{ledger: l, store: store}
}

// Run initialises genesis, verifies it against the trusted header, and
// replays blocks until the source is exhausted. It returns the height of
// the last applied block.
func (r *Recoverer) Run(ctx context.Context, genesis *types.GenesisState, trusted types.BlockHeader, source BlobSource) (uint64, error) {
	if err := r.ledger.LoadGenesis(genesis); err != nil {
		return 0, goerrors.Wrap(err, 0)
	}

	genesisHeader := ledger.GenesisHeader(genesis)
	if genesisHeader.Hash() != trusted.Hash() {
		return 0, &DivergenceError{
			Height: 0,
			Reason: ErrStateRootMismatch,
			Detail: fmt.Sprintf("genesis header %s does not match trusted %s", genesisHeader.Hash(), trusted.Hash()),
		}
	}

	prev := genesisHeader
	for {
		select {
		case <-ctx.Done():
			return prev.Height, ctx.Err()
		default:
		}

		block, blobRef, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			log.Infof("Recovery complete at height %d, state root %s", prev.Height, r.ledger.GetCurrentStateRoot())
			return prev.Height, nil
		}
		if err != nil {
			return prev.Height, goerrors.Wrap(err, 0)
		}

		if err := r.applyBlock(block, blobRef, &prev); err != nil {
			return prev.Height, err
		}
	}
}

func (r *Recoverer) applyBlock(block *types.Block, blobRef string, prev *types.BlockHeader) error {
	header := block.Header

	if header.Height != prev.Height+1 {
		return &DivergenceError{
			Height: header.Height,
			Reason: ErrChainDiscontinuity,
			Detail: fmt.Sprintf("expected height %d", prev.Height+1),
		}
	}
	if header.PrevHash != prev.Hash() {
		return &DivergenceError{
			Height: header.Height,
			Reason: ErrChainDiscontinuity,
			Detail: fmt.Sprintf("prev_hash %s does not chain to %s", header.PrevHash, prev.Hash()),
		}
	}

	txids := make([]string, 0, len(block.Transactions))
	for i := range block.Transactions {
		tx := &block.Transactions[i]
		if err := r.ledger.ReplayTransaction(tx); err != nil {
			return &DivergenceError{
				Height: header.Height,
				Reason: ErrStateRootMismatch,
				Detail: fmt.Sprintf("tx %s rejected during replay: %v", tx.TxID, err),
			}
		}
		txids = append(txids, tx.TxID)
	}

	got := r.ledger.GetCurrentStateRoot()
	if got != header.StateRoot {
		return &DivergenceError{
			Height: header.Height,
			Reason: ErrStateRootMismatch,
			Detail: fmt.Sprintf("replayed root %s, header root %s", got, header.StateRoot),
		}
	}

	err := r.store.Tx(func(st *db.Storage) error {
		if err := st.InsertBlock(&db.Block{
			Height:         header.Height,
			HeaderHash:     header.Hash(),
			PrevHash:       header.PrevHash,
			StateRoot:      header.StateRoot,
			TxMerkleRoot:   header.TxMerkleRoot,
			Timestamp:      header.Timestamp,
			TxCount:        header.TxCount,
			LocalCommitted: true,
			DaCommitted:    true,
			BlobRef:        blobRef,
		}); err != nil {
			return err
		}
		return st.AssignBlockHeight(header.Height, txids)
	})
	if err != nil {
		return goerrors.Wrap(err, 0)
	}

	r.ledger.SnapshotAt(header.Height)
	*prev = header

	log.Debugf("Recovered block %d (%d txs)", header.Height, header.TxCount)
	return nil
}
