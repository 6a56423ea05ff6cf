// Package sequencer owns block production. It is the single writer over
// the ledger: ingress handlers post transactions into a bounded mailbox and
// the run loop serialises them, so block height and state roots advance in
// one total order.
package sequencer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Bidon15/fontana/internal/db"
	"github.com/Bidon15/fontana/internal/ledger"
	"github.com/Bidon15/fontana/internal/state"
	"github.com/Bidon15/fontana/internal/types"
)

const mailboxSize = 256

type txRequest struct {
	tx   *types.SignedTransaction
	resp chan error
}

type Sequencer struct {
	ledger   *ledger.Ledger
	store    *db.Storage
	bus      *state.EventBus
	interval time.Duration
	maxBatch int
	mailbox  chan txRequest
}

func NewSequencer(l *ledger.Ledger, store *db.Storage, bus *state.EventBus, interval time.Duration, maxBatch int) *Sequencer {
	return &Sequencer{
		ledger:   l,
		store:    store,
		bus:      bus,
		interval: interval,
		maxBatch: maxBatch,
		mailbox:  make(chan txRequest, mailboxSize),
	}
}

// SubmitTransaction hands a transaction to the writer and waits for the
// apply result. This is the only mutating entry point for ingress.
func (s *Sequencer) SubmitTransaction(ctx context.Context, tx *types.SignedTransaction) error {
	req := txRequest{tx: tx, resp: make(chan error, 1)}
	select {
	case s.mailbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the writer loop until ctx is cancelled. Blocks are produced on
// the interval tick even when no transactions are pending; a full batch
// triggers production immediately.
func (s *Sequencer) Start(ctx context.Context) {
	log.Infof("Sequencer started, interval %v, max batch %d", s.interval, s.maxBatch)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case req := <-s.mailbox:
			req.resp <- s.ledger.ApplyTransaction(req.tx)
			if s.batchFull() {
				s.produceBlock()
				ticker.Reset(s.interval)
			}
		case <-ticker.C:
			s.produceBlock()
		case <-ctx.Done():
			s.drain()
			log.Info("Sequencer stopped")
			return
		}
	}
}

// drain empties the mailbox on shutdown so no submitter is left hanging.
func (s *Sequencer) drain() {
	for {
		select {
		case req := <-s.mailbox:
			req.resp <- s.ledger.ApplyTransaction(req.tx)
		default:
			return
		}
	}
}

func (s *Sequencer) batchFull() bool {
	if s.maxBatch <= 0 {
		return false
	}
	n, err := s.store.CountUnconfirmedTxs()
	if err != nil {
		log.Warnf("Failed to count pending transactions: %v", err)
		return false
	}
	return n >= int64(s.maxBatch)
}

func (s *Sequencer) produceBlock() {
	if _, err := s.BuildBlock(); err != nil {
		log.Errorf("Failed to build block: %v", err)
	}
}

// BuildBlock seals the currently pending transactions (possibly none) into
// the next block. The header's state root is the ledger root as of now:
// included transactions were already applied when accepted.
func (s *Sequencer) BuildBlock() (*types.BlockHeader, error) {
	pending, err := s.ledger.GetUnconfirmedTxs(s.maxBatch)
	if err != nil {
		return nil, err
	}

	prev, err := s.store.GetLatestBlock()
	if err != nil {
		return nil, errors.New("no local chain; load genesis before sequencing")
	}

	height := prev.Height + 1
	txids := make([]string, 0, len(pending))
	for i := range pending {
		txids = append(txids, pending[i].TxID)
	}

	header := types.BlockHeader{
		Height:       height,
		PrevHash:     prev.HeaderHash,
		StateRoot:    s.ledger.GetCurrentStateRoot(),
		TxMerkleRoot: types.ComputeTxMerkleRoot(txids),
		Timestamp:    time.Now().Unix(),
		TxCount:      uint32(len(pending)),
	}

	err = s.store.Tx(func(st *db.Storage) error {
		if err := st.InsertBlock(&db.Block{
			Height:         height,
			HeaderHash:     header.Hash(),
			PrevHash:       header.PrevHash,
			StateRoot:      header.StateRoot,
			TxMerkleRoot:   header.TxMerkleRoot,
			Timestamp:      header.Timestamp,
			TxCount:        header.TxCount,
			LocalCommitted: true,
			DaCommitted:    false,
		}); err != nil {
			return err
		}
		if err := st.AssignBlockHeight(height, txids); err != nil {
			return err
		}
		for i := range pending {
			if pending[i].PayloadHash == "" {
				continue
			}
			if err := st.InsertReceipt(&db.Receipt{
				ReceiptID:   uuid.NewString(),
				Txid:        pending[i].TxID,
				BlockHeight: height,
				TxIndex:     uint32(i),
				PayloadHash: pending[i].PayloadHash,
				IncludedAt:  header.Timestamp,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.ledger.SnapshotAt(height)

	if s.bus != nil {
		s.bus.Publish(state.BlockCreated, state.BlockCreatedEvent{
			Height:     height,
			HeaderHash: header.Hash(),
			StateRoot:  header.StateRoot,
			TxCount:    header.TxCount,
		})
	}

	log.Infof("Built block %d with %d transactions, state root %s", height, header.TxCount, header.StateRoot)
	return &header, nil
}
