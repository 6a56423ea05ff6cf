package da

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	goerrors "github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Bidon15/fontana/internal/db"
	"github.com/Bidon15/fontana/internal/state"
	"github.com/Bidon15/fontana/internal/types"
)

const (
	defaultPollInterval = 2 * time.Second
	initialBackoff      = time.Second
	maxBackoff          = time.Minute
	submitTimeout       = 30 * time.Second
)

// Poster drives locally committed blocks to the DA layer, strictly in
// height order: a block is not posted until every lower block carries a
// blob_ref. It only ever touches da_committed/blob_ref, so it runs beside
// the writer without coordination.
type Poster struct {
	store        *db.Storage
	client       Client
	base         types.Namespace
	bus          *state.EventBus
	pollInterval time.Duration

	retries int
}

func NewPoster(store *db.Storage, client Client, base types.Namespace, bus *state.EventBus) *Poster {
	return &Poster{
		store:        store,
		client:       client,
		base:         base,
		bus:          bus,
		pollInterval: defaultPollInterval,
	}
}

func (p *Poster) Start(ctx context.Context) {
	log.Infof("DA poster started, base namespace %s", p.base.Hex())

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.processUncommitted(ctx)
		case <-ctx.Done():
			log.Info("DA poster stopped")
			return
		}
	}
}

// processUncommitted posts as many pending blocks as it can this round. On
// a transient failure it stops advancing and backs off; the block stays
// uncommitted and is retried next round.
func (p *Poster) processUncommitted(ctx context.Context) {
	blocks, err := p.store.FetchUncommittedBlocks()
	if err != nil {
		log.Errorf("Failed to fetch uncommitted blocks: %v", err)
		return
	}

	for i := range blocks {
		if err := p.PostBlock(ctx, &blocks[i]); err != nil {
			if IsPermanent(err) {
				// Alert and hold position. Local state is valid and must
				// not be rewritten; an operator has to intervene.
				log.Errorf("CRITICAL: permanent DA failure for block %d: %v", blocks[i].Height, err)
				return
			}
			p.retries++
			delay := backoffDelay(p.retries)
			log.Warnf("DA submit for block %d failed (attempt %d), next try in %v: %v",
				blocks[i].Height, p.retries, delay, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			return
		}
		p.retries = 0
	}
}

// PostBlock serialises one block and submits it under its derived
// namespace, then records the blob reference.
func (p *Poster) PostBlock(ctx context.Context, rec *db.Block) error {
	block, err := AssembleBlock(p.store, rec)
	if err != nil {
		return goerrors.Wrap(err, 0)
	}
	data, err := types.EncodeBlock(block)
	if err != nil {
		return goerrors.Wrap(err, 0)
	}

	ns := types.DeriveBlockNamespace(p.base, rec.Height)

	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	daHeight, commitment, err := p.client.Submit(submitCtx, ns, data)
	if err != nil {
		return err
	}

	blobRef := FormatBlobRef(daHeight, commitment)
	if err := p.store.MarkBlockDACommitted(rec.Height, blobRef); err != nil {
		return goerrors.Wrap(err, 0)
	}

	if p.bus != nil {
		p.bus.Publish(state.BlockDACommitted, state.BlockDACommittedEvent{
			Height:  rec.Height,
			BlobRef: blobRef,
		})
	}

	log.Infof("Block %d posted to DA: %s", rec.Height, blobRef)
	return nil
}

// FormatBlobRef renders the stored DA reference: da:{height}:{commitment}.
func FormatBlobRef(daHeight uint64, commitment []byte) string {
	return fmt.Sprintf("da:%d:%s", daHeight, base64.StdEncoding.EncodeToString(commitment))
}

// ParseBlobRef splits a blob reference back into its parts.
func ParseBlobRef(ref string) (uint64, []byte, error) {
	var daHeight uint64
	var commitmentB64 string
	if _, err := fmt.Sscanf(ref, "da:%d:%s", &daHeight, &commitmentB64); err != nil {
		return 0, nil, fmt.Errorf("malformed blob ref %q: %w", ref, err)
	}
	commitment, err := base64.StdEncoding.DecodeString(commitmentB64)
	if err != nil {
		return 0, nil, fmt.Errorf("malformed blob ref %q: %w", ref, err)
	}
	return daHeight, commitment, nil
}

// AssembleBlock reconstitutes the canonical block for a stored record.
func AssembleBlock(store *db.Storage, rec *db.Block) (*types.Block, error) {
	rows, err := store.FetchBlockTxs(rec.Height)
	if err != nil {
		return nil, err
	}
	block := &types.Block{
		Header: types.BlockHeader{
			Height:       rec.Height,
			PrevHash:     rec.PrevHash,
			StateRoot:    rec.StateRoot,
			TxMerkleRoot: rec.TxMerkleRoot,
			Timestamp:    rec.Timestamp,
			TxCount:      rec.TxCount,
		},
		Transactions: make([]types.SignedTransaction, 0, len(rows)),
	}
	for _, row := range rows {
		var tx types.SignedTransaction
		if err := json.Unmarshal(row.Raw, &tx); err != nil {
			return nil, fmt.Errorf("decode stored tx %s: %w", row.Txid, err)
		}
		block.Transactions = append(block.Transactions, tx)
	}
	return block, nil
}

func backoffDelay(retries int) time.Duration {
	delay := initialBackoff << uint(retries-1)
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}
