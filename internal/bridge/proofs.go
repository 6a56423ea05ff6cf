package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Bidon15/fontana/internal/db"
	"github.com/Bidon15/fontana/internal/ledger"
	"github.com/Bidon15/fontana/internal/smt"
	"github.com/Bidon15/fontana/internal/state"
	"github.com/Bidon15/fontana/internal/types"
)

const proofSweepInterval = 30 * time.Second

// ProofBundle is what the L1 bridge receives to finalise a withdrawal:
// membership proofs for every burned input against the committed root the
// burn anchored to.
type ProofBundle struct {
	BurnTxid  string      `json:"burn_txid"`
	StateRoot string      `json:"state_root"`
	Proofs    []smt.Proof `json:"proofs"`
}

// ProofProcessor turns pending withdrawals into proof_ready ones. It wakes
// on withdrawal events and sweeps periodically for anything it missed.
type ProofProcessor struct {
	ledger *ledger.Ledger
	store  *db.Storage
	bus    *state.EventBus
}

func NewProofProcessor(l *ledger.Ledger, store *db.Storage, bus *state.EventBus) *ProofProcessor {
	return &ProofProcessor{ledger: l, store: store, bus: bus}
}

func (p *ProofProcessor) Start(ctx context.Context) {
	log.Info("Withdrawal proof processor started")

	events := make(chan interface{}, 16)
	if p.bus != nil {
		p.bus.Subscribe(state.WithdrawalRequested, events)
		defer p.bus.Unsubscribe(state.WithdrawalRequested, events)
	}

	ticker := time.NewTicker(proofSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-events:
			p.sweep()
		case <-ticker.C:
			p.sweep()
		case <-ctx.Done():
			log.Info("Withdrawal proof processor stopped")
			return
		}
	}
}

func (p *ProofProcessor) sweep() {
	pending, err := p.store.ListWithdrawalsByStatus(db.WITHDRAWAL_STATUS_PENDING)
	if err != nil {
		log.Errorf("Failed to list pending withdrawals: %v", err)
		return
	}
	for i := range pending {
		if err := p.process(&pending[i]); err != nil {
			log.Warnf("Proof generation for withdrawal %s: %v", pending[i].BurnTxid, err)
		}
	}
}

func (p *ProofProcessor) process(w *db.VaultWithdrawal) error {
	row, err := p.store.GetTransaction(w.BurnTxid)
	if err != nil {
		return err
	}
	var burn types.SignedTransaction
	if err := json.Unmarshal(row.Raw, &burn); err != nil {
		return err
	}

	bundle := ProofBundle{
		BurnTxid:  w.BurnTxid,
		StateRoot: w.StateRootAtBurn,
		Proofs:    make([]smt.Proof, 0, len(burn.Inputs)),
	}
	for _, in := range burn.Inputs {
		proof, err := p.ledger.GenerateUTXOProof(in, w.StateRootAtBurn)
		if errors.Is(err, ledger.ErrRootUnknown) {
			// root fell out of retention before proofs were built; the
			// withdrawal needs operator attention
			return err
		}
		if err != nil {
			return err
		}
		if !proof.Membership {
			// input was created after the anchored root; the bundle cannot
			// prove it there, leave the withdrawal pending for operator
			// review
			log.Warnf("Burn input %s absent at anchored root for withdrawal %s", in.Key(), w.BurnTxid)
			return nil
		}
		bundle.Proofs = append(bundle.Proofs, proof)
	}

	raw, err := json.Marshal(&bundle)
	if err != nil {
		return err
	}
	w.ProofBundle = raw
	w.Status = db.WITHDRAWAL_STATUS_PROOF_READY
	if err := p.store.UpsertVaultWithdrawal(w); err != nil {
		return err
	}

	if p.bus != nil {
		p.bus.Publish(state.WithdrawalProofReady, state.WithdrawalEvent{
			BurnTxid:    w.BurnTxid,
			RecipientL1: w.RecipientL1,
			Amount:      w.Amount,
		})
	}

	log.Infof("Proof bundle ready for withdrawal %s (%d inputs)", w.BurnTxid, len(bundle.Proofs))
	return nil
}
