// Package bridge connects L1 vault activity to the ledger: deposits become
// mints, confirmed withdrawals are finalised, and pending withdrawals get
// their proof bundles built.
package bridge

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/Bidon15/fontana/internal/db"
	"github.com/Bidon15/fontana/internal/ledger"
	"github.com/Bidon15/fontana/internal/state"
)

// DepositEvent is a confirmed transfer into the vault on L1.
type DepositEvent struct {
	L1TxHash  string
	Recipient string // rollup address to credit
	Amount    uint64
	L1Height  uint64
}

// WithdrawalConfirmation reports an L1 payout for a recorded burn.
type WithdrawalConfirmation struct {
	BurnTxid string
	L1TxHash string
}

type Handler struct {
	ledger *ledger.Ledger
	store  *db.Storage
	bus    *state.EventBus
}

func NewHandler(l *ledger.Ledger, store *db.Storage, bus *state.EventBus) *Handler {
	return &Handler{ledger: l, store: store, bus: bus}
}

// HandleDepositReceived records a deposit and mints the matching UTXO.
// Re-delivery of the same L1 tx hash is a no-op.
func (h *Handler) HandleDepositReceived(ev DepositEvent) error {
	if ev.L1TxHash == "" || ev.Recipient == "" || ev.Amount == 0 {
		return fmt.Errorf("deposit event missing required fields: %+v", ev)
	}

	created, err := h.store.InsertVaultDeposit(&db.VaultDeposit{
		L1TxHash:  ev.L1TxHash,
		Recipient: ev.Recipient,
		Amount:    ev.Amount,
		L1Height:  ev.L1Height,
	})
	if err != nil {
		return err
	}
	if !created {
		dep, err := h.store.GetVaultDeposit(ev.L1TxHash)
		if err != nil {
			return err
		}
		if dep.Processed {
			log.Debugf("Deposit %s already processed", ev.L1TxHash)
			return nil
		}
		// known but unprocessed: a previous attempt died before the mint;
		// fall through and retry it
	}

	if err := h.ledger.ProcessDepositEvent(ev.L1TxHash, ev.Recipient, ev.Amount); err != nil {
		return err
	}

	if h.bus != nil {
		h.bus.Publish(state.DepositReceived, state.DepositReceivedEvent{
			L1TxHash:  ev.L1TxHash,
			Recipient: ev.Recipient,
			Amount:    ev.Amount,
		})
	}
	return nil
}

// HandleWithdrawalConfirmed finalises a withdrawal. A confirmation for an
// unknown burn is a hard error: it means the vault paid out something the
// rollup never burned.
func (h *Handler) HandleWithdrawalConfirmed(conf WithdrawalConfirmation) error {
	if err := h.ledger.ProcessWithdrawalEvent(conf.BurnTxid, conf.L1TxHash); err != nil {
		return fmt.Errorf("withdrawal confirmation %s: %w", conf.BurnTxid, err)
	}

	if h.bus != nil {
		h.bus.Publish(state.WithdrawalFinalized, state.WithdrawalEvent{
			BurnTxid: conf.BurnTxid,
		})
	}
	return nil
}
