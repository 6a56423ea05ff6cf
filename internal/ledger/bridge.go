package ledger

import (
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Bidon15/fontana/internal/db"
	"github.com/Bidon15/fontana/internal/smt"
	"github.com/Bidon15/fontana/internal/types"
)

// ProcessDepositEvent mints a UTXO for a vault deposit. Idempotent on the
// L1 tx hash: the deposit row, the processed flag and the deterministic
// mint txid all collapse re-deliveries to a single mint.
func (l *Ledger) ProcessDepositEvent(l1TxHash, recipient string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dep, err := l.store.GetVaultDeposit(l1TxHash)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// callers other than the bridge handler may not have recorded the
		// deposit yet; create the row so the audit table stays complete
		if _, err := l.store.InsertVaultDeposit(&db.VaultDeposit{
			L1TxHash:  l1TxHash,
			Recipient: recipient,
			Amount:    amount,
		}); err != nil {
			return &StorageError{Err: err}
		}
	case err != nil:
		return &StorageError{Err: err}
	case dep.Processed:
		log.Debugf("Deposit %s already processed, skipping", l1TxHash)
		return nil
	}

	mint := &types.SignedTransaction{
		Kind:         types.TxKindMint,
		SenderPubKey: recipient,
		Outputs:      []types.TxOutput{{Recipient: recipient, Amount: amount}},
		Fee:          0,
		Timestamp:    time.Now().Unix(),
	}
	mint.TxID = types.MintTxID(l1TxHash)

	if err := l.applyMint(mint); err != nil {
		return err
	}
	if err := l.store.MarkDepositProcessed(l1TxHash); err != nil {
		return &StorageError{Err: err}
	}

	log.Infof("Minted %d for deposit %s to %s", amount, l1TxHash, recipient)
	return nil
}

// applyMint applies a synthesised mint. The txid is taken as given (it is
// derived from the L1 tx hash, not from the canonical contents) and no
// signature exists, so the generic structural path is bypassed.
func (l *Ledger) applyMint(tx *types.SignedTransaction) error {
	if len(tx.Outputs) != 1 || tx.Outputs[0].Amount == 0 {
		return validationErr(ErrMalformedTransaction, "mint needs one non-empty output")
	}

	// An existing row for the deterministic txid means an earlier delivery
	// already minted.
	if _, err := l.store.GetTransaction(tx.TxID); err == nil {
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return &StorageError{Err: err}
	}

	raw, err := json.Marshal(tx)
	if err != nil {
		return validationErr(ErrMalformedTransaction, "encode: %v", err)
	}

	err = l.store.Tx(func(st *db.Storage) error {
		if err := st.InsertUtxo(&db.Utxo{
			Txid:      tx.TxID,
			OutIndex:  0,
			Recipient: tx.Outputs[0].Recipient,
			Amount:    tx.Outputs[0].Amount,
			Status:    db.UTXO_STATUS_UNSPENT,
		}); err != nil {
			return err
		}
		return st.InsertTransaction(&db.Transaction{
			Txid:      tx.TxID,
			Kind:      tx.Kind,
			Sender:    tx.SenderAddress(),
			Fee:       0,
			Raw:       raw,
			ArrivedAt: time.Now(),
		})
	})
	if err != nil {
		return &StorageError{Err: err}
	}

	ref := tx.OutputRef(0)
	l.tree.Put(smt.KeyFor(ref), smt.LeafHash(tx.Outputs[0].Recipient, tx.Outputs[0].Amount, ref))
	return nil
}

// ReplayTransaction applies a transaction fetched from DA during recovery.
// Mints were synthesised by the sequencer node and carry no signature, so
// they take the mint path; everything else is validated in full.
func (l *Ledger) ReplayTransaction(tx *types.SignedTransaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tx.Kind == types.TxKindMint {
		return l.applyMint(tx)
	}
	return l.applyLocked(tx, false)
}

// ProcessWithdrawalEvent finalises a withdrawal confirmed on L1. The burn
// already spent the inputs, so no UTXO changes here.
func (l *Ledger) ProcessWithdrawalEvent(burnTxid, l1TxHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, err := l.store.GetVaultWithdrawal(burnTxid)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrWithdrawalUnknown
	}
	if err != nil {
		return &StorageError{Err: err}
	}

	w.Status = db.WITHDRAWAL_STATUS_FINALISED
	w.L1TxHash = l1TxHash
	if err := l.store.UpsertVaultWithdrawal(w); err != nil {
		return &StorageError{Err: err}
	}

	log.Infof("Withdrawal %s finalised on L1 (%s)", burnTxid, l1TxHash)
	return nil
}
