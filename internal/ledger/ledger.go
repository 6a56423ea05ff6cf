// Package ledger owns the UTXO set: it validates signed transactions,
// applies them atomically against storage and keeps the sparse Merkle
// commitment in lockstep with the database.
package ledger

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Bidon15/fontana/internal/db"
	"github.com/Bidon15/fontana/internal/smt"
	"github.com/Bidon15/fontana/internal/state"
	"github.com/Bidon15/fontana/internal/types"
	"github.com/Bidon15/fontana/internal/wallet"
)

// Ledger is the single-writer core. All mutating entry points serialise on
// the internal mutex; read-only queries go straight to storage or to
// immutable tree snapshots.
type Ledger struct {
	mu    sync.Mutex
	store *db.Storage
	tree  *smt.Tree
	bus   *state.EventBus
}

// New builds a ledger over existing storage. The Merkle tree is rebuilt
// from the unspent UTXO table, so the tree needs no persistence of its own.
func New(store *db.Storage, rootsKept int, bus *state.EventBus) (*Ledger, error) {
	l := &Ledger{
		store: store,
		tree:  smt.NewTree(rootsKept),
		bus:   bus,
	}

	utxos, err := store.FetchAllUnspent()
	if err != nil {
		return nil, &StorageError{Err: err}
	}
	for _, u := range utxos {
		ref := types.UTXORef{TxID: u.Txid, Index: u.OutIndex}
		l.tree.Put(smt.KeyFor(ref), smt.LeafHash(u.Recipient, u.Amount, ref))
	}

	// Re-anchor the latest block's snapshot so proofs against the tip root
	// work right after a restart. If transactions were applied after that
	// block the rebuilt root has moved past it and the snapshot waits for
	// the next sealed block.
	if latest, err := store.GetLatestBlock(); err == nil {
		if types.HashToHex(l.tree.Root()) == latest.StateRoot {
			l.tree.Snapshot(latest.Height)
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &StorageError{Err: err}
	}

	log.Infof("Ledger initialized with %d unspent UTXOs, state root %s", len(utxos), l.GetCurrentStateRoot())
	return l, nil
}

// Store exposes the underlying storage for read-only collaborators.
func (l *Ledger) Store() *db.Storage {
	return l.store
}

// ApplyTransaction validates tx and applies it atomically. On any
// validation failure nothing changes and a *ValidationError is returned.
func (l *Ledger) ApplyTransaction(tx *types.SignedTransaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applyLocked(tx, false)
}

func (l *Ledger) applyLocked(tx *types.SignedTransaction, synthetic bool) error {
	if err := l.validateStructure(tx); err != nil {
		return err
	}
	if !synthetic {
		if !verifySignature(tx) {
			return validationErr(ErrInvalidSignature, "txid %s", tx.TxID)
		}
	}

	inputs, err := l.checkInputsSpendable(tx)
	if err != nil {
		return err
	}
	l1Amount, err := checkConservation(tx, inputs)
	if err != nil {
		return err
	}

	// Burns anchor their withdrawal proof to the last committed block
	// root: that root is retained, published in a header and verifiable by
	// the L1 bridge, unlike the live mid-block root.
	var rootAtBurn string
	if tx.Kind == types.TxKindBurn {
		latest, err := l.store.GetLatestBlock()
		if err != nil {
			return &StorageError{Err: err}
		}
		rootAtBurn = latest.StateRoot
	}

	raw, err := json.Marshal(tx)
	if err != nil {
		return validationErr(ErrMalformedTransaction, "encode: %v", err)
	}

	err = l.store.Tx(func(st *db.Storage) error {
		for _, in := range tx.Inputs {
			if err := st.MarkUtxoSpent(in.TxID, in.Index, tx.TxID); err != nil {
				return err
			}
		}
		for i, out := range tx.Outputs {
			if err := st.InsertUtxo(&db.Utxo{
				Txid:      tx.TxID,
				OutIndex:  uint32(i),
				Recipient: out.Recipient,
				Amount:    out.Amount,
				Status:    db.UTXO_STATUS_UNSPENT,
			}); err != nil {
				return err
			}
		}
		if err := st.InsertTransaction(&db.Transaction{
			Txid:        tx.TxID,
			Kind:        tx.Kind,
			Sender:      tx.SenderAddress(),
			Fee:         tx.Fee,
			PayloadHash: tx.PayloadHash,
			Raw:         raw,
			ArrivedAt:   time.Now(),
		}); err != nil {
			return err
		}
		if tx.Kind == types.TxKindBurn {
			return st.UpsertVaultWithdrawal(&db.VaultWithdrawal{
				BurnTxid:        tx.TxID,
				RecipientL1:     tx.L1Recipient,
				Amount:          l1Amount,
				StateRootAtBurn: rootAtBurn,
				Status:          db.WITHDRAWAL_STATUS_PENDING,
			})
		}
		return nil
	})
	if err != nil {
		return &StorageError{Err: err}
	}

	// Storage committed; bring the tree to the same version. The tree is
	// never mutated on a failed commit.
	for _, in := range tx.Inputs {
		l.tree.Delete(smt.KeyFor(in))
	}
	for i, out := range tx.Outputs {
		ref := tx.OutputRef(i)
		l.tree.Put(smt.KeyFor(ref), smt.LeafHash(out.Recipient, out.Amount, ref))
	}

	if l.bus != nil {
		l.bus.Publish(state.TransactionApplied, state.TxAppliedEvent{
			Txid:   tx.TxID,
			Kind:   tx.Kind,
			Sender: tx.SenderAddress(),
		})
		if tx.Kind == types.TxKindBurn {
			l.bus.Publish(state.WithdrawalRequested, state.WithdrawalEvent{
				BurnTxid:    tx.TxID,
				RecipientL1: tx.L1Recipient,
				Amount:      l1Amount,
			})
		}
	}

	log.Debugf("Applied %s tx %s, state root %s", tx.Kind, tx.TxID, l.GetCurrentStateRoot())
	return nil
}

func (l *Ledger) validateStructure(tx *types.SignedTransaction) error {
	switch tx.Kind {
	case types.TxKindTransfer:
		if len(tx.Inputs) == 0 {
			return validationErr(ErrMalformedTransaction, "transfer needs at least one input")
		}
		if len(tx.Outputs) == 0 {
			return validationErr(ErrMalformedTransaction, "transfer needs at least one output")
		}
	case types.TxKindMint:
		// mints are synthesised internally from vault deposits and never
		// accepted through the signed-transaction path; a self-signed mint
		// would create value from nothing
		return validationErr(ErrMalformedTransaction, "mints cannot be submitted")
	case types.TxKindBurn:
		if len(tx.Inputs) == 0 {
			return validationErr(ErrMalformedTransaction, "burn needs at least one input")
		}
		// a single change output back to the sender is allowed
		if len(tx.Outputs) > 1 {
			return validationErr(ErrMalformedTransaction, "burn allows at most one change output")
		}
		if len(tx.Outputs) == 1 && tx.Outputs[0].Recipient != tx.SenderAddress() {
			return validationErr(ErrMalformedTransaction, "burn change must return to sender")
		}
		if tx.L1Recipient == "" {
			return validationErr(ErrMalformedTransaction, "burn needs an l1 recipient")
		}
	default:
		return validationErr(ErrMalformedTransaction, "unknown kind %q", tx.Kind)
	}

	for i, out := range tx.Outputs {
		if out.Recipient == "" {
			return validationErr(ErrMalformedTransaction, "output %d has no recipient", i)
		}
		if out.Amount == 0 {
			return validationErr(ErrMalformedTransaction, "output %d has zero amount", i)
		}
	}

	if tx.TxID == "" || tx.TxID != tx.ComputeTxID() {
		return validationErr(ErrMalformedTransaction, "txid does not match canonical contents")
	}
	return nil
}

func (l *Ledger) checkInputsSpendable(tx *types.SignedTransaction) ([]db.Utxo, error) {
	sender := tx.SenderAddress()
	inputs := make([]db.Utxo, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		u, err := l.store.GetUtxo(in.TxID, in.Index)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationErr(ErrInputNotFound, "%s", in.Key())
		}
		if err != nil {
			return nil, &StorageError{Err: err}
		}
		if u.Status != db.UTXO_STATUS_UNSPENT {
			return nil, validationErr(ErrInputAlreadySpent, "%s", in.Key())
		}
		if u.Recipient != sender {
			return nil, validationErr(ErrMalformedTransaction, "input %s does not belong to sender", in.Key())
		}
		inputs = append(inputs, *u)
	}
	return inputs, nil
}

// checkConservation enforces value balance and, for burns, returns the
// amount leaving the rollup.
func checkConservation(tx *types.SignedTransaction, inputs []db.Utxo) (uint64, error) {
	var totalIn uint64
	for _, u := range inputs {
		totalIn += u.Amount
	}
	totalOut := tx.TotalOutput()

	switch tx.Kind {
	case types.TxKindBurn:
		if totalIn < totalOut+tx.Fee {
			return 0, validationErr(ErrInsufficientFunds, "%d < %d + %d", totalIn, totalOut, tx.Fee)
		}
		l1Amount := totalIn - totalOut - tx.Fee
		if l1Amount == 0 {
			return 0, validationErr(ErrMalformedTransaction, "burn withdraws nothing")
		}
		return l1Amount, nil
	default:
		// transfers balance exactly: inputs = outputs + fee
		if totalIn != totalOut+tx.Fee {
			return 0, validationErr(ErrConservationViolation, "inputs %d, outputs %d, fee %d", totalIn, totalOut, tx.Fee)
		}
		return 0, nil
	}
}

func verifySignature(tx *types.SignedTransaction) bool {
	return wallet.Verify(tx.SenderAddress(), tx.SigningBytes(), tx.Signature)
}

// GetBalance sums the unspent UTXOs held by an address.
func (l *Ledger) GetBalance(address string) (uint64, error) {
	return l.store.GetBalance(address)
}

// GetUnconfirmedTxs returns applied transactions not yet included in a
// block, in block selection order.
func (l *Ledger) GetUnconfirmedTxs(limit int) ([]types.SignedTransaction, error) {
	rows, err := l.store.FetchUnconfirmedTxs(limit)
	if err != nil {
		return nil, &StorageError{Err: err}
	}
	txs := make([]types.SignedTransaction, 0, len(rows))
	for _, row := range rows {
		var tx types.SignedTransaction
		if err := json.Unmarshal(row.Raw, &tx); err != nil {
			return nil, &StorageError{Err: err}
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// GetCurrentStateRoot returns the live Merkle root in hex.
func (l *Ledger) GetCurrentStateRoot() string {
	return types.HashToHex(l.tree.Root())
}

// SnapshotAt retains the current tree version under a block height.
func (l *Ledger) SnapshotAt(height uint64) {
	l.tree.Snapshot(height)
}

// CheckIntegrity recomputes the root from the UTXO table and compares it to
// the live tree. A mismatch means storage and commitment diverged, which is
// unrecoverable.
func (l *Ledger) CheckIntegrity() error {
	utxos, err := l.store.FetchAllUnspent()
	if err != nil {
		return &StorageError{Err: err}
	}
	fresh := smt.NewTree(1)
	for _, u := range utxos {
		ref := types.UTXORef{TxID: u.Txid, Index: u.OutIndex}
		fresh.Put(smt.KeyFor(ref), smt.LeafHash(u.Recipient, u.Amount, ref))
	}
	if fresh.Root() != l.tree.Root() {
		return errors.New("state divergence: merkle root does not match UTXO table")
	}
	return nil
}
