package db

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Storage exposes the transactional table operations the ledger pipeline
// uses. Methods are safe on either a root handle or a transaction handle
// obtained through Tx.
type Storage struct {
	db *gorm.DB
}

func NewStorage(dbm *DatabaseManager) *Storage {
	return &Storage{db: dbm.GetLedgerDB()}
}

// NewStorageWithDB wraps a raw gorm handle (used by Tx and tests).
func NewStorageWithDB(db *gorm.DB) *Storage {
	return &Storage{db: db}
}

// Tx runs fn inside one storage transaction. The ledger's writes for one
// applied transaction (UTXO rows, the transaction row, a burn's withdrawal
// row) go through here; the validation reads before them and a deposit's
// processed flag are done outside it.
func (s *Storage) Tx(fn func(tx *Storage) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Storage{db: tx})
	})
}

// ---- UTXOs ----

func (s *Storage) InsertUtxo(u *Utxo) error {
	u.UpdatedAt = time.Now()
	return s.db.Create(u).Error
}

// GetUtxo fetches a UTXO row regardless of status.
func (s *Storage) GetUtxo(txid string, outIndex uint32) (*Utxo, error) {
	var u Utxo
	if err := s.db.Where("txid = ? AND out_index = ?", txid, outIndex).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// MarkUtxoSpent transitions a UTXO to spent. The status guard makes a
// concurrent double-spend surface as zero affected rows.
func (s *Storage) MarkUtxoSpent(txid string, outIndex uint32, spenderTxid string) error {
	res := s.db.Model(&Utxo{}).
		Where("txid = ? AND out_index = ? AND status = ?", txid, outIndex, UTXO_STATUS_UNSPENT).
		Updates(map[string]interface{}{
			"status":        UTXO_STATUS_SPENT,
			"spent_by_txid": spenderTxid,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Storage) FetchUnspentByAddress(addr string) ([]Utxo, error) {
	var utxos []Utxo
	err := s.db.Where("recipient = ? AND status = ?", addr, UTXO_STATUS_UNSPENT).
		Order("id asc").Find(&utxos).Error
	return utxos, err
}

func (s *Storage) FetchAllUnspent() ([]Utxo, error) {
	var utxos []Utxo
	err := s.db.Where("status = ?", UTXO_STATUS_UNSPENT).Order("id asc").Find(&utxos).Error
	return utxos, err
}

func (s *Storage) GetBalance(addr string) (uint64, error) {
	var balance uint64
	err := s.db.Model(&Utxo{}).
		Where("recipient = ? AND status = ?", addr, UTXO_STATUS_UNSPENT).
		Select("COALESCE(SUM(amount), 0)").Scan(&balance).Error
	return balance, err
}

func (s *Storage) SumUnspent() (uint64, error) {
	var total uint64
	err := s.db.Model(&Utxo{}).
		Where("status = ?", UTXO_STATUS_UNSPENT).
		Select("COALESCE(SUM(amount), 0)").Scan(&total).Error
	return total, err
}

// ---- Transactions ----

func (s *Storage) InsertTransaction(t *Transaction) error {
	if t.ArrivedAt.IsZero() {
		t.ArrivedAt = time.Now()
	}
	return s.db.Create(t).Error
}

func (s *Storage) GetTransaction(txid string) (*Transaction, error) {
	var t Transaction
	if err := s.db.Where("txid = ?", txid).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// FetchUnconfirmedTxs returns applied-but-unsequenced transactions in
// selection order: arrival first, txid as tie-breaker.
func (s *Storage) FetchUnconfirmedTxs(limit int) ([]Transaction, error) {
	var txs []Transaction
	q := s.db.Where("block_height IS NULL").Order("arrived_at asc, txid asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&txs).Error
	return txs, err
}

func (s *Storage) CountUnconfirmedTxs() (int64, error) {
	var n int64
	err := s.db.Model(&Transaction{}).Where("block_height IS NULL").Count(&n).Error
	return n, err
}

// AssignBlockHeight stamps sequenced transactions and their UTXO side
// effects with the block height.
func (s *Storage) AssignBlockHeight(height uint64, txids []string) error {
	if len(txids) == 0 {
		return nil
	}
	if err := s.db.Model(&Transaction{}).
		Where("txid IN ?", txids).
		Update("block_height", height).Error; err != nil {
		return err
	}
	if err := s.db.Model(&Utxo{}).
		Where("txid IN ?", txids).
		Update("created_block", height).Error; err != nil {
		return err
	}
	return s.db.Model(&Utxo{}).
		Where("spent_by_txid IN ?", txids).
		Update("spent_block", height).Error
}

// ---- Blocks ----

func (s *Storage) InsertBlock(b *Block) error {
	b.UpdatedAt = time.Now()
	return s.db.Create(b).Error
}

func (s *Storage) GetLatestBlock() (*Block, error) {
	var b Block
	if err := s.db.Order("height desc").First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Storage) GetBlockByHeight(height uint64) (*Block, error) {
	var b Block
	if err := s.db.Where("height = ?", height).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// FetchUncommittedBlocks returns locally committed blocks awaiting DA, in
// ascending height order.
func (s *Storage) FetchUncommittedBlocks() ([]Block, error) {
	var blocks []Block
	err := s.db.Where("da_committed = ?", false).Order("height asc").Find(&blocks).Error
	return blocks, err
}

func (s *Storage) MarkBlockDACommitted(height uint64, blobRef string) error {
	res := s.db.Model(&Block{}).
		Where("height = ? AND da_committed = ?", height, false).
		Updates(map[string]interface{}{
			"da_committed": true,
			"blob_ref":     blobRef,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FetchBlockTxs returns the transactions sequenced into a block, in
// selection order.
func (s *Storage) FetchBlockTxs(height uint64) ([]Transaction, error) {
	var txs []Transaction
	err := s.db.Where("block_height = ?", height).
		Order("arrived_at asc, txid asc").Find(&txs).Error
	return txs, err
}

// ---- Vault deposits / withdrawals ----

// InsertVaultDeposit stores a deposit if it is not already known. The bool
// result reports whether the row was created.
func (s *Storage) InsertVaultDeposit(d *VaultDeposit) (bool, error) {
	var existing VaultDeposit
	err := s.db.Where("l1_tx_hash = ?", d.L1TxHash).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	d.UpdatedAt = time.Now()
	if err := s.db.Create(d).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (s *Storage) GetVaultDeposit(l1TxHash string) (*VaultDeposit, error) {
	var d VaultDeposit
	if err := s.db.Where("l1_tx_hash = ?", l1TxHash).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Storage) MarkDepositProcessed(l1TxHash string) error {
	return s.db.Model(&VaultDeposit{}).
		Where("l1_tx_hash = ?", l1TxHash).
		Updates(map[string]interface{}{"processed": true, "updated_at": time.Now()}).Error
}

func (s *Storage) UpsertVaultWithdrawal(w *VaultWithdrawal) error {
	var existing VaultWithdrawal
	err := s.db.Where("burn_txid = ?", w.BurnTxid).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		w.UpdatedAt = time.Now()
		return s.db.Create(w).Error
	}
	if err != nil {
		return err
	}
	w.ID = existing.ID
	w.UpdatedAt = time.Now()
	return s.db.Save(w).Error
}

func (s *Storage) GetVaultWithdrawal(burnTxid string) (*VaultWithdrawal, error) {
	var w VaultWithdrawal
	if err := s.db.Where("burn_txid = ?", burnTxid).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Storage) ListWithdrawalsByStatus(status string) ([]VaultWithdrawal, error) {
	var ws []VaultWithdrawal
	err := s.db.Where("status = ?", status).Order("id asc").Find(&ws).Error
	return ws, err
}

// ---- Receipts ----

func (s *Storage) InsertReceipt(r *Receipt) error {
	return s.db.Create(r).Error
}

func (s *Storage) GetReceiptByTxid(txid string) (*Receipt, error) {
	var r Receipt
	if err := s.db.Where("txid = ?", txid).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ---- System vars ----

func (s *Storage) GetSystemVar(key string) (string, error) {
	var v SystemVar
	if err := s.db.Where("key = ?", key).First(&v).Error; err != nil {
		return "", err
	}
	return v.Value, nil
}

func (s *Storage) SetSystemVar(key, value string) error {
	var existing SystemVar
	err := s.db.Where("key = ?", key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&SystemVar{Key: key, Value: value, UpdatedAt: time.Now()}).Error
	}
	if err != nil {
		return err
	}
	existing.Value = value
	existing.UpdatedAt = time.Now()
	return s.db.Save(&existing).Error
}
