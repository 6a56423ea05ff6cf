package db

import "time"

// UTXO status values.
const (
	UTXO_STATUS_UNSPENT = "unspent"
	UTXO_STATUS_SPENT   = "spent"
)

// Withdrawal status values.
const (
	WITHDRAWAL_STATUS_PENDING     = "pending"
	WITHDRAWAL_STATUS_PROOF_READY = "proof_ready"
	WITHDRAWAL_STATUS_FINALISED   = "finalised"
)

// Utxo model
type Utxo struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Txid         string    `gorm:"not null;index:unique_txid_out_index,unique" json:"txid"`
	OutIndex     uint32    `gorm:"not null;index:unique_txid_out_index,unique" json:"out_index"`
	Recipient    string    `gorm:"not null;index" json:"recipient"`
	Amount       uint64    `gorm:"not null" json:"amount"` // smallest TIA unit
	Status       string    `gorm:"not null;index" json:"status"`
	CreatedBlock *uint64   `json:"created_block"` // set when the creating tx is sequenced
	SpentBlock   *uint64   `json:"spent_block"`
	SpentByTxid  string    `json:"spent_by_txid"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

// Transaction model, Raw holds the canonical JSON including the signature.
// BlockHeight stays NULL while the tx is applied but not yet sequenced.
type Transaction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Txid        string    `gorm:"not null;uniqueIndex" json:"txid"`
	Kind        string    `gorm:"not null" json:"kind"`
	Sender      string    `gorm:"not null;index" json:"sender"`
	Fee         uint64    `gorm:"not null" json:"fee"`
	PayloadHash string    `json:"payload_hash"`
	Raw         []byte    `gorm:"not null" json:"raw"`
	ArrivedAt   time.Time `gorm:"not null;index" json:"arrived_at"`
	BlockHeight *uint64   `gorm:"index" json:"block_height"`
}

// Block model. DaCommitted implies LocalCommitted and a non-empty BlobRef;
// header fields never change after the row is written.
type Block struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Height         uint64    `gorm:"not null;uniqueIndex" json:"height"`
	HeaderHash     string    `gorm:"not null" json:"header_hash"`
	PrevHash       string    `gorm:"not null" json:"prev_hash"`
	StateRoot      string    `gorm:"not null" json:"state_root"`
	TxMerkleRoot   string    `gorm:"not null" json:"tx_merkle_root"`
	Timestamp      int64     `gorm:"not null" json:"timestamp"`
	TxCount        uint32    `gorm:"not null" json:"tx_count"`
	LocalCommitted bool      `gorm:"not null" json:"local_committed"`
	DaCommitted    bool      `gorm:"not null;index" json:"da_committed"`
	BlobRef        string    `json:"blob_ref"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

// VaultDeposit model, unique on the L1 tx hash so re-delivered deposit
// events collapse to one row.
type VaultDeposit struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	L1TxHash  string    `gorm:"not null;uniqueIndex" json:"l1_tx_hash"`
	Recipient string    `gorm:"not null" json:"recipient"`
	Amount    uint64    `gorm:"not null" json:"amount"`
	L1Height  uint64    `gorm:"not null" json:"l1_height"`
	Processed bool      `gorm:"not null" json:"processed"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// VaultWithdrawal model
type VaultWithdrawal struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	BurnTxid        string    `gorm:"not null;uniqueIndex" json:"burn_txid"`
	RecipientL1     string    `gorm:"not null" json:"recipient_l1"`
	Amount          uint64    `gorm:"not null" json:"amount"`
	StateRootAtBurn string    `gorm:"not null" json:"state_root_at_burn"`
	ProofBundle     []byte    `json:"proof_bundle"`
	L1TxHash        string    `json:"l1_tx_hash"`
	Status          string    `gorm:"not null;index" json:"status"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

// Receipt model binds an API payload hash to block inclusion.
type Receipt struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ReceiptID   string `gorm:"not null;uniqueIndex" json:"receipt_id"`
	Txid        string `gorm:"not null;uniqueIndex" json:"txid"`
	BlockHeight uint64 `gorm:"not null" json:"block_height"`
	TxIndex     uint32 `gorm:"not null" json:"tx_index"`
	PayloadHash string `json:"payload_hash"`
	IncludedAt  int64  `gorm:"not null" json:"included_at"`
}

// SystemVar model for watermarks (last L1 height scanned etc.)
type SystemVar struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"not null;uniqueIndex" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// SystemVar keys.
const (
	SYSVAR_LAST_L1_SCANNED = "last_l1_height_scanned"
	SYSVAR_CHAIN_ID        = "chain_id"
	SYSVAR_GENESIS_LOADED  = "genesis_loaded"
)
