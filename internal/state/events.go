package state

// Payloads published on the event bus.

type TxAppliedEvent struct {
	Txid   string
	Kind   string
	Sender string
}

type BlockCreatedEvent struct {
	Height     uint64
	HeaderHash string
	StateRoot  string
	TxCount    uint32
}

type BlockDACommittedEvent struct {
	Height  uint64
	BlobRef string
}

type DepositReceivedEvent struct {
	L1TxHash  string
	Recipient string
	Amount    uint64
}

type WithdrawalEvent struct {
	BurnTxid    string
	RecipientL1 string
	Amount      uint64
}
