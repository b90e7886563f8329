package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType tags a journal record. Values outside the constants are allowed.
type TransactionType string

const (
	TxCreditsPurchased TransactionType = "credits_purchased"
	TxCreditsRetired   TransactionType = "credits_retired"
	TxTransfer         TransactionType = "transfer"
)

// TransactionStatus moves pending -> success or pending -> failed, both terminal.
type TransactionStatus string

const (
	TxPending TransactionStatus = "pending"
	TxSuccess TransactionStatus = "success"
	TxFailed  TransactionStatus = "failed"
)

// Terminal reports whether no further status change is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == TxSuccess || s == TxFailed
}

// Transaction is a journal record of a real or simulated transfer.
type Transaction struct {
	ID                int               `json:"id"`
	Hash              string            `json:"hash"`
	Type              TransactionType   `json:"type"`
	Description       string            `json:"description"`
	Amount            decimal.Decimal   `json:"amount"`
	From              string            `json:"from"`
	To                string            `json:"to"`
	Status            TransactionStatus `json:"status"`
	Timestamp         time.Time         `json:"timestamp"`
	BlockNumber       int64             `json:"blockNumber"`
	GasUsed           int64             `json:"gasUsed"`
	Network           string            `json:"network"`
	ExplorerURL       string            `json:"explorerUrl"`
	IsRealTransaction bool              `json:"isRealTransaction"`
	IsSimulated       bool              `json:"isSimulated"`
}

// TransferPayload is a native coin transfer handed to a wallet for signing.
type TransferPayload struct {
	Sender string          `json:"sender"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// SubmitResult is what a wallet returns after signing and broadcasting.
type SubmitResult struct {
	Hash string `json:"hash"`
}
