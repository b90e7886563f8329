package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// MirrorRecord is a transaction as kept by the remote mirror service.
type MirrorRecord struct {
	ID                string    `json:"id"                db:"id"`
	UserID            string    `json:"userId"            db:"user_id"`
	Hash              string    `json:"hash"              db:"hash"`
	Type              string    `json:"type"              db:"type"`
	Description       string    `json:"description"       db:"description"`
	Amount            string    `json:"amount"            db:"amount"`
	From              string    `json:"from"              db:"from_address"`
	To                string    `json:"to"                db:"to_address"`
	Status            string    `json:"status"            db:"status"`
	Timestamp         time.Time `json:"timestamp"         db:"tx_timestamp"`
	BlockNumber       int64     `json:"blockNumber"       db:"block_number"`
	GasUsed           int64     `json:"gasUsed"           db:"gas_used"`
	Network           string    `json:"network"           db:"network"`
	ExplorerURL       string    `json:"explorerUrl"       db:"explorer_url"`
	IsRealTransaction bool      `json:"isRealTransaction" db:"is_real"`
	IsSimulated       bool      `json:"isSimulated"       db:"is_simulated"`
	CreatedAt         time.Time `json:"createdAt"         db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt"         db:"updated_at"`
}

// MirrorRecordFromTransaction converts a journal record of userID's bucket for the mirror.
func MirrorRecordFromTransaction(userID string, tx Transaction) MirrorRecord {
	return MirrorRecord{
		UserID:            userID,
		Hash:              tx.Hash,
		Type:              string(tx.Type),
		Description:       tx.Description,
		Amount:            tx.Amount.String(),
		From:              tx.From,
		To:                tx.To,
		Status:            string(tx.Status),
		Timestamp:         tx.Timestamp,
		BlockNumber:       tx.BlockNumber,
		GasUsed:           tx.GasUsed,
		Network:           tx.Network,
		ExplorerURL:       tx.ExplorerURL,
		IsRealTransaction: tx.IsRealTransaction,
		IsSimulated:       tx.IsSimulated,
	}
}

// Transaction converts a mirror record back to a journal record. The local id is left zero.
func (r MirrorRecord) Transaction() (Transaction, error) {
	amount := decimal.Zero
	if r.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(r.Amount)
		if err != nil {
			return Transaction{}, err
		}
	}

	return Transaction{
		Hash:              r.Hash,
		Type:              TransactionType(r.Type),
		Description:       r.Description,
		Amount:            amount,
		From:              r.From,
		To:                r.To,
		Status:            TransactionStatus(r.Status),
		Timestamp:         r.Timestamp,
		BlockNumber:       r.BlockNumber,
		GasUsed:           r.GasUsed,
		Network:           r.Network,
		ExplorerURL:       r.ExplorerURL,
		IsRealTransaction: r.IsRealTransaction,
		IsSimulated:       r.IsSimulated,
	}, nil
}

// MirrorFilter narrows a mirror listing. Empty fields match everything.
type MirrorFilter struct {
	Hash    string
	UserID  string
	Address string
	Limit   uint64
}
