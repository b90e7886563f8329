package handlers

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/internal/wallet"
)

type WalletSession interface {
	HandleEvent(ctx context.Context, ev wallet.Event) error
	SetUser(userID string)
	Snapshot() wallet.Snapshot
	RefreshBalance(ctx context.Context) decimal.Decimal
	Spend(ctx context.Context, txType entities.TransactionType, description string, amount decimal.Decimal, to string) (entities.Transaction, error)
	PurchaseCredits(ctx context.Context, p wallet.Purchase) (entities.Transaction, error)
	RetireCredits(ctx context.Context, projectName string, credits int) (entities.Transaction, error)
	MyTransactions() []entities.Transaction
	MyTotalSpent() decimal.Decimal
}

// AdapterFactory builds the wallet adapter for a connect request. address may be empty.
type AdapterFactory func(address string) (wallet.Adapter, error)
