package handlers

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/internal/journal"
	"github.com/sand/blue-carbon-registry/backend/internal/mirror"
)

type TransactionJournal interface {
	Scope() journal.Scope
	ListForScope() []entities.Transaction
	ListByType(txType entities.TransactionType) []entities.Transaction
	Recent(limit int) []entities.Transaction
	Find(hash string) (entities.Transaction, error)
	TotalReceived(address any) decimal.Decimal
	SyncFromServer(ctx context.Context)
}

type SyncStatusSource interface {
	Status() mirror.SyncStatus
}

// MirrorService is the server side of the transaction mirror.
type MirrorService interface {
	CreateTransaction(ctx context.Context, record entities.MirrorRecord) (entities.MirrorRecord, error)
	ListTransactions(ctx context.Context, filter entities.MirrorFilter) ([]entities.MirrorRecord, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// BadgeService is the server side of retirement badges and analytics.
type BadgeService interface {
	RecordBadge(ctx context.Context, badge entities.Badge) (entities.Badge, error)
	UserBadges(ctx context.Context, userID string) ([]entities.Badge, error)
	ProjectBadges(ctx context.Context, projectName string) ([]entities.Badge, error)
	BadgeByTransactionHash(ctx context.Context, hash string) (entities.Badge, error)
	VerifyBadge(ctx context.Context, hash string) bool
	UserBadgeStats(ctx context.Context, userID string) (entities.BadgeStats, error)
	RetirementStats(ctx context.Context, userID, projectName, timeRange string) (entities.RetirementStats, error)
	UserStats(ctx context.Context, userID string) (entities.UserStats, error)
	ProjectStats(ctx context.Context, projectName string) (entities.ProjectStats, error)
}
