package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/pkg/database"
)

var mirrorColumns = []string{
	"id::text AS id",
	"user_id",
	"hash",
	"type",
	"description",
	"amount::text AS amount",
	"from_address",
	"to_address",
	"status",
	"tx_timestamp",
	"block_number",
	"gas_used",
	"network",
	"explorer_url",
	"is_real",
	"is_simulated",
	"created_at",
	"updated_at",
}

// TransactionsRepository stores the mirrored journal records.
type TransactionsRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
	builder    squirrel.StatementBuilderType
}

func NewTransactionsRepository(logger *slog.Logger, pg *database.Postgres) *TransactionsRepository {
	return &TransactionsRepository{
		logger:     logger,
		db:         pg.DBGetter,
		transactor: pg.Transactor,
		builder:    pg.Builder,
	}
}

// InsertTransaction stores a record under a fresh id and returns it.
func (r *TransactionsRepository) InsertTransaction(ctx context.Context, record entities.MirrorRecord) (entities.MirrorRecord, error) {
	if record.Amount == "" {
		record.Amount = "0"
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	query, args, err := r.builder.
		Insert("mirror_transactions").
		Columns("id", "user_id", "hash", "type", "description", "amount", "from_address", "to_address", "status",
			"tx_timestamp", "block_number", "gas_used", "network", "explorer_url", "is_real", "is_simulated").
		Values(uuid.New(), record.UserID, record.Hash, record.Type, record.Description, record.Amount, record.From, record.To, record.Status,
			record.Timestamp, record.BlockNumber, record.GasUsed, record.Network, record.ExplorerURL,
			record.IsRealTransaction, record.IsSimulated).
		Suffix("RETURNING " + strings.Join(mirrorColumns, ", ")).
		ToSql()
	if err != nil {
		return entities.MirrorRecord{}, fmt.Errorf("failed to build insert: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return entities.MirrorRecord{}, fmt.Errorf("failed to insert mirror transaction: %w", err)
	}

	inserted, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[entities.MirrorRecord])
	if err != nil {
		return entities.MirrorRecord{}, fmt.Errorf("failed to read inserted mirror transaction: %w", err)
	}

	r.logger.Info("Mirror transaction recorded", "id", inserted.ID, "tx_hash", inserted.Hash, "status", inserted.Status)
	return inserted, nil
}

// FindTransactions lists records newest first.
func (r *TransactionsRepository) FindTransactions(ctx context.Context, filter entities.MirrorFilter) ([]entities.MirrorRecord, error) {
	q := r.builder.
		Select(mirrorColumns...).
		From("mirror_transactions").
		OrderBy("tx_timestamp DESC", "created_at DESC")

	if filter.Hash != "" {
		q = q.Where(squirrel.Eq{"hash": filter.Hash})
	}
	if filter.UserID != "" {
		q = q.Where(squirrel.Eq{"user_id": filter.UserID})
	}
	if filter.Address != "" {
		addr := strings.ToLower(filter.Address)
		q = q.Where(squirrel.Or{
			squirrel.Eq{"lower(from_address)": addr},
			squirrel.Eq{"lower(to_address)": addr},
		})
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mirror transactions: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.MirrorRecord])
	if err != nil {
		r.logger.Error("Failed to collect mirror transaction rows", "error", err)
		return nil, err
	}

	return records, nil
}

// UpdateStatus sets the status of one record.
func (r *TransactionsRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query, args, err := r.builder.
		Update("mirror_transactions").
		Set("status", status).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update mirror transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrNotFound
	}

	r.logger.Info("Mirror transaction status updated", "id", id, "status", status)
	return nil
}
