package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jackc/pgx/v5"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/pkg/database"
)

var badgeColumns = []string{
	"id::text AS id",
	"user_id",
	"company_name",
	"project_name",
	"credits_retired",
	"transaction_hash",
	"retirement_date",
	"verified",
	"status",
	"created_at",
}

// BadgesRepository stores retirement badges and their aggregates.
type BadgesRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
	builder    squirrel.StatementBuilderType
}

func NewBadgesRepository(logger *slog.Logger, pg *database.Postgres) *BadgesRepository {
	return &BadgesRepository{
		logger:     logger,
		db:         pg.DBGetter,
		transactor: pg.Transactor,
		builder:    pg.Builder,
	}
}

// ProjectKey is the project_stats key of a project name.
func ProjectKey(projectName string) string {
	return slug.Make(projectName)
}

// InsertBadge stores a badge and folds it into user_stats and project_stats in one transaction.
func (r *BadgesRepository) InsertBadge(ctx context.Context, badge entities.Badge) (entities.Badge, error) {
	var inserted entities.Badge

	err := r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		query, args, err := r.builder.
			Insert("badges").
			Columns("id", "user_id", "company_name", "project_name", "credits_retired",
				"transaction_hash", "retirement_date", "verified", "status").
			Values(uuid.New(), badge.UserID, badge.CompanyName, badge.ProjectName, badge.CreditsRetired,
				badge.TransactionHash, badge.RetirementDate, badge.Verified, badge.Status).
			Suffix("RETURNING " + strings.Join(badgeColumns, ", ")).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build badge insert: %w", err)
		}

		rows, err := r.db(ctx).Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to insert badge: %w", err)
		}
		inserted, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[entities.Badge])
		if err != nil {
			return fmt.Errorf("failed to read inserted badge: %w", err)
		}

		if err = r.bumpStats(ctx, "user_stats", "user_id", inserted.UserID, nil, inserted); err != nil {
			return err
		}
		extra := map[string]any{"project_name": inserted.ProjectName}
		return r.bumpStats(ctx, "project_stats", "project_key", ProjectKey(inserted.ProjectName), extra, inserted)
	})
	if err != nil {
		return entities.Badge{}, err
	}

	r.logger.Info("Badge recorded",
		"id", inserted.ID,
		"user_id", inserted.UserID,
		"project", inserted.ProjectName,
		"credits", inserted.CreditsRetired)
	return inserted, nil
}

// bumpStats upserts one aggregate row keyed by keyColumn.
func (r *BadgesRepository) bumpStats(ctx context.Context, table, keyColumn, key string, extra map[string]any, badge entities.Badge) error {
	columns := []string{keyColumn, "total_credits_retired", "total_retirements", "last_retirement_at"}
	values := []any{key, badge.CreditsRetired, 1, badge.RetirementDate}
	for column, value := range extra {
		columns = append(columns, column)
		values = append(values, value)
	}

	query, args, err := r.builder.
		Insert(table).
		Columns(columns...).
		Values(values...).
		Suffix(fmt.Sprintf(`ON CONFLICT (%[2]s) DO UPDATE SET
			total_credits_retired = %[1]s.total_credits_retired + EXCLUDED.total_credits_retired,
			total_retirements = %[1]s.total_retirements + 1,
			last_retirement_at = GREATEST(%[1]s.last_retirement_at, EXCLUDED.last_retirement_at)`, table, keyColumn)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build %s upsert: %w", table, err)
	}

	if _, err = r.db(ctx).Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	return nil
}

// FindBadges lists badges newest first.
func (r *BadgesRepository) FindBadges(ctx context.Context, filter entities.BadgeFilter) ([]entities.Badge, error) {
	q := r.builder.
		Select(badgeColumns...).
		From("badges").
		OrderBy("created_at DESC")

	if filter.UserID != "" {
		q = q.Where(squirrel.Eq{"user_id": filter.UserID})
	}
	if filter.ProjectName != "" {
		q = q.Where(squirrel.Eq{"project_name": filter.ProjectName})
	}
	if filter.TxHash != "" {
		q = q.Where(squirrel.Eq{"transaction_hash": filter.TxHash})
	}
	if !filter.Since.IsZero() {
		q = q.Where(squirrel.GtOrEq{"retirement_date": filter.Since})
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build badge select: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query badges: %w", err)
	}

	badges, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Badge])
	if err != nil {
		r.logger.Error("Failed to collect badge rows", "error", err)
		return nil, err
	}
	return badges, nil
}

func (r *BadgesRepository) FindUserStats(ctx context.Context, userID string) (entities.UserStats, error) {
	query, args, err := r.builder.
		Select("user_id", "total_credits_retired", "total_retirements", "last_retirement_at").
		From("user_stats").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return entities.UserStats{}, fmt.Errorf("failed to build user stats select: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return entities.UserStats{}, fmt.Errorf("failed to query user stats: %w", err)
	}
	stats, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[entities.UserStats])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entities.UserStats{}, entities.ErrNotFound
		}
		return entities.UserStats{}, fmt.Errorf("failed to read user stats: %w", err)
	}
	return stats, nil
}

func (r *BadgesRepository) FindProjectStats(ctx context.Context, projectName string) (entities.ProjectStats, error) {
	query, args, err := r.builder.
		Select("project_key", "project_name", "total_credits_retired", "total_retirements", "last_retirement_at").
		From("project_stats").
		Where(squirrel.Eq{"project_key": ProjectKey(projectName)}).
		ToSql()
	if err != nil {
		return entities.ProjectStats{}, fmt.Errorf("failed to build project stats select: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return entities.ProjectStats{}, fmt.Errorf("failed to query project stats: %w", err)
	}
	stats, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[entities.ProjectStats])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entities.ProjectStats{}, entities.ErrNotFound
		}
		return entities.ProjectStats{}, fmt.Errorf("failed to read project stats: %w", err)
	}
	return stats, nil
}
