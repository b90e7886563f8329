package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
)

var (
	ErrBadgeNotFound = errors.New("badge not found")
	ErrInvalidBadge  = errors.New("invalid badge")
)

const (
	userBadgesLimit    = 50
	projectBadgesLimit = 100
	statsBadgesLimit   = 1000
	statsSampleLimit   = 100

	badgeStatusActive = "active"
)

type BadgesRepository interface {
	InsertBadge(ctx context.Context, badge entities.Badge) (entities.Badge, error)
	FindBadges(ctx context.Context, filter entities.BadgeFilter) ([]entities.Badge, error)
	FindUserStats(ctx context.Context, userID string) (entities.UserStats, error)
	FindProjectStats(ctx context.Context, projectName string) (entities.ProjectStats, error)
}

// BadgeService records retirement badges and answers analytics queries over them.
type BadgeService struct {
	logger *slog.Logger
	repo   BadgesRepository
	now    func() time.Time
}

func NewBadgeService(logger *slog.Logger, repo BadgesRepository) *BadgeService {
	return &BadgeService{logger: logger, repo: repo, now: time.Now}
}

// RecordBadge stores a verified, active badge for a retirement.
func (s *BadgeService) RecordBadge(ctx context.Context, badge entities.Badge) (entities.Badge, error) {
	badge.UserID = strings.TrimSpace(badge.UserID)
	badge.ProjectName = strings.TrimSpace(badge.ProjectName)

	switch {
	case badge.UserID == "":
		return entities.Badge{}, fmt.Errorf("user id is required: %w", ErrInvalidBadge)
	case badge.ProjectName == "":
		return entities.Badge{}, fmt.Errorf("project name is required: %w", ErrInvalidBadge)
	case badge.TransactionHash == "":
		return entities.Badge{}, fmt.Errorf("transaction hash is required: %w", ErrInvalidBadge)
	case badge.CreditsRetired < 0:
		return entities.Badge{}, fmt.Errorf("credits retired must not be negative: %w", ErrInvalidBadge)
	}

	if badge.RetirementDate.IsZero() {
		badge.RetirementDate = s.now()
	}
	badge.Verified = true
	badge.Status = badgeStatusActive

	inserted, err := s.repo.InsertBadge(ctx, badge)
	if err != nil {
		return entities.Badge{}, fmt.Errorf("failed to record badge: %w", err)
	}
	return inserted, nil
}

func (s *BadgeService) UserBadges(ctx context.Context, userID string) ([]entities.Badge, error) {
	return s.find(ctx, entities.BadgeFilter{UserID: userID, Limit: userBadgesLimit})
}

func (s *BadgeService) ProjectBadges(ctx context.Context, projectName string) ([]entities.Badge, error) {
	return s.find(ctx, entities.BadgeFilter{ProjectName: projectName, Limit: projectBadgesLimit})
}

func (s *BadgeService) BadgeByTransactionHash(ctx context.Context, hash string) (entities.Badge, error) {
	badges, err := s.find(ctx, entities.BadgeFilter{TxHash: hash, Limit: 1})
	if err != nil {
		return entities.Badge{}, err
	}
	if len(badges) == 0 {
		return entities.Badge{}, fmt.Errorf("tx %s: %w", hash, ErrBadgeNotFound)
	}
	return badges[0], nil
}

// VerifyBadge reports whether a verified badge exists for the transaction. Lookup errors count as unverified.
func (s *BadgeService) VerifyBadge(ctx context.Context, hash string) bool {
	badge, err := s.BadgeByTransactionHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, ErrBadgeNotFound) {
			s.logger.Error("Failed to verify badge", "tx_hash", hash, "error", err)
		}
		return false
	}
	return badge.Verified
}

// UserBadgeStats summarises a user's badges.
func (s *BadgeService) UserBadgeStats(ctx context.Context, userID string) (entities.BadgeStats, error) {
	badges, err := s.find(ctx, entities.BadgeFilter{UserID: userID, Limit: statsBadgesLimit})
	if err != nil {
		return entities.BadgeStats{}, err
	}

	stats := entities.BadgeStats{TotalBadges: int64(len(badges))}
	projects := make(map[string]struct{})
	for _, b := range badges {
		stats.TotalCreditsRetired += int64(b.CreditsRetired)
		projects[b.ProjectName] = struct{}{}
	}
	stats.UniqueProjects = int64(len(projects))

	if len(badges) > 0 {
		latest, first := badges[0].CreatedAt, badges[len(badges)-1].CreatedAt
		stats.LatestBadgeDate, stats.FirstBadgeDate = &latest, &first
	}
	return stats, nil
}

// RetirementStats aggregates badges matching the filters. timeRange is week, month or year;
// anything else covers all time.
func (s *BadgeService) RetirementStats(ctx context.Context, userID, projectName, timeRange string) (entities.RetirementStats, error) {
	filter := entities.BadgeFilter{UserID: userID, ProjectName: projectName}
	if window := timeRangeWindow(timeRange); window > 0 {
		filter.Since = s.now().Add(-window)
	}

	badges, err := s.find(ctx, filter)
	if err != nil {
		return entities.RetirementStats{}, err
	}

	stats := entities.RetirementStats{TotalRetirements: int64(len(badges))}
	users := make(map[string]struct{})
	projects := make(map[string]struct{})
	for _, b := range badges {
		stats.TotalCreditsRetired += int64(b.CreditsRetired)
		users[b.UserID] = struct{}{}
		projects[b.ProjectName] = struct{}{}
	}
	stats.UniqueUsers = int64(len(users))
	stats.UniqueProjects = int64(len(projects))
	if len(badges) > 0 {
		stats.AverageCreditsPerRetirement = float64(stats.TotalCreditsRetired) / float64(len(badges))
	}
	stats.Retirements = badges[:min(len(badges), statsSampleLimit)]

	return stats, nil
}

func (s *BadgeService) UserStats(ctx context.Context, userID string) (entities.UserStats, error) {
	stats, err := s.repo.FindUserStats(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return entities.UserStats{UserID: userID}, nil
		}
		return entities.UserStats{}, fmt.Errorf("failed to load user stats: %w", err)
	}
	return stats, nil
}

func (s *BadgeService) ProjectStats(ctx context.Context, projectName string) (entities.ProjectStats, error) {
	stats, err := s.repo.FindProjectStats(ctx, projectName)
	if err != nil {
		if isNotFound(err) {
			return entities.ProjectStats{ProjectName: projectName}, nil
		}
		return entities.ProjectStats{}, fmt.Errorf("failed to load project stats: %w", err)
	}
	return stats, nil
}

func (s *BadgeService) find(ctx context.Context, filter entities.BadgeFilter) ([]entities.Badge, error) {
	badges, err := s.repo.FindBadges(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find badges: %w", err)
	}
	if badges == nil {
		badges = []entities.Badge{}
	}
	return badges, nil
}

func timeRangeWindow(timeRange string) time.Duration {
	const day = 24 * time.Hour

	switch timeRange {
	case "week":
		return 7 * day
	case "month":
		return 30 * day
	case "year":
		return 365 * day
	}
	return 0
}
