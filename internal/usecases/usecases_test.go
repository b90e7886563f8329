package usecases

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
)

type memMirrorRepo struct {
	mu      sync.Mutex
	records []entities.MirrorRecord
}

func (m *memMirrorRepo) InsertTransaction(_ context.Context, record entities.MirrorRecord) (entities.MirrorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ID = uuid.NewString()
	m.records = append(m.records, record)
	return record, nil
}

func (m *memMirrorRepo) FindTransactions(_ context.Context, filter entities.MirrorFilter) ([]entities.MirrorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.MirrorRecord
	for _, r := range m.records {
		if filter.Hash != "" && r.Hash != filter.Hash {
			continue
		}
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		if filter.Address != "" && !strings.EqualFold(r.From, filter.Address) && !strings.EqualFold(r.To, filter.Address) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memMirrorRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id.String() {
			m.records[i].Status = status
			return nil
		}
	}
	return entities.ErrNotFound
}

type memBadgeRepo struct {
	mu     sync.Mutex
	badges []entities.Badge
	clock  time.Time
	err    error
}

func (m *memBadgeRepo) InsertBadge(_ context.Context, badge entities.Badge) (entities.Badge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return entities.Badge{}, m.err
	}
	badge.ID = strconv.Itoa(len(m.badges) + 1)
	m.clock = m.clock.Add(time.Minute)
	badge.CreatedAt = m.clock
	m.badges = append(m.badges, badge)
	return badge, nil
}

func (m *memBadgeRepo) FindBadges(_ context.Context, filter entities.BadgeFilter) ([]entities.Badge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []entities.Badge
	for _, b := range slices.Backward(m.badges) {
		switch {
		case filter.UserID != "" && b.UserID != filter.UserID,
			filter.ProjectName != "" && b.ProjectName != filter.ProjectName,
			filter.TxHash != "" && b.TransactionHash != filter.TxHash,
			!filter.Since.IsZero() && b.RetirementDate.Before(filter.Since):
			continue
		}
		out = append(out, b)
		if filter.Limit > 0 && uint64(len(out)) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memBadgeRepo) FindUserStats(context.Context, string) (entities.UserStats, error) {
	return entities.UserStats{}, entities.ErrNotFound
}

func (m *memBadgeRepo) FindProjectStats(_ context.Context, name string) (entities.ProjectStats, error) {
	return entities.ProjectStats{ProjectName: name, TotalRetirements: 3}, nil
}

func TestMirrorService(t *testing.T) {
	ctx := context.Background()
	svc := NewMirrorService(slog.Default(), &memMirrorRepo{})

	created, err := svc.CreateTransaction(ctx, entities.MirrorRecord{Hash: " 0xabc ", Type: "transfer", Amount: "1.25", From: "0xAA"})
	require.NoError(t, err)
	require.Equal(t, "0xabc", created.Hash)
	require.Equal(t, "pending", created.Status)

	_, err = svc.CreateTransaction(ctx, entities.MirrorRecord{Type: "transfer"})
	require.ErrorIs(t, err, ErrInvalidMirrorRecord)
	_, err = svc.CreateTransaction(ctx, entities.MirrorRecord{Hash: "0x1", Type: "transfer", Amount: "lots"})
	require.ErrorIs(t, err, ErrInvalidMirrorRecord)
	_, err = svc.CreateTransaction(ctx, entities.MirrorRecord{Hash: "0x1", Type: "transfer", Status: "done"})
	require.ErrorIs(t, err, ErrInvalidStatus)

	require.NoError(t, svc.UpdateStatus(ctx, created.ID, "success"))
	require.ErrorIs(t, svc.UpdateStatus(ctx, created.ID, "confirmed"), ErrInvalidStatus)
	require.ErrorIs(t, svc.UpdateStatus(ctx, uuid.NewString(), "failed"), ErrMirrorRecordNotFound)
	require.ErrorIs(t, svc.UpdateStatus(ctx, "not-a-uuid", "failed"), ErrMirrorRecordNotFound)

	list, err := svc.ListTransactions(ctx, entities.MirrorFilter{Address: "0xaa"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "success", list[0].Status)

	list, err = svc.ListTransactions(ctx, entities.MirrorFilter{Hash: "0xnone"})
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)
}

func newBadgeService(repo *memBadgeRepo, now time.Time) *BadgeService {
	svc := NewBadgeService(slog.Default(), repo)
	svc.now = func() time.Time { return now }
	return svc
}

func TestBadgeService_RecordBadge(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := newBadgeService(&memBadgeRepo{}, now)

	badge, err := svc.RecordBadge(ctx, entities.Badge{UserID: "acme", ProjectName: "Kelp", CreditsRetired: 10, TransactionHash: "0x1"})
	require.NoError(t, err)
	assert.True(t, badge.Verified)
	assert.Equal(t, "active", badge.Status)
	assert.Equal(t, now, badge.RetirementDate)

	for _, bad := range []entities.Badge{
		{ProjectName: "Kelp", TransactionHash: "0x1"},
		{UserID: "acme", TransactionHash: "0x1"},
		{UserID: "acme", ProjectName: "Kelp"},
		{UserID: "acme", ProjectName: "Kelp", TransactionHash: "0x1", CreditsRetired: -1},
	} {
		_, err = svc.RecordBadge(ctx, bad)
		require.ErrorIs(t, err, ErrInvalidBadge)
	}

	require.True(t, svc.VerifyBadge(ctx, "0x1"))
	require.False(t, svc.VerifyBadge(ctx, "0x2"))

	_, err = svc.BadgeByTransactionHash(ctx, "0x2")
	require.ErrorIs(t, err, ErrBadgeNotFound)
}

func TestBadgeService_VerifyOnRepositoryError(t *testing.T) {
	svc := newBadgeService(&memBadgeRepo{err: errors.New("db down")}, time.Now())
	require.False(t, svc.VerifyBadge(context.Background(), "0x1"))
}

func TestBadgeService_Stats(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	repo := &memBadgeRepo{clock: now}
	svc := newBadgeService(repo, now)

	seed := []struct {
		user, project string
		credits       int
		age           time.Duration
	}{
		{"acme", "Kelp", 100, 2 * 24 * time.Hour},
		{"acme", "Mangrove", 50, 20 * 24 * time.Hour},
		{"globex", "Kelp", 30, 200 * 24 * time.Hour},
		{"acme", "Kelp", 20, 400 * 24 * time.Hour},
	}
	for i, s := range seed {
		_, err := svc.RecordBadge(ctx, entities.Badge{
			UserID:          s.user,
			ProjectName:     s.project,
			CreditsRetired:  s.credits,
			TransactionHash: "0x" + strconv.Itoa(i),
			RetirementDate:  now.Add(-s.age),
		})
		require.NoError(t, err)
	}

	all, err := svc.RetirementStats(ctx, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), all.TotalRetirements)
	assert.Equal(t, int64(200), all.TotalCreditsRetired)
	assert.Equal(t, int64(2), all.UniqueUsers)
	assert.Equal(t, int64(2), all.UniqueProjects)
	assert.InDelta(t, 50.0, all.AverageCreditsPerRetirement, 1e-9)
	assert.Len(t, all.Retirements, 4)

	week, err := svc.RetirementStats(ctx, "", "", "week")
	require.NoError(t, err)
	assert.Equal(t, int64(1), week.TotalRetirements)

	month, err := svc.RetirementStats(ctx, "acme", "", "month")
	require.NoError(t, err)
	assert.Equal(t, int64(150), month.TotalCreditsRetired)

	year, err := svc.RetirementStats(ctx, "", "Kelp", "year")
	require.NoError(t, err)
	assert.Equal(t, int64(2), year.TotalRetirements)
	assert.Equal(t, int64(2), year.UniqueUsers)

	unknown, err := svc.RetirementStats(ctx, "", "", "decade")
	require.NoError(t, err)
	assert.Equal(t, int64(4), unknown.TotalRetirements)

	none, err := svc.RetirementStats(ctx, "nobody", "", "")
	require.NoError(t, err)
	assert.Zero(t, none.AverageCreditsPerRetirement)
	assert.Empty(t, none.Retirements)

	stats, err := svc.UserBadgeStats(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalBadges)
	assert.Equal(t, int64(170), stats.TotalCreditsRetired)
	assert.Equal(t, int64(2), stats.UniqueProjects)
	require.NotNil(t, stats.FirstBadgeDate)
	assert.True(t, stats.FirstBadgeDate.Before(*stats.LatestBadgeDate))

	user, err := svc.UserStats(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", user.UserID)

	project, err := svc.ProjectStats(ctx, "Kelp")
	require.NoError(t, err)
	assert.Equal(t, int64(3), project.TotalRetirements)
}
