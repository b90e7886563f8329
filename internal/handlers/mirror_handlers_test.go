package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/blue-carbon-registry/backend/internal/badges"
	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/internal/mirror"
	"github.com/sand/blue-carbon-registry/backend/internal/usecases"
)

type memRepo struct {
	mu      sync.Mutex
	records []entities.MirrorRecord
	badges  []entities.Badge
}

func (m *memRepo) InsertTransaction(_ context.Context, record entities.MirrorRecord) (entities.MirrorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ID = uuid.NewString()
	m.records = append(m.records, record)
	return record, nil
}

func (m *memRepo) FindTransactions(_ context.Context, filter entities.MirrorFilter) ([]entities.MirrorRecord, error) {
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

func (m *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
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

func (m *memRepo) InsertBadge(_ context.Context, badge entities.Badge) (entities.Badge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	badge.ID = strconv.Itoa(len(m.badges) + 1)
	badge.CreatedAt = time.Now()
	m.badges = append(m.badges, badge)
	return badge, nil
}

func (m *memRepo) FindBadges(_ context.Context, filter entities.BadgeFilter) ([]entities.Badge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

func (m *memRepo) FindUserStats(context.Context, string) (entities.UserStats, error) {
	return entities.UserStats{}, entities.ErrNotFound
}

func (m *memRepo) FindProjectStats(context.Context, string) (entities.ProjectStats, error) {
	return entities.ProjectStats{}, entities.ErrNotFound
}

func newMirrorServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.Default()
	repo := &memRepo{}

	router := mux.NewRouter()
	NewMirrorHandler(logger, usecases.NewMirrorService(logger, repo), usecases.NewBadgeService(logger, repo)).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestMirrorHandler_TransactionsRoundTrip(t *testing.T) {
	srv := newMirrorServer(t)
	client := mirror.NewClient(slog.Default(), srv.URL, time.Second)
	ctx := context.Background()

	created, err := client.Create(ctx, entities.MirrorRecord{
		Hash:   "0xabc",
		Type:   string(entities.TxCreditsPurchased),
		Amount: "2.5",
		From:   buyer,
		To:     "blue_carbon_registry",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, string(entities.TxPending), created.Status)

	_, err = client.Create(ctx, entities.MirrorRecord{Type: "transfer"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")

	found, err := client.FindByHash(ctx, "0xabc")
	require.NoError(t, err)
	require.NoError(t, client.PatchStatus(ctx, found.ID, string(entities.TxSuccess)))

	list, err := client.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, string(entities.TxSuccess), list[0].Status)

	_, err = client.Create(ctx, entities.MirrorRecord{UserID: "alice", Hash: "0xdef", Type: "transfer", From: buyer})
	require.NoError(t, err)
	list, err = client.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "0xdef", list[0].Hash)

	_, err = client.FindByHash(ctx, "0xmissing")
	require.ErrorIs(t, err, mirror.ErrRecordNotFound)

	err = client.PatchStatus(ctx, uuid.NewString(), string(entities.TxFailed))
	require.ErrorIs(t, err, mirror.ErrRecordNotFound)

	err = client.PatchStatus(ctx, found.ID, "confirmed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestMirrorHandler_BadgesRoundTrip(t *testing.T) {
	srv := newMirrorServer(t)
	client := badges.NewClient(slog.Default(), srv.URL, time.Second)
	ctx := context.Background()

	require.False(t, client.Verify(ctx, "0xfeed"))

	require.NoError(t, client.RecordRetirement(ctx, entities.Badge{
		UserID:          "alice",
		ProjectName:     "Seagrass Meadow Protection",
		CreditsRetired:  5,
		TransactionHash: "0xfeed",
	}))
	require.NoError(t, client.RecordRetirement(ctx, entities.Badge{
		UserID:          "alice",
		ProjectName:     "Mangrove Restoration - Sundarbans",
		CreditsRetired:  15,
		TransactionHash: "0xbeef",
	}))
	require.Error(t, client.RecordRetirement(ctx, entities.Badge{UserID: "bob"}))

	assert.True(t, client.Verify(ctx, "0xfeed"))

	badge, err := client.BadgeByTransactionHash(ctx, "0xbeef")
	require.NoError(t, err)
	assert.Equal(t, 15, badge.CreditsRetired)
	assert.True(t, badge.Verified)

	_, err = client.BadgeByTransactionHash(ctx, "0xnone")
	require.ErrorIs(t, err, badges.ErrBadgeNotFound)

	list, err := client.UserBadges(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = client.ProjectBadges(ctx, "Seagrass Meadow Protection")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	stats, err := client.UserStats(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalBadges)
	assert.EqualValues(t, 20, stats.TotalCreditsRetired)

	retirements, err := client.RetirementStats(ctx, badges.Filter{TimeRange: "week"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, retirements.TotalRetirements)
	assert.EqualValues(t, 1, retirements.UniqueUsers)
	assert.InDelta(t, 10.0, retirements.AverageCreditsPerRetirement, 0.001)
}

func TestMirrorHandler_BadgeQueryValidation(t *testing.T) {
	srv := newMirrorServer(t)

	for _, path := range []string{"/badges", "/badges/verify", "/badges/stats", "/transactions?limit=-1"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}

	resp, err := http.Get(srv.URL + "/stats/users/nobody")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
