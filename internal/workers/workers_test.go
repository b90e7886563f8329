package workers

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/internal/journal"
	"github.com/sand/blue-carbon-registry/backend/internal/storage"
)

const sender = "0x1111111111111111111111111111111111111111"

type confirmFunc func(ctx context.Context, hash string) error

func (f confirmFunc) WaitForTransaction(ctx context.Context, hash string) error { return f(ctx, hash) }

func TestPendingReconciler_SettlesStaleRecords(t *testing.T) {
	var confirmed sync.Map
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-time.Hour)

	j := journal.New(slog.Default(), storage.NewMemoryStore(),
		journal.WithClock(func() time.Time { return clock }),
		journal.WithConfirmer(confirmFunc(func(_ context.Context, hash string) error {
			confirmed.Store(hash, true)
			return nil
		})),
	)
	require.NoError(t, j.Init())
	t.Cleanup(func() { _ = j.Close() })
	j.SetActiveUser("alice")
	j.SetActiveAddress(sender)

	realTx, err := j.CreateRecordWithHash("0x"+strings.Repeat("a", 64), journal.Draft{
		Type: entities.TxTransfer, Description: "stale real", Amount: decimal.NewFromInt(1), From: sender, To: "treasury",
	})
	require.NoError(t, err)

	// a simulated record interrupted before settling
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	simulated, err := j.SimulateTransfer(ctx, journal.Draft{
		Type: entities.TxTransfer, Description: "stale simulated", Amount: decimal.NewFromInt(1), From: sender, To: "treasury",
	})
	require.ErrorIs(t, err, context.Canceled)

	clock = now
	fresh, err := j.CreateRecordWithHash("0x"+strings.Repeat("b", 64), journal.Draft{
		Type: entities.TxTransfer, Description: "fresh", Amount: decimal.NewFromInt(1), From: sender, To: "treasury",
	})
	require.NoError(t, err)

	r := NewPendingReconciler(slog.Default(), j, 5*time.Minute, time.Minute)
	r.now = func() time.Time { return now }

	assert.Equal(t, 2, r.Reconcile(context.Background()))

	for hash, want := range map[string]entities.TransactionStatus{
		realTx.Hash:    entities.TxSuccess,
		simulated.Hash: entities.TxSuccess,
		fresh.Hash:     entities.TxPending,
	} {
		tx, err := j.Find(hash)
		require.NoError(t, err)
		assert.Equal(t, want, tx.Status, hash)
	}

	_, ok := confirmed.Load(realTx.Hash)
	assert.True(t, ok)
	_, ok = confirmed.Load(fresh.Hash)
	assert.False(t, ok)
}

func TestPendingReconciler_StopsOnCancel(t *testing.T) {
	j := journal.New(slog.Default(), storage.NewMemoryStore())
	require.NoError(t, j.Init())
	t.Cleanup(func() { _ = j.Close() })

	r := NewPendingReconciler(slog.Default(), j, time.Minute, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}

type countingSyncer struct{ calls atomic.Int32 }

func (s *countingSyncer) SyncFromServer(context.Context) { s.calls.Add(1) }

func TestMirrorSync_RunsUntilCancelled(t *testing.T) {
	syncer := &countingSyncer{}
	ms, err := NewMirrorSync(slog.Default(), syncer, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ms.Start(ctx) }()

	require.Eventually(t, func() bool { return syncer.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err = <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mirror sync did not stop")
	}
}
