package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/sand/blue-carbon-registry/backend/internal/journal"
)

type PendingJournal interface {
	Pending() []journal.PendingRecord
	WaitAndConfirm(ctx context.Context, hash string) bool
	SettleSimulated(hash string) error
}

// PendingReconciler settles journal records left pending by an interrupted transfer
type PendingReconciler struct {
	logger  *slog.Logger
	journal PendingJournal

	// Records younger than this may still be owned by a live transfer
	staleAfter time.Duration

	// How often to run the reconciliation
	interval time.Duration

	now func() time.Time
}

func NewPendingReconciler(
	logger *slog.Logger,
	journal PendingJournal,
	staleAfter time.Duration,
	interval time.Duration,
) *PendingReconciler {
	return &PendingReconciler{
		logger:     logger,
		journal:    journal,
		staleAfter: staleAfter,
		interval:   interval,
		now:        time.Now,
	}
}

// Start reconciles once immediately and then on every tick until ctx is done
func (pr *PendingReconciler) Start(ctx context.Context) {
	pr.logger.Info("Starting pending reconciler worker",
		"stale_after", pr.staleAfter.String(),
		"interval", pr.interval.String())

	pr.Reconcile(ctx)

	ticker := time.NewTicker(pr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			pr.logger.Info("Pending reconciler worker stopped")
			return
		case <-ticker.C:
			pr.Reconcile(ctx)
		}
	}
}

// Reconcile settles stale pending records and returns how many reached a terminal status.
// Simulated records succeed; real ones are checked against the chain.
func (pr *PendingReconciler) Reconcile(ctx context.Context) int {
	cutoff := pr.now().Add(-pr.staleAfter)

	settled := 0
	for _, rec := range pr.journal.Pending() {
		if ctx.Err() != nil {
			break
		}

		tx := rec.Transaction
		if tx.Timestamp.After(cutoff) {
			continue
		}

		switch {
		case tx.IsSimulated:
			if err := pr.journal.SettleSimulated(tx.Hash); err != nil {
				pr.logger.Error("Failed to settle simulated transaction", "tx_hash", tx.Hash, "error", err)
				continue
			}
			settled++
		default:
			pr.journal.WaitAndConfirm(ctx, tx.Hash)
			if ctx.Err() == nil {
				settled++
			}
		}
	}

	if settled > 0 {
		pr.logger.Info("Reconciled pending transactions", "count", settled)
	} else {
		pr.logger.Debug("No stale pending transactions")
	}

	return settled
}
