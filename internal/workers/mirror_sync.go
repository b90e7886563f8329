package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

type Syncer interface {
	SyncFromServer(ctx context.Context)
}

// MirrorSync periodically pulls mirror records into the active journal scope.
type MirrorSync struct {
	logger    *slog.Logger
	syncer    Syncer
	interval  time.Duration
	scheduler gocron.Scheduler
}

func NewMirrorSync(logger *slog.Logger, syncer Syncer, interval time.Duration) (*MirrorSync, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &MirrorSync{
		logger:    logger,
		syncer:    syncer,
		interval:  interval,
		scheduler: scheduler,
	}, nil
}

// Start schedules the sync job and blocks until ctx is done.
func (ms *MirrorSync) Start(ctx context.Context) error {
	_, err := ms.scheduler.NewJob(
		gocron.DurationJob(ms.interval),
		gocron.NewTask(func() {
			ms.syncer.SyncFromServer(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule mirror sync: %w", err)
	}

	ms.logger.Info("Starting mirror sync worker", "interval", ms.interval.String())
	ms.scheduler.Start()

	<-ctx.Done()

	if err = ms.scheduler.Shutdown(); err != nil {
		ms.logger.Error("Failed to stop mirror sync scheduler", "error", err)
	}
	ms.logger.Info("Mirror sync worker stopped")
	return nil
}
