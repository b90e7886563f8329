package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
)

var ErrQueueFull = errors.New("replication queue full")

// Remote is the mirror API the replicator writes to.
type Remote interface {
	Create(ctx context.Context, record entities.MirrorRecord) (entities.MirrorRecord, error)
	FindByHash(ctx context.Context, hash string) (entities.MirrorRecord, error)
	PatchStatus(ctx context.Context, id, status string) error
	List(ctx context.Context, userID string) ([]entities.MirrorRecord, error)
}

type SyncState string

const (
	SyncIdle     SyncState = "idle"
	SyncRunning  SyncState = "syncing"
	SyncRetrying SyncState = "retrying"
	SyncStopped  SyncState = "stopped"
)

// SyncStatus is the observable health of replication.
type SyncStatus struct {
	State         SyncState  `json:"state"`
	Queued        int        `json:"queued"`
	Replicated    int64      `json:"replicated"`
	Failed        int64      `json:"failed"`
	LastError     string     `json:"lastError,omitempty"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
}

type opKind int

const (
	opCreate opKind = iota
	opStatus
)

type operation struct {
	kind   opKind
	userID string
	tx     entities.Transaction
	hash   string
	status entities.TransactionStatus
}

func (o operation) String() string {
	if o.kind == opCreate {
		return "create " + o.tx.Hash
	}
	return fmt.Sprintf("status %s=%s", o.hash, o.status)
}

type ReplicatorOption func(*Replicator)

func WithQueueSize(n int) ReplicatorOption {
	return func(r *Replicator) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithRetry sets the attempts per operation and the first backoff delay, doubled per retry.
func WithRetry(maxAttempts int, baseDelay time.Duration) ReplicatorOption {
	return func(r *Replicator) {
		if maxAttempts > 0 {
			r.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			r.baseDelay = baseDelay
		}
	}
}

// Replicator pushes journal changes to the mirror from a single worker, in order.
type Replicator struct {
	logger *slog.Logger
	remote Remote

	queueSize   int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	queue  chan operation
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	status SyncStatus
	now    func() time.Time
}

func NewReplicator(logger *slog.Logger, remote Remote, opts ...ReplicatorOption) *Replicator {
	r := &Replicator{
		logger:      logger,
		remote:      remote,
		queueSize:   256,
		maxAttempts: 5,
		baseDelay:   time.Second,
		maxDelay:    time.Minute,
		status:      SyncStatus{State: SyncStopped},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.queue = make(chan operation, r.queueSize)
	return r
}

// Start launches the worker. It stops when ctx is done or Close is called.
func (r *Replicator) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.mu.Lock()
	r.status.State = SyncIdle
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run()
	}()

	r.logger.Info("Mirror replicator started", "queue_size", r.queueSize, "max_attempts", r.maxAttempts)
}

// Close stops the worker. Queued operations are dropped.
func (r *Replicator) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	r.status.State = SyncStopped
	r.mu.Unlock()
	return nil
}

func (r *Replicator) ReplicateCreate(userID string, tx entities.Transaction) {
	r.enqueue(operation{kind: opCreate, userID: userID, tx: tx})
}

func (r *Replicator) ReplicateStatus(hash string, status entities.TransactionStatus) {
	r.enqueue(operation{kind: opStatus, hash: hash, status: status})
}

func (r *Replicator) enqueue(op operation) {
	select {
	case r.queue <- op:
		r.mu.Lock()
		r.status.Queued = len(r.queue)
		r.mu.Unlock()
	default:
		r.logger.Warn("Mirror replication queue full, dropping operation", "operation", op.String())
		r.recordFailure(ErrQueueFull)
	}
}

// FetchTransactions lists the mirror's records of userID as journal records.
func (r *Replicator) FetchTransactions(ctx context.Context, userID string) ([]entities.Transaction, error) {
	records, err := r.remote.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]entities.Transaction, 0, len(records))
	for _, rec := range records {
		if rec.UserID != userID {
			continue
		}
		tx, err := rec.Transaction()
		if err != nil {
			r.logger.Warn("Skipping unreadable mirror record", "id", rec.ID, "hash", rec.Hash, "error", err)
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (r *Replicator) Status() SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := r.status
	status.Queued = len(r.queue)
	return status
}

func (r *Replicator) run() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case op := <-r.queue:
			r.setState(SyncRunning)
			r.process(op)
			r.setState(SyncIdle)
		}
	}
}

func (r *Replicator) process(op operation) {
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err = r.apply(op); err == nil {
			r.recordSuccess()
			return
		}

		if attempt == r.maxAttempts {
			break
		}

		delay := r.backoff(attempt)
		r.logger.Warn("Mirror replication failed, retrying",
			"operation", op.String(),
			"attempt", attempt,
			"retry_in", delay,
			"error", err)
		r.setState(SyncRetrying)

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	r.logger.Error("Mirror replication gave up", "operation", op.String(), "attempts", r.maxAttempts, "error", err)
	r.recordFailure(err)
}

func (r *Replicator) apply(op operation) error {
	ctx := r.ctx

	switch op.kind {
	case opCreate:
		_, err := r.remote.Create(ctx, entities.MirrorRecordFromTransaction(op.userID, op.tx))
		return err
	case opStatus:
		record, err := r.remote.FindByHash(ctx, op.hash)
		if err != nil {
			return err
		}
		return r.remote.PatchStatus(ctx, record.ID, string(op.status))
	}
	return fmt.Errorf("unknown operation %d", op.kind)
}

// backoff is baseDelay doubled per failed attempt, capped at maxDelay.
func (r *Replicator) backoff(attempt int) time.Duration {
	delay := r.baseDelay << (attempt - 1)
	if delay <= 0 || delay > r.maxDelay {
		return r.maxDelay
	}
	return delay
}

func (r *Replicator) setState(state SyncState) {
	r.mu.Lock()
	r.status.State = state
	r.mu.Unlock()
}

func (r *Replicator) recordSuccess() {
	now := r.now()

	r.mu.Lock()
	r.status.Replicated++
	r.status.LastSuccessAt = &now
	r.mu.Unlock()
}

func (r *Replicator) recordFailure(err error) {
	r.mu.Lock()
	r.status.Failed++
	r.status.LastError = err.Error()
	r.mu.Unlock()
}
