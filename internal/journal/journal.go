// Package journal keeps transaction records scoped per logical user and wallet address.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sand/blue-carbon-registry/backend/internal/address"
	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/internal/storage"
)

// SharedUserID is the bucket used by callers that have no logged-in user.
const SharedUserID = "shared"

var (
	ErrNoActiveScope       = errors.New("no active user and address")
	ErrInvalidTransfer     = errors.New("invalid transfer")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Replicator mirrors local changes to a remote store. Calls must not block.
type Replicator interface {
	ReplicateCreate(userID string, tx entities.Transaction)
	ReplicateStatus(hash string, status entities.TransactionStatus)
}

// RemoteSource lists the records the remote mirror holds for one user.
type RemoteSource interface {
	FetchTransactions(ctx context.Context, userID string) ([]entities.Transaction, error)
}

// Confirmer waits until a chain transaction is final. A nil error means success.
type Confirmer interface {
	WaitForTransaction(ctx context.Context, hash string) error
}

// Listener receives the active scope's records after every change.
type Listener func(transactions []entities.Transaction)

// StatusListener receives a record of any bucket right after it reached a terminal status.
type StatusListener func(scope Scope, tx entities.Transaction)

// Scope is a (user, address) bucket of the durable map.
type Scope struct {
	UserID  string `json:"userId"`
	Address string `json:"address"`
}

func (s Scope) Active() bool {
	return s.UserID != "" && s.Address != ""
}

// Draft is a record before the journal assigns hash, id and chain metadata.
type Draft struct {
	Type        entities.TransactionType
	Description string
	Amount      decimal.Decimal
	From        any
	To          any
	// Status defaults to pending.
	Status entities.TransactionStatus
}

// PendingRecord is a pending record together with the bucket holding it.
type PendingRecord struct {
	Scope       Scope
	Transaction entities.Transaction
}

// userMap is the durable layout: user id -> address -> records, newest first.
type userMap map[string]map[string][]entities.Transaction

type Option func(*Journal)

func WithReplicator(r Replicator) Option {
	return func(j *Journal) { j.replicator = r }
}

func WithRemoteSource(r RemoteSource) Option {
	return func(j *Journal) { j.remote = r }
}

func WithConfirmer(c Confirmer) Option {
	return func(j *Journal) { j.confirmer = c }
}

// WithNetwork sets the network tag and explorer base stamped on each record.
func WithNetwork(network, explorerBase string) Option {
	return func(j *Journal) {
		j.network = network
		j.explorerBase = explorerBase
	}
}

// WithRealTransactions marks records created by CreateRecord as real.
func WithRealTransactions(enabled bool) Option {
	return func(j *Journal) { j.realEnabled = enabled }
}

func WithSimulatedDelay(d time.Duration) Option {
	return func(j *Journal) { j.simulatedDelay = d }
}

func WithConfirmationTimeout(d time.Duration) Option {
	return func(j *Journal) { j.confirmationTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

type Journal struct {
	logger *slog.Logger
	store  storage.Store

	replicator Replicator
	remote     RemoteSource
	confirmer  Confirmer

	network             string
	explorerBase        string
	realEnabled         bool
	simulatedDelay      time.Duration
	confirmationTimeout time.Duration
	now                 func() time.Time

	mu           sync.Mutex
	scope        Scope
	transactions []entities.Transaction

	listenersMu     sync.Mutex
	listeners       map[int]Listener
	statusListeners map[int]StatusListener
	nextListener    int
}

func New(logger *slog.Logger, store storage.Store, opts ...Option) *Journal {
	j := &Journal{
		logger:              logger,
		store:               store,
		network:             "testnet",
		simulatedDelay:      2 * time.Second,
		confirmationTimeout: 2 * time.Minute,
		now:                 time.Now,
		listeners:           make(map[int]Listener),
		statusListeners:     make(map[int]StatusListener),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Init checks that the durable map is readable.
func (j *Journal) Init() error {
	all, err := j.readAll()
	if err != nil {
		return err
	}

	users, records := 0, 0
	for _, byAddress := range all {
		users++
		for _, list := range byAddress {
			records += len(list)
		}
	}
	j.logger.Info("Transaction journal initialised", "users", users, "records", records)
	return nil
}

// Close drops all listeners.
func (j *Journal) Close() error {
	j.listenersMu.Lock()
	j.listeners = make(map[int]Listener)
	j.statusListeners = make(map[int]StatusListener)
	j.listenersMu.Unlock()
	return nil
}

// Scope returns the active (user, address) pair.
func (j *Journal) Scope() Scope {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.scope
}

// SetActiveUser switches the logical user and reloads the visible list.
func (j *Journal) SetActiveUser(userID string) {
	j.mu.Lock()
	j.scope.UserID = userID
	j.reloadLocked()
	j.mu.Unlock()

	j.notify()
}

// SetActiveAddress switches the wallet address and reloads the visible list.
func (j *Journal) SetActiveAddress(addressLike any) {
	j.mu.Lock()
	j.scope.Address = address.Normalize(addressLike)
	j.reloadLocked()
	j.mu.Unlock()

	j.notify()
}

func (j *Journal) reloadLocked() {
	j.transactions = nil
	if !j.scope.Active() {
		return
	}

	all, err := j.readAll()
	if err != nil {
		j.logger.Error("Failed to load transactions", "user_id", j.scope.UserID, "address", j.scope.Address, "error", err)
		return
	}
	j.transactions = slices.Clone(all[j.scope.UserID][j.scope.Address])
}

// CreateRecord appends a record with a locally generated hash to the active scope.
func (j *Journal) CreateRecord(d Draft) (entities.Transaction, error) {
	tx, _, err := j.create(d, func(tx *entities.Transaction) {
		tx.Hash = pseudoHash(tx.Timestamp, false)
		tx.IsRealTransaction = j.realEnabled
	})
	return tx, err
}

// CreateRecordWithHash appends a record for a wallet-signed transfer.
func (j *Journal) CreateRecordWithHash(hash string, d Draft) (entities.Transaction, error) {
	if strings.TrimSpace(hash) == "" {
		return entities.Transaction{}, fmt.Errorf("%w: empty hash", ErrInvalidTransfer)
	}
	tx, _, err := j.create(d, func(tx *entities.Transaction) {
		tx.Hash = hash
		tx.IsRealTransaction = true
	})
	return tx, err
}

func (j *Journal) create(d Draft, stamp func(tx *entities.Transaction)) (entities.Transaction, Scope, error) {
	status := d.Status
	if status == "" {
		status = entities.TxPending
	}

	j.mu.Lock()
	if !j.scope.Active() {
		j.mu.Unlock()
		return entities.Transaction{}, Scope{}, ErrNoActiveScope
	}

	tx := entities.Transaction{
		ID:          nextID(j.transactions),
		Type:        d.Type,
		Description: d.Description,
		Amount:      d.Amount,
		From:        address.Normalize(d.From),
		To:          address.Normalize(d.To),
		Status:      status,
		Timestamp:   j.now().UTC(),
		BlockNumber: mockBlockNumber(),
		GasUsed:     mockGasUsed(),
		Network:     j.network,
	}
	stamp(&tx)
	tx.ExplorerURL = explorerURL(j.explorerBase, tx.Hash, j.network)

	j.transactions = slices.Insert(j.transactions, 0, tx)
	j.persistLocked()
	scope := j.scope
	j.mu.Unlock()

	j.logger.Info("Transaction recorded",
		"tx_hash", tx.Hash,
		"type", tx.Type,
		"amount", tx.Amount.String(),
		"real", tx.IsRealTransaction,
		"simulated", tx.IsSimulated)

	if j.replicator != nil {
		j.replicator.ReplicateCreate(scope.UserID, tx)
	}
	j.notify()

	return tx, scope, nil
}

// SimulateTransfer records a transfer that never touches the chain and settles it
// after the configured delay. It blocks until the record is settled.
func (j *Journal) SimulateTransfer(ctx context.Context, d Draft) (entities.Transaction, error) {
	if d.Type == "" || strings.TrimSpace(d.Description) == "" || address.Normalize(d.From) == "" {
		return entities.Transaction{}, fmt.Errorf("%w: type, description and sender are required", ErrInvalidTransfer)
	}
	if d.Amount.IsNegative() {
		return entities.Transaction{}, fmt.Errorf("%w: amount cannot be negative", ErrInvalidTransfer)
	}

	d.Status = entities.TxPending
	tx, scope, err := j.create(d, func(tx *entities.Transaction) {
		tx.Hash = pseudoHash(tx.Timestamp, true)
		tx.IsSimulated = true
	})
	if err != nil {
		return entities.Transaction{}, err
	}

	timer := time.NewTimer(j.simulatedDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return tx, ctx.Err()
	case <-timer.C:
	}

	settled, err := j.setStatus(scope, tx.Hash, entities.TxSuccess)
	if err != nil {
		return tx, err
	}
	return settled, nil
}

// SettleSimulated completes a simulated record left pending by an interrupted SimulateTransfer.
func (j *Journal) SettleSimulated(hash string) error {
	scope, tx, err := j.locate(hash)
	if err != nil {
		return err
	}
	if !tx.IsSimulated {
		return fmt.Errorf("%w: %s is not simulated", ErrInvalidTransfer, hash)
	}
	_, err = j.setStatus(scope, hash, entities.TxSuccess)
	return err
}

// WaitAndConfirm waits for the chain to confirm hash and settles the record.
// It returns false when confirmation failed or timed out; the record is then marked failed.
func (j *Journal) WaitAndConfirm(ctx context.Context, hash string) bool {
	if j.confirmer == nil {
		j.logger.Warn("No chain confirmer configured", "tx_hash", hash)
		return false
	}

	waitCtx, cancel := context.WithTimeout(ctx, j.confirmationTimeout)
	defer cancel()

	waitErr := j.confirmer.WaitForTransaction(waitCtx, hash)

	scope, _, err := j.locate(hash)
	if err != nil {
		j.logger.Warn("Confirmed transaction has no local record", "tx_hash", hash, "error", err)
		return waitErr == nil
	}

	if waitErr != nil {
		// caller went away, leave it pending for the reconciler
		if ctx.Err() != nil {
			j.logger.Warn("Stopped waiting for transaction", "tx_hash", hash, "error", ctx.Err())
			return false
		}
		j.logger.Error("Transaction confirmation failed", "tx_hash", hash, "error", waitErr)
		if _, err = j.setStatus(scope, hash, entities.TxFailed); err != nil {
			j.logger.Error("Failed to mark transaction failed", "tx_hash", hash, "error", err)
		}
		return false
	}

	if _, err = j.setStatus(scope, hash, entities.TxSuccess); err != nil {
		j.logger.Error("Failed to mark transaction confirmed", "tx_hash", hash, "error", err)
	}
	return true
}

// setStatus moves a pending record to a terminal status. Terminal records are left as they are.
func (j *Journal) setStatus(scope Scope, hash string, status entities.TransactionStatus) (entities.Transaction, error) {
	j.mu.Lock()

	var (
		updated entities.Transaction
		changed bool
	)
	if scope == j.scope {
		idx := slices.IndexFunc(j.transactions, func(tx entities.Transaction) bool { return tx.Hash == hash })
		if idx < 0 {
			j.mu.Unlock()
			return entities.Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, hash)
		}
		if !j.transactions[idx].Status.Terminal() {
			j.transactions[idx].Status = status
			changed = true
			j.persistLocked()
		}
		updated = j.transactions[idx]
	} else {
		err := j.store.Update(storage.TransactionsKey, func(current []byte) ([]byte, error) {
			all := j.decode(current)
			list := all[scope.UserID][scope.Address]
			idx := slices.IndexFunc(list, func(tx entities.Transaction) bool { return tx.Hash == hash })
			if idx < 0 {
				return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, hash)
			}
			changed = !list[idx].Status.Terminal()
			if changed {
				list[idx].Status = status
			}
			updated = list[idx]
			return json.Marshal(all)
		})
		if err != nil {
			j.mu.Unlock()
			return entities.Transaction{}, err
		}
	}
	active := scope == j.scope
	j.mu.Unlock()

	if !changed {
		return updated, nil
	}

	j.logger.Info("Transaction status updated", "tx_hash", hash, "status", status)
	if j.replicator != nil {
		j.replicator.ReplicateStatus(hash, status)
	}
	j.notifyStatus(scope, updated)
	if active {
		j.notify()
	}
	return updated, nil
}

// locate finds the bucket holding hash across all users, preferring the active scope.
func (j *Journal) locate(hash string) (Scope, entities.Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if idx := slices.IndexFunc(j.transactions, func(tx entities.Transaction) bool { return tx.Hash == hash }); idx >= 0 {
		return j.scope, j.transactions[idx], nil
	}

	all, err := j.readAll()
	if err != nil {
		return Scope{}, entities.Transaction{}, err
	}
	for userID, byAddress := range all {
		for addr, list := range byAddress {
			for _, tx := range list {
				if tx.Hash == hash {
					return Scope{UserID: userID, Address: addr}, tx, nil
				}
			}
		}
	}
	return Scope{}, entities.Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, hash)
}

// Find returns the record with hash from one of the active user's buckets.
// Other users' records are reported as not found.
func (j *Journal) Find(hash string) (entities.Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	notFound := fmt.Errorf("%w: %s", ErrTransactionNotFound, hash)
	if j.scope.UserID == "" {
		return entities.Transaction{}, notFound
	}
	if idx := slices.IndexFunc(j.transactions, func(tx entities.Transaction) bool { return tx.Hash == hash }); idx >= 0 {
		return j.transactions[idx], nil
	}

	all, err := j.readAll()
	if err != nil {
		return entities.Transaction{}, err
	}
	for addr, list := range all[j.scope.UserID] {
		if addr == j.scope.Address {
			continue
		}
		if idx := slices.IndexFunc(list, func(tx entities.Transaction) bool { return tx.Hash == hash }); idx >= 0 {
			return list[idx], nil
		}
	}
	return entities.Transaction{}, notFound
}

// ListForScope returns the active scope's records, most recent first.
func (j *Journal) ListForScope() []entities.Transaction {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.transactions)
}

func (j *Journal) ListByType(txType entities.TransactionType) []entities.Transaction {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]entities.Transaction, 0)
	for _, tx := range j.transactions {
		if tx.Type == txType {
			out = append(out, tx)
		}
	}
	return out
}

// Recent returns at most limit records of the active scope.
func (j *Journal) Recent(limit int) []entities.Transaction {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit < 0 {
		limit = 0
	}
	return slices.Clone(j.transactions[:min(limit, len(j.transactions))])
}

// ListByAddress returns the address's own bucket plus every record in the active
// user's other buckets that has the address as sender or recipient.
func (j *Journal) ListByAddress(addressLike any) []entities.Transaction {
	target := address.Normalize(addressLike)
	if target == "" {
		return nil
	}

	j.mu.Lock()
	scope := j.scope
	current := slices.Clone(j.transactions)
	all, err := j.readAll()
	j.mu.Unlock()

	if scope.UserID == "" {
		return nil
	}
	if err != nil {
		j.logger.Error("Failed to load transactions", "user_id", scope.UserID, "error", err)
		all = userMap{}
	}

	byAddress := all[scope.UserID]
	if byAddress == nil {
		byAddress = map[string][]entities.Transaction{}
	}
	// in-memory list wins over a possibly stale persisted copy
	if scope.Active() {
		byAddress[scope.Address] = current
	}

	seen := make(map[string]struct{})
	var out []entities.Transaction
	add := func(tx entities.Transaction) {
		if tx.Hash != "" {
			if _, dup := seen[tx.Hash]; dup {
				return
			}
			seen[tx.Hash] = struct{}{}
		}
		out = append(out, tx)
	}

	// own bucket first so its copy of a record wins the dedup
	for addr, list := range byAddress {
		if strings.EqualFold(addr, target) {
			for _, tx := range list {
				add(tx)
			}
		}
	}
	for addr, list := range byAddress {
		if strings.EqualFold(addr, target) {
			continue
		}
		for _, tx := range list {
			if address.Equal(tx.From, target) || address.Equal(tx.To, target) {
				add(tx)
			}
		}
	}

	sortNewestFirst(out)
	return out
}

// TotalSpent sums settled outgoing amounts in the active scope.
func (j *Journal) TotalSpent(addressLike any) decimal.Decimal {
	return j.sum(addressLike, func(tx entities.Transaction) string { return tx.From })
}

// TotalReceived sums settled incoming amounts in the active scope.
func (j *Journal) TotalReceived(addressLike any) decimal.Decimal {
	return j.sum(addressLike, func(tx entities.Transaction) string { return tx.To })
}

func (j *Journal) sum(addressLike any, side func(entities.Transaction) string) decimal.Decimal {
	target := address.Normalize(addressLike)

	j.mu.Lock()
	defer j.mu.Unlock()

	total := decimal.Zero
	for _, tx := range j.transactions {
		if tx.Status == entities.TxSuccess && address.Equal(side(tx), target) {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

// Pending lists every pending record across all buckets.
func (j *Journal) Pending() []PendingRecord {
	j.mu.Lock()
	defer j.mu.Unlock()

	all, err := j.readAll()
	if err != nil {
		j.logger.Error("Failed to load transactions", "error", err)
		return nil
	}
	if j.scope.Active() {
		if all[j.scope.UserID] == nil {
			all[j.scope.UserID] = map[string][]entities.Transaction{}
		}
		all[j.scope.UserID][j.scope.Address] = j.transactions
	}

	var out []PendingRecord
	for userID, byAddress := range all {
		for addr, list := range byAddress {
			for _, tx := range list {
				if tx.Status == entities.TxPending {
					out = append(out, PendingRecord{Scope: Scope{UserID: userID, Address: addr}, Transaction: tx})
				}
			}
		}
	}
	return out
}

// SyncFromServer merges the active user's remote records touching the active address
// into the active scope. Remote fields win on conflict, except that a terminal local
// status is never replaced. Failures are logged and leave local state untouched.
func (j *Journal) SyncFromServer(ctx context.Context) {
	if j.remote == nil {
		return
	}

	scope := j.Scope()
	if !scope.Active() {
		return
	}

	remote, err := j.remote.FetchTransactions(ctx, scope.UserID)
	if err != nil {
		j.logger.Warn("Failed to sync transactions from mirror", "error", err)
		return
	}

	j.mu.Lock()
	if j.scope != scope {
		j.mu.Unlock()
		j.logger.Debug("Scope changed during sync, dropping result")
		return
	}

	merged := slices.Clone(j.transactions)
	index := make(map[string]int, len(merged))
	for i, tx := range merged {
		index[tx.Hash] = i
	}
	id := nextID(merged)

	added := 0
	for _, tx := range remote {
		if tx.Hash == "" {
			continue
		}
		if !address.Equal(tx.From, scope.Address) && !address.Equal(tx.To, scope.Address) {
			continue
		}
		if i, ok := index[tx.Hash]; ok {
			tx.ID = merged[i].ID
			// a status patch may not have reached the mirror yet
			if merged[i].Status.Terminal() {
				tx.Status = merged[i].Status
			}
			merged[i] = tx
			continue
		}
		tx.ID = id
		id++
		index[tx.Hash] = len(merged)
		merged = append(merged, tx)
		added++
	}

	sortNewestFirst(merged)
	j.transactions = merged
	j.persistLocked()
	j.mu.Unlock()

	j.logger.Info("Synced transactions from mirror", "remote", len(remote), "added", added)
	j.notify()
}

// Clear removes the active scope's records, the active user's buckets when no
// address is set, or everything when no user is set.
func (j *Journal) Clear() {
	j.mu.Lock()
	j.transactions = nil
	switch {
	case j.scope.Active():
		j.persistLocked()
	default:
		userID := j.scope.UserID
		err := j.store.Update(storage.TransactionsKey, func(current []byte) ([]byte, error) {
			if userID == "" {
				return json.Marshal(userMap{})
			}
			all := j.decode(current)
			all[userID] = map[string][]entities.Transaction{}
			return json.Marshal(all)
		})
		if err != nil {
			j.logger.Error("Failed to clear transactions", "user_id", userID, "error", err)
		}
	}
	j.mu.Unlock()

	j.notify()
}

// Subscribe registers fn and returns a function that removes it.
func (j *Journal) Subscribe(fn Listener) func() {
	j.listenersMu.Lock()
	id := j.nextListener
	j.nextListener++
	j.listeners[id] = fn
	j.listenersMu.Unlock()

	return func() {
		j.listenersMu.Lock()
		delete(j.listeners, id)
		j.listenersMu.Unlock()
	}
}

// SubscribeStatus registers fn for terminal status changes and returns a function that removes it.
func (j *Journal) SubscribeStatus(fn StatusListener) func() {
	j.listenersMu.Lock()
	id := j.nextListener
	j.nextListener++
	j.statusListeners[id] = fn
	j.listenersMu.Unlock()

	return func() {
		j.listenersMu.Lock()
		delete(j.statusListeners, id)
		j.listenersMu.Unlock()
	}
}

func (j *Journal) notifyStatus(scope Scope, tx entities.Transaction) {
	j.listenersMu.Lock()
	listeners := make([]StatusListener, 0, len(j.statusListeners))
	for _, fn := range j.statusListeners {
		listeners = append(listeners, fn)
	}
	j.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(scope, tx)
	}
}

func (j *Journal) notify() {
	snapshot := j.ListForScope()

	j.listenersMu.Lock()
	listeners := make([]Listener, 0, len(j.listeners))
	for _, fn := range j.listeners {
		listeners = append(listeners, fn)
	}
	j.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// persistLocked writes the active scope's bucket. Failures are logged only.
func (j *Journal) persistLocked() {
	if !j.scope.Active() {
		return
	}

	scope, list := j.scope, slices.Clone(j.transactions)
	err := j.store.Update(storage.TransactionsKey, func(current []byte) ([]byte, error) {
		all := j.decode(current)
		if all[scope.UserID] == nil {
			all[scope.UserID] = map[string][]entities.Transaction{}
		}
		all[scope.UserID][scope.Address] = list
		return json.Marshal(all)
	})
	if err != nil {
		j.logger.Error("Failed to persist transactions", "user_id", scope.UserID, "address", scope.Address, "error", err)
	}
}

func (j *Journal) readAll() (userMap, error) {
	raw, err := j.store.Get(storage.TransactionsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return userMap{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return j.decode(raw), nil
}

// decode never fails: an unreadable blob is treated as empty.
func (j *Journal) decode(raw []byte) userMap {
	all := userMap{}
	if len(raw) == 0 {
		return all
	}
	if err := json.Unmarshal(raw, &all); err != nil || all == nil {
		j.logger.Error("Stored transaction map is unreadable, starting empty", "error", err)
		return userMap{}
	}
	return all
}

// nextID is one past the highest id in list.
func nextID(list []entities.Transaction) int {
	id := 1
	for _, tx := range list {
		id = max(id, tx.ID+1)
	}
	return id
}

func sortNewestFirst(list []entities.Transaction) {
	slices.SortStableFunc(list, func(a, b entities.Transaction) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
}
