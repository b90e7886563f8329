// Package wallet bridges a wallet connection to the transaction journal and runs the
// purchase and retirement flows.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sand/blue-carbon-registry/backend/internal/address"
	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/internal/journal"
)

const directPaymentSuffix = " - Direct payment to NGO"

type Config struct {
	// TreasuryAddress receives real transfers. Empty means every spend is simulated.
	TreasuryAddress string
	// RegistryAddress is the recorded payee of purchases without an NGO wallet and of retirements.
	RegistryAddress   string
	AddressRetryDelay time.Duration
}

// Purchase describes a credit purchase. NGOAddress may be any account shape or nil.
type Purchase struct {
	ProjectName    string
	Credits        int
	PricePerCredit decimal.Decimal
	TotalCost      decimal.Decimal
	NGOAddress     any
}

type Listener func(snapshot Snapshot)

type Session struct {
	logger   *slog.Logger
	journal  *journal.Journal
	balances BalanceSource
	badges   BadgeRecorder
	cfg      Config

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()

	mu      sync.Mutex
	adapter Adapter
	state   State
	address string
	userID  string
	balance decimal.Decimal
	// unsettled debits by hash, refunded if the record fails
	debits map[string]decimal.Decimal

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// New builds a disconnected session. balances and badges may be nil.
func New(logger *slog.Logger, j *journal.Journal, balances BalanceSource, badges BadgeRecorder, cfg Config) *Session {
	if cfg.AddressRetryDelay <= 0 {
		cfg.AddressRetryDelay = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		logger:    logger,
		journal:   j,
		balances:  balances,
		badges:    badges,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
		balance:   decimal.Zero,
		debits:    make(map[string]decimal.Decimal),
		listeners: make(map[int]Listener),
	}
	s.unsubscribe = j.SubscribeStatus(s.settled)
	return s
}

// Close stops background syncs and waits for them.
func (s *Session) Close() error {
	s.unsubscribe()
	s.cancel()
	s.wg.Wait()
	return nil
}

// Run applies events until ctx is done or events is closed.
func (s *Session) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.HandleEvent(ctx, ev); err != nil {
				s.logger.Error("Failed to handle wallet event", "kind", ev.Kind, "error", err)
			}
		}
	}
}

// HandleEvent applies one wallet connection transition.
func (s *Session) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventConnect, EventAccountChanged:
		if ev.Adapter == nil {
			return fmt.Errorf("%s event without adapter", ev.Kind)
		}
		return s.connect(ctx, ev.Adapter)
	case EventDisconnect:
		s.disconnect()
		return nil
	case EventError:
		s.logger.Warn("Wallet adapter reported an error", "error", ev.Err)
		s.disconnect()
		return nil
	default:
		return fmt.Errorf("unknown wallet event %q", ev.Kind)
	}
}

func (s *Session) connect(ctx context.Context, adapter Adapter) error {
	s.setState(StateConnecting)

	addr := address.Normalize(adapter.Account())
	if addr == "" {
		// adapters may populate the account shortly after connecting
		select {
		case <-ctx.Done():
			s.disconnect()
			return ctx.Err()
		case <-time.After(s.cfg.AddressRetryDelay):
		}
		addr = address.Normalize(adapter.Account())
	}
	if addr == "" || !adapter.Connected() {
		s.disconnect()
		return ErrAddressUnresolved
	}

	if s.journal.Scope().UserID == "" {
		s.journal.SetActiveUser(journal.SharedUserID)
	}
	s.journal.SetActiveAddress(addr)

	s.mu.Lock()
	s.adapter = adapter
	s.address = addr
	s.state = StateConnected
	clear(s.debits)
	s.mu.Unlock()

	s.logger.Info("Wallet connected", "address", addr)

	s.RefreshBalance(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.journal.SyncFromServer(s.ctx)
	}()

	return nil
}

func (s *Session) disconnect() {
	s.mu.Lock()
	wasConnected := s.address != ""
	s.adapter = nil
	s.address = ""
	s.state = StateDisconnected
	s.balance = decimal.Zero
	clear(s.debits)
	s.mu.Unlock()

	s.journal.SetActiveAddress(nil)
	if wasConnected {
		s.logger.Info("Wallet disconnected")
	}
	s.notify()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.notify()
}

// SetUser switches the logical app user. An empty id selects the shared bucket.
func (s *Session) SetUser(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()

	if userID == "" {
		userID = journal.SharedUserID
	}
	s.journal.SetActiveUser(userID)
	s.notify()
}

// RefreshBalance reloads the balance of the connected address. Without a balance source it is zero.
func (s *Session) RefreshBalance(ctx context.Context) decimal.Decimal {
	addr := s.Address()
	if addr == "" {
		return decimal.Zero
	}

	balance := decimal.Zero
	if s.balances != nil {
		balance = s.balances.BalanceOrFallback(ctx, addr)
	}
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	s.mu.Lock()
	if s.address == addr {
		s.balance = balance
	}
	s.mu.Unlock()

	s.notify()
	return balance
}

// debit takes amount off the balance for the record tx. While tx is pending the
// debit is remembered so a later failure can refund it.
func (s *Session) debit(tx entities.Transaction, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	s.mu.Lock()
	s.balance = decimal.Max(decimal.Zero, s.balance.Sub(amount))
	if !tx.Status.Terminal() {
		s.debits[tx.Hash] = amount
	}
	s.mu.Unlock()
	s.notify()
}

// settled refunds the debit of a record that failed, whoever settled it.
func (s *Session) settled(_ journal.Scope, tx entities.Transaction) {
	s.mu.Lock()
	amount, ok := s.debits[tx.Hash]
	delete(s.debits, tx.Hash)
	refund := ok && tx.Status == entities.TxFailed
	if refund {
		s.balance = s.balance.Add(amount)
	}
	s.mu.Unlock()

	if refund {
		s.logger.Warn("Transfer failed on chain, restoring balance", "tx_hash", tx.Hash, "amount", amount.String())
		s.notify()
	}
}

// connected returns the adapter and address of a fully connected session.
func (s *Session) connected() (Adapter, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected || s.adapter == nil || s.address == "" || !s.adapter.Connected() {
		return nil, "", ErrWalletNotConnected
	}
	return s.adapter, s.address, nil
}

// Spend pays amount from the connected wallet. With a treasury configured and a
// positive amount the transfer is signed and sent on chain; otherwise it is simulated.
// The balance is debited as soon as a record exists and restored if the record fails.
// When ctx ends before settlement the pending record is returned along with ctx's error.
func (s *Session) Spend(ctx context.Context, txType entities.TransactionType, description string, amount decimal.Decimal, to string) (entities.Transaction, error) {
	adapter, from, err := s.connected()
	if err != nil {
		return entities.Transaction{}, err
	}

	if s.cfg.TreasuryAddress != "" && amount.IsPositive() {
		recipient := to
		if recipient == "" {
			recipient = s.cfg.TreasuryAddress
		}
		return s.transfer(ctx, adapter, from, s.cfg.TreasuryAddress, journal.Draft{
			Type:        txType,
			Description: description,
			Amount:      amount,
			From:        from,
			To:          recipient,
		})
	}

	return s.simulate(ctx, journal.Draft{
		Type:        txType,
		Description: description,
		Amount:      amount,
		From:        from,
		To:          to,
	})
}

func (s *Session) simulate(ctx context.Context, draft journal.Draft) (entities.Transaction, error) {
	tx, err := s.journal.SimulateTransfer(ctx, draft)
	if tx.Hash != "" {
		s.debit(tx, draft.Amount)
	}
	if err != nil {
		return tx, normalizeError(err)
	}
	return tx, nil
}

// transfer signs a payment to payee, records it under draft and waits for confirmation.
func (s *Session) transfer(ctx context.Context, adapter Adapter, from, payee string, draft journal.Draft) (entities.Transaction, error) {
	result, err := adapter.SignAndSubmitTransaction(ctx, entities.TransferPayload{
		Sender: from,
		To:     payee,
		Amount: draft.Amount,
	})
	if err != nil {
		return entities.Transaction{}, normalizeError(err)
	}

	tx, err := s.journal.CreateRecordWithHash(result.Hash, draft)
	if err != nil {
		return entities.Transaction{}, err
	}
	s.debit(tx, draft.Amount)

	// a failure refunds through settled
	s.journal.WaitAndConfirm(ctx, result.Hash)

	if latest, err := s.journal.Find(result.Hash); err == nil {
		return latest, nil
	}
	return tx, nil
}

// PurchaseCredits buys credits, paying the NGO directly when its wallet is known.
// A payment that fails before any record exists falls back to a simulated purchase.
// Once a record exists, or when ctx ended, the outcome is returned as is so a purchase
// is never recorded twice.
func (s *Session) PurchaseCredits(ctx context.Context, p Purchase) (entities.Transaction, error) {
	total := p.TotalCost
	if total.IsZero() && !p.PricePerCredit.IsZero() {
		total = p.PricePerCredit.Mul(decimal.NewFromInt(int64(p.Credits)))
	}
	description := fmt.Sprintf("%d credits purchased for %s - $%s", p.Credits, p.ProjectName, total.StringFixed(2))

	payee := address.Normalize(p.NGOAddress)

	var (
		tx  entities.Transaction
		err error
	)
	if payee != "" {
		tx, err = s.directPayment(ctx, description, total, payee)
	} else {
		tx, err = s.Spend(ctx, entities.TxCreditsPurchased, description, total, s.cfg.RegistryAddress)
	}
	if err == nil {
		return tx, nil
	}
	if tx.Hash != "" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return tx, err
	}

	_, from, connErr := s.connected()
	if connErr != nil {
		return entities.Transaction{}, connErr
	}

	s.logger.Warn("Purchase payment failed, recording simulated purchase", "project", p.ProjectName, "error", err)

	if payee == "" {
		payee = s.cfg.RegistryAddress
	}
	return s.simulate(ctx, journal.Draft{
		Type:        entities.TxCreditsPurchased,
		Description: description,
		Amount:      total,
		From:        from,
		To:          payee,
	})
}

func (s *Session) directPayment(ctx context.Context, description string, amount decimal.Decimal, ngo string) (entities.Transaction, error) {
	adapter, from, err := s.connected()
	if err != nil {
		return entities.Transaction{}, err
	}

	return s.transfer(ctx, adapter, from, ngo, journal.Draft{
		Type:        entities.TxCreditsPurchased,
		Description: description + directPaymentSuffix,
		Amount:      amount,
		From:        from,
		To:          ngo,
	})
}

// RetireCredits records a zero-cost retirement and then tries to append a badge.
// A badge failure is logged and does not fail the retirement.
func (s *Session) RetireCredits(ctx context.Context, projectName string, credits int) (entities.Transaction, error) {
	description := fmt.Sprintf("%d credits retired for %s", credits, projectName)

	tx, err := s.Spend(ctx, entities.TxCreditsRetired, description, decimal.Zero, s.cfg.RegistryAddress)
	if err != nil {
		return entities.Transaction{}, err
	}

	if s.badges == nil {
		return tx, nil
	}

	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()
	if userID == "" {
		userID = journal.SharedUserID
	}

	badge := entities.Badge{
		UserID:          userID,
		ProjectName:     projectName,
		CreditsRetired:  credits,
		TransactionHash: tx.Hash,
		RetirementDate:  tx.Timestamp,
	}
	if err = s.badges.RecordRetirement(ctx, badge); err != nil {
		s.logger.Error("Failed to record retirement badge", "tx_hash", tx.Hash, "project", projectName, "error", err)
	}

	return tx, nil
}

// MyTransactions lists the connected address's records, inbound and outbound.
func (s *Session) MyTransactions() []entities.Transaction {
	addr := s.Address()
	if addr == "" {
		return nil
	}
	return s.journal.ListByAddress(addr)
}

func (s *Session) MyTotalSpent() decimal.Decimal {
	addr := s.Address()
	if addr == "" {
		return decimal.Zero
	}
	return s.journal.TotalSpent(addr)
}

func (s *Session) Balance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:   s.state,
		Address: s.address,
		UserID:  s.userID,
		Balance: s.balance,
	}
}

// Subscribe registers fn for session state changes and returns a function that removes it.
func (s *Session) Subscribe(fn Listener) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Session) notify() {
	snapshot := s.Snapshot()

	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// IsNotConnected reports whether err is the wallet-not-connected condition in any of its forms.
func IsNotConnected(err error) bool {
	return errors.Is(normalizeError(err), ErrWalletNotConnected)
}
