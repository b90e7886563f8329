package wallet

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
)

// Adapter is a connected wallet. Account returns whatever shape the wallet uses for
// its account; only address.Normalize looks inside it.
type Adapter interface {
	Connected() bool
	Account() any
	SignAndSubmitTransaction(ctx context.Context, payload entities.TransferPayload) (entities.SubmitResult, error)
}

// BalanceSource reports native balances. Implementations fall back on their own.
type BalanceSource interface {
	BalanceOrFallback(ctx context.Context, address string) decimal.Decimal
}

// BadgeRecorder appends retirement badges.
type BadgeRecorder interface {
	RecordRetirement(ctx context.Context, badge entities.Badge) error
}

type EventKind string

const (
	EventConnect        EventKind = "connect"
	EventDisconnect     EventKind = "disconnect"
	EventAccountChanged EventKind = "account_changed"
	EventError          EventKind = "error"
)

// Event is one transition reported by the wallet connection.
type Event struct {
	Kind    EventKind
	Adapter Adapter
	Err     error
}

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Snapshot is the observable session state.
type Snapshot struct {
	State   State           `json:"state"`
	Address string          `json:"address"`
	UserID  string          `json:"userId"`
	Balance decimal.Decimal `json:"balance"`
}
