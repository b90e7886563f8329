package chain

import (
	"context"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
)

// WatchWallet is a connected address without a key. Every spend through it is simulated.
type WatchWallet struct {
	address string
}

func NewWatchWallet(address string) *WatchWallet {
	return &WatchWallet{address: address}
}

func (w *WatchWallet) Connected() bool { return w.address != "" }

func (w *WatchWallet) Account() any { return w.address }

func (w *WatchWallet) SignAndSubmitTransaction(context.Context, entities.TransferPayload) (entities.SubmitResult, error) {
	return entities.SubmitResult{}, ErrSigningUnavailable
}
