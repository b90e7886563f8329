package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
)

var (
	ErrMirrorRecordNotFound = errors.New("mirror record not found")
	ErrInvalidMirrorRecord  = errors.New("invalid mirror record")
	ErrInvalidStatus        = errors.New("invalid transaction status")
)

type MirrorRepository interface {
	InsertTransaction(ctx context.Context, record entities.MirrorRecord) (entities.MirrorRecord, error)
	FindTransactions(ctx context.Context, filter entities.MirrorFilter) ([]entities.MirrorRecord, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

// MirrorService is the server side of the remote transaction mirror.
type MirrorService struct {
	logger *slog.Logger
	repo   MirrorRepository
}

func NewMirrorService(logger *slog.Logger, repo MirrorRepository) *MirrorService {
	return &MirrorService{logger: logger, repo: repo}
}

// CreateTransaction validates and stores a record pushed by a journal.
func (s *MirrorService) CreateTransaction(ctx context.Context, record entities.MirrorRecord) (entities.MirrorRecord, error) {
	record.Hash = strings.TrimSpace(record.Hash)
	if record.Hash == "" || record.Type == "" {
		return entities.MirrorRecord{}, fmt.Errorf("hash and type are required: %w", ErrInvalidMirrorRecord)
	}
	if record.Amount != "" {
		if _, err := decimal.NewFromString(record.Amount); err != nil {
			return entities.MirrorRecord{}, fmt.Errorf("amount %q: %w", record.Amount, ErrInvalidMirrorRecord)
		}
	}
	if record.Status == "" {
		record.Status = string(entities.TxPending)
	}
	if !validStatus(record.Status) {
		return entities.MirrorRecord{}, fmt.Errorf("%q: %w", record.Status, ErrInvalidStatus)
	}

	return s.repo.InsertTransaction(ctx, record)
}

// ListTransactions returns records matching filter, newest first.
func (s *MirrorService) ListTransactions(ctx context.Context, filter entities.MirrorFilter) ([]entities.MirrorRecord, error) {
	records, err := s.repo.FindTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list mirror transactions: %w", err)
	}
	if records == nil {
		records = []entities.MirrorRecord{}
	}
	return records, nil
}

// UpdateStatus sets the status of the record with the given id.
func (s *MirrorService) UpdateStatus(ctx context.Context, id, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("%q: %w", status, ErrInvalidStatus)
	}

	recordID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("id %q: %w", id, ErrMirrorRecordNotFound)
	}

	if err = s.repo.UpdateStatus(ctx, recordID, status); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("id %s: %w", id, ErrMirrorRecordNotFound)
		}
		return fmt.Errorf("failed to update mirror transaction: %w", err)
	}
	return nil
}

func validStatus(status string) bool {
	switch entities.TransactionStatus(status) {
	case entities.TxPending, entities.TxSuccess, entities.TxFailed:
		return true
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, entities.ErrNotFound)
}
