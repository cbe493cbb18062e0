package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/genstudio/internal/metrics"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/repository"
)

const (
	MinHistoryLimit = 1
	MaxHistoryLimit = 1000
)

// LedgerService is the only writer of balances. Other services reach the balance through
// it or through the repository's Tx variants when they need to join their own transaction.
type LedgerService struct {
	ledger  *repository.LedgerRepository
	metrics *metrics.Metrics
	log     *slog.Logger
}

type CreditInput struct {
	UserID              string
	Amount              int64
	Description         string
	Type                models.TxType
	RelatedGenerationID *string
}

type DebitInput struct {
	UserID              string
	Amount              int64
	Description         string
	RelatedGenerationID *string
}

func NewLedgerService(ledger *repository.LedgerRepository, m *metrics.Metrics, log *slog.Logger) *LedgerService {
	return &LedgerService{ledger: ledger, metrics: m, log: log}
}

func (s *LedgerService) GetBalance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("user id is required: %w", models.ErrInvalidInput)
	}
	return s.ledger.GetBalance(ctx, s.ledger.DB(), userID)
}

func (s *LedgerService) CheckSufficient(ctx context.Context, userID string, amount int64) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("user id is required: %w", models.ErrInvalidInput)
	}
	if amount <= 0 {
		return false, models.ErrInvalidAmount
	}
	balance, err := s.ledger.GetBalance(ctx, s.ledger.DB(), userID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

func (s *LedgerService) Credit(ctx context.Context, in CreditInput) (*models.LedgerEntry, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("user id is required: %w", models.ErrInvalidInput)
	}
	if in.Amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	switch in.Type {
	case models.TxPurchase, models.TxGrant, models.TxMonthlyReset:
	default:
		return nil, fmt.Errorf("transaction type %q cannot be credited directly: %w", in.Type, models.ErrInvalidInput)
	}

	entry, err := s.ledger.Credit(ctx, repository.Posting{
		UserID:              in.UserID,
		Type:                in.Type,
		Amount:              in.Amount,
		Description:         in.Description,
		RelatedGenerationID: in.RelatedGenerationID,
	})
	s.metrics.LedgerOp("credit", err)
	if err != nil {
		return nil, fmt.Errorf("credit %s: %w", in.UserID, err)
	}
	s.log.Info("credits added", "user_id", in.UserID, "type", in.Type, "amount", in.Amount, "balance_after", entry.BalanceAfter)
	return entry, nil
}

func (s *LedgerService) Debit(ctx context.Context, in DebitInput) (*models.LedgerEntry, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("user id is required: %w", models.ErrInvalidInput)
	}
	if in.Amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	entry, err := s.ledger.Debit(ctx, repository.Posting{
		UserID:              in.UserID,
		Amount:              in.Amount,
		Description:         in.Description,
		RelatedGenerationID: in.RelatedGenerationID,
	})
	s.metrics.LedgerOp("debit", err)
	if err != nil {
		return nil, fmt.Errorf("debit %s: %w", in.UserID, err)
	}
	return entry, nil
}

func (s *LedgerService) Refund(ctx context.Context, userID, originalTxID, reason string) (*models.LedgerEntry, error) {
	if userID == "" || originalTxID == "" {
		return nil, fmt.Errorf("user id and transaction id are required: %w", models.ErrInvalidInput)
	}
	entry, err := s.ledger.Refund(ctx, userID, originalTxID, reason)
	s.metrics.LedgerOp("refund", err)
	if err != nil {
		return nil, fmt.Errorf("refund %s: %w", originalTxID, err)
	}
	s.log.Info("transaction refunded", "user_id", userID, "transaction_id", originalTxID, "refund_id", entry.TransactionID)
	return entry, nil
}

// GetHistory returns the newest limit transactions.
func (s *LedgerService) GetHistory(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	return s.GetHistorySince(ctx, userID, time.Time{}, limit)
}

func (s *LedgerService) GetHistorySince(ctx context.Context, userID string, since time.Time, limit int) ([]models.CreditTransaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", models.ErrInvalidInput)
	}
	if limit < MinHistoryLimit || limit > MaxHistoryLimit {
		return nil, models.ErrInvalidLimit
	}
	txs, err := s.ledger.History(ctx, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", userID, err)
	}
	if txs == nil {
		txs = []models.CreditTransaction{}
	}
	return txs, nil
}
