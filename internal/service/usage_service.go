package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/metrics"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/repository"
)

const (
	maxEventTypeLen = 64
	maxUsageCost    = 1_000_000
)

type RecordUsageInput struct {
	UserID    string
	EventType string
	Cost      float64
	Tokens    int64
	RequestID string
	Metadata  map[string]string
}

type RecordUsageResult struct {
	EventID       string `json:"eventId"`
	TransactionID string `json:"transactionId"`
	Credits       int64  `json:"creditsCharged"`
	BalanceAfter  int64  `json:"balanceAfter"`
	Duplicate     bool   `json:"duplicate"`
}

// UsageService meters non-generation actions through the ledger. A request id makes the
// call idempotent per user.
type UsageService struct {
	db      *database.DB
	ledger  *repository.LedgerRepository
	usage   *repository.UsageRepository
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewUsageService(db *database.DB, ledger *repository.LedgerRepository, usage *repository.UsageRepository, m *metrics.Metrics, log *slog.Logger) *UsageService {
	return &UsageService{db: db, ledger: ledger, usage: usage, metrics: m, log: log}
}

func (s *UsageService) RecordUsage(ctx context.Context, in RecordUsageInput) (*RecordUsageResult, error) {
	if err := validateUsage(in); err != nil {
		return nil, err
	}
	credits := int64(math.Ceil(in.Cost))

	var result *RecordUsageResult
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if in.RequestID != "" {
			existing, err := s.usage.FindByRequest(ctx, tx, in.UserID, in.RequestID)
			if err != nil {
				return err
			}
			if existing != nil {
				balance, err := s.ledger.GetBalance(ctx, tx, in.UserID)
				if err != nil {
					return err
				}
				result = duplicateResult(existing, balance)
				return nil
			}
		}

		entry, err := s.ledger.DebitTx(ctx, tx, repository.Posting{
			UserID:      in.UserID,
			Amount:      credits,
			Description: "Usage: " + in.EventType,
		})
		if err != nil {
			return err
		}
		event := &models.UsageEvent{
			UserID:              in.UserID,
			EventType:           in.EventType,
			Cost:                in.Cost,
			Credits:             credits,
			Tokens:              in.Tokens,
			RequestID:           in.RequestID,
			Metadata:            in.Metadata,
			CreditTransactionID: entry.TransactionID,
		}
		if err := s.usage.InsertTx(ctx, tx, event); err != nil {
			return err
		}
		result = &RecordUsageResult{
			EventID:       event.ID,
			TransactionID: entry.TransactionID,
			Credits:       credits,
			BalanceAfter:  entry.BalanceAfter,
		}
		return nil
	})
	if err != nil && in.RequestID != "" && s.db.IsUniqueViolation(err) {
		// Lost a race with a concurrent replay of the same request; the winner's debit stands.
		return s.replay(ctx, in)
	}
	s.metrics.LedgerOp("record_usage", err)
	if err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}
	if !result.Duplicate {
		s.metrics.CreditsDebited("usage", credits)
		s.log.Info("usage recorded", "user_id", in.UserID, "event_type", in.EventType, "credits", credits, "balance_after", result.BalanceAfter)
	}
	return result, nil
}

// History returns the newest usage events recorded at or after since.
func (s *UsageService) History(ctx context.Context, userID string, since time.Time, limit int) ([]models.UsageEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", models.ErrInvalidInput)
	}
	if limit < MinHistoryLimit || limit > MaxHistoryLimit {
		return nil, models.ErrInvalidLimit
	}
	events, err := s.usage.ListByUser(ctx, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("usage history %s: %w", userID, err)
	}
	if events == nil {
		events = []models.UsageEvent{}
	}
	return events, nil
}

func (s *UsageService) replay(ctx context.Context, in RecordUsageInput) (*RecordUsageResult, error) {
	existing, err := s.usage.FindByRequest(ctx, s.db, in.UserID, in.RequestID)
	if err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("record usage: request %s vanished after conflict", in.RequestID)
	}
	balance, err := s.ledger.GetBalance(ctx, s.db, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}
	return duplicateResult(existing, balance), nil
}

func duplicateResult(e *models.UsageEvent, balance int64) *RecordUsageResult {
	return &RecordUsageResult{
		EventID:       e.ID,
		TransactionID: e.CreditTransactionID,
		Credits:       e.Credits,
		BalanceAfter:  balance,
		Duplicate:     true,
	}
}

func validateUsage(in RecordUsageInput) error {
	switch {
	case in.UserID == "":
		return models.NewValidationError("userId", "must not be empty")
	case in.EventType == "":
		return models.NewValidationError("eventType", "must not be empty")
	case len(in.EventType) > maxEventTypeLen:
		return models.NewValidationError("eventType", fmt.Sprintf("must be at most %d characters", maxEventTypeLen))
	case math.IsNaN(in.Cost) || math.IsInf(in.Cost, 0):
		return models.NewValidationError("cost", "must be a finite number")
	case in.Cost <= 0:
		return models.NewValidationError("cost", "must be positive")
	case in.Cost > maxUsageCost:
		return models.NewValidationError("cost", "is too large")
	case in.Tokens < 0:
		return models.NewValidationError("tokens", "must not be negative")
	case len(in.RequestID) > 128:
		return models.NewValidationError("requestId", "must be at most 128 characters")
	}
	return nil
}
