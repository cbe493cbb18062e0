package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/metrics"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/pricing"
	"github.com/digkill/genstudio/internal/repository"
)

var resetPlans = []models.PlanTier{models.PlanFree, models.PlanStarter, models.PlanProfessional, models.PlanEnterprise}

type ResetSummary struct {
	Checked  int   `json:"checked"`
	ToppedUp int   `json:"toppedUp"`
	Credits  int64 `json:"credits"`
}

// MonthlyResetService tops balances up to the plan's monthly allowance. It never lowers a
// balance and tops an account up at most once per calendar month.
type MonthlyResetService struct {
	db       *database.DB
	accounts *repository.AccountRepository
	ledger   *repository.LedgerRepository
	pricing  *pricing.Table
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewMonthlyResetService(db *database.DB, accounts *repository.AccountRepository, ledger *repository.LedgerRepository, table *pricing.Table, m *metrics.Metrics, log *slog.Logger) *MonthlyResetService {
	return &MonthlyResetService{
		db:       db,
		accounts: accounts,
		ledger:   ledger,
		pricing:  table,
		metrics:  m,
		log:      log.With("component", "monthly_reset"),
		now:      time.Now,
	}
}

func (s *MonthlyResetService) Run(ctx context.Context) (ResetSummary, error) {
	var summary ResetSummary
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	for _, plan := range resetPlans {
		rule, ok := s.pricing.Rule(plan)
		if !ok || rule.Unlimited || rule.MonthlyCredits <= 0 {
			continue
		}
		ids, err := s.accounts.ListBelowBalance(ctx, plan, rule.MonthlyCredits)
		if err != nil {
			return summary, err
		}
		for _, userID := range ids {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			summary.Checked++
			credited, err := s.topUp(ctx, userID, rule.MonthlyCredits, monthStart)
			if err != nil {
				s.log.Error("monthly top-up failed", "user_id", userID, "plan", plan, "err", err)
				continue
			}
			if credited > 0 {
				summary.ToppedUp++
				summary.Credits += credited
			}
		}
	}
	s.log.Info("monthly reset finished", "checked", summary.Checked, "topped_up", summary.ToppedUp, "credits", summary.Credits)
	return summary, nil
}

func (s *MonthlyResetService) topUp(ctx context.Context, userID string, allowance int64, monthStart time.Time) (int64, error) {
	var credited int64
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		done, err := s.ledger.HasTypeSince(ctx, tx, userID, models.TxMonthlyReset, monthStart)
		if err != nil || done {
			return err
		}
		account, err := s.accounts.FindForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if account == nil {
			return models.ErrUserNotFound
		}
		missing := allowance - account.CreditsBalance
		if missing <= 0 {
			return nil
		}
		if _, err := s.ledger.CreditTx(ctx, tx, repository.Posting{
			UserID:      userID,
			Type:        models.TxMonthlyReset,
			Amount:      missing,
			Description: fmt.Sprintf("Monthly allowance %s", monthStart.Format("2006-01")),
		}); err != nil {
			return err
		}
		credited = missing
		return nil
	})
	s.metrics.LedgerOp("monthly_reset", err)
	return credited, err
}
