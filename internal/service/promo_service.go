package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/metrics"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/repository"
)

type PromoService struct {
	db           *database.DB
	promos       *repository.PromoRepository
	ledger       *repository.LedgerRepository
	defaultBonus int64
	metrics      *metrics.Metrics
	log          *slog.Logger
}

type CreatePromoInput struct {
	Code    string `json:"code"`
	MaxUses int    `json:"maxUses"`
	Credits int64  `json:"credits"`
}

type UpdatePromoInput struct {
	MaxUses *int   `json:"maxUses"`
	Credits *int64 `json:"credits"`
}

func NewPromoService(db *database.DB, promos *repository.PromoRepository, ledger *repository.LedgerRepository, defaultBonus int64, m *metrics.Metrics, log *slog.Logger) *PromoService {
	return &PromoService{db: db, promos: promos, ledger: ledger, defaultBonus: defaultBonus, metrics: m, log: log}
}

// Redeem claims the code for userID and grants its credits in the same SQL transaction,
// so a failed grant leaves the code unused.
func (s *PromoService) Redeem(ctx context.Context, userID, code string) (*models.LedgerEntry, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, models.NewValidationError("code", "must not be empty")
	}

	var entry *models.LedgerEntry
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		promo, err := s.promos.RedeemTx(ctx, tx, userID, code)
		if err != nil {
			return err
		}
		credits := promo.Credits
		if credits <= 0 {
			credits = s.defaultBonus
		}
		entry, err = s.ledger.CreditTx(ctx, tx, repository.Posting{
			UserID:      userID,
			Type:        models.TxGrant,
			Amount:      credits,
			Description: "Promo code " + promo.Code,
		})
		return err
	})
	s.metrics.LedgerOp("promo_redeem", err)
	if err != nil {
		return nil, fmt.Errorf("redeem promo: %w", err)
	}
	s.log.Info("promo redeemed", "user_id", userID, "code", strings.ToUpper(code), "balance_after", entry.BalanceAfter)
	return entry, nil
}

func (s *PromoService) List(ctx context.Context) ([]models.PromoCode, error) {
	promos, err := s.promos.List(ctx)
	if err != nil {
		return nil, err
	}
	if promos == nil {
		promos = []models.PromoCode{}
	}
	return promos, nil
}

func (s *PromoService) Create(ctx context.Context, input CreatePromoInput) (*models.PromoCode, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, models.NewValidationError("code", "is required")
	}
	if len(code) > 64 {
		return nil, models.NewValidationError("code", "must be at most 64 characters")
	}
	if input.MaxUses <= 0 {
		return nil, models.NewValidationError("maxUses", "must be positive")
	}
	if input.Credits <= 0 {
		input.Credits = s.defaultBonus
	}
	return s.promos.Create(ctx, &models.PromoCode{Code: code, MaxUses: input.MaxUses, Credits: input.Credits})
}

func (s *PromoService) Update(ctx context.Context, id int64, input UpdatePromoInput) (*models.PromoCode, error) {
	promo, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if promo == nil {
		return nil, repository.ErrPromoNotFound
	}
	if input.MaxUses != nil && *input.MaxUses > 0 {
		promo.MaxUses = *input.MaxUses
	}
	if input.Credits != nil && *input.Credits > 0 {
		promo.Credits = *input.Credits
	}
	return s.promos.Update(ctx, promo)
}

func (s *PromoService) Delete(ctx context.Context, id int64) error {
	return s.promos.Delete(ctx, id)
}
