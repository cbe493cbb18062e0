package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/models"
)

var (
	ErrPromoNotFound        = errors.New("promo code not found")
	ErrPromoExhausted       = errors.New("promo code exhausted")
	ErrPromoAlreadyRedeemed = errors.New("promo code already redeemed")
)

const promoColumns = `id, code, max_uses, uses, credits, created_at`

type PromoRepository struct {
	db *database.DB
}

func NewPromoRepository(db *database.DB) *PromoRepository {
	return &PromoRepository{db: db}
}

func (r *PromoRepository) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	return r.getOne(ctx, r.db, `SELECT `+promoColumns+` FROM promo_codes WHERE code = ?`, normalizeCode(code))
}

func (r *PromoRepository) GetByID(ctx context.Context, id int64) (*models.PromoCode, error) {
	return r.getOne(ctx, r.db, `SELECT `+promoColumns+` FROM promo_codes WHERE id = ?`, id)
}

func (r *PromoRepository) getOne(ctx context.Context, q Querier, query string, arg any) (*models.PromoCode, error) {
	promo, err := scanPromo(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan promo: %w", err)
	}
	return promo, nil
}

func (r *PromoRepository) List(ctx context.Context) ([]models.PromoCode, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+promoColumns+` FROM promo_codes ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list promos: %w", err)
	}
	defer rows.Close()

	var promos []models.PromoCode
	for rows.Next() {
		promo, err := scanPromo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promo list: %w", err)
		}
		promos = append(promos, *promo)
	}
	return promos, rows.Err()
}

func (r *PromoRepository) Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	const query = `
INSERT INTO promo_codes (code, max_uses, uses, credits, created_at)
VALUES (?, ?, 0, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, normalizeCode(promo.Code), promo.MaxUses, promo.Credits, database.Now())
	if err != nil {
		if r.db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("promo code %q already exists: %w", promo.Code, models.ErrInvalidInput)
		}
		return nil, fmt.Errorf("create promo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("promo last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PromoRepository) Update(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	const query = `
UPDATE promo_codes
SET code = ?, max_uses = ?, uses = ?, credits = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, normalizeCode(promo.Code), promo.MaxUses, promo.Uses, promo.Credits, promo.ID); err != nil {
		return nil, fmt.Errorf("update promo: %w", err)
	}
	return r.GetByID(ctx, promo.ID)
}

func (r *PromoRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM promo_codes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete promo: %w", err)
	}
	return nil
}

// RedeemTx claims one use of the code for userID inside tx and returns the code's credit value.
func (r *PromoRepository) RedeemTx(ctx context.Context, tx *sql.Tx, userID, code string) (*models.PromoCode, error) {
	promo, err := r.getOne(ctx, tx, `SELECT `+promoColumns+` FROM promo_codes WHERE code = ?`+r.db.ForUpdate(), normalizeCode(code))
	if err != nil {
		return nil, err
	}
	if promo == nil {
		return nil, ErrPromoNotFound
	}

	const redeemed = `SELECT 1 FROM promo_redemptions WHERE user_id = ? AND promo_code_id = ?`
	var dummy int
	switch err := tx.QueryRowContext(ctx, redeemed, userID, promo.ID).Scan(&dummy); {
	case err == nil:
		return nil, ErrPromoAlreadyRedeemed
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("check redemption: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE promo_codes SET uses = uses + 1 WHERE id = ? AND uses < max_uses`, promo.ID)
	if err != nil {
		return nil, fmt.Errorf("increment promo usage: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPromoExhausted
	}

	const insert = `INSERT INTO promo_redemptions (user_id, promo_code_id, created_at) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, userID, promo.ID, database.Now()); err != nil {
		if r.db.IsUniqueViolation(err) {
			return nil, ErrPromoAlreadyRedeemed
		}
		return nil, fmt.Errorf("record redemption: %w", err)
	}
	promo.Uses++
	return promo, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func scanPromo(s rowScanner) (*models.PromoCode, error) {
	var promo models.PromoCode
	if err := s.Scan(&promo.ID, &promo.Code, &promo.MaxUses, &promo.Uses, &promo.Credits, &promo.CreatedAt); err != nil {
		return nil, err
	}
	return &promo, nil
}
