package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/models"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

type PaymentRepository struct {
	db *database.DB
}

func NewPaymentRepository(db *database.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a payment row. A repeated provider charge id reports false, nil.
func (r *PaymentRepository) Create(ctx context.Context, q Querier, payment *models.Payment) (bool, error) {
	now := database.Now()
	const query = `
INSERT INTO payments (user_id, package_id, provider, provider_payment_charge_id, currency, amount, status, raw_payload, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var packageID sql.NullInt64
	if payment.PackageID != nil {
		packageID = sql.NullInt64{Int64: *payment.PackageID, Valid: true}
	}
	res, err := q.ExecContext(ctx, query, payment.UserID, packageID, payment.Provider, payment.ProviderCharge, payment.Currency, payment.Amount, payment.Status, payment.RawPayload, now, now)
	if err != nil {
		if r.db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	payment.CreatedAt = now
	payment.UpdatedAt = now
	return true, nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, paymentID int64, status string, payload string) error {
	const query = `UPDATE payments SET status = ?, raw_payload = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, payload, database.Now(), paymentID); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

// MarkPaidTx flips a payment to paid exactly once; it reports false if it was already paid.
func (r *PaymentRepository) MarkPaidTx(ctx context.Context, tx *sql.Tx, paymentID int64, payload string) (bool, error) {
	const query = `UPDATE payments SET status = ?, raw_payload = ?, updated_at = ? WHERE id = ? AND status <> ?`
	res, err := tx.ExecContext(ctx, query, PaymentStatusPaid, payload, database.Now(), paymentID, PaymentStatusPaid)
	if err != nil {
		return false, fmt.Errorf("mark payment paid: %w", err)
	}
	return affectedOne(res)
}

func (r *PaymentRepository) FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error) {
	const query = `
SELECT id, user_id, package_id, provider, COALESCE(provider_payment_charge_id, ''), currency, amount, status, COALESCE(raw_payload, ''), created_at, updated_at
FROM payments WHERE provider = ? AND provider_payment_charge_id = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, provider, chargeID)
	var p models.Payment
	var packageID sql.NullInt64
	if err := row.Scan(&p.ID, &p.UserID, &packageID, &p.Provider, &p.ProviderCharge, &p.Currency, &p.Amount, &p.Status, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if packageID.Valid {
		p.PackageID = &packageID.Int64
	}
	return &p, nil
}
