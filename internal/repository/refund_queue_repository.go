package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/models"
)

// RefundQueueRepository persists refunds that could not be written on the request path.
type RefundQueueRepository struct {
	db *database.DB
}

func NewRefundQueueRepository(db *database.DB) *RefundQueueRepository {
	return &RefundQueueRepository{db: db}
}

// Enqueue is a no-op when the transaction is already queued.
func (r *RefundQueueRepository) Enqueue(ctx context.Context, userID, transactionID, reason, lastError string) error {
	now := database.Now()
	const query = `
INSERT INTO pending_refunds (id, user_id, transaction_id, reason, attempts, last_error, status, created_at, updated_at)
VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, uuid.NewString(), userID, transactionID, reason, lastError, models.RefundPending, now, now)
	if err != nil {
		if r.db.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("enqueue refund: %w", err)
	}
	return nil
}

func (r *RefundQueueRepository) ListPending(ctx context.Context, limit int) ([]models.PendingRefund, error) {
	const query = `
SELECT id, user_id, transaction_id, reason, attempts, COALESCE(last_error, ''), status, created_at, updated_at
FROM pending_refunds
WHERE status = ?
ORDER BY created_at ASC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, models.RefundPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending refunds: %w", err)
	}
	defer rows.Close()

	var out []models.PendingRefund
	for rows.Next() {
		var p models.PendingRefund
		if err := rows.Scan(&p.ID, &p.UserID, &p.TransactionID, &p.Reason, &p.Attempts, &p.LastError, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pending refund: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *RefundQueueRepository) MarkDone(ctx context.Context, id string) error {
	const query = `UPDATE pending_refunds SET status = ?, attempts = attempts + 1, last_error = NULL, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, models.RefundDone, database.Now(), id); err != nil {
		return fmt.Errorf("mark refund done: %w", err)
	}
	return nil
}

// RecordFailure bumps the attempt counter and moves the entry to failed once maxAttempts is reached.
func (r *RefundQueueRepository) RecordFailure(ctx context.Context, id, lastError string, maxAttempts int) (models.RefundStatus, error) {
	const query = `
UPDATE pending_refunds
SET status = CASE WHEN attempts + 1 >= ? THEN ? ELSE status END,
    attempts = attempts + 1,
    last_error = ?,
    updated_at = ?
WHERE id = ?`
	// status is assigned first: MySQL applies assignments left to right.
	if _, err := r.db.ExecContext(ctx, query, maxAttempts, models.RefundFailed, lastError, database.Now(), id); err != nil {
		return "", fmt.Errorf("record refund failure: %w", err)
	}
	var status models.RefundStatus
	if err := r.db.QueryRowContext(ctx, `SELECT status FROM pending_refunds WHERE id = ?`, id).Scan(&status); err != nil {
		return "", fmt.Errorf("read refund status: %w", err)
	}
	return status, nil
}

func (r *RefundQueueRepository) CountByStatus(ctx context.Context, status models.RefundStatus) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_refunds WHERE status = ?`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count refunds: %w", err)
	}
	return n, nil
}
