package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/models"
)

const txColumns = `id, user_id, type, amount, balance_after, description, related_generation_id, refund_of, created_at`

// Posting describes one balance movement before it is written.
type Posting struct {
	UserID              string
	Type                models.TxType
	Amount              int64
	Description         string
	RelatedGenerationID *string
	RefundOf            *string
}

// LedgerRepository owns accounts.credits_balance and the append-only credit_transactions log.
// Every mutation updates both in the same transaction.
type LedgerRepository struct {
	db *database.DB
}

func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) DB() *database.DB {
	return r.db
}

func (r *LedgerRepository) GetBalance(ctx context.Context, q Querier, userID string) (int64, error) {
	const query = `SELECT credits_balance FROM accounts WHERE user_id = ?`
	var balance int64
	if err := q.QueryRowContext(ctx, query, userID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, models.ErrUserNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (r *LedgerRepository) Credit(ctx context.Context, p Posting) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = r.CreditTx(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CreditTx adds p.Amount to the balance and appends the log row inside tx.
func (r *LedgerRepository) CreditTx(ctx context.Context, tx *sql.Tx, p Posting) (*models.LedgerEntry, error) {
	now := database.Now()
	const update = `UPDATE accounts SET credits_balance = credits_balance + ?, updated_at = ? WHERE user_id = ?`
	res, err := tx.ExecContext(ctx, update, p.Amount, now, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("credit balance: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return r.appendTx(ctx, tx, p, now)
}

func (r *LedgerRepository) Debit(ctx context.Context, p Posting) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = r.DebitTx(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// DebitTx subtracts p.Amount with a single guarded UPDATE so concurrent callers can never
// both pass the balance check.
func (r *LedgerRepository) DebitTx(ctx context.Context, tx *sql.Tx, p Posting) (*models.LedgerEntry, error) {
	now := database.Now()
	const update = `
UPDATE accounts SET credits_balance = credits_balance - ?, updated_at = ?
WHERE user_id = ? AND credits_balance >= ?`
	res, err := tx.ExecContext(ctx, update, p.Amount, now, p.UserID, p.Amount)
	if err != nil {
		return nil, fmt.Errorf("debit balance: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return nil, err
	}
	if !ok {
		have, err := r.GetBalance(ctx, tx, p.UserID)
		if err != nil {
			return nil, err
		}
		return nil, &models.InsufficientCreditsError{Needed: p.Amount, Have: have}
	}
	p.Type = models.TxUsage
	return r.appendTx(ctx, tx, p, now)
}

// Refund credits back a usage transaction. The UNIQUE refund_of column makes a second
// refund of the same transaction fail even when two callers race past the pre-check.
func (r *LedgerRepository) Refund(ctx context.Context, userID, originalID, reason string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		original, err := r.getTx(ctx, tx, originalID)
		if err != nil {
			return err
		}
		if original == nil {
			return models.ErrTransactionNotFound
		}
		if original.UserID != userID {
			return models.ErrTransactionOwnershipMismatch
		}
		if original.Type != models.TxUsage {
			return models.ErrTransactionNotRefundable
		}

		const exists = `SELECT id FROM credit_transactions WHERE refund_of = ?`
		var existing string
		switch err := tx.QueryRowContext(ctx, exists, originalID).Scan(&existing); {
		case err == nil:
			return models.ErrAlreadyRefunded
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check existing refund: %w", err)
		}

		if reason == "" {
			reason = "Refund for transaction " + originalID
		}
		entry, err = r.CreditTx(ctx, tx, Posting{
			UserID:              userID,
			Type:                models.TxRefund,
			Amount:              original.Amount,
			Description:         reason,
			RelatedGenerationID: original.RelatedGenerationID,
			RefundOf:            &original.ID,
		})
		if err != nil && r.db.IsUniqueViolation(err) {
			return models.ErrAlreadyRefunded
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *LedgerRepository) appendTx(ctx context.Context, tx *sql.Tx, p Posting, now time.Time) (*models.LedgerEntry, error) {
	balance, err := r.GetBalance(ctx, tx, p.UserID)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	const insert = `
INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, description, related_generation_id, refund_of, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, id, p.UserID, p.Type, p.Amount, balance, p.Description, nullString(p.RelatedGenerationID), nullString(p.RefundOf), now); err != nil {
		return nil, fmt.Errorf("insert credit transaction: %w", err)
	}
	return &models.LedgerEntry{TransactionID: id, BalanceAfter: balance}, nil
}

func (r *LedgerRepository) GetTransaction(ctx context.Context, id string) (*models.CreditTransaction, error) {
	return r.getTx(ctx, r.db, id)
}

func (r *LedgerRepository) getTx(ctx context.Context, q Querier, id string) (*models.CreditTransaction, error) {
	query := `SELECT ` + txColumns + ` FROM credit_transactions WHERE id = ?`
	t, err := scanTransaction(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credit transaction: %w", err)
	}
	return t, nil
}

// History returns the newest transactions first. A zero since means no lower bound.
func (r *LedgerRepository) History(ctx context.Context, userID string, since time.Time, limit int) ([]models.CreditTransaction, error) {
	query := `SELECT ` + txColumns + ` FROM credit_transactions WHERE user_id = ?`
	args := []any{userID}
	if !since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.CreditTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// HasTypeSince reports whether the user already has a transaction of txType at or after since.
func (r *LedgerRepository) HasTypeSince(ctx context.Context, q Querier, userID string, txType models.TxType, since time.Time) (bool, error) {
	const query = `SELECT COUNT(*) FROM credit_transactions WHERE user_id = ? AND type = ? AND created_at >= ?`
	var n int
	if err := q.QueryRowContext(ctx, query, userID, txType, since.UTC()).Scan(&n); err != nil {
		return false, fmt.Errorf("count transactions: %w", err)
	}
	return n > 0, nil
}

func scanTransaction(s rowScanner) (*models.CreditTransaction, error) {
	var t models.CreditTransaction
	var related, refundOf sql.NullString
	if err := s.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Description, &related, &refundOf, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.RelatedGenerationID = stringPtr(related)
	t.RefundOf = stringPtr(refundOf)
	return &t, nil
}
