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

const accountColumns = `user_id, COALESCE(email, ''), plan_tier, credits_balance, created_at, updated_at`

type AccountRepository struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) FindByUserID(ctx context.Context, userID string) (*models.Account, error) {
	return r.find(ctx, r.db, userID, "")
}

// FindForUpdate reads the account inside tx, row-locking it where the backend supports it.
func (r *AccountRepository) FindForUpdate(ctx context.Context, tx *sql.Tx, userID string) (*models.Account, error) {
	return r.find(ctx, tx, userID, r.db.ForUpdate())
}

func (r *AccountRepository) find(ctx context.Context, q Querier, userID, suffix string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = ?` + suffix
	a, err := scanAccount(q.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

// Create inserts a zero-balance account inside tx. It reports false when the row already existed.
func (r *AccountRepository) Create(ctx context.Context, tx *sql.Tx, userID, email string, plan models.PlanTier) (bool, error) {
	now := database.Now()
	const query = `
INSERT INTO accounts (user_id, email, plan_tier, credits_balance, created_at, updated_at)
VALUES (?, NULLIF(?, ''), ?, 0, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, userID, email, plan, now, now); err != nil {
		if r.db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert account: %w", err)
	}
	return true, nil
}

func (r *AccountRepository) UpdateEmail(ctx context.Context, userID, email string) error {
	const query = `UPDATE accounts SET email = NULLIF(?, ''), updated_at = ? WHERE user_id = ?`
	if _, err := r.db.ExecContext(ctx, query, email, database.Now(), userID); err != nil {
		return fmt.Errorf("update account email: %w", err)
	}
	return nil
}

func (r *AccountRepository) SetPlan(ctx context.Context, userID string, plan models.PlanTier) error {
	const query = `UPDATE accounts SET plan_tier = ?, updated_at = ? WHERE user_id = ?`
	res, err := r.db.ExecContext(ctx, query, plan, database.Now(), userID)
	if err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrUserNotFound
	}
	return nil
}

// ListBelowBalance returns the ids of accounts on plan whose balance is under threshold.
func (r *AccountRepository) ListBelowBalance(ctx context.Context, plan models.PlanTier, threshold int64) ([]string, error) {
	const query = `SELECT user_id FROM accounts WHERE plan_tier = ? AND credits_balance < ? ORDER BY user_id`
	rows, err := r.db.QueryContext(ctx, query, plan, threshold)
	if err != nil {
		return nil, fmt.Errorf("list accounts below balance: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListIDsWithPrefix returns the user ids starting with prefix, oldest account first.
func (r *AccountRepository) ListIDsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	const query = `SELECT user_id FROM accounts WHERE user_id LIKE ? ORDER BY created_at, user_id`
	rows, err := r.db.QueryContext(ctx, query, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("list accounts by prefix: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// escapeLike drops the LIKE wildcards from a literal prefix.
func escapeLike(s string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(s)
}

func scanAccount(s rowScanner) (*models.Account, error) {
	var a models.Account
	if err := s.Scan(&a.UserID, &a.Email, &a.PlanTier, &a.CreditsBalance, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
