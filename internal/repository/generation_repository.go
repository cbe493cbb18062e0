package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/models"
)

type GenerationRepository struct {
	db *database.DB
}

func NewGenerationRepository(db *database.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// LogSuccess inserts the generation, links the paying transaction to it and bumps the daily
// rollup, all in one transaction. A transaction id that is missing, owned by someone else
// or already linked rolls everything back.
func (r *GenerationRepository) LogSuccess(ctx context.Context, g *models.Generation) (string, error) {
	urls, err := encodeJSON(g.ResultURLs)
	if err != nil {
		return "", err
	}
	var settings sql.NullString
	if len(g.Settings) > 0 {
		settings = sql.NullString{String: string(g.Settings), Valid: true}
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = database.Now()
	}

	err = r.db.InTx(ctx, func(tx *sql.Tx) error {
		const insert = `
INSERT INTO generations (id, user_id, generation_type, count, credits_used, credit_transaction_id, prompt, settings, result_urls, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insert, g.ID, g.UserID, g.GenerationType, g.Count, g.CreditsUsed, nullString(g.CreditTransactionID), g.Prompt, settings, urls, g.CreatedAt); err != nil {
			return fmt.Errorf("insert generation: %w", err)
		}

		if g.CreditTransactionID != nil && *g.CreditTransactionID != "" {
			if err := r.linkTransaction(ctx, tx, *g.CreditTransactionID, g.UserID, g.ID); err != nil {
				return err
			}
		}

		day := g.CreatedAt.UTC().Format(time.DateOnly)
		if _, err := tx.ExecContext(ctx, r.db.UpsertUsageAnalytics(), g.UserID, day, g.GenerationType, g.Count, g.CreditsUsed); err != nil {
			return fmt.Errorf("upsert usage analytics: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return g.ID, nil
}

func (r *GenerationRepository) linkTransaction(ctx context.Context, tx *sql.Tx, txID, userID, generationID string) error {
	const update = `
UPDATE credit_transactions SET related_generation_id = ?
WHERE id = ? AND user_id = ? AND related_generation_id IS NULL`
	res, err := tx.ExecContext(ctx, update, generationID, txID, userID)
	if err != nil {
		return fmt.Errorf("link credit transaction: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	const owner = `SELECT user_id FROM credit_transactions WHERE id = ?`
	var ownerID string
	if err := tx.QueryRowContext(ctx, owner, txID).Scan(&ownerID); err != nil {
		if err == sql.ErrNoRows {
			return models.ErrTransactionNotFound
		}
		return fmt.Errorf("lookup credit transaction owner: %w", err)
	}
	if ownerID != userID {
		return models.ErrTransactionOwnershipMismatch
	}
	return fmt.Errorf("credit transaction %s already linked to a generation: %w", txID, models.ErrInvalidInput)
}

func (r *GenerationRepository) GetByID(ctx context.Context, id string) (*models.Generation, error) {
	const query = `
SELECT id, user_id, generation_type, count, credits_used, credit_transaction_id, prompt, settings, result_urls, created_at
FROM generations WHERE id = ?`
	g, err := scanGeneration(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return g, nil
}

func (r *GenerationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Generation, error) {
	const query = `
SELECT id, user_id, generation_type, count, credits_used, credit_transaction_id, prompt, settings, result_urls, created_at
FROM generations WHERE user_id = ?
ORDER BY created_at DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func scanGeneration(s rowScanner) (*models.Generation, error) {
	var g models.Generation
	var txID, settings sql.NullString
	var urls string
	if err := s.Scan(&g.ID, &g.UserID, &g.GenerationType, &g.Count, &g.CreditsUsed, &txID, &g.Prompt, &settings, &urls, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.CreditTransactionID = stringPtr(txID)
	if settings.Valid && settings.String != "" {
		g.Settings = json.RawMessage(settings.String)
	}
	if err := json.Unmarshal([]byte(urls), &g.ResultURLs); err != nil {
		return nil, fmt.Errorf("decode result urls: %w", err)
	}
	return &g, nil
}
