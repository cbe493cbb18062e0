package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/models"
)

const usageColumns = `id, user_id, event_type, cost, credits, tokens, request_id, metadata, credit_transaction_id, created_at`

type UsageRepository struct {
	db *database.DB
}

func NewUsageRepository(db *database.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// InsertTx records a metered event that was paid for by e.CreditTransactionID.
func (r *UsageRepository) InsertTx(ctx context.Context, tx *sql.Tx, e *models.UsageEvent) error {
	var metadata sql.NullString
	if len(e.Metadata) > 0 {
		raw, err := encodeJSON(e.Metadata)
		if err != nil {
			return err
		}
		metadata = sql.NullString{String: raw, Valid: true}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = database.Now()
	}
	requestID := nullString(&e.RequestID)

	const query = `
INSERT INTO usage_events (id, user_id, event_type, cost, credits, tokens, request_id, metadata, credit_transaction_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, e.ID, e.UserID, e.EventType, e.Cost, e.Credits, e.Tokens, requestID, metadata, e.CreditTransactionID, e.CreatedAt); err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

func (r *UsageRepository) FindByRequest(ctx context.Context, q Querier, userID, requestID string) (*models.UsageEvent, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_events WHERE user_id = ? AND request_id = ?`
	e, err := scanUsage(q.QueryRowContext(ctx, query, userID, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find usage event: %w", err)
	}
	return e, nil
}

// ListByUser returns the newest events created at or after since.
func (r *UsageRepository) ListByUser(ctx context.Context, userID string, since time.Time, limit int) ([]models.UsageEvent, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_events WHERE user_id = ? AND created_at >= ? ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	defer rows.Close()

	var out []models.UsageEvent
	for rows.Next() {
		e, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanUsage(s rowScanner) (*models.UsageEvent, error) {
	var e models.UsageEvent
	var requestID, metadata sql.NullString
	if err := s.Scan(&e.ID, &e.UserID, &e.EventType, &e.Cost, &e.Credits, &e.Tokens, &requestID, &metadata, &e.CreditTransactionID, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.RequestID = requestID.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode usage metadata: %w", err)
		}
	}
	return &e, nil
}
