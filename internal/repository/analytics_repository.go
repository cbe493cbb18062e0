package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/models"
)

// FlowRow is the per-day sum of one transaction type.
type FlowRow struct {
	Day    string
	Type   models.TxType
	Amount int64
}

// UsageRow is the per-day rollup of one usage event type.
type UsageRow struct {
	Day       string
	EventType string
	Count     int64
	Credits   int64
	Cost      float64
	Tokens    int64
}

// GenerationRow is the per-day rollup of one generation type from usage_analytics.
type GenerationRow struct {
	Day            string
	GenerationType models.GenerationType
	Count          int64
	CreditsUsed    int64
}

// AnalyticsRepository is read-only over the ledger, usage events and daily rollups.
// An empty userID widens every query to all users.
type AnalyticsRepository struct {
	db *database.DB
}

func NewAnalyticsRepository(db *database.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

func (r *AnalyticsRepository) CreditFlow(ctx context.Context, userID string, since time.Time) ([]FlowRow, error) {
	query := `SELECT DATE(created_at), type, SUM(amount) FROM credit_transactions WHERE created_at >= ?`
	args := []any{since.UTC()}
	query, args = scopeUser(query, args, userID)
	query += ` GROUP BY DATE(created_at), type`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query credit flow: %w", err)
	}
	defer rows.Close()

	var out []FlowRow
	for rows.Next() {
		var row FlowRow
		if err := rows.Scan(&row.Day, &row.Type, &row.Amount); err != nil {
			return nil, fmt.Errorf("scan credit flow: %w", err)
		}
		row.Day = normalizeDay(row.Day)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *AnalyticsRepository) UsageEvents(ctx context.Context, userID string, since time.Time) ([]UsageRow, error) {
	query := `SELECT DATE(created_at), event_type, COUNT(*), SUM(credits), SUM(cost), SUM(tokens) FROM usage_events WHERE created_at >= ?`
	args := []any{since.UTC()}
	query, args = scopeUser(query, args, userID)
	query += ` GROUP BY DATE(created_at), event_type`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}
	defer rows.Close()

	var out []UsageRow
	for rows.Next() {
		var row UsageRow
		if err := rows.Scan(&row.Day, &row.EventType, &row.Count, &row.Credits, &row.Cost, &row.Tokens); err != nil {
			return nil, fmt.Errorf("scan usage events: %w", err)
		}
		row.Day = normalizeDay(row.Day)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *AnalyticsRepository) Generations(ctx context.Context, userID string, since time.Time) ([]GenerationRow, error) {
	query := `SELECT day, generation_type, SUM(count), SUM(credits_used) FROM usage_analytics WHERE day >= ?`
	args := []any{since.UTC().Format(time.DateOnly)}
	query, args = scopeUser(query, args, userID)
	query += ` GROUP BY day, generation_type`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage analytics: %w", err)
	}
	defer rows.Close()

	var out []GenerationRow
	for rows.Next() {
		var row GenerationRow
		if err := rows.Scan(&row.Day, &row.GenerationType, &row.Count, &row.CreditsUsed); err != nil {
			return nil, fmt.Errorf("scan usage analytics: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// TopByCredits ranks users by the credits their usage transactions consumed.
func (r *AnalyticsRepository) TopByCredits(ctx context.Context, since time.Time, limit int) ([]models.UserRank, error) {
	const query = `
SELECT user_id, SUM(amount) AS total FROM credit_transactions
WHERE type = ? AND created_at >= ?
GROUP BY user_id
ORDER BY total DESC, user_id ASC
LIMIT ?`
	return r.rank(ctx, query, models.TxUsage, since.UTC(), limit)
}

func (r *AnalyticsRepository) TopByUsageCost(ctx context.Context, since time.Time, limit int) ([]models.UserRank, error) {
	const query = `
SELECT user_id, SUM(cost) AS total FROM usage_events
WHERE created_at >= ?
GROUP BY user_id
ORDER BY total DESC, user_id ASC
LIMIT ?`
	return r.rank(ctx, query, since.UTC(), limit)
}

func (r *AnalyticsRepository) rank(ctx context.Context, query string, args ...any) ([]models.UserRank, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rank users: %w", err)
	}
	defer rows.Close()

	out := []models.UserRank{}
	for rows.Next() {
		var rank models.UserRank
		if err := rows.Scan(&rank.UserID, &rank.Value); err != nil {
			return nil, fmt.Errorf("scan user rank: %w", err)
		}
		out = append(out, rank)
	}
	return out, rows.Err()
}

func scopeUser(query string, args []any, userID string) (string, []any) {
	if userID == "" {
		return query, args
	}
	return query + ` AND user_id = ?`, append(args, userID)
}

// normalizeDay trims a DATE() result to YYYY-MM-DD. MySQL hands it back as a time value
// that database/sql renders in RFC 3339.
func normalizeDay(day string) string {
	if len(day) > len(time.DateOnly) {
		return day[:len(time.DateOnly)]
	}
	return day
}
