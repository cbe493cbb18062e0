package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/repository"
)

type LogInput struct {
	UserID              string
	GenerationType      models.GenerationType
	Count               int
	CreditsUsed         int64
	CreditTransactionID *string
	Prompt              string
	Settings            json.RawMessage
	ResultURLs          []string
}

type LogOutput struct {
	GenerationID string `json:"generationId"`
}

// Tracker records completed generations and keeps the daily usage rollup current.
type Tracker struct {
	generations *repository.GenerationRepository
	log         *slog.Logger
}

func NewTracker(generations *repository.GenerationRepository, log *slog.Logger) *Tracker {
	return &Tracker{generations: generations, log: log}
}

func (t *Tracker) LogSuccess(ctx context.Context, in LogInput) (*LogOutput, error) {
	if err := validateLogInput(in); err != nil {
		return nil, err
	}

	var urls []string
	for _, u := range in.ResultURLs {
		if u != "" {
			urls = append(urls, u)
		}
	}
	g := &models.Generation{
		UserID:              in.UserID,
		GenerationType:      in.GenerationType,
		Count:               in.Count,
		CreditsUsed:         in.CreditsUsed,
		CreditTransactionID: in.CreditTransactionID,
		Prompt:              in.Prompt,
		Settings:            in.Settings,
		ResultURLs:          urls,
	}
	id, err := t.generations.LogSuccess(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("log generation: %w", err)
	}
	if id == "" {
		return nil, models.ErrLoggingFailed
	}
	t.log.Info("generation logged", "user_id", in.UserID, "generation_id", id, "generation_type", in.GenerationType, "credits_used", in.CreditsUsed)
	return &LogOutput{GenerationID: id}, nil
}

func (t *Tracker) Get(ctx context.Context, id string) (*models.Generation, error) {
	if id == "" {
		return nil, models.NewValidationError("generationId", "must not be empty")
	}
	g, err := t.generations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("generation %s: %w", id, models.ErrGenerationNotFound)
	}
	return g, nil
}

// Recent lists a user's generations newest first.
func (t *Tracker) Recent(ctx context.Context, userID string, limit int) ([]models.Generation, error) {
	if userID == "" {
		return nil, models.ErrInvalidInput
	}
	if limit < MinHistoryLimit || limit > MaxHistoryLimit {
		return nil, models.ErrInvalidLimit
	}
	out, err := t.generations.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Generation{}
	}
	return out, nil
}

func validateLogInput(in LogInput) error {
	switch {
	case in.UserID == "":
		return models.NewValidationError("userId", "must not be empty")
	case !in.GenerationType.Valid():
		return models.NewValidationError("generationType", fmt.Sprintf("unknown type %q", in.GenerationType))
	case in.Count < 1:
		return models.NewValidationError("count", "must be at least 1")
	case in.CreditsUsed < 0:
		return models.NewValidationError("creditsUsed", "must not be negative")
	}
	if !hasURL(in.ResultURLs) {
		return models.NewValidationError("resultUrls", "must contain at least one url")
	}
	if len(in.Settings) > 0 && !json.Valid(in.Settings) {
		return models.NewValidationError("settings", "must be valid JSON")
	}
	return nil
}

func hasURL(urls []string) bool {
	for _, u := range urls {
		if u != "" {
			return true
		}
	}
	return false
}
