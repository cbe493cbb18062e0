package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/genstudio/internal/models"
)

const maxPromptLen = 4000

// Generator produces result URLs for a generation request.
type Generator interface {
	Generate(ctx context.Context, genType models.GenerationType, req models.GenerationRequest) ([]string, error)
}

// Mirror copies a worker result into durable storage.
type Mirror interface {
	Mirror(ctx context.Context, sourceURL string) (string, error)
}

type GenerationInput struct {
	UserID         string
	GenerationType models.GenerationType
	Count          int
	Prompt         string
	AspectRatio    string
	Resolution     string
	InputURLs      []string
	Settings       json.RawMessage
}

// GenerationResult is the shape every generation endpoint returns. GenerationID is empty when
// the results were produced but could not be logged.
type GenerationResult struct {
	GenerationID string          `json:"generationId,omitempty"`
	URLs         []string        `json:"urls"`
	CreditsUsed  int64           `json:"creditsUsed"`
	BalanceAfter *int64          `json:"balanceAfter,omitempty"`
	Plan         models.PlanTier `json:"plan"`
}

type GenerationService struct {
	guard     *Guard
	generator Generator
	mirror    Mirror
	tracker   *Tracker
	log       *slog.Logger
}

// NewGenerationService wires the guarded generation flow. mirror may be nil.
func NewGenerationService(guard *Guard, generator Generator, mirror Mirror, tracker *Tracker, log *slog.Logger) *GenerationService {
	return &GenerationService{
		guard:     guard,
		generator: generator,
		mirror:    mirror,
		tracker:   tracker,
		log:       log.With("component", "generation"),
	}
}

func (s *GenerationService) Generate(ctx context.Context, in GenerationInput) (*GenerationResult, error) {
	if !in.GenerationType.Valid() {
		return nil, models.NewValidationError("generationType", fmt.Sprintf("unknown type %q", in.GenerationType))
	}
	in.Prompt = strings.TrimSpace(in.Prompt)
	if in.Prompt == "" && len(in.InputURLs) == 0 {
		return nil, models.NewValidationError("prompt", "must not be empty")
	}
	if len(in.Prompt) > maxPromptLen {
		return nil, models.NewValidationError("prompt", fmt.Sprintf("must be at most %d characters", maxPromptLen))
	}
	if len(in.Settings) > 0 && !json.Valid(in.Settings) {
		return nil, models.NewValidationError("settings", "must be valid JSON")
	}
	if in.Count < 1 || in.GenerationType == models.GenerationVideo {
		in.Count = 1
	}

	guarded, err := RunGuarded(ctx, s.guard, in.UserID, GuardRequest{
		GenerationType: in.GenerationType,
		Count:          in.Count,
	}, func(ctx context.Context, _ WorkContext) ([]string, error) {
		urls, err := s.generator.Generate(ctx, in.GenerationType, models.GenerationRequest{
			Prompt:      in.Prompt,
			AspectRatio: in.AspectRatio,
			Resolution:  in.Resolution,
			InputURLs:   in.InputURLs,
			Count:       in.Count,
		})
		if err != nil {
			return nil, fmt.Errorf("generate %s: %w", in.GenerationType, err)
		}
		if !hasURL(urls) {
			return nil, fmt.Errorf("generate %s: worker returned no results", in.GenerationType)
		}
		return urls, nil
	})
	if err != nil {
		return nil, err
	}

	urls := s.mirrorAll(ctx, guarded.Value)
	result := &GenerationResult{URLs: urls, Plan: guarded.Plan}
	var txID *string
	if r := guarded.Reservation; r != nil {
		result.CreditsUsed = r.CreditsUsed
		balance := r.BalanceAfter
		result.BalanceAfter = &balance
		txID = &r.TransactionID
	}

	logged, err := s.tracker.LogSuccess(ctx, LogInput{
		UserID:              in.UserID,
		GenerationType:      in.GenerationType,
		Count:               in.Count,
		CreditsUsed:         result.CreditsUsed,
		CreditTransactionID: txID,
		Prompt:              in.Prompt,
		Settings:            in.Settings,
		ResultURLs:          urls,
	})
	if err != nil {
		// The user paid and has results; a bookkeeping failure must not take them away.
		s.log.Error("failed to log generation", "user_id", in.UserID, "generation_type", in.GenerationType, "err", err)
		return result, nil
	}
	result.GenerationID = logged.GenerationID
	return result, nil
}

// Get returns one recorded generation.
func (s *GenerationService) Get(ctx context.Context, id string) (*models.Generation, error) {
	return s.tracker.Get(ctx, id)
}

// Recent lists a user's recorded generations newest first.
func (s *GenerationService) Recent(ctx context.Context, userID string, limit int) ([]models.Generation, error) {
	return s.tracker.Recent(ctx, userID, limit)
}

// mirrorAll swaps each worker URL for a durable copy, keeping the original when a copy fails.
func (s *GenerationService) mirrorAll(ctx context.Context, urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if s.mirror == nil {
			out = append(out, u)
			continue
		}
		mirrored, err := s.mirror.Mirror(ctx, u)
		if err != nil {
			s.log.Warn("failed to mirror result", "url", u, "err", err)
			out = append(out, u)
			continue
		}
		out = append(out, mirrored)
	}
	return out
}
