package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/genstudio/internal/models"
)

func TestTrackerValidation(t *testing.T) {
	env := newEnv(t)
	valid := LogInput{UserID: "u1", GenerationType: models.GenerationApparel, Count: 1, ResultURLs: []string{"https://cdn/a.png"}}

	cases := map[string]func(*LogInput){
		"userId":         func(in *LogInput) { in.UserID = "" },
		"generationType": func(in *LogInput) { in.GenerationType = "poster" },
		"count":          func(in *LogInput) { in.Count = 0 },
		"creditsUsed":    func(in *LogInput) { in.CreditsUsed = -1 },
		"resultUrls":     func(in *LogInput) { in.ResultURLs = []string{""} },
		"settings":       func(in *LogInput) { in.Settings = json.RawMessage(`{"a":`) },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := env.tracker.LogSuccess(context.Background(), in)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, field, verr.Field)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestTrackerRejectsForeignTransaction(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.seed(t, "u1", models.PlanFree, 10)
	env.seed(t, "u2", models.PlanFree, 10)

	debit, err := env.ledger.Debit(ctx, DebitInput{UserID: "u1", Amount: 2})
	require.NoError(t, err)

	_, err = env.tracker.LogSuccess(ctx, LogInput{
		UserID:              "u2",
		GenerationType:      models.GenerationApparel,
		Count:               1,
		CreditsUsed:         2,
		CreditTransactionID: &debit.TransactionID,
		ResultURLs:          []string{"https://cdn/a.png"},
	})
	assert.ErrorIs(t, err, models.ErrTransactionOwnershipMismatch)

	tx, err := env.ledgerRepo.GetTransaction(ctx, debit.TransactionID)
	require.NoError(t, err)
	assert.Nil(t, tx.RelatedGenerationID)
}

func TestTrackerDropsEmptyURLs(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.seed(t, "u1", models.PlanFree, 0)

	out, err := env.tracker.LogSuccess(ctx, LogInput{
		UserID:         "u1",
		GenerationType: models.GenerationVideo,
		Count:          1,
		ResultURLs:     []string{"", "https://cdn/clip.mp4"},
	})
	require.NoError(t, err)

	stored, err := env.generations.GetByID(ctx, out.GenerationID)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn/clip.mp4"}, stored.ResultURLs)
}

func TestTrackerGetAndRecent(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.seed(t, "u1", models.PlanFree, 0)

	recent, err := env.tracker.Recent(ctx, "u1", 10)
	require.NoError(t, err)
	assert.NotNil(t, recent)
	assert.Empty(t, recent)

	out, err := env.tracker.LogSuccess(ctx, LogInput{UserID: "u1", GenerationType: models.GenerationProduct, Count: 1, ResultURLs: []string{"https://cdn/mug.png"}})
	require.NoError(t, err)

	recent, err = env.tracker.Recent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, out.GenerationID, recent[0].ID)

	g, err := env.tracker.Get(ctx, out.GenerationID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationProduct, g.GenerationType)

	_, err = env.tracker.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrGenerationNotFound)

	_, err = env.tracker.Recent(ctx, "u1", 0)
	assert.ErrorIs(t, err, models.ErrInvalidLimit)
}
