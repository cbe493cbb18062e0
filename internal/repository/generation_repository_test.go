package repository_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/genstudio/internal/database/dbtest"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/repository"
)

func TestGenerationLogSuccessLinksTransactionAndRollsUp(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	ledger := repository.NewLedgerRepository(db)
	generations := repository.NewGenerationRepository(db)
	seedAccount(t, db, "u1", models.PlanFree, 20)

	debit, err := ledger.Debit(ctx, repository.Posting{UserID: "u1", Amount: 4, Description: "apparel x2"})
	require.NoError(t, err)

	id, err := generations.LogSuccess(ctx, &models.Generation{
		UserID:              "u1",
		GenerationType:      models.GenerationApparel,
		Count:               2,
		CreditsUsed:         4,
		CreditTransactionID: &debit.TransactionID,
		Prompt:              "red hoodie",
		Settings:            json.RawMessage(`{"style":"flat"}`),
		ResultURLs:          []string{"https://cdn/a.png", "https://cdn/b.png"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	tx, err := ledger.GetTransaction(ctx, debit.TransactionID)
	require.NoError(t, err)
	require.NotNil(t, tx.RelatedGenerationID)
	assert.Equal(t, id, *tx.RelatedGenerationID)

	stored, err := generations.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, []string{"https://cdn/a.png", "https://cdn/b.png"}, stored.ResultURLs)
	assert.JSONEq(t, `{"style":"flat"}`, string(stored.Settings))

	_, err = generations.LogSuccess(ctx, &models.Generation{
		UserID:         "u1",
		GenerationType: models.GenerationApparel,
		Count:          1,
		CreditsUsed:    2,
		ResultURLs:     []string{"https://cdn/c.png"},
	})
	require.NoError(t, err)

	analytics := repository.NewAnalyticsRepository(db)
	rows, err := analytics.Generations(ctx, "u1", time.Now().UTC().AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].Count)
	assert.Equal(t, int64(6), rows[0].CreditsUsed)
}

func TestGenerationLogSuccessRejectsForeignTransaction(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	ledger := repository.NewLedgerRepository(db)
	generations := repository.NewGenerationRepository(db)
	seedAccount(t, db, "owner", models.PlanFree, 10)
	seedAccount(t, db, "intruder", models.PlanFree, 10)

	debit, err := ledger.Debit(ctx, repository.Posting{UserID: "owner", Amount: 1, Description: "product"})
	require.NoError(t, err)

	_, err = generations.LogSuccess(ctx, &models.Generation{
		UserID:              "intruder",
		GenerationType:      models.GenerationProduct,
		Count:               1,
		CreditsUsed:         1,
		CreditTransactionID: &debit.TransactionID,
		ResultURLs:          []string{"https://cdn/x.png"},
	})
	assert.ErrorIs(t, err, models.ErrTransactionOwnershipMismatch)

	missing := "00000000-0000-0000-0000-000000000000"
	_, err = generations.LogSuccess(ctx, &models.Generation{
		UserID:              "intruder",
		GenerationType:      models.GenerationProduct,
		Count:               1,
		CreditsUsed:         1,
		CreditTransactionID: &missing,
		ResultURLs:          []string{"https://cdn/x.png"},
	})
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)

	list, err := generations.ListByUser(ctx, "intruder", 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	analytics := repository.NewAnalyticsRepository(db)
	rows, err := analytics.Generations(ctx, "intruder", time.Now().UTC().AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
