package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/digkill/genstudio/internal/config"
	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/database/dbtest"
	"github.com/digkill/genstudio/internal/metrics"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/pricing"
	"github.com/digkill/genstudio/internal/repository"
)

const testPurchaseURL = "/billing/credits"

type testEnv struct {
	db          *database.DB
	log         *slog.Logger
	metrics     *metrics.Metrics
	accounts    *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	refunds     *repository.RefundQueueRepository
	generations *repository.GenerationRepository
	table       *pricing.Table
	ledger      *LedgerService
	guard       *Guard
	tracker     *Tracker
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db := dbtest.New(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())

	table, err := pricing.NewTable(nil, log)
	require.NoError(t, err)

	env := &testEnv{
		db:          db,
		log:         log,
		metrics:     m,
		accounts:    repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		refunds:     repository.NewRefundQueueRepository(db),
		generations: repository.NewGenerationRepository(db),
		table:       table,
	}
	env.ledger = NewLedgerService(env.ledgerRepo, m, log)
	env.guard = NewGuard(env.accounts, env.ledger, table, env.refunds, m, log, testPurchaseURL)
	env.tracker = NewTracker(env.generations, log)
	return env
}

func (e *testEnv) seed(t *testing.T, userID string, plan models.PlanTier, balance int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.db.InTx(ctx, func(tx *sql.Tx) error {
		created, err := e.accounts.Create(ctx, tx, userID, "", plan)
		if err != nil {
			return err
		}
		require.True(t, created)
		if balance == 0 {
			return nil
		}
		_, err = e.ledgerRepo.CreditTx(ctx, tx, repository.Posting{UserID: userID, Type: models.TxGrant, Amount: balance, Description: "seed"})
		return err
	}))
}

func (e *testEnv) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := e.ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func testConfig() config.Config {
	return config.Config{
		PaymentProvider:          ProviderTelegram,
		PaymentCurrency:          "USD",
		PaymentPriceMinorUnits:   999,
		PaymentCreditsPerPackage: 100,
		PromoBonusCredits:        20,
		RefundMaxAttempts:        3,
	}
}
