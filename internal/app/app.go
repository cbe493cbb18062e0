// Package app assembles the repositories and services shared by every entrypoint.
package app

import (
	"context"
	"log/slog"

	"github.com/digkill/genstudio/internal/config"
	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/metrics"
	"github.com/digkill/genstudio/internal/pricing"
	"github.com/digkill/genstudio/internal/repository"
	"github.com/digkill/genstudio/internal/scheduler"
	"github.com/digkill/genstudio/internal/service"
)

type Services struct {
	DB      *database.DB
	Metrics *metrics.Metrics
	Pricing *pricing.Table

	Accounts     *service.AccountService
	Ledger       *service.LedgerService
	Usage        *service.UsageService
	Analytics    *service.AnalyticsService
	Guard        *service.Guard
	Generations  *service.GenerationService
	Packages     *service.PackageService
	Promos       *service.PromoService
	Payments     *service.PaymentService
	MonthlyReset *service.MonthlyResetService
	RefundRetry  *service.RefundRetryService
}

// New wires the service graph over db. generator and mirror back the generation flow;
// mirror may be nil.
func New(cfg config.Config, db *database.DB, table *pricing.Table, generator service.Generator, mirror service.Mirror, m *metrics.Metrics, log *slog.Logger) *Services {
	accounts := repository.NewAccountRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	refunds := repository.NewRefundQueueRepository(db)

	ledger := service.NewLedgerService(ledgerRepo, m, log)
	guard := service.NewGuard(accounts, ledger, table, refunds, m, log, cfg.PurchaseHintURL)
	packages := service.NewPackageService(cfg, repository.NewPackageRepository(db))

	return &Services{
		DB:      db,
		Metrics: m,
		Pricing: table,

		Accounts:     service.NewAccountService(db, accounts, ledgerRepo, cfg.SignupBonusCredits, log),
		Ledger:       ledger,
		Usage:        service.NewUsageService(db, ledgerRepo, repository.NewUsageRepository(db), m, log),
		Analytics:    service.NewAnalyticsService(repository.NewAnalyticsRepository(db)),
		Guard:        guard,
		Generations:  service.NewGenerationService(guard, generator, mirror, service.NewTracker(repository.NewGenerationRepository(db), log), log),
		Packages:     packages,
		Promos:       service.NewPromoService(db, repository.NewPromoRepository(db), ledgerRepo, cfg.PromoBonusCredits, m, log),
		Payments:     service.NewPaymentService(cfg, db, repository.NewPaymentRepository(db), ledgerRepo, packages, m, log),
		MonthlyReset: service.NewMonthlyResetService(db, accounts, ledgerRepo, table, m, log),
		RefundRetry:  service.NewRefundRetryService(refunds, ledger, cfg.RefundMaxAttempts, m, log),
	}
}

// Jobs are the periodic tasks the serve command schedules.
func (s *Services) Jobs(cfg config.Config) []scheduler.Job {
	return []scheduler.Job{
		{
			Name:     "monthly-reset",
			Schedule: cfg.MonthlyResetSchedule,
			Run: func(ctx context.Context) error {
				_, err := s.MonthlyReset.Run(ctx)
				return err
			},
		},
		{
			Name:     "refund-retry",
			Schedule: cfg.RefundRetrySchedule,
			Run: func(ctx context.Context) error {
				_, err := s.RefundRetry.Run(ctx)
				return err
			},
		},
	}
}
