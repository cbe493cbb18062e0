package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/digkill/genstudio/internal/app"
	"github.com/digkill/genstudio/internal/config"
	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/kie"
	"github.com/digkill/genstudio/internal/metrics"
	"github.com/digkill/genstudio/internal/pricing"
	"github.com/digkill/genstudio/internal/service"
	"github.com/digkill/genstudio/pkg/logger"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "studio",
	Short: "Credit-metered image and video generation service",
	Long: `Studio meters generation work against a per-user credit ledger.

Every paid action reserves credits before it runs and refunds them when it fails.
Balances, transactions, usage events and generations live in MySQL or SQLite.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
}

// stack is what every command needs before it can touch the ledger.
type stack struct {
	cfg   config.Config
	log   *slog.Logger
	db    *database.DB
	table *pricing.Table
}

func bootstrap(ctx context.Context) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log := logger.New(cfg.LogLevel)

	rules := pricing.DefaultRules()
	if cfg.PricingFile != "" {
		if rules, err = pricing.LoadFile(cfg.PricingFile); err != nil {
			return nil, err
		}
	}
	table, err := pricing.NewTable(rules, log)
	if err != nil {
		return nil, fmt.Errorf("pricing: %w", err)
	}

	db, err := database.Connect(ctx, cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database connect: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migrate: %w", err)
	}
	return &stack{cfg: cfg, log: log, db: db, table: table}, nil
}

// services wires the full graph. Only serve registers the metrics it collects.
func (st *stack) services(m *metrics.Metrics, mirror service.Mirror) *app.Services {
	return app.New(st.cfg, st.db, st.table, kie.NewClient(st.cfg, st.log), mirror, m, st.log)
}

func newMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}
