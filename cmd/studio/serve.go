package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"github.com/digkill/genstudio/internal/api"
	"github.com/digkill/genstudio/internal/auth"
	"github.com/digkill/genstudio/internal/pricing"
	"github.com/digkill/genstudio/internal/scheduler"
	"github.com/digkill/genstudio/internal/service"
	"github.com/digkill/genstudio/internal/storage"
	"github.com/digkill/genstudio/internal/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the Telegram bot and the scheduled jobs",
	Long: `Run every long-lived component until SIGINT or SIGTERM.

The Telegram bot starts only when TELEGRAM_BOT_TOKEN is set. Results are mirrored
into S3 when S3_BUCKET is set. PRICING_FILE is watched and reloaded on change.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer st.db.Close()
	cfg, log := st.cfg, st.log

	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	var (
		mirror   service.Mirror
		uploader *storage.Uploader
	)
	if cfg.S3Enabled() {
		uploader, err = storage.NewUploader(storage.ConfigFrom(cfg))
		if err != nil {
			return fmt.Errorf("storage uploader: %w", err)
		}
		mirror = uploader
	}

	m := newMetrics()
	svc := st.services(m, mirror)
	if err := svc.Packages.EnsureDefaultPackage(ctx); err != nil {
		return fmt.Errorf("ensure default package: %w", err)
	}

	var botAPI *tgbotapi.BotAPI
	if cfg.BotToken != "" {
		botAPI, err = tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			return fmt.Errorf("telegram bot: %w", err)
		}
	}

	sched := scheduler.New(log)
	for _, job := range svc.Jobs(cfg) {
		if err := sched.Add(ctx, job); err != nil {
			return err
		}
	}
	sched.Start(ctx)
	defer sched.Stop()

	deps := api.Deps{
		Accounts:        svc.Accounts,
		Ledger:          svc.Ledger,
		Usage:           svc.Usage,
		Analytics:       svc.Analytics,
		Generations:     svc.Generations,
		Packages:        svc.Packages,
		Promos:          svc.Promos,
		Payments:        svc.Payments,
		Resolver:        auth.HeaderResolver{Secret: cfg.GatewaySecret},
		Metrics:         m,
		AdminUsername:   cfg.AdminUsername,
		AdminPassword:   cfg.AdminPassword,
		PurchaseHintURL: cfg.PurchaseHintURL,
	}
	if botAPI != nil {
		deps.Bot = botAPI
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	launch := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("component stopped", "component", name, "err", err)
				errs <- fmt.Errorf("%s: %w", name, err)
				stop()
			}
		}()
	}

	launch("http", api.NewServer(cfg.HTTPListenAddr, deps, log).Run)
	if cfg.PricingFile != "" {
		launch("pricing", pricing.NewWatcher(cfg.PricingFile, st.table, log).Run)
	}
	if botAPI != nil {
		var refs telegram.ImageStorage
		if uploader != nil {
			refs = uploader
		}
		bot := telegram.NewBot(botAPI, telegram.Services{
			Accounts:    svc.Accounts,
			Ledger:      svc.Ledger,
			Generations: svc.Generations,
			Promos:      svc.Promos,
			Payments:    svc.Payments,
			Pricing:     st.table,
		}, refs, log)
		launch("telegram", bot.Run)
	}

	<-ctx.Done()
	wg.Wait()
	close(errs)
	return <-errs
}
