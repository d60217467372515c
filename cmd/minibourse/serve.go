package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/efreitasn/minibourse/internal/config"
	"github.com/efreitasn/minibourse/internal/distribution"
	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/engine"
	"github.com/efreitasn/minibourse/internal/feed"
	"github.com/efreitasn/minibourse/internal/handler"
	"github.com/efreitasn/minibourse/internal/journal"
	"github.com/efreitasn/minibourse/internal/ledger"
	"github.com/efreitasn/minibourse/internal/service"
	"github.com/efreitasn/minibourse/internal/session"
	"github.com/efreitasn/minibourse/internal/store"
	"github.com/efreitasn/minibourse/internal/undo"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the session scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	j, err := journal.Open(cfg.JournalDir)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	// Stores.
	accounts := store.NewAccountStore()
	stocks := store.NewStockStore()
	orders := store.NewOrderStore()
	trades := store.NewTradeStore()
	prices := store.NewPriceHistory()
	webhooks := store.NewWebhookStore()

	l := ledger.New(accounts)
	hub := feed.NewHub(cfg.FeedBookDepth)
	defer hub.Close()

	// Notifications fan out to webhooks, the journal and the feed.
	webhookSvc := service.NewWebhookService(webhooks, accounts, cfg.WebhookTimeout)
	defer webhookSvc.Wait()
	notifier := service.NewNotifier(webhookSvc, j)
	notifier.AddEngineSink(hub)
	notifier.AddSessionSink(hub)

	eng := engine.NewEngine(engine.NewBookManager(), l, stocks, orders, trades, prices, notifier, cfg.PriceBandPercent)
	hub.AttachBooks(eng)
	controller := session.NewController(domain.Mode(cfg.Session.Mode), eng, notifier)

	svc := handler.Services{
		Accounts: service.NewAccountService(accounts, l),
		Orders:   service.NewOrderService(controller, eng, accounts, orders),
		Stocks: service.NewStockService(stocks, trades, prices, eng, controller,
			distribution.New(stocks, l), undo.NewLog(j), j, cfg.VWAPWindow),
		Session:  service.NewSessionService(controller, j),
		Webhooks: webhookSvc,
		Journal:  j,
		Feed:     hub,
	}
	router := handler.NewRouter(svc, logger, cfg.CORSAllowedOrigins)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := session.NewScheduler(controller, cfg.Session.SchedulerTick, cfg.Session.Durations(), cfg.Session.SweepInterval)
	scheduler.Start(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("session_mode", cfg.Session.Mode),
			slog.String("journal_dir", cfg.JournalDir),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
	return nil
}
