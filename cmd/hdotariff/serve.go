package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bher20/hdotariff/internal/alerting"
	"github.com/bher20/hdotariff/internal/api"
	"github.com/bher20/hdotariff/internal/auth"
	"github.com/bher20/hdotariff/internal/cron"
	"github.com/bher20/hdotariff/internal/log"
	"github.com/bher20/hdotariff/internal/metrics"
	"github.com/bher20/hdotariff/internal/storage"
	"github.com/bher20/hdotariff/internal/tracker"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the tick loop and the daily refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	logger := log.Ctx(ctx)
	svc, st, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	tick, err := a.cfg.Tick()
	if err != nil {
		return err
	}
	worker := cron.NewWorker(svc, cron.Options{
		Schedule: a.cfg.RefreshSchedule,
		Retries:  a.cfg.RefreshRetries,
		Alerter:  alerting.NewAlerter(alerting.DefaultAlertConfig()),
	})

	guard, err := auth.NewService(a.cfg.APITokens)
	if err != nil {
		return fmt.Errorf("api tokens: %w", err)
	}
	if guard.Enabled() {
		logger.InfoContext(ctx, "api token auth enabled", slog.Int("tokens", len(a.cfg.APITokens)))
	}

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           api.NewServer(svc, a.cfg.Lang()).WithAuth(guard).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tracker.Supervise(ctx, "ticks", time.Second, func(ctx context.Context) error {
			return svc.RunTicks(ctx, tick)
		})
	})
	g.Go(func() error {
		return tracker.Supervise(ctx, "refresh", 30*time.Second, worker.Run)
	})
	g.Go(func() error {
		watchPool(ctx, a.cfg.DBDriver, st)
		return nil
	})
	g.Go(func() error {
		logger.InfoContext(ctx, "hdotariff listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.InfoContext(ctx, "hdotariff stopped")
		return nil
	}
	return err
}

// watchPool exports connection pool gauges for backends that have a pool.
func watchPool(ctx context.Context, driver string, st storage.Storage) {
	ps, ok := st.(storage.PoolStater)
	if !ok {
		return
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		stat := ps.PoolStat()
		metrics.UpdateDBPoolMetrics(driver, float64(stat.Total), float64(stat.Idle), float64(stat.Acquired), stat.Acquires)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
