package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"quotewatch/internal/config"
	"quotewatch/internal/observ"
	"quotewatch/internal/provider"
	"quotewatch/internal/quote"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// Run executes the long-running quote service until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	upstream := provider.NewYahooClient(a.Config.Provider, a.Logger)
	defer upstream.Close()

	svc := quote.NewService(a.Config.Quotes, upstream, a.Logger)
	if err := svc.Start(); err != nil {
		return err
	}

	for _, w := range a.Config.Watch {
		w := w
		svc.StartMonitoring(w.Symbol, w.Interval, w.ThresholdPct, func(alert quote.Alert) {
			a.Logger.Warn().
				Str("symbol", alert.Symbol).
				Float64("current_price", alert.CurrentPrice).
				Float64("change_percent", alert.ChangePercent).
				Float64("threshold", alert.Threshold).
				Msg(alert.Message)
		})
	}

	var metricsSrv *http.Server
	if a.Config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observ.Handler())
		mux.Handle("/healthz", observ.HealthHandler())
		metricsSrv = &http.Server{Addr: a.Config.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
		a.Logger.Info().Str("addr", a.Config.Metrics.Addr).Msg("metrics listener started")
	}

	a.Logger.Info().
		Str("environment", a.Config.App.Environment).
		Int("watches", len(a.Config.Watch)).
		Msg("quote service running")

	<-ctx.Done()
	a.Logger.Info().Msg("shutting down")

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return svc.Stop()
}
