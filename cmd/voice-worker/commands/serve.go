package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
	"github.com/parvbhullar/unpod-sub001/pkg/core/services"
	"github.com/parvbhullar/unpod-sub001/pkg/store"
	"github.com/parvbhullar/unpod-sub001/pkg/store/sqlite"
	"github.com/parvbhullar/unpod-sub001/pkg/transport"
	"github.com/parvbhullar/unpod-sub001/pkg/worker"
	"github.com/parvbhullar/unpod-sub001/pkg/worker/config"
	"github.com/parvbhullar/unpod-sub001/pkg/worker/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker loop until SIGINT/SIGTERM",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		st, err := sqlite.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		cache := services.NewCache()
		factory, err := buildFactory(cfg, cache, logger)
		if err != nil {
			return err
		}
		prewarm(cmd.Context(), cfg, cache, logger)

		notifier := store.NewWebNotifier(cfg.NotifyURL, logger)
		defer notifier.Close()

		rooms := transport.NewMemoryRoomService()
		w, err := worker.New(worker.Options{
			Tasks:       st,
			Results:     st,
			Resolver:    store.NewResolver(st, defaultCallConfig(cfg), logger),
			RoomService: rooms,
			Dialer:      rooms,
			Factory:     factory,
			Cache:       cache,
			Notifier:    notifier,
			Handover: session.HandoverConfig{
				PrimaryTrunk:  cfg.PrimaryTrunkID,
				FallbackTrunk: cfg.FallbackTrunkID,
			},
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("build worker: %w", err)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		logger.Info("starting worker", "db", cfg.DatabasePath, "drain_timeout", cfg.DrainTimeout)
		runErr := make(chan error, 1)
		go func() {
			runErr <- w.Run(ctx)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case err := <-runErr:
			return err
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
		}

		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
		defer drainCancel()
		if !w.Drain(drainCtx) {
			logger.Warn("drain timed out with live sessions", "count", w.Tracker().Count())
		}
		cancel()
		<-runErr

		logger.Info("worker stopped")
		return nil
	},
}

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
}

func buildFactory(cfg *config.Config, cache *services.Cache, logger *slog.Logger) (*services.Factory, error) {
	chains := services.DefaultChains()
	if cfg.ChainsFile != "" {
		loaded, err := services.LoadChains(cfg.ChainsFile)
		if err != nil {
			return nil, fmt.Errorf("load fallback chains: %w", err)
		}
		chains = loaded
	}
	return services.NewFactory(cache, services.FactoryConfig{
		Attempts:    cfg.FactoryAttempts,
		BackoffBase: cfg.BackoffBase,
		Keys:        cfg.ProviderKeys(),
		Chains:      chains,
	}, logger), nil
}

// prewarm loads the pinned cache resources. A failure is not fatal:
// sessions construct what they need on demand.
func prewarm(ctx context.Context, cfg *config.Config, cache *services.Cache, logger *slog.Logger) {
	if err := cache.Prewarm(ctx, services.PrewarmConfig{OpenAIKey: cfg.OpenAIKey}, logger); err != nil {
		logger.Warn("service prewarm failed", "error", err)
	}
}

func defaultCallConfig(cfg *config.Config) call.Config {
	return call.Config{
		AgentID:        cfg.DefaultAgentID,
		TrunkID:        cfg.PrimaryTrunkID,
		IdleTimeout:    cfg.IdleTimeout,
		DialingTimeout: cfg.DialingTimeout,
	}
}
