package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/genricoloni/slobbler/internal/config"
	"github.com/genricoloni/slobbler/internal/domain"
	"github.com/genricoloni/slobbler/internal/engine"
	"github.com/genricoloni/slobbler/internal/guard"
	"github.com/genricoloni/slobbler/internal/monitor"
	"github.com/genricoloni/slobbler/internal/registry"
	"github.com/genricoloni/slobbler/internal/rules"
	"github.com/genricoloni/slobbler/internal/slack"
	"github.com/genricoloni/slobbler/internal/state"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	cfgFile     string
	printConfig bool
)

var rootCmd = &cobra.Command{
	Use:           "slobbler",
	Short:         "Mirror the track you are listening to into your Slack status",
	Long:          `slobbler watches MPRIS media players on the session bus and keeps your Slack status in sync with what is playing, without overwriting a status you set yourself.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if printConfig {
			return cfg.Dump(cmd.OutOrStdout())
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "YAML configuration file")
	_ = rootCmd.MarkFlagRequired("config")
	rootCmd.Flags().BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
}

func main() {
	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "slobbler:", err)
		os.Exit(1)
	}
}

// AppOptions is the daemon's dependency graph. The *config.AppConfig must be supplied by the caller.
var AppOptions = fx.Options(
	fx.Provide(
		newLogger,
		newEngineConfig,
		newMonitor,
		newStatusService,
		newStateStore,
		newClock,
		newRegistry,
		newEvaluator,
		guard.New,
		engine.NewPublisher,
		engine.NewEngine,
	),
	fx.Invoke(registerHooks),
)

func run(ctx context.Context, cfg *config.AppConfig) error {
	app := fx.New(
		fx.Supply(cfg),
		AppOptions,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	startCtx, cancelStart := context.WithTimeout(ctx, app.StartTimeout())
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	// Wait for interrupt signal
	<-ctx.Done()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	return app.Stop(stopCtx)
}

// newLogger creates the production logger; verbose lowers the level to debug
func newLogger(cfg *config.AppConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func newEngineConfig(cfg *config.AppConfig) domain.Config {
	return cfg
}

func newMonitor(logger *zap.Logger) domain.Monitor {
	return monitor.NewMprisMonitor(logger)
}

func newStatusService(cfg *config.AppConfig, logger *zap.Logger) domain.StatusService {
	if cfg.DryRun {
		logger.Info("Dry run enabled, Slack will not be contacted")
		return slack.NewDryRun(logger)
	}
	return slack.NewClient(logger, cfg.Slack.Token, cfg.Slack.UserID, cfg.Slack.APIURL, cfg.Slack.Timeout)
}

func newStateStore(cfg *config.AppConfig, logger *zap.Logger) (domain.StateStore, error) {
	if cfg.StateDir == "" {
		logger.Info("State persistence disabled")
		return state.NewMemoryStore(), nil
	}
	return state.NewDiskStore(logger, cfg.StateDir)
}

func newClock() clockwork.Clock {
	return clockwork.NewRealClock()
}

func newRegistry(cfg *config.AppConfig, logger *zap.Logger, clock clockwork.Clock) *registry.Registry {
	return registry.New(logger, clock, cfg.Ignore)
}

func newEvaluator(cfg *config.AppConfig, logger *zap.Logger, clock clockwork.Clock) *rules.Evaluator {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	return rules.NewEvaluator(logger, cfg.RuleSettings(), rng, clock)
}

// registerHooks sets up application lifecycle hooks
func registerHooks(lc fx.Lifecycle, logger *zap.Logger, cfg *config.AppConfig, mon domain.Monitor, eng *engine.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			cfg.LogSummary(logger)

			if err := mon.Start(ctx); err != nil {
				return err
			}
			if err := eng.Start(ctx); err != nil {
				return err
			}
			logger.Info("slobbler started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")

			// Engine first so it stops reading before the event channel closes
			engErr := eng.Stop(ctx)
			monErr := mon.Stop(ctx)
			_ = logger.Sync()

			if engErr != nil {
				return engErr
			}
			return monErr
		},
	})
}
