// Command operator is the reconciliation controller's entry point: it
// loads configuration, connects the Store, applies pending migrations,
// builds the plugin registry, and runs the Dispatcher until signaled to
// stop. Grounded on the original Application.initialize/start/stop
// lifecycle (original_source/src/main.py), translated from asyncio
// signal handlers to signal.NotifyContext.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wilsonge/no8s-operator/internal/config"
	"github.com/wilsonge/no8s-operator/internal/dispatcher"
	"github.com/wilsonge/no8s-operator/internal/eventbus"
	"github.com/wilsonge/no8s-operator/internal/logging"
	"github.com/wilsonge/no8s-operator/internal/metrics"
	"github.com/wilsonge/no8s-operator/internal/registry"
	"github.com/wilsonge/no8s-operator/internal/store"
	"github.com/wilsonge/no8s-operator/internal/testplugins"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log, err := logging.New(logging.Options{
		Level:       os.Getenv("LOG_LEVEL"),
		Development: os.Getenv("LOG_DEV") == "true",
	})
	if err != nil {
		return fmt.Errorf("constructing logger: %w", err)
	}
	log = log.WithName("operator")
	log.Info(fmt.Sprintf("starting operator controller, database=%s", cfg.Database.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Connect(ctx, cfg.Database.DSN(), cfg.Database.MaxPoolSize, cfg.Database.MinPoolSize, 30*time.Minute)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	log.Info("database migrations applied")

	reg := registry.New(log)
	registerBuiltinPlugins(reg, cfg)

	collectors := metrics.New()
	collectors.MustRegister(prometheus.DefaultRegisterer)

	bus := eventbus.New()
	bus.SetMetrics(collectors)

	dispCfg := dispatcher.Config{
		ReconcileInterval:       time.Duration(cfg.Controller.ReconcileIntervalSeconds) * time.Second,
		MaxConcurrentReconciles: int64(cfg.Controller.MaxConcurrentReconciles),
		BackoffBaseDelay:        time.Duration(cfg.Controller.BackoffBaseDelaySeconds) * time.Second,
		BackoffMaxDelay:         time.Duration(cfg.Controller.BackoffMaxDelaySeconds) * time.Second,
		BackoffJitterFactor:     cfg.Controller.BackoffJitterFactor,
		PluginConfigs:           mergedPluginConfigs(reg, cfg),
	}
	disp := dispatcher.New(st, reg, bus, log, collectors, dispCfg)

	log.Info("operator controller running")
	runErr := disp.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := disp.Stop(stopCtx); err != nil {
		log.Error("error stopping reconciler plugins", logging.NewFields().Error(err).Slice()...)
	}

	log.Info("operator controller stopped")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// loadConfig assembles Config from the environment, optionally
// overlaid by a local YAML file named by CONFIG_FILE, for dev-mode
// convenience (spec.md §9 / SPEC_FULL.md §9: "optional YAML overlay").
func loadConfig() (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, err
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.LoadYAMLOverlay(&cfg, path); err != nil {
			return config.Config{}, fmt.Errorf("loading config overlay %s: %w", path, err)
		}
	}
	return cfg, nil
}

// registerBuiltinPlugins registers the in-memory reference executors
// (internal/testplugins) that ship with the operator for local
// development and the seed scenarios in spec.md §8. When
// ENABLED_ACTION_PLUGINS is set, only the executors among these three
// that it names are registered.
func registerBuiltinPlugins(reg *registry.Registry, cfg config.Config) {
	enabled := enabledSet(cfg.Plugins.EnabledActionPlugins)
	for _, exec := range []*testplugins.NoopExecutor{
		testplugins.NewNoopSuccess(),
		testplugins.NewNoopNoChanges(),
		testplugins.NewNoopFailure(),
	} {
		if enabled != nil && !enabled[exec.Name()] {
			continue
		}
		reg.RegisterActionExecutor(exec)
	}
}

func enabledSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// mergedPluginConfigs builds the dispatcher's PluginConfigs map from
// every registered action executor's name, overridden by the
// PLUGIN_CONFIGS env var, mirroring Application.initialize's
// plugin_configs assembly in the original implementation.
func mergedPluginConfigs(reg *registry.Registry, cfg config.Config) map[string]map[string]any {
	out := map[string]map[string]any{}
	for _, name := range reg.ListActionExecutors() {
		out[name] = cfg.Plugins.GetPluginConfig(name)
	}
	return out
}
