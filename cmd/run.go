package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/admission"
	"grimm.is/turnstile/internal/brand"
	"grimm.is/turnstile/internal/clock"
	"grimm.is/turnstile/internal/config"
	"grimm.is/turnstile/internal/ctlplane"
	"grimm.is/turnstile/internal/firewall"
	"grimm.is/turnstile/internal/grant"
	"grimm.is/turnstile/internal/leases"
	"grimm.is/turnstile/internal/logging"
	"grimm.is/turnstile/internal/metrics"
	"grimm.is/turnstile/internal/preflight"
	"grimm.is/turnstile/internal/presence"
	"grimm.is/turnstile/internal/scheduler"
	"grimm.is/turnstile/internal/state"
)

// StateFileName is the SQLite database inside the state directory.
const StateFileName = "state.db"

// metricsInterval is how often sampled gauges are refreshed.
const metricsInterval = 15 * time.Second

// Run runs "turnstile run [-c config]": the daemon. It returns when
// SIGINT or SIGTERM arrives.
func Run(args []string, _ io.Writer) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", brand.DefaultConfigPath(), "configuration file")
	stateDir := fs.String("state-dir", "", "override the state directory")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if fs.NArg() > 0 {
		return usagef("run", "unexpected arguments %q", fs.Args())
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if *stateDir != "" {
		cfg.StateDir = *stateDir
	}
	if errs := cfg.Validate(); errs.HasErrors() {
		return fmt.Errorf("configuration invalid: %w", errs)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.LogLevel)
	logCfg.JSON = cfg.LogJSON
	logger := logging.New(logCfg)
	logging.SetDefault(logger)

	if !privileged() {
		logger.Warn("not running as root; firewall changes will likely fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return daemon(ctx, cfg, logger)
}

func daemon(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	// Expiry arithmetic needs a sane wall clock before grants are restored
	if err := clock.EnsureSaneTime(cfg.StateDir); err != nil {
		logger.Warn("system time check failed", "error", err)
	}

	store, err := state.NewSQLiteStore(state.DefaultOptions(filepath.Join(cfg.StateDir, StateFileName)))
	if err != nil {
		return err
	}
	defer store.Close()
	store.OnWrite = func() {
		if err := clock.SaveAnchor(cfg.StateDir); err != nil {
			logger.Debug("clock anchor not saved", "error", err)
		}
	}

	grantBucket, err := state.NewGrantBucket(store)
	if err != nil {
		return err
	}
	history, err := state.NewHistoryBucket(store, cfg.RetentionPeriod())
	if err != nil {
		return err
	}

	driver, pre, err := buildFirewall(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	syncer := firewall.NewSynchronizer(driver, pre, access.Mode(cfg.Mode), logger.WithComponent("firewall"))

	src, err := presence.New(cfg.Presence)
	if err != nil {
		return err
	}
	reader := presence.NewReader(src, presence.WithLogger(logger.WithComponent("presence")))

	grants := grant.NewStore(
		grant.WithPersister(grantBucket),
		grant.WithLogger(logger.WithComponent("grants")),
	)
	recorder := metrics.NewRecorder(metrics.Get())
	sched := scheduler.New(logger.WithComponent("scheduler"))
	ctl := admission.New(grants, syncer, pre, reader,
		admission.WithLogger(logger.WithComponent("admission")),
		admission.WithDevices(leases.New(cfg.Leases, cfg.Firewall.LANInterface, logger.WithComponent("leases"))),
		admission.WithHistory(history),
		admission.WithMetrics(recorder),
		admission.WithTasks(sched),
		admission.WithDurations(cfg.DefaultDuration, cfg.MaxDuration),
	)
	defer ctl.Close()

	persisted, err := grantBucket.Load()
	if err != nil {
		logger.Error("could not load persisted grants", "error", err)
	}
	if err := ctl.Restore(ctx, persisted); err != nil {
		// Presence ticks retry the reconcile.
		logger.Warn("restore did not reconcile the firewall", "error", err)
	}

	for _, task := range []*scheduler.Task{
		scheduler.NewPresenceTickTask(ctl.Tick, cfg.PollEvery()),
		scheduler.NewGrantPruneTask(grants.Prune, cfg.RetentionPeriod(), &clock.RealClock{}, logger),
		scheduler.NewStorePruneTask(store, logger),
		scheduler.NewClockAnchorTask(cfg.StateDir, time.Hour),
		scheduler.NewMetricsTask(func(ctx context.Context) error {
			return recorder.Collect(ctx, ctl)
		}, metricsInterval),
	} {
		if err := sched.AddTask(task); err != nil {
			return err
		}
	}
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.Presence.Watch && cfg.Presence.Source == config.SourceFile {
		w, err := presence.NewWatcher(cfg.Presence.Path, func(ctx context.Context) {
			if err := sched.RunTask(ctx, scheduler.TaskPresenceTick); err != nil {
				logger.Debug("presence tick on file change", "error", err)
			}
		}, logger.WithComponent("presence"))
		if err != nil {
			logger.Warn("presence file not watched; relying on polling", "path", cfg.Presence.Path, "error", err)
		} else {
			go w.Run(ctx)
		}
	}

	server, err := ctlplane.NewServer(ctl, ctlplane.DefaultTimeout, logger.WithComponent("ctlplane"))
	if err != nil {
		return err
	}
	if err := server.Start(cfg.SocketPath); err != nil {
		return err
	}
	defer server.Stop()

	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("turnstile running",
		"version", brand.Version,
		"mode", cfg.Mode,
		"backend", cfg.Firewall.Backend,
		"presence", reader.SourceName(),
		"socket", cfg.SocketPath)

	<-ctx.Done()
	logger.Info("shutting down; grants stay in force and resume on restart")
	return nil
}

// buildFirewall creates the configured driver and its preflight
// validator. With install set the driver's base objects are created.
func buildFirewall(ctx context.Context, cfg *config.Config, logger *logging.Logger, install bool) (firewall.Driver, *preflight.Validator, error) {
	fw := cfg.Firewall
	driver, err := firewall.New(fw.Backend, firewall.Options{
		Table:        fw.Table,
		Chain:        fw.Chain,
		Set:          fw.Set,
		LANInterface: fw.LANInterface,
		WANInterface: fw.WANInterface,
		IPTablesPath: fw.IPTablesPath,
	})
	if err != nil {
		return nil, nil, err
	}

	if inst, ok := driver.(firewall.Installer); ok && install {
		if err := inst.Install(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to install firewall base rules: %w", err)
		}
	}

	opts := []preflight.Option{preflight.WithLogger(logger.WithComponent("preflight"))}
	if fw.WANInterface != "" {
		opts = append(opts, preflight.WithUplink(fw.WANInterface))
	}
	return driver, preflight.New(driver, opts...), nil
}

func serveMetrics(addr string, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
