package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	ratholemgmt "github.com/rezaab69/rathole-management"
	"github.com/rezaab69/rathole-management/internal/cron"
	"github.com/rezaab69/rathole-management/internal/logger"
	"github.com/rezaab69/rathole-management/internal/metrics"
)

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	LogFile    string
	PidFile    string
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisor daemon",
		Long: `Run the supervisor daemon: load the stored tunnel definitions, expose
the management API, and keep the engine processes reconciled.

Examples:
  rathole-mgmt serve                              # defaults, no config file
  rathole-mgmt serve rathole-mgmt.toml            # explicit config file
  rathole-mgmt serve --config=rathole-mgmt.toml --daemonize`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to file")

	return cmd
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}

	cfg, err := ratholemgmt.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	log := logger.Setup(cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := ratholemgmt.NewStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	opts := cfg.SupervisorOptions()
	if cfg.History.DSN != "" {
		sink, err := ratholemgmt.NewEventSink(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("open history sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
		opts.Sinks = append(opts.Sinks, sink)
	}

	mgr, err := ratholemgmt.NewWithStore(ctx, st, opts)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	var authSvc *ratholemgmt.AuthService
	if cfg.Auth.Enabled {
		authSvc = ratholemgmt.NewAuthService(st, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err := authSvc.EnsureBootstrapUser(ctx, cfg.Auth.BootstrapUser, cfg.Auth.BootstrapPassword); err != nil {
			return fmt.Errorf("bootstrap user: %w", err)
		}
	}

	if cfg.Reconcile.Cron != "" {
		sched := cron.NewScheduler(ctx)
		if err := sched.Add(&cron.Task{
			Name:      "reconcile",
			Spec:      cfg.Reconcile.Cron,
			Singleton: true,
			Run:       mgr.ReconcileOnce,
		}); err != nil {
			return fmt.Errorf("reconcile schedule: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	} else if cfg.Reconcile.Interval > 0 {
		mgr.StartReconciler(ctx, cfg.Reconcile.Interval)
		defer mgr.StopReconciler()
	}

	if cfg.Metrics.Enabled {
		if err := ratholemgmt.RegisterMetricsDefault(); err != nil {
			log.Warn("metrics registration failed", "error", err)
		}
		sampler := metrics.NewSampler(15*time.Second, mgr.LivePIDs)
		sampler.Start()
		defer sampler.Stop()
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := ratholemgmt.ServeMetrics(cfg.Metrics.Listen); err != nil {
					log.Error("metrics server stopped", "error", err)
				}
			}()
		}
	}

	var server *http.Server
	if cfg.TLS.Enabled {
		server, err = ratholemgmt.NewTLSServer(cfg.Listen, cfg.BasePath, mgr, authSvc, cfg.TLS)
		if err != nil {
			return fmt.Errorf("create HTTPS server: %w", err)
		}
		log.Info("management API listening", "addr", cfg.Listen, "base_path", cfg.BasePath, "tls", true)
	} else {
		server = ratholemgmt.NewHTTPServer(cfg.Listen, cfg.BasePath, mgr, authSvc)
		log.Info("management API listening", "addr", cfg.Listen, "base_path", cfg.BasePath)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
	}
	return mgr.Shutdown(shutdownCtx)
}
