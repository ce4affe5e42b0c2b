// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smartvenue/venued/internal/adoption"
	"github.com/smartvenue/venued/internal/api"
	"github.com/smartvenue/venued/internal/cmdq"
	"github.com/smartvenue/venued/internal/config"
	"github.com/smartvenue/venued/internal/daemon"
	"github.com/smartvenue/venued/internal/discovery"
	"github.com/smartvenue/venued/internal/health"
	"github.com/smartvenue/venued/internal/log"
	"github.com/smartvenue/venued/internal/poller"
	"github.com/smartvenue/venued/internal/protocol"
	"github.com/smartvenue/venued/internal/protocol/espapi"
	"github.com/smartvenue/venued/internal/scheduler"
	"github.com/smartvenue/venued/internal/store"
	"github.com/smartvenue/venued/internal/worker"
)

var (
	version   = "v0.4.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("venued %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "venued: %v\n", err)
		os.Exit(1)
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version,
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error().Err(err).Str("event", "main.exit").Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := log.WithComponent("main")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	router := protocol.NewRouter(st)
	queue := cmdq.New(st, cfg.Queue.RetentionDays)
	adopt := adoption.New(st, router)
	sched := scheduler.New(st, queue)
	pool := worker.NewPool(st, router, cfg.Queue.Workers, cfg.Queue.PollInterval)
	poll := poller.New(st, router, cfg.Poller)
	monitor := health.NewMonitor(st, router, cfg.Health)

	hm := health.NewManager(version)
	hm.RegisterChecker(health.NewDatabaseChecker(st))
	hm.RegisterChecker(health.NewQueueChecker(st))

	disc := discovery.New(st, cfg.Discovery, irPreflightProbe)
	apiServer := api.New(cfg.ListenAddr, st, queue, adopt, sched, hm)

	mgr := daemon.NewManager()
	mgr.Add("api", apiServer.Run)
	mgr.Add("discovery", disc.Run)
	mgr.Add("workers", pool.Run)
	mgr.Add("poller", poll.Run)
	mgr.Add("scheduler", sched.Run)
	mgr.Add("health-monitor", monitor.Run)
	mgr.Add("queue-maintenance", queue.RunMaintenance)

	mgr.RegisterShutdownHook("store", func(context.Context) error { return st.Close() })
	mgr.RegisterShutdownHook("protocol-connections", func(context.Context) error {
		router.CloseAll()
		return nil
	})

	logger.Info().
		Str("event", "main.starting").
		Str("version", version).
		Str("listen", cfg.ListenAddr).
		Str("db", cfg.DBPath).
		Msg("venued starting")

	return mgr.Run(ctx)
}

// irPreflightProbe confirms a freshly discovered IR controller actually
// speaks the native API before an operator sees it in the candidate list.
// Failures are logged and forgotten; adoption repeats the full handshake.
func irPreflightProbe(ctx context.Context, hostname, ip string) {
	logger := log.WithComponent("discovery")
	client := espapi.New(ip, "")
	if err := client.Connect(ctx); err != nil {
		logger.Debug().Err(err).
			Str("event", "discovery.ir_preflight_failed").
			Str("hostname", hostname).
			Str("ip", ip).
			Msg("candidate does not answer the native api yet")
		return
	}
	defer func() { _ = client.Close() }()

	info, err := client.DeviceInfo(ctx)
	if err != nil {
		logger.Debug().Err(err).
			Str("event", "discovery.ir_preflight_failed").
			Str("hostname", hostname).
			Str("ip", ip).
			Msg("device info fetch failed")
		return
	}
	logger.Info().
		Str("event", "discovery.ir_preflight").
		Str("hostname", hostname).
		Str("ip", ip).
		Str("firmware", info.ESPHomeVersion).
		Str("model", info.Model).
		Msg("ir controller answered preflight")
}
