// ksbot is the RSS subscription bot for KOOK. It keeps the gateway
// session alive and polls subscribed feeds on their TTL, pushing new
// posts into the channels that subscribed them.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"

	"github.com/kooklabs/ksbot/pkg/api"
	"github.com/kooklabs/ksbot/pkg/bot"
	"github.com/kooklabs/ksbot/pkg/command"
	"github.com/kooklabs/ksbot/pkg/config"
	"github.com/kooklabs/ksbot/pkg/feed"
	"github.com/kooklabs/ksbot/pkg/gateway"
	"github.com/kooklabs/ksbot/pkg/kook"
	"github.com/kooklabs/ksbot/pkg/logging"
	"github.com/kooklabs/ksbot/pkg/metrics"
	"github.com/kooklabs/ksbot/pkg/push"
	"github.com/kooklabs/ksbot/pkg/scheduler"
	"github.com/kooklabs/ksbot/pkg/store"
	"github.com/kooklabs/ksbot/pkg/version"
)

func main() {
	token := flag.String("token", "",
		"KOOK bot token (the config file value wins when both are set)")
	flag.Parse()

	// Load .env before the environment is read
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	// 1. Resolve configuration (defaults < KSBOT_* env < --token < INI file)
	cfg, err := config.Load(*token, flag.Arg(0))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Install the process logger
	logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	slog.Info("Starting ksbot",
		"version", version.Full(),
		"name", cfg.Name,
		"debug", cfg.Debug)

	// 3. Metrics registry
	m := metrics.New(nil)

	// 4. Open the subscription store
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		slog.Error("Failed to open subscription store", "path", cfg.StorePath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing subscription store", "error", err)
		}
	}()

	// 5. Load the session record; its presence selects Resume over Connect
	record, initial, err := gateway.OpenRecordFile(cfg.RecordPath)
	if err != nil {
		slog.Error("Failed to open session record, delete it to start a fresh session",
			"path", cfg.RecordPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := record.Close(); err != nil {
			slog.Error("Error closing session record", "error", err)
		}
	}()

	// 6. Platform client and gateway session
	client := kook.NewClient(cfg.Token)
	bus := gateway.NewBus()
	session := gateway.NewSession(client, record, initial, bus, m)

	// 7. Feed pipeline: fetcher → pusher → scheduler → command surface
	fetcher := feed.NewFetcher(cfg.Refresh.FeedSizeLimit)
	pusher := push.NewPusher(fetcher, st, client, m)
	sched := scheduler.New(st, pusher, &cfg.Refresh, m)
	interp := command.NewInterpreter(st, fetcher, client, pusher, sched, cfg.Refresh.StaleCutoff)

	// 8. Orchestrator
	b := bot.New(cfg.Name, session, sched, bus, client, interp, st, m)

	// 9. Status server (optional, non-blocking)
	var statusServer *api.Server
	serverErrCh := make(chan error, 1)
	if cfg.StatusAddr != "" {
		statusServer = api.NewServer(b)
		go func() {
			if err := statusServer.Start(cfg.StatusAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrCh <- err
			}
		}()
	}

	// 10. Run until a signal or a fatal error
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- b.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
		cancel()
		<-runErrCh
	case err := <-serverErrCh:
		slog.Error("Status server error triggered shutdown", "error", err)
		cancel()
		<-runErrCh
	case err := <-runErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Bot stopped with error", "error", err)
		}
	}

	// 11. Graceful shutdown of the status server
	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Status server shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}
