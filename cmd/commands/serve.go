package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskgate/internal/catalog"
	"github.com/dohr-michael/taskgate/internal/config"
	"github.com/dohr-michael/taskgate/internal/events"
	"github.com/dohr-michael/taskgate/internal/gateway"
	"github.com/dohr-michael/taskgate/internal/heartbeat"
	"github.com/dohr-michael/taskgate/internal/metrics"
	"github.com/dohr-michael/taskgate/internal/storage"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the taskgate gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// CLI flags override config, on startup and on every reload
	flagOverrides := func(c *config.Config) {
		if cmd.IsSet("host") {
			c.Gateway.Host = cmd.String("host")
		}
		if cmd.IsSet("port") {
			c.Gateway.Port = cmd.Int("port")
		}
	}
	flagOverrides(cfg)

	cat, err := catalog.Load(cfg.Session.Catalog)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if err := cat.Require(cfg.Session.TaskCount); err != nil {
		return err
	}

	// Event bus
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Metrics
	registry, m := metrics.NewRegistry()
	defer m.Observe(bus)()

	// Event log
	var eventLog *storage.EventLogger
	if cfg.Events.LogDir != "" {
		eventLog = storage.NewEventLogger(cfg.Events.LogDir, bus)
		defer eventLog.Close()
		slog.Info("event log enabled", "dir", cfg.Events.LogDir)
	}

	// Live config, reloaded on SIGHUP
	reloader := config.NewReloader(cmd.String("config"), config.DotenvPath(), cfg)
	reloader.Override(flagOverrides)

	server := gateway.NewServer(gateway.Options{
		Bus:      bus,
		Config:   reloader.Current,
		Catalog:  cat,
		EventLog: eventLog,
		Registry: registry,
	})

	reloader.OnReload(func(next *config.Config) {
		c, err := catalog.Load(next.Session.Catalog)
		if err == nil {
			err = c.Require(next.Session.TaskCount)
		}
		if err != nil {
			slog.Error("catalog reload failed, keeping previous catalog", "error", err)
			return
		}
		server.SetCatalog(c)
		slog.Info("catalog reloaded", "tasks", c.Len(), "digest", c.Digest())
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloader.ReloadOn(ctx, hup)

	// Heartbeat
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		heartbeat.NewWriter(heartbeat.Options{
			Path:  config.HeartbeatPath(),
			Stats: server.Stats,
		}).Run(hbCtx)
	}()
	defer func() {
		stopHeartbeat()
		<-hbDone
	}()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for signal or error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
