// Package main provides the entry point for wisp-server.
//
// wisp-server is an in-memory key-value server speaking the Redis wire
// protocol, with per-key millisecond expiry.
//
// Usage:
//
//	wisp-server [flags]
//	wisp-server --config /path/to/wisp.yaml
//
// Configuration is merged from the file, WISP_-prefixed environment
// variables and flags, in ascending priority.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/wispkv/wisp/internal/infra/buildinfo"
	"github.com/wispkv/wisp/internal/infra/confloader"
	"github.com/wispkv/wisp/internal/infra/shutdown"
	"github.com/wispkv/wisp/internal/keyspace"
	"github.com/wispkv/wisp/internal/server"
	"github.com/wispkv/wisp/internal/server/config"
	"github.com/wispkv/wisp/internal/telemetry/logger"
	"github.com/wispkv/wisp/internal/telemetry/metric"
)

func main() {
	app := &cli.App{
		Name:    "wisp-server",
		Usage:   "in-memory key-value server speaking the Redis wire protocol",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"WISP_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "TCP bind address, overrides server.addr",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error), overrides log.level",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	configFile := c.String("config")

	cfg, err := loadConfig(configFile, c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	logger.SetDefault(log)
	slogLogger := logger.Slog(log)

	log.Info("starting wisp-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", configFile)

	shutdownHandler := shutdown.NewHandler(30 * time.Second)

	// Keyspace first, then metrics: the expiry hook reads the metrics
	// variable, so it must be assigned before the sweeper or server can
	// run a command.
	var metrics *metric.Metrics
	store := keyspace.New(keyspace.WithExpiryHook(func(count int) {
		if metrics != nil {
			metrics.ExpiredKeysTotal.Add(float64(count))
		}
	}))

	if cfg.Metrics.Enabled {
		metrics = metric.New(store.Len)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

		go func() {
			log.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("shutting down metrics endpoint")
			return metricsServer.Shutdown(ctx)
		})
	}

	if cfg.Keyspace.SweepInterval > 0 {
		sweeper := keyspace.NewSweeper(store, cfg.Keyspace.SweepInterval, slogLogger)
		sweeper.Start()
		shutdownHandler.OnShutdown(func(context.Context) error {
			log.Info("stopping expiry sweeper")
			sweeper.Stop()
			return nil
		})
	}

	var opts []server.Option
	if metrics != nil {
		opts = append(opts, server.WithMetrics(metrics))
	}
	srv := server.New(cfg, store, slogLogger, opts...)
	if err := srv.Start(context.Background()); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down server")
		return srv.Shutdown(ctx)
	})

	if configFile != "" {
		if err := watchConfig(configFile, log, slogLogger, shutdownHandler); err != nil {
			log.Warn("config watcher disabled", "error", err)
		}
	}

	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig merges defaults, the config file, the environment and CLI
// flag overrides, then validates the result.
func loadConfig(configFile string, c *cli.Context) (*config.ServerConfig, error) {
	cfg := config.Default()

	loader := confloader.NewLoader(confloader.WithConfigFile(configFile))
	if err := loader.LoadFile(configFile); err != nil {
		return nil, err
	}
	if err := loader.LoadEnv(); err != nil {
		return nil, err
	}

	overrides := map[string]any{}
	if addr := c.String("addr"); addr != "" {
		overrides["server.addr"] = addr
	}
	if level := c.String("log-level"); level != "" {
		overrides["log.level"] = level
	}
	if len(overrides) > 0 {
		if err := loader.LoadMap(overrides); err != nil {
			return nil, err
		}
	}

	if err := loader.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// watchConfig applies log level changes from a rewritten config file at
// runtime. Other settings require a restart.
func watchConfig(configFile string, log logger.Logger, slogLogger *slog.Logger, handler *shutdown.Handler) error {
	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(slogLogger))
	if err != nil {
		return err
	}
	if err := watcher.Watch(configFile); err != nil {
		_ = watcher.Stop()
		return err
	}

	watcher.OnChange(func(string) {
		fresh := confloader.NewLoader(confloader.WithConfigFile(configFile))
		if err := fresh.LoadFile(configFile); err != nil {
			log.Warn("config reload failed", "error", err)
			return
		}
		level := fresh.GetString("log.level")
		if level != "" && level != logger.GetLevel() {
			logger.SetLevel(level)
			log.Info("log level changed", "level", level)
		}
	})

	watcher.StartAsync()
	handler.OnShutdown(func(context.Context) error {
		return watcher.Stop()
	})
	return nil
}
