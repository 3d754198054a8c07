package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"smart-router/internal/cache"
	"smart-router/internal/config"
	"smart-router/internal/logging"
	"smart-router/internal/provider"
	providerfactory "smart-router/internal/provider/factory"
	"smart-router/internal/router"
	"smart-router/internal/server"
	"smart-router/internal/telemetry"
)

const serveUsage = `Usage:
  smart-router serve [--config <path>] [--port <port>]

Flags:
  --config string   Path to YAML configuration file (optional; defaults plus environment when omitted)
  --port   int      Override server port from configuration`

const telemetryShutdownTimeout = 5 * time.Second

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if overridePort < 0 || overridePort > 65535 {
		return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		cfg.Server.Port = overridePort
	}

	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	registry := provider.NewRegistry()
	if err := providerfactory.RegisterConfiguredProviders(ctx, cfg, registry); err != nil {
		return err
	}

	var opts []router.Option
	if cfg.Cache.Enabled() {
		classificationCache, err := cache.NewRedis(ctx, cfg.Cache)
		if err != nil {
			log.Warn().Err(err).Msg("classification cache unavailable, continuing without it")
		} else {
			defer classificationCache.Close()
			opts = append(opts, router.WithCache(classificationCache))
			log.Info().Str("addr", cfg.Cache.RedisAddr).Dur("ttl", cfg.Cache.TTL).Msg("classification cache enabled")
		}
	}

	rt := router.New(registry, cfg.Routing, opts...)

	srv, err := server.New(cfg, rt, registry)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
