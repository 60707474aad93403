package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"htlcchain/config"
	"htlcchain/core"
	"htlcchain/observability/logging"
	telemetry "htlcchain/observability/otel"
	"htlcchain/rpc"
	"htlcchain/storage"
)

const (
	rpcTokenEnv  = "HTLC_RPC_TOKEN"
	jwtSecretEnv = "HTLC_JWT_SECRET"
	envNameEnv   = "HTLC_ENV"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("htlcd", flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file (.toml or .yaml)")
	envFile := fs.String("env-file", "", "Optional dotenv file loaded before the configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if path := strings.TrimSpace(*envFile); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyEnvOverrides(cfg, os.LookupEnv)

	logger := logging.Setup("htlcd", cfg.Logging.Env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "htlcd",
			Environment: cfg.Logging.Env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Traces:      cfg.Telemetry.Traces,
			Metrics:     cfg.Telemetry.Metrics,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()
	return d.run(ctx)
}

// applyEnvOverrides lets operators keep RPC secrets out of the config file.
func applyEnvOverrides(cfg *config.Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(rpcTokenEnv); ok && strings.TrimSpace(v) != "" {
		cfg.RPC.AuthToken = strings.TrimSpace(v)
	}
	if v, ok := lookup(jwtSecretEnv); ok && strings.TrimSpace(v) != "" {
		cfg.RPC.JWTSecret = strings.TrimSpace(v)
	}
	if v, ok := lookup(envNameEnv); ok && strings.TrimSpace(v) != "" {
		cfg.Logging.Env = strings.TrimSpace(v)
	}
}

type daemon struct {
	cfg      *config.Config
	node     *core.Node
	server   *rpc.Server
	interval time.Duration
	logger   *slog.Logger
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	interval, err := cfg.BlockDuration()
	if err != nil {
		return nil, err
	}
	readTimeout, writeTimeout, err := cfg.RPCTimeouts()
	if err != nil {
		return nil, err
	}
	genesis, err := cfg.GenesisAllocations()
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.StorageBackend, err)
	}
	node, err := core.NewNode(db, core.NodeOptions{
		ChainID:     cfg.ChainID,
		Genesis:     genesis,
		Pauses:      cfg.Pauses,
		EventBuffer: cfg.EventBuffer,
		Logger:      logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create node: %w", err)
	}
	if cfg.RPC.AuthToken == "" && cfg.RPC.JWTSecret == "" {
		logger.Warn("rpc authentication not configured; mutating methods are disabled")
	}

	server := rpc.NewServer(node, rpc.ServerConfig{
		AuthToken:          cfg.RPC.AuthToken,
		JWTSecret:          cfg.RPC.JWTSecret,
		JWTIssuer:          cfg.RPC.JWTIssuer,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		TrustProxyHeaders:  cfg.RPC.TrustProxyHeaders,
		EnableDevMethods:   cfg.RPC.EnableDevMethods,
		MaxBodyBytes:       cfg.RPC.MaxBodyBytes,
		ReadTimeout:        readTimeout,
		WriteTimeout:       writeTimeout,
		Logger:             logger,
	})
	return &daemon{cfg: cfg, node: node, server: server, interval: interval, logger: logger}, nil
}

// run blocks until ctx is cancelled or one of the services fails.
func (d *daemon) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.node.Chain().Run(gctx, d.interval)
	})
	g.Go(func() error {
		return d.server.Serve(gctx, d.cfg.RPC.Address)
	})
	if addr := strings.TrimSpace(d.cfg.MetricsAddress); addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, addr, d.logger)
		})
	}
	d.logger.Info("htlcd started",
		slog.Uint64("chain_id", d.node.ChainID()),
		slog.Uint64("height", d.node.CurrentHeight()),
		slog.String("rpc", d.cfg.RPC.Address),
		slog.String("backend", d.cfg.StorageBackend))
	err := g.Wait()
	d.logger.Info("htlcd stopped", slog.Uint64("height", d.node.CurrentHeight()))
	return err
}

func (d *daemon) close() {
	d.node.Close()
}

// serveMetrics exposes the Prometheus registry on a dedicated listener.
func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
