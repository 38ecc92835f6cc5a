package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/pairlink-go/internal/config"
	"github.com/rmacdonaldsmith/pairlink-go/internal/coordinator"
	"github.com/rmacdonaldsmith/pairlink-go/internal/httpapi"
	"github.com/rmacdonaldsmith/pairlink-go/internal/journal"
	"github.com/rmacdonaldsmith/pairlink-go/internal/observability"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
)

const (
	appName    = "pairlink"
	appVersion = "0.1.0"

	shutdownTimeout = 30 * time.Second
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to the YAML config file (default: search ./pairlink.yaml, ./configs, ~/.pairlink)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, appVersion)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, restoreLogging, err := observability.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer restoreLogging()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("Starting "+appName,
		zap.String("version", appVersion),
		zap.String("peer", fmt.Sprintf("%s:%d", cfg.Peer.Address, cfg.Peer.Port)),
		zap.Int("listen_port", cfg.Listen.Port))

	if err := d.start(ctx); err != nil {
		_ = d.close(context.Background())
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return d.close(shutdownCtx)
}

// daemon wires one node with its journal, metrics and admin API
type daemon struct {
	logger   *zap.Logger
	node     *coordinator.Node
	journal  journal.Journal
	api      *httpapi.Server
	registry *prometheus.Registry
}

func newDaemon(cfg *config.Config, logger *zap.Logger) (*daemon, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	j, err := openJournal(cfg.Journal)
	if err != nil {
		return nil, err
	}

	node, err := coordinator.NewNode(cfg.NodeConfig(logger).WithRegisterer(registry))
	if err != nil {
		_ = j.Close()
		return nil, err
	}
	node.Subscribe(journal.NewRecorder(j, logger.Named("journal")))
	node.Subscribe(healthLogger(logger))

	d := &daemon{
		logger:   logger,
		node:     node,
		journal:  j,
		registry: registry,
	}

	if cfg.API.Enabled {
		d.api = httpapi.NewServer(node, httpapi.Config{
			Address:      cfg.API.Address,
			SecretKey:    cfg.API.SecretKey,
			LoginSecret:  cfg.API.LoginSecret,
			NoAuth:       cfg.API.NoAuth,
			AdminClients: cfg.API.AdminClients,
			Gatherer:     registry,
			Journal:      j,
			Logger:       logger,
		})
	}
	return d, nil
}

func openJournal(cfg config.JournalConfig) (journal.Journal, error) {
	switch cfg.Backend {
	case "sqlite":
		j, err := journal.OpenSQLite(cfg.Path, cfg.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		return j, nil
	case "", "memory":
		return journal.NewInMemoryJournal(cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidJournalBackend, cfg.Backend)
	}
}

// healthLogger logs pair health transitions
func healthLogger(logger *zap.Logger) pairlink.Observer {
	logger = logger.Named("pair")
	return pairlink.ObserverFuncs{
		Healthy:   func() { logger.Info("Pair is healthy") },
		Unhealthy: func() { logger.Warn("Pair is unhealthy") },
	}
}

func (d *daemon) start(ctx context.Context) error {
	if err := d.node.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	if d.api != nil {
		if err := d.api.Start(); err != nil {
			return fmt.Errorf("start http api: %w", err)
		}
	}
	return nil
}

func (d *daemon) close(ctx context.Context) error {
	var err error
	if d.api != nil {
		if stopErr := d.api.Stop(ctx); stopErr != nil && !errors.Is(stopErr, context.Canceled) {
			err = multierr.Append(err, stopErr)
		}
	}
	err = multierr.Append(err, d.node.Close())
	err = multierr.Append(err, d.journal.Close())
	return err
}
