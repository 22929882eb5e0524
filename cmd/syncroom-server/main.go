// Package main provides the entry point for syncroom-server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yndnr/syncroom-go/internal/infra/buildinfo"
	"github.com/yndnr/syncroom-go/internal/infra/shutdown"
	"github.com/yndnr/syncroom-go/internal/server/config"
	"github.com/yndnr/syncroom-go/internal/server/httpserver"
	"github.com/yndnr/syncroom-go/internal/server/httpserver/handler"
	"github.com/yndnr/syncroom-go/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command line flags
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("syncroom-server %s\n", buildinfo.String())
		return nil
	}

	cfg, loader, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	info := buildinfo.Get()
	log.Info("starting syncroom-server",
		"version", info.Version,
		"commit", info.Commit,
		"node_id", cfg.Cluster.NodeID,
		"config", *configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	// Hooks run in reverse registration order, so the components started
	// first are stopped last.
	shutdownHandler := shutdown.NewHandler(cfg.Server.ShutdownTimeout, log)
	failed := func(err error) error {
		shutdownHandler.Trigger()
		if werr := shutdownHandler.Wait(context.Background()); werr != nil {
			log.Error("cleanup after failed start", "error", werr)
		}
		return err
	}

	metrics := metric.NewRegistry()

	store, err := initStorage(cfg, log, metrics)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	shutdownHandler.OnShutdown("storage", func(context.Context) error {
		return store.Close()
	})

	bus, err := initEventBus(cfg, log, metrics)
	if err != nil {
		return failed(fmt.Errorf("init event bus: %w", err))
	}
	shutdownHandler.OnShutdown("eventbus", func(context.Context) error {
		return bus.Close()
	})

	clus, err := initCluster(cfg, log, metrics)
	if err != nil {
		return failed(fmt.Errorf("init cluster: %w", err))
	}
	shutdownHandler.OnShutdown("cluster", clus.stop)

	manager, err := initArbiter(cfg, bus, clus.resourcePlacement(), log, metrics)
	if err != nil {
		return failed(fmt.Errorf("init arbiter: %w", err))
	}

	dir, err := initDirectory(cfg, store, bus, clus, manager, log, metrics)
	if err != nil {
		return failed(fmt.Errorf("init presence directory: %w", err))
	}
	shutdownHandler.OnShutdown("presence", func(context.Context) error {
		dir.Stop()
		return nil
	})
	shutdownHandler.OnShutdown("arbiter", func(context.Context) error {
		manager.Stop()
		return nil
	})

	if err := clus.join(cfg.Cluster.Seeds, dir, manager); err != nil {
		return failed(fmt.Errorf("join cluster: %w", err))
	}
	if err := reconcile(dir, log); err != nil {
		return failed(fmt.Errorf("reconcile: %w", err))
	}

	gw, err := initGateway(cfg, dir, manager, bus, log, metrics)
	if err != nil {
		return failed(fmt.Errorf("init gateway: %w", err))
	}
	shutdownHandler.OnShutdown("gateway", gw.Shutdown)

	routerCfg := httpserver.DefaultRouterConfig()
	routerCfg.API = handler.Config{
		Directory: dir,
		Resources: manager,
		Groups:    clus.groups,
		Cluster:   clus.view(),
		Ready:     readiness(dir, store),
		Logger:    log,
	}
	routerCfg.Gateway = gw
	routerCfg.GatewayPath = cfg.Server.Gateway.Path
	routerCfg.Metrics = metrics
	routerCfg.Logger = log
	routerCfg.AllowList = cfg.Server.HTTP.AllowList
	routerCfg.CORSAllowedOrigins = cfg.Server.HTTP.CORSOrigins
	routerCfg.RateLimit = cfg.Server.HTTP.RateLimit
	routerCfg.RateBurst = cfg.Server.HTTP.RateBurst

	serverOpts := []httpserver.ServerOption{
		httpserver.WithTimeouts(cfg.Server.HTTP.ReadTimeout, cfg.Server.HTTP.WriteTimeout),
		httpserver.WithLogger(log),
	}
	keyPair, err := initTLS(cfg, log)
	if err != nil {
		return failed(fmt.Errorf("init tls: %w", err))
	}
	if keyPair != nil {
		serverOpts = append(serverOpts, httpserver.WithTLS(keyPair.ServerConfig()))
	}

	httpServer := httpserver.New(cfg.Server.HTTP.Addr, httpserver.NewRouter(routerCfg), serverOpts...)
	if err := httpServer.Listen(); err != nil {
		return failed(fmt.Errorf("listen %s: %w", cfg.Server.HTTP.Addr, err))
	}
	shutdownHandler.OnShutdown("http", httpServer.Shutdown)

	go func() {
		if err := httpServer.Serve(); err != nil {
			log.Error("HTTP server error", "error", err)
			shutdownHandler.Trigger()
		}
	}()

	// Watchers stop before anything else.
	if keyPair != nil {
		if err := keyPair.Watch(); err != nil {
			log.Warn("certificate hot reload disabled", "error", err)
		}
		shutdownHandler.OnShutdown("tls-watcher", func(context.Context) error {
			return keyPair.Stop()
		})
	}
	if stop := watchConfig(loader, log); stop != nil {
		shutdownHandler.OnShutdown("config-watcher", func(context.Context) error {
			return stop()
		})
	}

	log.Info("server started, press Ctrl+C to stop",
		"http_addr", httpServer.Addr(),
		"gateway_path", cfg.Server.Gateway.Path,
		"startup", time.Since(startedAt).Round(time.Millisecond))
	if err := shutdownHandler.Wait(context.Background()); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

var startedAt = time.Now()
