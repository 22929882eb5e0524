package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yndnr/syncroom-go/internal/cluster"
	"github.com/yndnr/syncroom-go/internal/core/arbiter"
	"github.com/yndnr/syncroom-go/internal/core/presence"
	"github.com/yndnr/syncroom-go/internal/eventbus"
	"github.com/yndnr/syncroom-go/internal/infra/buildinfo"
	"github.com/yndnr/syncroom-go/internal/infra/confloader"
	"github.com/yndnr/syncroom-go/internal/infra/tlsroots"
	"github.com/yndnr/syncroom-go/internal/server/config"
	"github.com/yndnr/syncroom-go/internal/server/gateway"
	"github.com/yndnr/syncroom-go/internal/server/httpserver/handler"
	"github.com/yndnr/syncroom-go/internal/storage"
	"github.com/yndnr/syncroom-go/internal/storage/memory"
	"github.com/yndnr/syncroom-go/internal/storage/postgres"
	"github.com/yndnr/syncroom-go/internal/telemetry/logger"
	"github.com/yndnr/syncroom-go/internal/telemetry/metric"
)

// unbindTimeout bounds the arbiter cleanup that follows a lost connector.
const unbindTimeout = 5 * time.Second

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.ServerConfig, *confloader.Loader, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	loader := confloader.NewLoader(opts...)

	if err := loader.Load(cfg); err != nil {
		return nil, nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	nodeID, err := config.ResolveNodeID(cfg.Cluster)
	if err != nil {
		return nil, nil, err
	}
	cfg.Cluster.NodeID = nodeID
	return cfg, loader, nil
}

// initLogger initializes the structured logger and installs it as default.
func initLogger(cfg *config.ServerConfig) (*slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return log.Slog().With("node", cfg.Cluster.NodeID), nil
}

// watchConfig applies log level changes from the config file without a
// restart. Other keys need a restart. It returns nil when no file is used.
func watchConfig(loader *confloader.Loader, log *slog.Logger) func() error {
	if loader.FilePath() == "" {
		return nil
	}
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		log.Warn("config hot reload disabled", "error", err)
		return nil
	}
	if err := w.Watch(loader.FilePath()); err != nil {
		_ = w.Stop()
		log.Warn("config hot reload disabled", "error", err)
		return nil
	}
	w.OnChange(func(path string) {
		next := config.Default()
		if err := loader.Reload(next); err != nil {
			log.Error("config reload failed", "file", path, "error", err)
			return
		}
		if err := config.Verify(next); err != nil {
			log.Error("reloaded config is invalid, ignoring", "file", path, "error", err)
			return
		}
		if next.Log.Level != logger.GetLevel() {
			if err := logger.SetLevel(next.Log.Level); err != nil {
				log.Error("apply log level", "error", err)
				return
			}
			log.Info("log level changed", "level", next.Log.Level)
		}
	})
	w.StartAsync()
	return w.Stop
}

// connectorStore is a presence.Store owning backend resources.
type connectorStore interface {
	presence.Store
	Close() error
}

// initStorage opens the connector store selected by storage.driver.
func initStorage(cfg *config.ServerConfig, log *slog.Logger, metrics *metric.Registry) (connectorStore, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return postgres.NewConnectorStore(ctx, cfg.Storage.PostgresDSN, postgres.DefaultPoolConfig())
	case "memory":
		log.Warn("using in-memory connector store, identities are lost on restart")
		return memory.NewConnectorStore(), nil
	default:
		kvCfg := storage.DefaultKVConfig(cfg.Storage.DataDir)
		kvCfg.Badger.GCInterval = cfg.Storage.GCInterval
		kv, err := storage.NewBadgerEngine(kvCfg, log)
		if err != nil {
			return nil, err
		}
		for _, c := range kv.Collectors() {
			if err := metrics.Register(c); err != nil {
				log.Warn("register storage collector", "error", err)
			}
		}
		return &badgerStore{ConnectorStore: storage.NewConnectorStore(kv), kv: kv}, nil
	}
}

// readiness reports the node ready while the directory answers and, for
// postgres, the database does.
func readiness(dir *presence.Directory, store connectorStore) func(context.Context) error {
	pinger, _ := store.(interface{ Ping(context.Context) error })
	return func(ctx context.Context) error {
		if _, err := dir.Bindings(ctx); err != nil {
			return err
		}
		if pinger != nil {
			return pinger.Ping(ctx)
		}
		return nil
	}
}

// badgerStore closes the engine behind a KV connector store.
type badgerStore struct {
	*storage.ConnectorStore
	kv *storage.BadgerEngine
}

func (s *badgerStore) Close() error { return s.kv.Close() }

// initEventBus creates the local bus, bridged to NATS when configured.
func initEventBus(cfg *config.ServerConfig, log *slog.Logger, metrics *metric.Registry) (eventbus.Bus, error) {
	local := eventbus.NewLocal(eventbus.LocalConfig{
		Node:       cfg.Cluster.NodeID,
		BufferSize: cfg.EventBus.BufferSize,
		Logger:     log,
		Metrics:    metrics,
	})
	if cfg.EventBus.Driver != "nats" {
		return local, nil
	}

	var opts []nats.Option
	roots, err := tlsroots.LoadRoots(cfg.EventBus.NATSCAFile)
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	if roots != nil {
		opts = append(opts, nats.Secure(roots.ClientConfig()))
	}

	bridge, err := eventbus.NewNATS(eventbus.NATSConfig{
		URL:           cfg.EventBus.NATSURL,
		SubjectPrefix: cfg.EventBus.SubjectPrefix,
		Local:         local,
		Logger:        log,
		Options:       opts,
	})
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	return bridge, nil
}

// clusterParts holds the membership pieces, gossip-backed or local.
type clusterParts struct {
	groups    presence.Membership
	discovery *cluster.Discovery
	gossip    *cluster.Groups
	placement *cluster.Placement
	log       *slog.Logger
}

func initCluster(cfg *config.ServerConfig, log *slog.Logger, metrics *metric.Registry) (*clusterParts, error) {
	if !cfg.Cluster.Enabled {
		return &clusterParts{groups: presence.NewLocalGroups(), log: log}, nil
	}

	groups := cluster.NewGroups(cluster.GroupsConfig{
		Node:   cfg.Cluster.NodeID,
		Logger: log,
	})
	disc, err := cluster.NewDiscovery(cluster.DiscoveryConfig{
		NodeID:        cfg.Cluster.NodeID,
		BindAddr:      cfg.Cluster.GossipAddr,
		BindPort:      cfg.Cluster.GossipPort,
		AdvertiseAddr: cfg.Cluster.AdvertiseAddr,
		AdvertisePort: cfg.Cluster.GossipPort,
		Meta: cluster.NodeMeta{
			HTTPAddr: advertisedHTTPAddr(cfg),
			Version:  buildinfo.Version,
		},
		State:   groups,
		Logger:  log,
		Metrics: metrics,
	})
	if err != nil {
		groups.Stop()
		return nil, err
	}

	placement := cluster.NewPlacement(cfg.Cluster.NodeID, cfg.Cluster.VirtualNodes)
	placement.Attach(disc)

	return &clusterParts{groups: groups, discovery: disc, gossip: groups, placement: placement, log: log}, nil
}

// resourcePlacement returns the ring deciding which node runs each
// arbiter, nil on a single node.
func (c *clusterParts) resourcePlacement() arbiter.Placement {
	if c.placement == nil {
		return nil
	}
	return c.placement
}

// join routes node departures to the directory and ring changes to the
// arbiters, contacts the seeds and then exchanges state with every member
// found, so the connector group is complete before reconcile reads it.
func (c *clusterParts) join(seeds []string, dir *presence.Directory, manager *arbiter.Manager) error {
	if c.discovery == nil {
		return nil
	}
	// The directory drops the departed node's group claims itself, after
	// reading them.
	c.discovery.OnLeave(dir.NodeLeft)
	c.placement.OnChange(func() { manager.Rebalance() })

	n, err := c.discovery.Join(seeds)
	if err != nil {
		return err
	}
	if n > 0 {
		if _, err := c.discovery.SyncState(); err != nil {
			return err
		}
	}
	c.log.Info("cluster joined",
		"contacted", n,
		"members", c.discovery.NumMembers(),
		"ring_nodes", len(c.placement.Nodes()))
	return nil
}

// view returns the gossip view for the HTTP API, nil on a single node.
func (c *clusterParts) view() handler.ClusterView {
	if c.discovery == nil {
		return nil
	}
	return c.discovery
}

func (c *clusterParts) stop(context.Context) error {
	if c.discovery == nil {
		return nil
	}
	leaveErr := c.discovery.Leave(5 * time.Second)
	c.gossip.Stop()
	if err := c.discovery.Shutdown(); err != nil {
		return err
	}
	return leaveErr
}

// advertisedHTTPAddr replaces an unspecified HTTP host with the gossip
// advertise address so peers can reach the API.
func advertisedHTTPAddr(cfg *config.ServerConfig) string {
	host, port, err := net.SplitHostPort(cfg.Server.HTTP.Addr)
	if err != nil {
		return cfg.Server.HTTP.Addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		if cfg.Cluster.AdvertiseAddr != "" {
			return net.JoinHostPort(cfg.Cluster.AdvertiseAddr, port)
		}
	}
	return cfg.Server.HTTP.Addr
}

func initArbiter(cfg *config.ServerConfig, bus eventbus.Bus, placement arbiter.Placement, log *slog.Logger, metrics *metric.Registry) (*arbiter.Manager, error) {
	policy, err := arbiter.ParseDisconnectPolicy(cfg.Arbiter.DisconnectPolicy)
	if err != nil {
		return nil, err
	}
	return arbiter.NewManager(arbiter.ManagerConfig{
		Bus:              bus,
		Clock:            arbiter.RealClock(),
		RequestTimeout:   cfg.Arbiter.RequestTimeout,
		DisconnectPolicy: policy,
		Logger:           log,
		Metrics:          metrics,
		Placement:        placement,
	}), nil
}

// initDirectory starts the presence directory. Stale identities are swept
// by reconcile once the node has joined the cluster.
func initDirectory(
	cfg *config.ServerConfig,
	store presence.Store,
	bus eventbus.Bus,
	clus *clusterParts,
	manager *arbiter.Manager,
	log *slog.Logger,
	metrics *metric.Registry,
) (*presence.Directory, error) {
	dir, err := presence.NewDirectory(presence.Config{
		Node:    cfg.Cluster.NodeID,
		Store:   store,
		Bus:     bus,
		Groups:  clus.groups,
		Logger:  log,
		Metrics: metrics,
		OnUnbind: func(connectorID, reason string) {
			ctx, cancel := context.WithTimeout(context.Background(), unbindTimeout)
			defer cancel()
			if n := manager.DisconnectActor(ctx, connectorID); n > 0 {
				log.Debug("released control after unbind", "connector_id", connectorID, "reason", reason, "resources", n)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return dir, nil
}

// reconcile marks identities left online by a previous run as offline.
// Connectors claimed in the cluster connector group are live on a peer
// and are kept, so this must run after the cluster join.
func reconcile(dir *presence.Directory, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := dir.Reconcile(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info("marked stale connectors offline", "count", n)
	}
	return nil
}

func initGateway(
	cfg *config.ServerConfig,
	dir *presence.Directory,
	manager *arbiter.Manager,
	bus eventbus.Bus,
	log *slog.Logger,
	metrics *metric.Registry,
) (*gateway.Gateway, error) {
	gw := cfg.Server.Gateway
	return gateway.New(gateway.Config{
		Directory:       dir,
		Resources:       manager,
		Bus:             bus,
		ReadTimeout:     gw.ReadTimeout,
		PingInterval:    gw.PingInterval,
		MaxMessageBytes: gw.MaxMessageBytes,
		RateLimit:       gw.RateLimit,
		RateBurst:       gw.RateBurst,
		CheckOrigin:     originChecker(cfg.Server.HTTP.CORSOrigins),
		Logger:          log,
		Metrics:         metrics,
	})
}

// originChecker admits the configured CORS origins. Nil keeps the
// upgrader's same-origin default.
func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	if slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}

// initTLS loads the HTTP key pair. It returns nil when TLS is not
// configured.
func initTLS(cfg *config.ServerConfig, log *slog.Logger) (*tlsroots.KeyPair, error) {
	if cfg.Server.HTTP.TLSCertFile == "" {
		return nil, nil
	}
	return tlsroots.LoadKeyPair(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile,
		tlsroots.WithLogger(log))
}
