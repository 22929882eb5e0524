// Package cluster provides node discovery and cluster-visible process
// groups using the memberlist gossip protocol.
//
// There is no leader and no consensus: membership converges by gossip, and
// every node is authoritative only for the processes it hosts.
package cluster

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/memberlist"

	"github.com/yndnr/syncroom-go/internal/telemetry/metric"
)

// NodeMeta is gossiped with every node.
type NodeMeta struct {
	HTTPAddr string `json:"http_addr,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Node describes one cluster member.
type Node struct {
	Name       string   `json:"name"`
	GossipAddr string   `json:"gossip_addr"`
	State      string   `json:"state"`
	Meta       NodeMeta `json:"meta"`
	Local      bool     `json:"local,omitempty"`
}

// StateDelegate receives user messages and state exchanges from memberlist.
// Groups implements it.
type StateDelegate interface {
	NotifyMsg([]byte)
	GetBroadcasts(overhead, limit int) [][]byte
	LocalState(join bool) []byte
	MergeRemoteState(buf []byte, join bool)
}

// DiscoveryConfig configures the discovery mechanism.
type DiscoveryConfig struct {
	// NodeID is the unique node name.
	NodeID string

	// BindAddr and BindPort are the gossip listen address. Port 0 picks a
	// free port.
	BindAddr string
	BindPort int

	// AdvertiseAddr is announced to peers instead of BindAddr when set.
	AdvertiseAddr string
	AdvertisePort int

	Meta NodeMeta

	// State carries process-group traffic. Optional.
	State StateDelegate

	// CheckInterval overrides the failure detector period.
	CheckInterval time.Duration

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Discovery handles node discovery and membership using Gossip protocol.
type Discovery struct {
	memberList *memberlist.Memberlist
	logger     *slog.Logger
	metrics    *metric.Registry
	shutdown   atomic.Bool
	alive      atomic.Int64

	mu       sync.RWMutex
	onJoin   []func(node Node)
	onLeave  []func(nodeID string)
	onUpdate []func(node Node)
}

// NewDiscovery starts the gossip listener. Call Join to contact peers
// after registering callbacks.
func NewDiscovery(cfg DiscoveryConfig) (*Discovery, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("cluster: node id is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "cluster")

	meta, err := json.Marshal(cfg.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode node metadata: %w", err)
	}
	if len(meta) > memberlist.MetaMaxSize {
		return nil, fmt.Errorf("node metadata exceeds %d bytes", memberlist.MetaMaxSize)
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	if cfg.AdvertiseAddr != "" {
		mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
		mlConfig.AdvertisePort = cfg.AdvertisePort
	}
	if cfg.CheckInterval > 0 {
		mlConfig.ProbeInterval = cfg.CheckInterval
	}
	mlConfig.Logger = newHCLogAdapter(logger, "memberlist").
		StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})

	d := &Discovery{
		logger:  logger,
		metrics: cfg.Metrics,
	}
	mlConfig.Delegate = &delegate{meta: meta, state: cfg.State}
	mlConfig.Events = &eventDelegate{discovery: d}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	d.memberList = ml

	if nc, ok := cfg.State.(interface{ SetNumNodes(func() int) }); ok {
		nc.SetNumNodes(ml.NumMembers)
	}

	local := ml.LocalNode()
	logger.Info("gossip listener started",
		"node_id", cfg.NodeID,
		"gossip_addr", net.JoinHostPort(local.Addr.String(), strconv.Itoa(int(local.Port))))

	return d, nil
}

// Join contacts seeds. It returns the number of nodes reached. An empty
// seed list starts a new cluster.
func (d *Discovery) Join(seeds []string) (int, error) {
	if len(seeds) == 0 {
		d.logger.Info("started discovery (bootstrap mode)")
		return 0, nil
	}
	n, err := d.memberList.Join(seeds)
	if err != nil {
		return n, fmt.Errorf("join seed nodes: %w", err)
	}
	d.logger.Info("joined cluster", "seed_nodes", seeds, "joined_count", n)
	return n, nil
}

// SyncState runs a full state exchange with every known member, so the
// group claims of all of them are merged before SyncState returns. Join
// only exchanges state with the seeds it contacts. It returns the number
// of members reached.
func (d *Discovery) SyncState() (int, error) {
	if d.shutdown.Load() {
		return 0, nil
	}
	local := d.memberList.LocalNode().Name
	var addrs []string
	for _, n := range d.memberList.Members() {
		if n.Name == local {
			continue
		}
		addrs = append(addrs, n.FullAddress().Addr)
	}
	if len(addrs) == 0 {
		return 0, nil
	}
	n, err := d.memberList.Join(addrs)
	if err != nil {
		return n, fmt.Errorf("sync state with %d members: %w", len(addrs), err)
	}
	d.logger.Debug("synced state with cluster members", "members", n)
	return n, nil
}

// Members returns the current members ordered by name.
func (d *Discovery) Members() []Node {
	if d.shutdown.Load() {
		return nil
	}
	localName := d.memberList.LocalNode().Name

	raw := d.memberList.Members()
	nodes := make([]Node, 0, len(raw))
	for _, n := range raw {
		node := toNode(n)
		node.Local = n.Name == localName
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes
}

// NumMembers returns the number of live members, including this node.
func (d *Discovery) NumMembers() int {
	if d.shutdown.Load() {
		return 0
	}
	return d.memberList.NumMembers()
}

// LocalNode returns the local node information.
func (d *Discovery) LocalNode() Node {
	node := toNode(d.memberList.LocalNode())
	node.Local = true
	return node
}

// OnJoin registers a callback for node join events.
func (d *Discovery) OnJoin(fn func(node Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onJoin = append(d.onJoin, fn)
}

// OnLeave registers a callback for node leave events, including nodes
// declared dead by the failure detector.
func (d *Discovery) OnLeave(fn func(nodeID string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onLeave = append(d.onLeave, fn)
}

// OnUpdate registers a callback for node metadata updates.
func (d *Discovery) OnUpdate(fn func(node Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onUpdate = append(d.onUpdate, fn)
}

// Leave gracefully leaves the cluster.
func (d *Discovery) Leave(timeout time.Duration) error {
	if d.shutdown.Load() {
		return nil
	}
	if err := d.memberList.Leave(timeout); err != nil {
		d.logger.Error("failed to leave cluster", "error", err)
		return err
	}
	d.logger.Info("left cluster")
	return nil
}

// Shutdown stops the gossip listener. Safe to call more than once.
func (d *Discovery) Shutdown() error {
	if !d.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	if err := d.memberList.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	d.logger.Info("discovery shutdown complete")
	return nil
}

func toNode(n *memberlist.Node) Node {
	node := Node{
		Name:       n.Name,
		GossipAddr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))),
		State:      nodeStateName(n.State),
	}
	if len(n.Meta) > 0 {
		_ = json.Unmarshal(n.Meta, &node.Meta)
	}
	return node
}

func nodeStateName(s memberlist.NodeStateType) string {
	switch s {
	case memberlist.StateAlive:
		return "alive"
	case memberlist.StateSuspect:
		return "suspect"
	case memberlist.StateDead:
		return "dead"
	case memberlist.StateLeft:
		return "left"
	}
	return "unknown"
}

// eventDelegate implements memberlist.EventDelegate.
type eventDelegate struct {
	discovery *Discovery
}

func (e *eventDelegate) NotifyJoin(n *memberlist.Node) {
	d := e.discovery
	node := toNode(n)
	d.logger.Info("node joined", "node_id", node.Name, "gossip_addr", node.GossipAddr, "http_addr", node.Meta.HTTPAddr)
	d.metrics.SetClusterMembers(int(d.alive.Add(1)))

	d.mu.RLock()
	callbacks := d.onJoin
	d.mu.RUnlock()
	for _, fn := range callbacks {
		fn(node)
	}
}

func (e *eventDelegate) NotifyLeave(n *memberlist.Node) {
	d := e.discovery
	d.logger.Warn("node left", "node_id", n.Name, "addr", n.Addr.String(), "state", nodeStateName(n.State))
	d.metrics.SetClusterMembers(int(d.alive.Add(-1)))

	d.mu.RLock()
	callbacks := d.onLeave
	d.mu.RUnlock()
	for _, fn := range callbacks {
		fn(n.Name)
	}
}

func (e *eventDelegate) NotifyUpdate(n *memberlist.Node) {
	d := e.discovery
	node := toNode(n)
	d.logger.Debug("node updated", "node_id", node.Name, "addr", node.GossipAddr)

	d.mu.RLock()
	callbacks := d.onUpdate
	d.mu.RUnlock()
	for _, fn := range callbacks {
		fn(node)
	}
}

// delegate implements memberlist.Delegate: node metadata plus the optional
// group state traffic.
type delegate struct {
	meta  []byte
	state StateDelegate
}

func (m *delegate) NodeMeta(limit int) []byte {
	if len(m.meta) > limit {
		return m.meta[:limit]
	}
	return m.meta
}

func (m *delegate) NotifyMsg(buf []byte) {
	if m.state != nil {
		m.state.NotifyMsg(buf)
	}
}

func (m *delegate) GetBroadcasts(overhead, limit int) [][]byte {
	if m.state == nil {
		return nil
	}
	return m.state.GetBroadcasts(overhead, limit)
}

func (m *delegate) LocalState(join bool) []byte {
	if m.state == nil {
		return nil
	}
	return m.state.LocalState(join)
}

func (m *delegate) MergeRemoteState(buf []byte, join bool) {
	if m.state != nil {
		m.state.MergeRemoteState(buf, join)
	}
}
