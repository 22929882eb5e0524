package arbiter

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/internal/eventbus"
	"github.com/yndnr/syncroom-go/internal/telemetry/metric"
	"github.com/yndnr/syncroom-go/pkg/cmap"
)

// Resource is the payload-agnostic view of an Arbiter used by transports.
type Resource interface {
	ID() domain.ResourceID
	Snapshot(ctx context.Context) (Snapshot, error)
	TakeControl(ctx context.Context, actor domain.Actor) (Ack, error)
	ReleaseControl(ctx context.Context, actor domain.Actor) (Ack, error)
	RequestControl(ctx context.Context, actor domain.Actor) (Ack, error)
	KeepControl(ctx context.Context, actor domain.Actor) (Ack, error)
	CancelRequest(ctx context.Context, actor domain.Actor) (Ack, error)
	ApplyUpdate(ctx context.Context, actor domain.Actor, delta json.RawMessage) (Ack, error)
	Disconnect(ctx context.Context, actor domain.Actor) (Ack, error)
	Stop()
}

var (
	_ Resource = (*Arbiter[MediaPayload])(nil)
	_ Resource = (*Arbiter[WhiteboardPayload])(nil)
	_ Resource = (*Arbiter[ViewerPayload])(nil)
)

// Placement decides which cluster node runs the arbiter of a resource.
// cluster.Placement implements it.
type Placement interface {
	// Owner returns the node owning key and whether it is this node.
	Owner(key string) (node string, local bool)
}

// ManagerConfig configures a Manager. Every arbiter it creates shares it.
type ManagerConfig struct {
	Bus              eventbus.Bus
	Clock            Clock
	RequestTimeout   time.Duration
	DisconnectPolicy DisconnectPolicy
	Logger           *slog.Logger
	Metrics          *metric.Registry

	// Placement restricts this node to the resources it owns. Nil runs
	// every resource locally.
	Placement Placement
}

// Manager owns the arbiters of every room on this node and creates them on
// first use.
type Manager struct {
	cfg       ManagerConfig
	logger    *slog.Logger
	resources *cmap.Map[Resource]
	stopped   atomic.Bool
}

// NewManager creates an empty manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "arbiter-manager"),
		resources: cmap.New[Resource](),
	}
}

// Get returns the arbiter for id, creating it if needed. It fails with
// domain.ErrResourceElsewhere when another node owns id.
func (m *Manager) Get(id domain.ResourceID) (Resource, error) {
	if m.stopped.Load() {
		return nil, ErrStopped
	}
	kind, err := domain.ParseResourceKind(string(id.Kind))
	if err != nil {
		return nil, err
	}
	id.Kind = kind
	if id.RoomID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("room id")
	}
	if owner, local := m.owner(id); !local {
		return nil, domain.ErrResourceElsewhere.WithDetails(id.String() + " is owned by " + owner)
	}

	r, existed := m.resources.GetOrCreate(id.String(), func() Resource {
		return m.create(id)
	})
	if !existed {
		// The ring may have moved while the arbiter was being created.
		if owner, local := m.owner(id); !local {
			if r, ok := m.resources.Pop(id.String()); ok {
				r.Stop()
			}
			return nil, domain.ErrResourceElsewhere.WithDetails(id.String() + " is owned by " + owner)
		}
		m.cfg.Metrics.SetActiveResources(m.resources.Count())
		m.logger.Debug("arbiter started", "resource", id.String())
	}
	return r, nil
}

// Lookup returns the arbiter for id only if it already exists.
func (m *Manager) Lookup(id domain.ResourceID) (Resource, bool) {
	return m.resources.Get(id.String())
}

// Resources lists the ids of all running arbiters.
func (m *Manager) Resources() []domain.ResourceID {
	keys := m.resources.Keys()
	out := make([]domain.ResourceID, 0, len(keys))
	for _, k := range keys {
		id, err := domain.ParseResourceID(k)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// DisconnectActor applies the disconnect policy for actorID on every
// resource. It returns how many resources changed.
func (m *Manager) DisconnectActor(ctx context.Context, actorID string) int {
	actor := domain.Actor{ID: actorID}
	changed := 0
	for _, r := range m.resources.Values() {
		ack, err := r.Disconnect(ctx, actor)
		if err != nil {
			m.logger.Warn("disconnect failed",
				"resource", r.ID().String(),
				"actor", actorID,
				"error", err)
			continue
		}
		if ack != AckUnchanged {
			changed++
		}
	}
	if changed > 0 {
		m.logger.Info("released leases of disconnected actor", "actor", actorID, "resources", changed)
	}
	return changed
}

// Rebalance stops the arbiters of resources this node no longer owns. Run
// it after every placement change. It returns how many were stopped.
func (m *Manager) Rebalance() int {
	if m.cfg.Placement == nil || m.stopped.Load() {
		return 0
	}
	moved := 0
	for _, key := range m.resources.Keys() {
		id, err := domain.ParseResourceID(key)
		if err != nil {
			continue
		}
		owner, local := m.owner(id)
		if local {
			continue
		}
		if r, ok := m.resources.Pop(key); ok {
			r.Stop()
			moved++
			m.logger.Warn("arbiter moved to another node", "resource", key, "owner", owner)
		}
	}
	if moved > 0 {
		m.cfg.Metrics.SetActiveResources(m.resources.Count())
	}
	return moved
}

func (m *Manager) owner(id domain.ResourceID) (string, bool) {
	if m.cfg.Placement == nil {
		return "", true
	}
	return m.cfg.Placement.Owner(id.String())
}

// Stop stops every arbiter. Get fails afterwards.
func (m *Manager) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	for _, key := range m.resources.Keys() {
		if r, ok := m.resources.Pop(key); ok {
			r.Stop()
		}
	}
	m.cfg.Metrics.SetActiveResources(0)
}

func (m *Manager) create(id domain.ResourceID) Resource {
	cfg := Config{
		Resource:         id,
		Bus:              m.cfg.Bus,
		Clock:            m.cfg.Clock,
		RequestTimeout:   m.cfg.RequestTimeout,
		DisconnectPolicy: m.cfg.DisconnectPolicy,
		Logger:           m.cfg.Logger,
		Metrics:          m.cfg.Metrics,
	}
	switch id.Kind {
	case domain.KindWhiteboard:
		return New(cfg, NewWhiteboardPayload())
	case domain.KindViewer3D:
		return New(cfg, NewViewerPayload())
	default:
		return New(cfg, NewMediaPayload())
	}
}
