package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/internal/eventbus"
	"github.com/yndnr/syncroom-go/internal/telemetry/metric"
)

// Unregistration reasons carried on connector_unregistered events.
const (
	ReasonExplicit    = "explicit"
	ReasonProcessDown = "process_down"
	ReasonNodeLeft    = "node_left"
	ReasonReconcile   = "reconcile"
)

// DefaultMailboxSize is the directory command queue length.
const DefaultMailboxSize = 1024

// ErrStopped is returned by calls made after Stop.
var ErrStopped = domain.ErrServiceUnavailable.WithDetails("presence directory stopped")

// Config configures a Directory.
type Config struct {
	// Node is the local cluster node name.
	Node   string
	Store  Store
	Bus    eventbus.Bus
	Groups Membership

	Logger  *slog.Logger
	Metrics *metric.Registry

	MailboxSize int

	// OnUnbind is invoked after a binding is removed for any reason other
	// than replacement by a newer registration. It runs on its own goroutine.
	OnUnbind func(connectorID, reason string)
}

// Binding is the in-memory association between a connector and the process
// currently serving it. Bindings are never persisted.
type Binding struct {
	ConnectorID string    `json:"connector_id"`
	Handle      Handle    `json:"-"`
	HandleID    string    `json:"handle_id"`
	Node        string    `json:"node"`
	BoundAt     time.Time `json:"bound_at"`
}

// PresenceEvent is the payload of presence events.
type PresenceEvent struct {
	ConnectorID    string                 `json:"connector_id"`
	Name           string                 `json:"name,omitempty"`
	Type           domain.ConnectorType   `json:"type,omitempty"`
	OwnerID        string                 `json:"owner_id,omitempty"`
	Status         domain.ConnectorStatus `json:"status"`
	PreviousStatus domain.ConnectorStatus `json:"previous_status,omitempty"`
	Node           string                 `json:"node,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	// Origin is the node whose directory made the change.
	Origin string `json:"origin,omitempty"`
}

// Directory is the presence directory of one node.
//
// Bindings are owned by a single goroutine; every operation that reads or
// changes them, or writes a connector status, is posted to its mailbox and
// processed in arrival order. Plain list reads go straight to the Store.
type Directory struct {
	node     string
	store    Store
	bus      eventbus.Bus
	groups   Membership
	logger   *slog.Logger
	metrics  *metric.Registry
	onUnbind func(connectorID, reason string)

	mailbox  chan command
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	feed     *eventbus.Subscription

	// Owned by run.
	bindings map[string]*binding
	nextRef  uint64
}

type binding struct {
	Binding
	ref  uint64
	stop chan struct{}
}

// NewDirectory creates a directory and starts its goroutine.
func NewDirectory(cfg Config) (*Directory, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("presence: store is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("presence: event bus is required")
	}
	if cfg.Groups == nil {
		cfg.Groups = NewLocalGroups()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}

	d := &Directory{
		node:     cfg.Node,
		store:    cfg.Store,
		bus:      cfg.Bus,
		groups:   cfg.Groups,
		logger:   cfg.Logger.With("component", "presence", "node", cfg.Node),
		metrics:  cfg.Metrics,
		onUnbind: cfg.OnUnbind,
		mailbox:  make(chan command, cfg.MailboxSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		bindings: make(map[string]*binding),
	}

	// Explicit unregistrations made on other nodes end the bindings held here.
	feed, err := cfg.Bus.Subscribe(eventbus.PresenceTopic)
	if err != nil {
		return nil, fmt.Errorf("presence: subscribe to %s: %w", eventbus.PresenceTopic, err)
	}
	d.feed = feed

	go d.run()
	go d.watchRemote()
	return d, nil
}

// Node returns the local node name.
func (d *Directory) Node() string { return d.node }

// Register binds handle to a connector identity and marks it online.
//
// An empty id creates a new identity with a generated id. A known id is
// reactivated, an unknown one is created with that id. Any previous binding
// for the connector is replaced. If persisting the identity fails the error
// is returned but the binding stays in place.
func (d *Directory) Register(ctx context.Context, id string, attrs domain.ConnectorAttrs, handle Handle) (*domain.Connector, error) {
	if handle == nil {
		return nil, domain.ErrMissingArgument.WithDetails("process handle")
	}
	return ask(ctx, d, func(reply chan result[*domain.Connector]) command {
		return registerCmd{ctx: ctx, id: id, attrs: attrs, handle: handle, reply: reply}
	})
}

// Unregister soft-unregisters a connector: it is marked offline and its
// binding removed. Unregistering an offline connector that no node hosts is
// a no-op.
//
// When the binding lives on another node, that node drops it on seeing the
// resulting connector_unregistered event.
func (d *Directory) Unregister(ctx context.Context, id string) (*domain.Connector, error) {
	return ask(ctx, d, func(reply chan result[*domain.Connector]) command {
		return unregisterCmd{ctx: ctx, id: id, reply: reply}
	})
}

// Heartbeat refreshes the connector's last-seen time.
func (d *Directory) Heartbeat(ctx context.Context, id string) (*domain.Connector, error) {
	return ask(ctx, d, func(reply chan result[*domain.Connector]) command {
		return heartbeatCmd{ctx: ctx, id: id, reply: reply}
	})
}

// SetStatus sets the durable status directly, regardless of bindings.
func (d *Directory) SetStatus(ctx context.Context, id string, status domain.ConnectorStatus) (*domain.Connector, error) {
	if !status.Valid() {
		return nil, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown status %q", status))
	}
	return ask(ctx, d, func(reply chan result[*domain.Connector]) command {
		return setStatusCmd{ctx: ctx, id: id, status: status, reply: reply}
	})
}

// Get returns a connector identity from the store.
func (d *Directory) Get(ctx context.Context, id string) (*domain.Connector, error) {
	return d.store.Get(ctx, id)
}

// ListAll returns every connector identity.
func (d *Directory) ListAll(ctx context.Context) ([]*domain.Connector, error) {
	return d.store.List(ctx, domain.ConnectorFilter{})
}

// ListForOwner returns the connectors owned by ownerID.
func (d *Directory) ListForOwner(ctx context.Context, ownerID string) ([]*domain.Connector, error) {
	if ownerID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("owner_id")
	}
	return d.store.List(ctx, domain.ConnectorFilter{OwnerID: ownerID})
}

// ListOnline returns the connectors whose durable status is online.
func (d *Directory) ListOnline(ctx context.Context) ([]*domain.Connector, error) {
	return d.store.List(ctx, domain.ConnectorFilter{Status: domain.StatusOnline})
}

// List returns connectors matching filter.
func (d *Directory) List(ctx context.Context, filter domain.ConnectorFilter) ([]*domain.Connector, error) {
	return d.store.List(ctx, filter)
}

// GetProcessHandle returns the handle bound to id. It returns
// domain.ErrNoBinding when there is none and domain.ErrStaleHandle when the
// bound process has already terminated but its death is not processed yet.
func (d *Directory) GetProcessHandle(ctx context.Context, id string) (Handle, error) {
	b, err := ask(ctx, d, func(reply chan result[*Binding]) command {
		return lookupCmd{id: id, reply: reply}
	})
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, domain.ErrNoBinding.WithDetails(id)
	}
	if !Alive(b.Handle) {
		return nil, domain.ErrStaleHandle.WithDetails(id)
	}
	return b.Handle, nil
}

// GetNode returns the node hosting the process bound to id.
func (d *Directory) GetNode(ctx context.Context, id string) (string, error) {
	h, err := d.GetProcessHandle(ctx, id)
	if err != nil {
		return "", err
	}
	return h.Node(), nil
}

// GetClusterMembers returns the cluster-wide connector group.
func (d *Directory) GetClusterMembers() []Member {
	return d.groups.Members(ConnectorGroup)
}

// Bindings returns a snapshot of all bindings ordered by connector id.
func (d *Directory) Bindings(ctx context.Context) ([]Binding, error) {
	return ask(ctx, d, func(reply chan result[[]Binding]) command {
		return snapshotCmd{reply: reply}
	})
}

// NodeLeft drops every binding and group member hosted on node and marks
// those connectors offline. It does not wait for completion.
func (d *Directory) NodeLeft(node string) {
	d.post(nodeLeftCmd{node: node})
}

// Reconcile marks offline every connector that is online in the store but
// has neither a local binding nor a cluster group entry. Run it at startup,
// after a crash the store may still claim connectors are online.
func (d *Directory) Reconcile(ctx context.Context) (int, error) {
	return ask(ctx, d, func(reply chan result[int]) command {
		return reconcileCmd{ctx: ctx, reply: reply}
	})
}

// Stop terminates the directory goroutine and all monitors. Bindings are
// dropped without touching the store.
func (d *Directory) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.feed.Unsubscribe()
	})
	<-d.doneCh
}

// ============================================================================
// Actor
// ============================================================================

type command any

type result[T any] struct {
	val T
	err error
}

type (
	registerCmd struct {
		ctx    context.Context
		id     string
		attrs  domain.ConnectorAttrs
		handle Handle
		reply  chan result[*domain.Connector]
	}
	unregisterCmd struct {
		ctx   context.Context
		id    string
		reply chan result[*domain.Connector]
	}
	heartbeatCmd struct {
		ctx   context.Context
		id    string
		reply chan result[*domain.Connector]
	}
	setStatusCmd struct {
		ctx    context.Context
		id     string
		status domain.ConnectorStatus
		reply  chan result[*domain.Connector]
	}
	lookupCmd struct {
		id    string
		reply chan result[*Binding]
	}
	snapshotCmd struct {
		reply chan result[[]Binding]
	}
	reconcileCmd struct {
		ctx   context.Context
		reply chan result[int]
	}
	processDown struct {
		id  string
		ref uint64
	}
	nodeLeftCmd struct {
		node string
	}
	remoteUnregisterCmd struct {
		id     string
		origin string
		at     time.Time
	}
)

// ask posts a command built around a fresh reply channel and waits for the
// answer.
func ask[T any](ctx context.Context, d *Directory, build func(chan result[T]) command) (T, error) {
	var zero T
	reply := make(chan result[T], 1)

	select {
	case d.mailbox <- build(reply):
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-d.stopCh:
		return zero, ErrStopped
	}

	select {
	case r := <-reply:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-d.doneCh:
		return zero, ErrStopped
	}
}

func (d *Directory) post(cmd command) {
	select {
	case d.mailbox <- cmd:
	case <-d.stopCh:
	}
}

func (d *Directory) run() {
	defer close(d.doneCh)

	for {
		select {
		case cmd := <-d.mailbox:
			d.handle(cmd)
		case <-d.stopCh:
			for _, b := range d.bindings {
				close(b.stop)
			}
			d.bindings = nil
			return
		}
	}
}

func (d *Directory) handle(cmd command) {
	switch c := cmd.(type) {
	case registerCmd:
		conn, err := d.register(c.ctx, c.id, c.attrs, c.handle)
		c.reply <- result[*domain.Connector]{conn, err}
	case unregisterCmd:
		conn, err := d.unregister(c.ctx, c.id)
		c.reply <- result[*domain.Connector]{conn, err}
	case heartbeatCmd:
		conn, err := d.heartbeat(c.ctx, c.id)
		c.reply <- result[*domain.Connector]{conn, err}
	case setStatusCmd:
		conn, err := d.setStatus(c.ctx, c.id, c.status)
		c.reply <- result[*domain.Connector]{conn, err}
	case lookupCmd:
		var out *Binding
		if b, ok := d.bindings[c.id]; ok {
			cp := b.Binding
			out = &cp
		}
		c.reply <- result[*Binding]{val: out}
	case snapshotCmd:
		c.reply <- result[[]Binding]{val: d.snapshot()}
	case reconcileCmd:
		n, err := d.reconcile(c.ctx)
		c.reply <- result[int]{n, err}
	case processDown:
		d.processDown(c.id, c.ref)
	case nodeLeftCmd:
		d.nodeLeft(c.node)
	case remoteUnregisterCmd:
		d.remoteUnregister(c.id, c.origin, c.at)
	default:
		d.logger.Error("unknown presence command", "type", fmt.Sprintf("%T", cmd))
	}
}

func (d *Directory) register(ctx context.Context, id string, attrs domain.ConnectorAttrs, handle Handle) (*domain.Connector, error) {
	// 1. Validate before touching any state
	candidate, err := domain.NewConnector(id, attrs)
	if err != nil {
		return nil, err
	}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	// 2. Bind
	d.bind(candidate.ID, handle)

	// 3. Persist (create or reactivate)
	conn, err := d.activate(ctx, candidate, attrs)
	if err != nil {
		d.logger.Error("failed to persist connector registration",
			"connector_id", candidate.ID,
			"error", err)
		return nil, err
	}

	// 4. Broadcast
	d.metrics.ConnectorRegistered()
	d.publish(ctx, eventbus.ConnectorRegistered, conn, "", "")

	d.logger.Info("connector registered",
		"connector_id", conn.ID,
		"handle_id", handle.ID(),
		"handle_node", handle.Node())

	return conn, nil
}

func (d *Directory) activate(ctx context.Context, candidate *domain.Connector, attrs domain.ConnectorAttrs) (*domain.Connector, error) {
	existing, err := d.store.Get(ctx, candidate.ID)
	switch {
	case err == nil:
		existing.ApplyAttrs(attrs)
		existing.SetStatus(domain.StatusOnline)
		existing.Touch()
		if err := d.store.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil

	case errors.Is(err, domain.ErrConnectorNotFound):
		if err := d.store.Create(ctx, candidate); err != nil {
			if errors.Is(err, domain.ErrConnectorConflict) {
				// Created concurrently by another node.
				return d.activate(ctx, candidate, attrs)
			}
			return nil, err
		}
		return candidate, nil

	default:
		return nil, err
	}
}

func (d *Directory) unregister(ctx context.Context, id string) (*domain.Connector, error) {
	_, bound := d.bindings[id]
	if bound {
		d.unbind(id, ReasonExplicit)
	}
	remote := !bound && d.hostedElsewhere(id)

	conn, err := d.store.Get(ctx, id)
	if err != nil {
		if bound {
			d.logger.Error("failed to load unregistered connector", "connector_id", id, "error", err)
		}
		return nil, err
	}
	if !bound && !remote && conn.Status == domain.StatusOffline {
		return conn, nil
	}
	if remote {
		d.logger.Info("unregistering connector hosted on another node", "connector_id", id)
	}
	return d.markOffline(ctx, conn, ReasonExplicit)
}

// hostedElsewhere reports whether the connector group places id on another
// node.
func (d *Directory) hostedElsewhere(id string) bool {
	for _, m := range d.groups.Members(ConnectorGroup) {
		if m.ID == id {
			return m.Node != d.node
		}
	}
	return false
}

// remoteUnregister drops the local binding of a connector that origin
// explicitly unregistered at time at. A binding made after that is a
// re-registration and stays. The store was already updated by origin.
func (d *Directory) remoteUnregister(id, origin string, at time.Time) {
	b, ok := d.bindings[id]
	if !ok {
		return
	}
	if b.BoundAt.Truncate(time.Millisecond).After(at) {
		return
	}
	d.unbind(id, ReasonExplicit)
	d.logger.Info("connector unregistered on another node, binding dropped",
		"connector_id", id,
		"origin", origin)
}

// watchRemote forwards explicit unregistrations published by other nodes
// into the mailbox.
func (d *Directory) watchRemote() {
	for {
		select {
		case ev, ok := <-d.feed.C():
			if !ok {
				return
			}
			if ev.Type != eventbus.ConnectorUnregistered {
				continue
			}
			var pe PresenceEvent
			if err := ev.Decode(&pe); err != nil {
				d.logger.Warn("discarding malformed presence event", "error", err)
				continue
			}
			if pe.Reason != ReasonExplicit || pe.Origin == "" || pe.Origin == d.node {
				continue
			}
			d.post(remoteUnregisterCmd{id: pe.ConnectorID, origin: pe.Origin, at: time.UnixMilli(ev.Timestamp)})
		case <-d.stopCh:
			return
		}
	}
}

func (d *Directory) heartbeat(ctx context.Context, id string) (*domain.Connector, error) {
	conn, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	conn.Touch()
	if err := d.store.Update(ctx, conn); err != nil {
		d.logger.Warn("failed to persist heartbeat", "connector_id", id, "error", err)
		return nil, err
	}
	return conn, nil
}

func (d *Directory) setStatus(ctx context.Context, id string, status domain.ConnectorStatus) (*domain.Connector, error) {
	conn, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := conn.Status
	conn.SetStatus(status)
	if err := d.store.Update(ctx, conn); err != nil {
		d.logger.Error("failed to persist status change",
			"connector_id", id,
			"status", status,
			"error", err)
		return nil, err
	}

	d.publish(ctx, eventbus.ConnectorStatusChanged, conn, previous, "")
	return conn, nil
}

func (d *Directory) processDown(id string, ref uint64) {
	b, ok := d.bindings[id]
	if !ok || b.ref != ref {
		// Replaced by a newer registration or already unbound.
		return
	}
	d.unbind(id, ReasonProcessDown)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.offlineByID(ctx, id, ReasonProcessDown)
}

func (d *Directory) nodeLeft(node string) {
	if node == "" || node == d.node {
		return
	}

	departed := make(map[string]struct{})
	for id, b := range d.bindings {
		if b.Node == node {
			departed[id] = struct{}{}
		}
	}
	for _, m := range d.groups.Members(ConnectorGroup) {
		if m.Node != node {
			continue
		}
		if b, ok := d.bindings[m.ID]; ok && b.Node != node {
			// Reconnected elsewhere already.
			continue
		}
		departed[m.ID] = struct{}{}
	}
	d.groups.NodeLeft(node)

	d.logger.Warn("node left, releasing its connectors", "departed_node", node, "count", len(departed))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ids := make([]string, 0, len(departed))
	for id := range departed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := d.bindings[id]; ok {
			d.unbind(id, ReasonNodeLeft)
		}
		d.offlineByID(ctx, id, ReasonNodeLeft)
	}
}

func (d *Directory) reconcile(ctx context.Context) (int, error) {
	online, err := d.store.List(ctx, domain.ConnectorFilter{Status: domain.StatusOnline})
	if err != nil {
		return 0, err
	}

	live := make(map[string]struct{})
	for _, m := range d.groups.Members(ConnectorGroup) {
		live[m.ID] = struct{}{}
	}

	var (
		swept int
		errs  []error
	)
	for _, conn := range online {
		if _, ok := d.bindings[conn.ID]; ok {
			continue
		}
		if _, ok := live[conn.ID]; ok {
			continue
		}
		if _, err := d.markOffline(ctx, conn, ReasonReconcile); err != nil {
			errs = append(errs, err)
			continue
		}
		swept++
	}

	if swept > 0 {
		d.logger.Info("reconciled stale online connectors", "count", swept)
	}
	return swept, errors.Join(errs...)
}

func (d *Directory) offlineByID(ctx context.Context, id, reason string) {
	conn, err := d.store.Get(ctx, id)
	if err != nil {
		d.logger.Error("failed to load connector going offline",
			"connector_id", id,
			"reason", reason,
			"error", err)
		return
	}
	_, _ = d.markOffline(ctx, conn, reason)
}

func (d *Directory) markOffline(ctx context.Context, conn *domain.Connector, reason string) (*domain.Connector, error) {
	previous := conn.Status
	conn.SetStatus(domain.StatusOffline)
	if err := d.store.Update(ctx, conn); err != nil {
		d.logger.Error("failed to persist offline status",
			"connector_id", conn.ID,
			"reason", reason,
			"error", err)
		return nil, err
	}

	d.metrics.ConnectorUnregistered(reason)
	d.publish(ctx, eventbus.ConnectorUnregistered, conn, previous, reason)

	d.logger.Info("connector offline", "connector_id", conn.ID, "reason", reason)
	return conn, nil
}

// bind installs a binding for id, replacing and unmonitoring any previous one.
func (d *Directory) bind(id string, handle Handle) {
	if old, ok := d.bindings[id]; ok {
		close(old.stop)
		d.logger.Debug("replacing binding",
			"connector_id", id,
			"old_handle", old.HandleID,
			"new_handle", handle.ID())
	}

	d.nextRef++
	b := &binding{
		Binding: Binding{
			ConnectorID: id,
			Handle:      handle,
			HandleID:    handle.ID(),
			Node:        handle.Node(),
			BoundAt:     time.Now(),
		},
		ref:  d.nextRef,
		stop: make(chan struct{}),
	}
	d.bindings[id] = b
	go d.monitor(id, b.ref, handle, b.stop)

	if err := d.groups.Join(ConnectorGroup, Member{ID: id, Node: handle.Node()}); err != nil {
		d.logger.Warn("failed to join connector group", "connector_id", id, "error", err)
	}
	d.metrics.SetBindings(len(d.bindings))
}

func (d *Directory) unbind(id, reason string) {
	b, ok := d.bindings[id]
	if !ok {
		return
	}
	close(b.stop)
	delete(d.bindings, id)

	if err := d.groups.Leave(ConnectorGroup, id); err != nil {
		d.logger.Warn("failed to leave connector group", "connector_id", id, "error", err)
	}
	d.metrics.SetBindings(len(d.bindings))

	if d.onUnbind != nil {
		go d.onUnbind(id, reason)
	}
}

// monitor waits for the bound process to terminate and reports it.
func (d *Directory) monitor(id string, ref uint64, handle Handle, stop <-chan struct{}) {
	done := handle.Done()
	if done == nil {
		return
	}
	select {
	case <-done:
		d.post(processDown{id: id, ref: ref})
	case <-stop:
	case <-d.stopCh:
	}
}

func (d *Directory) snapshot() []Binding {
	out := make([]Binding, 0, len(d.bindings))
	for _, b := range d.bindings {
		out = append(out, b.Binding)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectorID < out[j].ConnectorID })
	return out
}

func (d *Directory) publish(ctx context.Context, eventType string, conn *domain.Connector, previous domain.ConnectorStatus, reason string) {
	ev := PresenceEvent{
		ConnectorID:    conn.ID,
		Name:           conn.Name,
		Type:           conn.Type,
		OwnerID:        conn.OwnerID,
		Status:         conn.Status,
		PreviousStatus: previous,
		Node:           d.node,
		Reason:         reason,
		Origin:         d.node,
	}
	if b, ok := d.bindings[conn.ID]; ok {
		ev.Node = b.Node
	}

	if err := d.bus.Publish(ctx, eventbus.PresenceTopic, eventType, ev); err != nil {
		d.logger.Warn("failed to publish presence event", "type", eventType, "error", err)
	}
	if conn.OwnerID != "" {
		if err := d.bus.Publish(ctx, eventbus.OwnerTopic(conn.OwnerID), eventType, ev); err != nil {
			d.logger.Warn("failed to publish owner event", "type", eventType, "error", err)
		}
	}
}
