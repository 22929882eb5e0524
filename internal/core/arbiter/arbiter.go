// Package arbiter arbitrates exclusive write access to collaborative
// resources.
//
// Every resource is owned by one Arbiter goroutine. A controller holds the
// lease until it releases it or another actor requests control and the
// controller does not answer within the request timeout. All lease and
// payload changes for a resource are processed sequentially in its mailbox,
// so no locks guard the state.
package arbiter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/internal/eventbus"
	"github.com/yndnr/syncroom-go/internal/telemetry/metric"
)

// Defaults.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMailboxSize    = 256
)

// ErrStopped is returned by calls made after Stop.
var ErrStopped = domain.ErrServiceUnavailable.WithDetails("arbiter stopped")

// Payload is the mutable state guarded by an Arbiter. Apply returns the
// state after delta without modifying the receiver.
type Payload[P any] interface {
	Apply(delta json.RawMessage, now time.Time) (P, error)
}

// Config configures an Arbiter.
type Config struct {
	Resource         domain.ResourceID
	Bus              eventbus.Bus
	Clock            Clock
	RequestTimeout   time.Duration
	DisconnectPolicy DisconnectPolicy
	Logger           *slog.Logger
	Metrics          *metric.Registry
	MailboxSize      int
}

// Arbiter owns one resource: its lease and its payload.
type Arbiter[P Payload[P]] struct {
	id      domain.ResourceID
	topic   string
	bus     eventbus.Bus
	clock   Clock
	timeout time.Duration
	policy  DisconnectPolicy
	logger  *slog.Logger
	metrics *metric.Registry

	mailbox  chan command
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	// Owned by run.
	controller *domain.Actor
	pending    *pendingRequest
	payload    P
	version    uint64
	gen        uint64
}

type pendingRequest struct {
	Pending
	gen   uint64
	timer Timer
}

// New creates an arbiter holding initial and starts its goroutine.
func New[P Payload[P]](cfg Config, initial P) *Arbiter[P] {
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.DisconnectPolicy == "" {
		cfg.DisconnectPolicy = PolicyRelease
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}

	a := &Arbiter[P]{
		id:      cfg.Resource,
		topic:   eventbus.ResourceTopic(cfg.Resource),
		bus:     cfg.Bus,
		clock:   cfg.Clock,
		timeout: cfg.RequestTimeout,
		policy:  cfg.DisconnectPolicy,
		logger:  cfg.Logger.With("component", "arbiter", "resource", cfg.Resource.String()),
		metrics: cfg.Metrics,
		mailbox: make(chan command, cfg.MailboxSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		payload: initial,
	}
	go a.run()
	return a
}

// ID returns the resource id.
func (a *Arbiter[P]) ID() domain.ResourceID { return a.id }

// State returns the current lease and payload.
func (a *Arbiter[P]) State(ctx context.Context) (State[P], error) {
	return ask(ctx, a, func(reply chan result[State[P]]) command {
		return stateCmd[P]{reply: reply}
	})
}

// Snapshot returns State with the payload encoded as JSON.
func (a *Arbiter[P]) Snapshot(ctx context.Context) (Snapshot, error) {
	st, err := a.State(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	raw, err := json.Marshal(st.Payload)
	if err != nil {
		return Snapshot{}, domain.ErrInternalServer.WithCause(err)
	}
	return Snapshot{
		Resource:   st.Resource,
		Controller: st.Controller,
		Pending:    st.Pending,
		Payload:    raw,
		Version:    st.Version,
	}, nil
}

// TakeControl claims an uncontrolled resource.
func (a *Arbiter[P]) TakeControl(ctx context.Context, actor domain.Actor) (Ack, error) {
	return a.leaseOp(ctx, opTake, actor)
}

// ReleaseControl gives up the lease. Only the controller may release.
// A pending request is dropped along with it.
func (a *Arbiter[P]) ReleaseControl(ctx context.Context, actor domain.Actor) (Ack, error) {
	return a.leaseOp(ctx, opRelease, actor)
}

// RequestControl asks the controller to hand over the lease. If the
// controller neither keeps control nor the requester cancels before the
// request timeout, the lease moves to the requester. Only one request can
// be pending; a different actor gets domain.ErrRequestAlreadyPending.
func (a *Arbiter[P]) RequestControl(ctx context.Context, actor domain.Actor) (Ack, error) {
	return a.leaseOp(ctx, opRequest, actor)
}

// KeepControl dismisses the pending request. Only the controller may keep.
func (a *Arbiter[P]) KeepControl(ctx context.Context, actor domain.Actor) (Ack, error) {
	return a.leaseOp(ctx, opKeep, actor)
}

// CancelRequest withdraws the caller's pending request.
func (a *Arbiter[P]) CancelRequest(ctx context.Context, actor domain.Actor) (Ack, error) {
	return a.leaseOp(ctx, opCancel, actor)
}

// Disconnect applies the disconnect policy for an actor whose session ended.
func (a *Arbiter[P]) Disconnect(ctx context.Context, actor domain.Actor) (Ack, error) {
	return a.leaseOp(ctx, opDisconnect, actor)
}

// ApplyUpdate applies delta on behalf of actor. An uncontrolled resource is
// claimed by actor first; a resource controlled by someone else rejects the
// update with domain.ErrNotController.
func (a *Arbiter[P]) ApplyUpdate(ctx context.Context, actor domain.Actor, delta json.RawMessage) (Ack, error) {
	if actor.IsZero() {
		return "", domain.ErrMissingArgument.WithDetails("actor id")
	}
	return ask(ctx, a, func(reply chan result[Ack]) command {
		return updateCmd{actor: actor, delta: delta, reply: reply}
	})
}

// Stop cancels any pending timeout and terminates the goroutine.
func (a *Arbiter[P]) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
	})
	<-a.doneCh
}

func (a *Arbiter[P]) leaseOp(ctx context.Context, op leaseOpKind, actor domain.Actor) (Ack, error) {
	if actor.IsZero() {
		return "", domain.ErrMissingArgument.WithDetails("actor id")
	}
	return ask(ctx, a, func(reply chan result[Ack]) command {
		return leaseCmd{op: op, actor: actor, reply: reply}
	})
}

// ============================================================================
// Actor
// ============================================================================

type command any

type result[T any] struct {
	val T
	err error
}

type leaseOpKind int

const (
	opTake leaseOpKind = iota
	opRelease
	opRequest
	opKeep
	opCancel
	opDisconnect
)

type (
	stateCmd[P any] struct {
		reply chan result[State[P]]
	}
	leaseCmd struct {
		op    leaseOpKind
		actor domain.Actor
		reply chan result[Ack]
	}
	updateCmd struct {
		actor domain.Actor
		delta json.RawMessage
		reply chan result[Ack]
	}
	// timeoutFired is posted by the request timer; gen identifies the
	// request it was scheduled for.
	timeoutFired struct {
		gen uint64
	}
)

// mailbox is the part of an actor ask needs.
type mailbox interface {
	inbox() chan<- command
	stopped() <-chan struct{}
	done() <-chan struct{}
}

func (a *Arbiter[P]) inbox() chan<- command    { return a.mailbox }
func (a *Arbiter[P]) stopped() <-chan struct{} { return a.stopCh }
func (a *Arbiter[P]) done() <-chan struct{}    { return a.doneCh }

func ask[T any](ctx context.Context, mb mailbox, build func(chan result[T]) command) (T, error) {
	var zero T
	reply := make(chan result[T], 1)

	select {
	case mb.inbox() <- build(reply):
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-mb.stopped():
		return zero, ErrStopped
	}

	select {
	case r := <-reply:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-mb.done():
		return zero, ErrStopped
	}
}

func (a *Arbiter[P]) post(cmd command) {
	select {
	case a.mailbox <- cmd:
	case <-a.stopCh:
	}
}

func (a *Arbiter[P]) run() {
	defer close(a.doneCh)

	for {
		select {
		case cmd := <-a.mailbox:
			a.handle(cmd)
		case <-a.stopCh:
			if a.pending != nil {
				a.pending.timer.Stop()
				a.pending = nil
			}
			return
		}
	}
}

func (a *Arbiter[P]) handle(cmd command) {
	switch c := cmd.(type) {
	case stateCmd[P]:
		c.reply <- result[State[P]]{val: a.state()}
	case leaseCmd:
		ack, err := a.lease(c.op, c.actor)
		c.reply <- result[Ack]{ack, err}
	case updateCmd:
		ack, err := a.update(c.actor, c.delta)
		c.reply <- result[Ack]{ack, err}
	case timeoutFired:
		a.expire(c.gen)
	default:
		a.logger.Error("unknown arbiter command", "type", fmt.Sprintf("%T", cmd))
	}
}

func (a *Arbiter[P]) state() State[P] {
	st := State[P]{
		Resource: a.id,
		Payload:  a.payload,
		Version:  a.version,
	}
	if a.controller != nil {
		c := *a.controller
		st.Controller = &c
	}
	if a.pending != nil {
		p := a.pending.Pending
		st.Pending = &p
	}
	return st
}

func (a *Arbiter[P]) lease(op leaseOpKind, actor domain.Actor) (Ack, error) {
	switch op {
	case opTake:
		return a.take(actor)
	case opRelease:
		return a.release(actor)
	case opRequest:
		return a.request(actor)
	case opKeep:
		return a.keep(actor)
	case opCancel:
		return a.cancel(actor)
	case opDisconnect:
		return a.disconnect(actor)
	}
	return "", domain.ErrBadRequest.WithDetails(fmt.Sprintf("unknown lease operation %d", op))
}

func (a *Arbiter[P]) isController(actor domain.Actor) bool {
	return a.controller != nil && a.controller.ID == actor.ID
}

func (a *Arbiter[P]) isRequester(actor domain.Actor) bool {
	return a.pending != nil && a.pending.Requester.ID == actor.ID
}

func (a *Arbiter[P]) take(actor domain.Actor) (Ack, error) {
	switch {
	case a.controller == nil:
		a.setController(&actor, ReasonTake)
		return AckControlGranted, nil
	case a.isController(actor):
		return AckAlreadyController, nil
	default:
		return "", domain.ErrResourceControlled.WithDetails(a.controller.ID)
	}
}

func (a *Arbiter[P]) release(actor domain.Actor) (Ack, error) {
	if !a.isController(actor) {
		return "", domain.ErrNotController
	}
	if a.pending != nil {
		a.clearPending(eventbus.ControlRequestCancelled, ReasonRelease)
	}
	a.setController(nil, ReasonRelease)
	return AckReleased, nil
}

func (a *Arbiter[P]) request(actor domain.Actor) (Ack, error) {
	kind := string(a.id.Kind)

	switch {
	case a.controller == nil:
		a.setController(&actor, ReasonTake)
		a.metrics.ControlRequest(kind, string(AckControlGranted))
		return AckControlGranted, nil
	case a.isController(actor):
		return AckAlreadyController, nil
	case a.isRequester(actor):
		return AckRequestPending, nil
	case a.pending != nil:
		a.metrics.ControlRequest(kind, "rejected")
		return "", domain.ErrRequestAlreadyPending.WithDetails(a.pending.Requester.ID)
	}

	a.gen++
	gen := a.gen
	deadline := a.clock.Now().Add(a.timeout)
	a.pending = &pendingRequest{
		Pending: Pending{Requester: actor, Deadline: deadline},
		gen:     gen,
		timer: a.clock.AfterFunc(a.timeout, func() {
			a.post(timeoutFired{gen: gen})
		}),
	}

	a.metrics.ControlRequest(kind, string(AckRequestPending))
	a.publish(eventbus.ControlRequested, a.controlEvent(nil, ""))

	a.logger.Debug("control requested",
		"requester", actor.ID,
		"controller", a.controller.ID,
		"deadline", deadline)

	return AckRequestPending, nil
}

func (a *Arbiter[P]) keep(actor domain.Actor) (Ack, error) {
	if !a.isController(actor) {
		return "", domain.ErrNotController
	}
	if a.pending == nil {
		return "", domain.ErrNoPendingRequest
	}
	a.clearPending(eventbus.ControlRequestDismissed, ReasonKeep)
	a.metrics.ControlRequest(string(a.id.Kind), "dismissed")
	return AckRequestDismissed, nil
}

// cancel withdraws actor's own request. Anyone other than the pending
// requester gets ErrNotRequester, including when nothing is pending.
func (a *Arbiter[P]) cancel(actor domain.Actor) (Ack, error) {
	if !a.isRequester(actor) {
		return "", domain.ErrNotRequester
	}
	a.clearPending(eventbus.ControlRequestCancelled, ReasonCancel)
	a.metrics.ControlRequest(string(a.id.Kind), "cancelled")
	return AckRequestCancelled, nil
}

func (a *Arbiter[P]) disconnect(actor domain.Actor) (Ack, error) {
	if a.policy == PolicyRetain {
		return AckUnchanged, nil
	}

	switch {
	case a.isController(actor):
		if a.pending != nil {
			next := a.pending.Requester
			a.stopPending()
			a.setController(&next, ReasonControllerLeft)
		} else {
			a.setController(nil, ReasonControllerLeft)
		}
		return AckReleased, nil
	case a.isRequester(actor):
		a.clearPending(eventbus.ControlRequestCancelled, ReasonRequesterLeft)
		return AckRequestCancelled, nil
	}
	return AckUnchanged, nil
}

// expire transfers the lease to the requester if the request scheduled as
// gen is still the live one. Stale firings are ignored.
func (a *Arbiter[P]) expire(gen uint64) {
	if a.pending == nil || a.pending.gen != gen {
		return
	}
	next := a.pending.Requester
	a.pending = nil
	a.setController(&next, ReasonTimeout)
	a.metrics.ControlRequest(string(a.id.Kind), "timeout")
}

func (a *Arbiter[P]) update(actor domain.Actor, delta json.RawMessage) (Ack, error) {
	if a.controller != nil && !a.isController(actor) {
		return "", domain.ErrNotController
	}

	next, err := a.payload.Apply(delta, a.clock.Now())
	if err != nil {
		return "", asDeltaError(err)
	}

	if a.controller == nil {
		a.setController(&actor, ReasonAutoClaim)
	}
	a.payload = next
	a.version++

	a.publish(eventbus.StateUpdated, UpdateEvent[P]{
		Resource: a.id.String(),
		Version:  a.version,
		By:       actor,
		Payload:  a.payload,
	})
	return AckUpdated, nil
}

func (a *Arbiter[P]) setController(next *domain.Actor, reason string) {
	prev := a.controller
	if next != nil {
		c := *next
		a.controller = &c
	} else {
		a.controller = nil
	}

	a.metrics.ControlTransition(string(a.id.Kind), reason)
	a.publish(eventbus.ControllerChanged, a.controlEvent(prev, reason))

	a.logger.Info("controller changed",
		"previous", actorID(prev),
		"controller", actorID(a.controller),
		"reason", reason)
}

// stopPending cancels the timer and forgets the request without an event.
func (a *Arbiter[P]) stopPending() {
	a.pending.timer.Stop()
	a.pending = nil
}

func (a *Arbiter[P]) clearPending(eventType, reason string) {
	requester := a.pending.Requester
	a.stopPending()

	ev := a.controlEvent(nil, reason)
	ev.Requester = &requester
	a.publish(eventType, ev)
}

func (a *Arbiter[P]) controlEvent(prev *domain.Actor, reason string) ControlEvent {
	ev := ControlEvent{
		Resource:   a.id.String(),
		Controller: a.controller,
		Previous:   prev,
		Reason:     reason,
	}
	if a.pending != nil {
		r := a.pending.Requester
		ev.Requester = &r
		ev.Deadline = a.pending.Deadline.UnixMilli()
	}
	return ev
}

func (a *Arbiter[P]) publish(eventType string, payload any) {
	if a.bus == nil {
		return
	}
	if err := a.bus.Publish(context.Background(), a.topic, eventType, payload); err != nil {
		a.logger.Warn("failed to publish resource event", "type", eventType, "error", err)
	}
}

func actorID(a *domain.Actor) string {
	if a == nil {
		return ""
	}
	return a.ID
}
