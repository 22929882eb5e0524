package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/yndnr/syncroom-go/internal/core/arbiter"
	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/internal/eventbus"
)

// Channel events.
const (
	EventSetStatus      = "set_status"
	EventTakeControl    = "take_control"
	EventReleaseControl = "release_control"
	EventRequestControl = "request_control"
	EventKeepControl    = "keep_control"
	EventCancelRequest  = "cancel_request"
	EventUpdate         = "update"
	EventGetState       = "get_state"
)

// ============================================================================
// connector:<id>
// ============================================================================

// connectorJoin is the phx_join payload of a connector channel. Clients
// also send a bearer_token field, which is not read here.
type connectorJoin struct {
	ConnectorID   string   `json:"connector_id"`
	ConnectorName string   `json:"connector_name"`
	ConnectorType string   `json:"connector_type"`
	OwnerID       string   `json:"owner_id"`
	Features      []string `json:"features"`
}

type connectorChannel struct {
	s    *session
	id   string
	name string
}

func (s *session) joinConnector(ctx context.Context, id string, payload json.RawMessage) (channel, any, error) {
	var req connectorJoin
	if err := decodePayload(payload, &req); err != nil {
		return nil, nil, err
	}
	if id == "" {
		return nil, nil, domain.ErrMissingArgument.WithDetails("connector id in topic")
	}
	if req.ConnectorID != "" && req.ConnectorID != id {
		return nil, nil, domain.ErrInvalidArgument.WithDetails("connector_id does not match topic")
	}

	conn, err := s.gw.cfg.Directory.Register(ctx, id, domain.ConnectorAttrs{
		Name:     req.ConnectorName,
		Type:     domain.ParseConnectorType(req.ConnectorType),
		OwnerID:  req.OwnerID,
		Features: req.Features,
	}, s.handle)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("connector joined", "connector_id", conn.ID, "type", conn.Type)
	return &connectorChannel{s: s, id: conn.ID, name: conn.Name}, conn, nil
}

func (c *connectorChannel) handle(ctx context.Context, event string, payload json.RawMessage) (any, error) {
	dir := c.s.gw.cfg.Directory
	switch event {
	case EventHeartbeat:
		return dir.Heartbeat(ctx, c.id)
	case EventSetStatus:
		var req struct {
			Status string `json:"status"`
		}
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		status, err := domain.ParseConnectorStatus(req.Status)
		if err != nil {
			return nil, err
		}
		return dir.SetStatus(ctx, c.id, status)
	}
	return nil, domain.ErrBadRequest.WithDetails("unknown event " + event)
}

func (c *connectorChannel) leave(ctx context.Context, explicit bool) {
	if !explicit {
		return
	}
	if _, err := c.s.gw.cfg.Directory.Unregister(ctx, c.id); err != nil {
		c.s.logger.Warn("unregister on leave failed", "connector_id", c.id, "error", err)
	}
}

// ============================================================================
// room:<room_id>:<kind>
// ============================================================================

type roomJoin struct {
	// ConnectorID selects which connector on this socket acts in the room.
	// Optional when exactly one connector is joined.
	ConnectorID string `json:"connector_id"`
	Name        string `json:"name"`
}

type roomChannel struct {
	s        *session
	resource arbiter.Resource
	actor    domain.Actor
	sub      *eventbus.Subscription
}

// parseRoomTopic splits "<room_id>:<kind>". Room ids may contain colons.
func parseRoomTopic(rest string) (domain.ResourceID, error) {
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 || i == len(rest)-1 {
		return domain.ResourceID{}, domain.ErrInvalidArgument.WithDetails("room topic must be room:<room_id>:<kind>")
	}
	kind, err := domain.ParseResourceKind(rest[i+1:])
	if err != nil {
		return domain.ResourceID{}, err
	}
	return domain.ResourceID{Kind: kind, RoomID: rest[:i]}, nil
}

func (s *session) joinRoom(ctx context.Context, topic, rest string, payload json.RawMessage) (channel, any, error) {
	id, err := parseRoomTopic(rest)
	if err != nil {
		return nil, nil, err
	}
	var req roomJoin
	if err := decodePayload(payload, &req); err != nil {
		return nil, nil, err
	}
	actor, err := s.actorFor(req)
	if err != nil {
		return nil, nil, err
	}

	resource, err := s.gw.cfg.Resources.Get(id)
	if err != nil {
		return nil, nil, err
	}

	// Subscribe before reading state so no transition is missed.
	sub, err := s.subscribe(topic, eventbus.ResourceTopic(resource.ID()))
	if err != nil {
		return nil, nil, err
	}
	snap, err := resource.Snapshot(ctx)
	if err != nil {
		sub.Unsubscribe()
		return nil, nil, err
	}

	s.logger.Debug("joined room", "resource", id.String(), "actor", actor.ID)
	return &roomChannel{s: s, resource: resource, actor: actor, sub: sub}, snap, nil
}

func (s *session) actorFor(req roomJoin) (domain.Actor, error) {
	joined := s.connectors()
	var match *connectorChannel
	switch {
	case req.ConnectorID != "":
		for _, cc := range joined {
			if cc.id == req.ConnectorID {
				match = cc
				break
			}
		}
		if match == nil {
			return domain.Actor{}, domain.ErrInvalidArgument.WithDetails("connector " + req.ConnectorID + " is not joined on this socket")
		}
	case len(joined) == 1:
		match = joined[0]
	default:
		return domain.Actor{}, domain.ErrMissingArgument.WithDetails("join a connector channel first or pass connector_id")
	}

	name := req.Name
	if name == "" {
		name = match.name
	}
	return domain.Actor{ID: match.id, Name: name}, nil
}

type ackResponse struct {
	Ack arbiter.Ack `json:"ack"`
}

func (r *roomChannel) handle(ctx context.Context, event string, payload json.RawMessage) (any, error) {
	if event == EventGetState {
		return r.resource.Snapshot(ctx)
	}
	if err := r.checkBound(ctx); err != nil {
		return nil, err
	}

	var (
		ack arbiter.Ack
		err error
	)
	switch event {
	case EventTakeControl:
		ack, err = r.resource.TakeControl(ctx, r.actor)
	case EventReleaseControl:
		ack, err = r.resource.ReleaseControl(ctx, r.actor)
	case EventRequestControl:
		ack, err = r.resource.RequestControl(ctx, r.actor)
	case EventKeepControl:
		ack, err = r.resource.KeepControl(ctx, r.actor)
	case EventCancelRequest:
		ack, err = r.resource.CancelRequest(ctx, r.actor)
	case EventUpdate:
		ack, err = r.resource.ApplyUpdate(ctx, r.actor, payload)
	default:
		return nil, domain.ErrBadRequest.WithDetails("unknown event " + event)
	}
	if err != nil {
		return nil, err
	}
	return ackResponse{Ack: ack}, nil
}

// checkBound refuses lease and payload changes once the acting connector
// is no longer bound to this socket, for example after it was unregistered
// through another node.
func (r *roomChannel) checkBound(ctx context.Context) error {
	h, err := r.s.gw.cfg.Directory.GetProcessHandle(ctx, r.actor.ID)
	if err != nil {
		return err
	}
	if h.ID() != r.s.handle.ID() {
		return domain.ErrNoBinding.WithDetails(r.actor.ID + " is bound to another session")
	}
	return nil
}

// leave stops the event feed. Leases are left to the disconnect policy,
// which runs when the connector itself goes away.
func (r *roomChannel) leave(context.Context, bool) {
	r.sub.Unsubscribe()
}

// ============================================================================
// presence:connectors, owner:<owner_id>
// ============================================================================

type feedChannel struct {
	sub *eventbus.Subscription
}

func (s *session) joinFeed(topic, busTopic string) (channel, any, error) {
	sub, err := s.subscribe(topic, busTopic)
	if err != nil {
		return nil, nil, err
	}
	return &feedChannel{sub: sub}, nil, nil
}

func (f *feedChannel) handle(context.Context, string, json.RawMessage) (any, error) {
	return nil, domain.ErrBadRequest.WithDetails("feed channels are read-only")
}

func (f *feedChannel) leave(context.Context, bool) {
	f.sub.Unsubscribe()
}
