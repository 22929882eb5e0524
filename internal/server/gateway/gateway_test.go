package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/syncroom-go/internal/core/arbiter"
	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/internal/core/presence"
	"github.com/yndnr/syncroom-go/internal/eventbus"
	"github.com/yndnr/syncroom-go/internal/storage/memory"
)

type fixture struct {
	gw      *Gateway
	srv     *httptest.Server
	dir     *presence.Directory
	manager *arbiter.Manager
	bus     *eventbus.Local
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{bus: eventbus.NewLocal(eventbus.LocalConfig{Node: "n1"})}
	f.manager = arbiter.NewManager(arbiter.ManagerConfig{
		Bus:            f.bus,
		RequestTimeout: time.Minute,
		Logger:         logger,
	})
	dir, err := presence.NewDirectory(presence.Config{
		Node:   "n1",
		Store:  memory.NewConnectorStore(),
		Bus:    f.bus,
		Logger: logger,
		OnUnbind: func(id, _ string) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			f.manager.DisconnectActor(ctx, id)
		},
	})
	require.NoError(t, err)
	f.dir = dir

	cfg := Config{
		Directory: dir,
		Resources: f.manager,
		Bus:       f.bus,
		Logger:    logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.gw, err = New(cfg)
	require.NoError(t, err)
	f.srv = httptest.NewServer(f.gw)

	t.Cleanup(func() {
		f.srv.Close()
		f.manager.Stop()
		f.dir.Stop()
		_ = f.bus.Close()
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.gw.Shutdown(ctx)
	})
	return f
}

// client is a minimal channel client. Frames that a wait does not match
// stay buffered for later waits.
type client struct {
	t       *testing.T
	conn    *websocket.Conn
	ref     int
	pending []Message
}

func (f *fixture) dial(t *testing.T) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(topic, event string, payload any) string {
	c.t.Helper()
	c.ref++
	ref := strconv.Itoa(c.ref)
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(Message{Topic: topic, Event: event, Payload: raw, Ref: ref}))
	return ref
}

func (c *client) await(match func(Message) bool) Message {
	c.t.Helper()
	for i, m := range c.pending {
		if match(m) {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return m
		}
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var m Message
		require.NoError(c.t, c.conn.ReadJSON(&m))
		if match(m) {
			return m
		}
		c.pending = append(c.pending, m)
	}
}

type decodedReply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

func (c *client) reply(ref string) decodedReply {
	c.t.Helper()
	m := c.await(func(m Message) bool { return m.Event == EventReply && m.Ref == ref })
	var r decodedReply
	require.NoError(c.t, json.Unmarshal(m.Payload, &r))
	return r
}

func (c *client) call(topic, event string, payload any) decodedReply {
	c.t.Helper()
	return c.reply(c.send(topic, event, payload))
}

func (c *client) push(topic, event string) Message {
	c.t.Helper()
	return c.await(func(m Message) bool { return m.Topic == topic && m.Event == event })
}

func errorReason(t *testing.T, r decodedReply) string {
	t.Helper()
	require.Equal(t, StatusError, r.Status)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(r.Response, &resp))
	return resp.Reason
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_ClampsPingInterval(t *testing.T) {
	bus := eventbus.NewLocal(eventbus.LocalConfig{})
	defer bus.Close()
	dir, err := presence.NewDirectory(presence.Config{Store: memory.NewConnectorStore(), Bus: bus})
	require.NoError(t, err)
	defer dir.Stop()

	gw, err := New(Config{
		Directory:    dir,
		Resources:    arbiter.NewManager(arbiter.ManagerConfig{Bus: bus}),
		Bus:          bus,
		ReadTimeout:  10 * time.Second,
		PingInterval: 20 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 4500*time.Millisecond, gw.cfg.PingInterval)
	assert.Equal(t, DefaultSendQueue, gw.cfg.SendQueue)
}

func TestGateway_Heartbeat(t *testing.T) {
	f := newFixture(t, nil)
	c := f.dial(t)

	r := c.call(SystemTopic, EventHeartbeat, nil)
	assert.Equal(t, StatusOK, r.Status)
	assert.JSONEq(t, `{}`, string(r.Response))

	r = c.call(SystemTopic, "bogus", nil)
	assert.Equal(t, "unknown_event", errorReason(t, r))
}

func TestGateway_ConnectorLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	c := f.dial(t)
	ctx := context.Background()

	r := c.call("connector:c1", EventJoin, map[string]any{
		"connector_name": "alice laptop",
		"connector_type": "web",
		"owner_id":       "u1",
	})
	require.Equal(t, StatusOK, r.Status)
	var conn domain.Connector
	require.NoError(t, json.Unmarshal(r.Response, &conn))
	assert.Equal(t, "c1", conn.ID)
	assert.Equal(t, domain.ConnectorWeb, conn.Type)
	assert.Equal(t, domain.StatusOnline, conn.Status)

	t.Run("already joined", func(t *testing.T) {
		r := c.call("connector:c1", EventJoin, nil)
		assert.Equal(t, "already_joined", errorReason(t, r))
	})

	t.Run("set status", func(t *testing.T) {
		r := c.call("connector:c1", EventSetStatus, map[string]string{"status": "idle"})
		require.Equal(t, StatusOK, r.Status)
		got, err := f.dir.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusIdle, got.Status)

		r = c.call("connector:c1", EventSetStatus, map[string]string{"status": "asleep"})
		assert.Equal(t, "bad_request", errorReason(t, r))
	})

	t.Run("heartbeat", func(t *testing.T) {
		r := c.call("connector:c1", EventHeartbeat, nil)
		assert.Equal(t, StatusOK, r.Status)
	})

	t.Run("explicit leave unregisters", func(t *testing.T) {
		r := c.call("connector:c1", EventLeave, nil)
		require.Equal(t, StatusOK, r.Status)
		got, err := f.dir.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusOffline, got.Status)

		r = c.call("connector:c1", EventHeartbeat, nil)
		assert.Equal(t, "unmatched_topic", errorReason(t, r))
	})
}

func TestGateway_NamespacedConnectorJoin(t *testing.T) {
	f := newFixture(t, nil)
	c := f.dial(t)
	const topic = "sensocto:connector:c1"

	// Join payload as sent by the python and rust device clients.
	r := c.call(topic, EventJoin, map[string]any{
		"connector_id":   "c1",
		"connector_name": "lab sensor",
		"connector_type": "python",
		"features":       []string{"imu", "battery"},
		"bearer_token":   "ignored-token",
	})
	require.Equal(t, StatusOK, r.Status)
	var conn domain.Connector
	require.NoError(t, json.Unmarshal(r.Response, &conn))
	assert.Equal(t, "c1", conn.ID)
	assert.Equal(t, "lab sensor", conn.Name)
	assert.Equal(t, domain.ConnectorPython, conn.Type)
	assert.Equal(t, domain.StatusOnline, conn.Status)

	// The channel stays addressed by the namespaced topic.
	assert.Equal(t, StatusOK, c.call(topic, EventHeartbeat, nil).Status)
	assert.Equal(t, "unmatched_topic", errorReason(t, c.call("connector:c1", EventHeartbeat, nil)))

	t.Run("room actor from namespaced connector", func(t *testing.T) {
		r := c.call("sensocto:room:r1:media", EventJoin, nil)
		require.Equal(t, StatusOK, r.Status)
		r = c.call("sensocto:room:r1:media", EventTakeControl, nil)
		require.Equal(t, StatusOK, r.Status)
		c.push("sensocto:room:r1:media", eventbus.ControllerChanged)
	})

	t.Run("leave unregisters", func(t *testing.T) {
		require.Equal(t, StatusOK, c.call(topic, EventLeave, nil).Status)
		got, err := f.dir.Get(context.Background(), "c1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusOffline, got.Status)
	})

	r = c.call("sensocto:nowhere:x", EventJoin, nil)
	assert.Equal(t, "bad_request", errorReason(t, r))
}

func TestGateway_ConnectorJoinValidation(t *testing.T) {
	f := newFixture(t, nil)
	c := f.dial(t)

	r := c.call("connector:c1", EventJoin, map[string]string{"connector_id": "c2"})
	assert.Equal(t, "bad_request", errorReason(t, r))

	r = c.call("connector:", EventJoin, nil)
	assert.Equal(t, "bad_request", errorReason(t, r))

	r = c.call("nowhere:x", EventJoin, nil)
	assert.Equal(t, "bad_request", errorReason(t, r))

	r = c.call("presence:elsewhere", EventJoin, nil)
	assert.Equal(t, "bad_request", errorReason(t, r))
}

func TestGateway_RoomRequiresConnector(t *testing.T) {
	f := newFixture(t, nil)
	c := f.dial(t)

	r := c.call("room:r1:media", EventJoin, nil)
	assert.Equal(t, "bad_request", errorReason(t, r))

	r = c.call("room:r1:hologram", EventJoin, nil)
	assert.Equal(t, "bad_request", errorReason(t, r))
}

func TestGateway_RoomControl(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.dial(t)
	bob := f.dial(t)
	const topic = "room:r1:media"

	require.Equal(t, StatusOK, alice.call("connector:alice", EventJoin, map[string]string{"connector_name": "Alice"}).Status)
	require.Equal(t, StatusOK, bob.call("connector:bob", EventJoin, nil).Status)

	r := alice.call(topic, EventJoin, nil)
	require.Equal(t, StatusOK, r.Status)
	var snap arbiter.Snapshot
	require.NoError(t, json.Unmarshal(r.Response, &snap))
	assert.Nil(t, snap.Controller)
	assert.Equal(t, domain.KindMedia, snap.Resource.Kind)

	require.Equal(t, StatusOK, bob.call(topic, EventJoin, map[string]string{"name": "Bobby"}).Status)

	// alice takes control; both sockets see the transition
	r = alice.call(topic, EventTakeControl, nil)
	require.Equal(t, StatusOK, r.Status)
	assert.JSONEq(t, `{"ack":"control_granted"}`, string(r.Response))

	for _, c := range []*client{alice, bob} {
		m := c.push(topic, eventbus.ControllerChanged)
		var ev arbiter.ControlEvent
		require.NoError(t, json.Unmarshal(m.Payload, &ev))
		require.NotNil(t, ev.Controller)
		assert.Equal(t, "alice", ev.Controller.ID)
		assert.Equal(t, "Alice", ev.Controller.Name)
	}

	t.Run("non-controller update refused", func(t *testing.T) {
		r := bob.call(topic, EventUpdate, map[string]string{"action": "play"})
		assert.Equal(t, "not_controller", errorReason(t, r))
	})

	t.Run("controller update", func(t *testing.T) {
		r := alice.call(topic, EventUpdate, map[string]any{"action": "seek", "position_ms": 1500})
		require.Equal(t, StatusOK, r.Status)
		assert.JSONEq(t, `{"ack":"updated"}`, string(r.Response))
		bob.push(topic, eventbus.StateUpdated)
	})

	t.Run("request and keep", func(t *testing.T) {
		r := bob.call(topic, EventRequestControl, nil)
		require.Equal(t, StatusOK, r.Status)
		assert.JSONEq(t, `{"ack":"request_pending"}`, string(r.Response))
		alice.push(topic, eventbus.ControlRequested)

		r = alice.call(topic, EventKeepControl, nil)
		require.Equal(t, StatusOK, r.Status)
		bob.push(topic, eventbus.ControlRequestDismissed)
	})

	t.Run("get state", func(t *testing.T) {
		r := bob.call(topic, EventGetState, nil)
		require.Equal(t, StatusOK, r.Status)
		var snap arbiter.Snapshot
		require.NoError(t, json.Unmarshal(r.Response, &snap))
		require.NotNil(t, snap.Controller)
		assert.Equal(t, "alice", snap.Controller.ID)
		var payload arbiter.MediaPayload
		require.NoError(t, json.Unmarshal(snap.Payload, &payload))
		assert.Equal(t, int64(1500), payload.PositionMS)
	})

	t.Run("unknown event", func(t *testing.T) {
		r := alice.call(topic, "dance", nil)
		assert.Equal(t, "bad_request", errorReason(t, r))
	})
}

func TestGateway_RoomOpsRequireBinding(t *testing.T) {
	f := newFixture(t, nil)
	c := f.dial(t)
	const topic = "room:r3:media"
	ctx := context.Background()

	require.Equal(t, StatusOK, c.call("connector:c1", EventJoin, nil).Status)
	require.Equal(t, StatusOK, c.call(topic, EventJoin, nil).Status)
	require.Equal(t, StatusOK, c.call(topic, EventTakeControl, nil).Status)

	// Unregistered elsewhere, e.g. through the HTTP API.
	_, err := f.dir.Unregister(ctx, "c1")
	require.NoError(t, err)

	assert.Equal(t, "not_bound", errorReason(t, c.call(topic, EventTakeControl, nil)))
	assert.Equal(t, "not_bound", errorReason(t, c.call(topic, EventUpdate, map[string]string{"action": "play"})))

	// Reads stay available.
	assert.Equal(t, StatusOK, c.call(topic, EventGetState, nil).Status)

	res, ok := f.manager.Lookup(domain.ResourceID{Kind: domain.KindMedia, RoomID: "r3"})
	require.True(t, ok)
	require.Eventually(t, func() bool {
		snap, err := res.Snapshot(ctx)
		return err == nil && snap.Controller == nil
	}, 3*time.Second, 10*time.Millisecond, "unbinding did not release the lease")

	t.Run("rebound to another socket", func(t *testing.T) {
		other := f.dial(t)
		require.Equal(t, StatusOK, other.call("connector:c2", EventJoin, nil).Status)
		require.Equal(t, StatusOK, c.call("connector:c2", EventJoin, nil).Status)
		require.Equal(t, StatusOK, c.call("room:r4:media", EventJoin, map[string]string{"connector_id": "c2"}).Status)

		// c2 is now bound to c; the first socket lost it.
		require.Equal(t, StatusOK, other.call("room:r4:media", EventJoin, nil).Status)
		assert.Equal(t, "not_bound", errorReason(t, other.call("room:r4:media", EventTakeControl, nil)))
		assert.Equal(t, StatusOK, c.call("room:r4:media", EventTakeControl, nil).Status)
	})
}

// remotePlacement places every resource on n2.
type remotePlacement struct{}

func (remotePlacement) Owner(string) (string, bool) { return "n2", false }

func TestGateway_RoomOwnedByAnotherNode(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		m := arbiter.NewManager(arbiter.ManagerConfig{Bus: cfg.Bus, Placement: remotePlacement{}})
		t.Cleanup(m.Stop)
		cfg.Resources = m
	})
	c := f.dial(t)

	require.Equal(t, StatusOK, c.call("connector:c1", EventJoin, nil).Status)
	r := c.call("room:r1:media", EventJoin, nil)
	assert.Equal(t, "wrong_node", errorReason(t, r))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(r.Response, &resp))
	assert.Equal(t, domain.ErrResourceElsewhere.Code, resp.Code)
	assert.Contains(t, resp.Message, "n2")
}

func TestGateway_SocketCloseReleasesLease(t *testing.T) {
	f := newFixture(t, nil)
	c := f.dial(t)
	const topic = "room:r2:whiteboard"

	require.Equal(t, StatusOK, c.call("connector:c1", EventJoin, nil).Status)
	require.Equal(t, StatusOK, c.call(topic, EventJoin, nil).Status)
	require.Equal(t, StatusOK, c.call(topic, EventTakeControl, nil).Status)

	require.NoError(t, c.conn.Close())

	ctx := context.Background()
	require.Eventually(t, func() bool {
		conn, err := f.dir.Get(ctx, "c1")
		return err == nil && conn.Status == domain.StatusOffline
	}, 3*time.Second, 10*time.Millisecond)

	res, ok := f.manager.Lookup(domain.ResourceID{Kind: domain.KindWhiteboard, RoomID: "r2"})
	require.True(t, ok)
	require.Eventually(t, func() bool {
		snap, err := res.Snapshot(ctx)
		return err == nil && snap.Controller == nil
	}, 3*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return f.gw.Sessions() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestGateway_PresenceFeed(t *testing.T) {
	f := newFixture(t, nil)
	watcher := f.dial(t)
	require.Equal(t, StatusOK, watcher.call(eventbus.PresenceTopic, EventJoin, nil).Status)
	require.Equal(t, StatusOK, watcher.call("owner:u9", EventJoin, nil).Status)

	r := watcher.call(eventbus.PresenceTopic, "anything", nil)
	assert.Equal(t, "bad_request", errorReason(t, r))

	other := f.dial(t)
	require.Equal(t, StatusOK, other.call("connector:c9", EventJoin, map[string]string{"owner_id": "u9"}).Status)

	m := watcher.push(eventbus.PresenceTopic, eventbus.ConnectorRegistered)
	var ev presence.PresenceEvent
	require.NoError(t, json.Unmarshal(m.Payload, &ev))
	assert.Equal(t, "c9", ev.ConnectorID)

	watcher.push("owner:u9", eventbus.ConnectorRegistered)
}

func TestGateway_RateLimit(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.RateLimit = 0.01
		cfg.RateBurst = 2
	})
	c := f.dial(t)

	assert.Equal(t, StatusOK, c.call(SystemTopic, EventHeartbeat, nil).Status)
	assert.Equal(t, StatusOK, c.call(SystemTopic, EventHeartbeat, nil).Status)
	assert.Equal(t, "rate_limited", errorReason(t, c.call(SystemTopic, EventHeartbeat, nil)))
}

func TestGateway_MalformedFrameIgnored(t *testing.T) {
	f := newFixture(t, nil)
	c := f.dial(t)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, StatusOK, c.call(SystemTopic, EventHeartbeat, nil).Status)
}

func TestGateway_Shutdown(t *testing.T) {
	f := newFixture(t, nil)
	c := f.dial(t)
	require.Equal(t, StatusOK, c.call("connector:c1", EventJoin, nil).Status)
	require.Equal(t, 1, f.gw.Sessions())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.gw.Shutdown(ctx))
	assert.Equal(t, 0, f.gw.Sessions())

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	// New sockets are refused while closing.
	late := f.dial(t)
	require.NoError(t, late.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}
