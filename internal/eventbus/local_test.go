package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/internal/telemetry/metric"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestLocal_PublishSubscribe(t *testing.T) {
	bus := NewLocal(LocalConfig{Node: "n1"})
	defer bus.Close()

	sub, err := bus.Subscribe(PresenceTopic)
	require.NoError(t, err)

	other, err := bus.Subscribe("presence:other")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), PresenceTopic, ConnectorRegistered,
		map[string]string{"id": "abc"}))

	ev := recv(t, sub)
	assert.Equal(t, PresenceTopic, ev.Topic)
	assert.Equal(t, ConnectorRegistered, ev.Type)
	assert.Equal(t, "n1", ev.Node)
	assert.NotEmpty(t, ev.ID)

	var payload map[string]string
	require.NoError(t, ev.Decode(&payload))
	assert.Equal(t, "abc", payload["id"])

	select {
	case <-other.C():
		t.Fatal("event leaked to another topic")
	default:
	}
}

func TestLocal_FIFOPerPublisher(t *testing.T) {
	bus := NewLocal(LocalConfig{BufferSize: 100})
	defer bus.Close()

	topic := ResourceTopic(domain.ResourceID{Kind: domain.KindMedia, RoomID: "lobby"})
	sub, err := bus.Subscribe(topic)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, bus.Publish(context.Background(), topic, StateUpdated, i))
	}
	for i := 0; i < 50; i++ {
		var got int
		require.NoError(t, recv(t, sub).Decode(&got))
		require.Equal(t, i, got)
	}
}

func TestLocal_FullQueueDrops(t *testing.T) {
	reg := metric.NewRegistry()
	bus := NewLocal(LocalConfig{BufferSize: 2, Metrics: reg})
	defer bus.Close()

	slow, err := bus.Subscribe("t")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), "t", "x", i))
	}
	assert.Len(t, slow.C(), 2)
}

func TestLocal_UnsubscribeAndClose(t *testing.T) {
	bus := NewLocal(LocalConfig{})

	sub, err := bus.Subscribe("t")
	require.NoError(t, err)
	assert.Equal(t, 1, bus.SubscriberCount("t"))

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount("t"))
	_, ok := <-sub.C()
	assert.False(t, ok)

	live, err := bus.Subscribe("t")
	require.NoError(t, err)
	require.NoError(t, bus.Close())
	_, ok = <-live.C()
	assert.False(t, ok)
	live.Unsubscribe()

	assert.ErrorIs(t, bus.Publish(context.Background(), "t", "x", nil), ErrClosed)
	_, err = bus.Subscribe("t")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTopics(t *testing.T) {
	id := domain.ResourceID{Kind: domain.KindWhiteboard, RoomID: "r1"}
	assert.Equal(t, "resource:whiteboard:r1", ResourceTopic(id))
	assert.Equal(t, "owner:u1", OwnerTopic("u1"))
}
