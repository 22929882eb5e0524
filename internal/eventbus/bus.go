// Package eventbus provides topic-based publish/subscribe used to fan out
// presence and resource events.
//
// Delivery is FIFO per (publisher, topic): events published sequentially by
// one goroutine on one topic reach each subscriber in that order. There is no
// ordering across topics or publishers. Subscribers that fall behind lose
// events rather than slowing the publisher.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("eventbus: closed")

// Event is one message on the bus.
type Event struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	// Node is the cluster node that published the event.
	Node string `json:"node,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Bus is the publish/subscribe contract used by the directory and arbiters.
type Bus interface {
	// Publish marshals payload to JSON and delivers it on topic.
	Publish(ctx context.Context, topic, eventType string, payload any) error
	// Subscribe registers interest in exactly one topic.
	Subscribe(topic string) (*Subscription, error)
	Close() error
}

func newEvent(node, topic, eventType string, payload any) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		raw = b
	}
	return Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
		Node:      node,
	}, nil
}
