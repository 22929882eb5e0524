package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to every NATS subject.
const DefaultSubjectPrefix = "syncroom"

// NATSConfig configures the cluster-wide bus bridge.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	// Local delivers to in-process subscribers and tags the origin node.
	Local   *Local
	Logger  *slog.Logger
	Options []nats.Option
}

// NATS bridges a Local bus to NATS core pub/sub so events published on
// one node reach subscribers on every node. Events are delivered locally
// first, then forwarded; remote copies of our own events are ignored.
type NATS struct {
	local  *Local
	nc     *nats.Conn
	sub    *nats.Subscription
	prefix string
	logger *slog.Logger
}

// NewNATS connects to NATS and starts relaying remote events.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.Local == nil {
		return nil, fmt.Errorf("eventbus: NATS bridge requires a local bus")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "eventbus", "driver", "nats")

	opts := append([]nats.Option{
		nats.Name("syncroom-" + cfg.Local.Node()),
		nats.MaxReconnects(-1),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS error", "error", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}, cfg.Options...)

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := &NATS{
		local:  cfg.Local,
		nc:     nc,
		prefix: cfg.SubjectPrefix,
		logger: logger,
	}

	b.sub, err = nc.Subscribe(cfg.SubjectPrefix+".>", b.onMessage)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s.>: %w", cfg.SubjectPrefix, err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to flush NATS subscription: %w", err)
	}

	logger.Info("NATS event bus connected", "url", nc.ConnectedUrl(), "prefix", cfg.SubjectPrefix)
	return b, nil
}

// Subject maps a bus topic to a NATS subject.
// "presence:connectors" becomes "<prefix>.presence.connectors".
func (b *NATS) Subject(topic string) string {
	return b.prefix + "." + subjectReplacer.Replace(topic)
}

var subjectReplacer = strings.NewReplacer(":", ".", " ", "_", "*", "_", ">", "_")

func (b *NATS) onMessage(msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		b.logger.Warn("discarding malformed event", "subject", msg.Subject, "error", err)
		return
	}
	if ev.Node == b.local.Node() {
		return
	}
	if err := b.local.Deliver(ev); err != nil {
		b.logger.Debug("local delivery failed", "topic", ev.Topic, "error", err)
	}
}

// Publish implements Bus.
func (b *NATS) Publish(_ context.Context, topic, eventType string, payload any) error {
	ev, err := newEvent(b.local.Node(), topic, eventType, payload)
	if err != nil {
		return err
	}
	if err := b.local.Deliver(ev); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.nc.Publish(b.Subject(topic), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe implements Bus.
func (b *NATS) Subscribe(topic string) (*Subscription, error) {
	return b.local.Subscribe(topic)
}

// Close drains the NATS connection and closes the local bus.
func (b *NATS) Close() error {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.nc.Close()
	return b.local.Close()
}
