package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/internal/core/presence"
	"github.com/yndnr/syncroom-go/internal/eventbus"
)

// session is one websocket connection. Frames are handled in order on the
// reader goroutine; a writer goroutine owns all writes to the socket.
type session struct {
	id      string
	gw      *Gateway
	conn    *websocket.Conn
	logger  *slog.Logger
	handle  *presence.LocalHandle
	limiter *rate.Limiter

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	closeCode int
	closeText string

	// Owned by the reader goroutine.
	channels map[string]channel
}

// channel is a joined topic.
type channel interface {
	handle(ctx context.Context, event string, payload json.RawMessage) (any, error)
	// leave releases the channel. explicit is false when the socket is
	// going away.
	leave(ctx context.Context, explicit bool)
}

func (s *session) run() {
	cfg := s.gw.cfg
	s.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	s.readLoop()

	s.close(websocket.CloseNormalClosure, "")
	<-writerDone
	s.teardown()
}

func (s *session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("websocket closed unexpectedly", "error", err)
			} else {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.gw.cfg.ReadTimeout))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Topic == "" || msg.Event == "" {
			s.logger.Warn("discarding malformed frame", "bytes", len(data))
			continue
		}

		if !s.limiter.Allow() {
			s.reply(msg, errorReply("rate_limited", domain.ErrRateLimited))
			continue
		}
		s.dispatch(msg)
	}
}

func (s *session) writeLoop() {
	cfg := s.gw.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				s.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				s.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-s.done:
			s.drain()
			if s.closeCode != websocket.CloseAbnormalClosure {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(s.closeCode, s.closeText),
					time.Now().Add(time.Second))
			}
			return
		}
	}
}

// drain flushes frames already queued, such as the reply to the frame
// that ended the session.
func (s *session) drain() {
	deadline := time.Now().Add(s.gw.cfg.WriteTimeout)
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(deadline)
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// close starts session shutdown. The first caller's code wins.
func (s *session) close(code int, text string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeText = text
		close(s.done)
	})
}

func (s *session) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.gw.cfg.CallTimeout)
	defer cancel()

	for topic, ch := range s.channels {
		ch.leave(ctx, false)
		delete(s.channels, topic)
	}
	// Closing the handle is what tells the directory this process is gone.
	s.handle.Close()
	s.logger.Info("websocket session closed")
}

func (s *session) dispatch(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.gw.cfg.CallTimeout)
	defer cancel()

	switch {
	case msg.Topic == SystemTopic:
		if msg.Event == EventHeartbeat {
			s.reply(msg, okReply(nil))
			return
		}
		s.reply(msg, errorReply("unknown_event", nil))

	case msg.Event == EventJoin:
		if _, ok := s.channels[msg.Topic]; ok {
			s.reply(msg, errorReply("already_joined", nil))
			return
		}
		ch, resp, err := s.join(ctx, msg.Topic, msg.Payload)
		if err != nil {
			s.logger.Debug("join refused", "topic", msg.Topic, "error", err)
			s.reply(msg, errorReply(reasonFor(err), err))
			return
		}
		s.channels[msg.Topic] = ch
		s.reply(msg, okReply(resp))

	case msg.Event == EventLeave:
		ch, ok := s.channels[msg.Topic]
		if !ok {
			s.reply(msg, errorReply("unmatched_topic", nil))
			return
		}
		delete(s.channels, msg.Topic)
		ch.leave(ctx, true)
		s.reply(msg, okReply(nil))

	default:
		ch, ok := s.channels[msg.Topic]
		if !ok {
			s.reply(msg, errorReply("unmatched_topic", nil))
			return
		}
		resp, err := ch.handle(ctx, msg.Event, msg.Payload)
		if err != nil {
			s.reply(msg, errorReply(reasonFor(err), err))
			return
		}
		s.reply(msg, okReply(resp))
	}
}

// join opens the channel for topic. Frames keep using the topic exactly as
// the client sent it, ClientNamespace included.
func (s *session) join(ctx context.Context, topic string, payload json.RawMessage) (channel, any, error) {
	name := strings.TrimPrefix(topic, ClientNamespace)
	prefix, rest, _ := strings.Cut(name, ":")
	switch prefix {
	case "connector":
		return s.joinConnector(ctx, rest, payload)
	case "room":
		return s.joinRoom(ctx, topic, rest, payload)
	case "presence", "owner":
		if rest == "" {
			return nil, nil, domain.ErrMissingArgument.WithDetails("topic suffix")
		}
		if prefix == "presence" && name != eventbus.PresenceTopic {
			return nil, nil, domain.ErrInvalidArgument.WithDetails("unknown presence topic")
		}
		return s.joinFeed(topic, name)
	}
	return nil, nil, domain.ErrInvalidArgument.WithDetails("unknown topic " + topic)
}

// subscribe starts forwarding bus events on busTopic to the socket under
// the channel topic.
func (s *session) subscribe(topic, busTopic string) (*eventbus.Subscription, error) {
	sub, err := s.gw.cfg.Bus.Subscribe(busTopic)
	if err != nil {
		return nil, domain.ErrServiceUnavailable.WithCause(err)
	}
	go func() {
		for {
			select {
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				s.push(Message{Topic: topic, Event: ev.Type, Payload: ev.Payload})
			case <-s.done:
				return
			}
		}
	}()
	return sub, nil
}

func (s *session) reply(req Message, r Reply) {
	if req.Ref == "" {
		return
	}
	payload, err := json.Marshal(r)
	if err != nil {
		s.logger.Error("failed to encode reply", "error", err)
		return
	}
	s.push(Message{Topic: req.Topic, Event: EventReply, Payload: payload, Ref: req.Ref})
}

// push queues a frame. A socket that cannot keep up is closed.
func (s *session) push(msg Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to encode frame", "error", err)
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- frame:
	case <-s.done:
	default:
		s.logger.Warn("send queue full, closing slow socket", "topic", msg.Topic)
		s.close(websocket.ClosePolicyViolation, "send queue overflow")
	}
}

// connectors returns the connector channels joined on this socket.
func (s *session) connectors() []*connectorChannel {
	var out []*connectorChannel
	for _, ch := range s.channels {
		if cc, ok := ch.(*connectorChannel); ok {
			out = append(out, cc)
		}
	}
	return out
}
