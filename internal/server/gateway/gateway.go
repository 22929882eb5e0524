package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/yndnr/syncroom-go/internal/core/arbiter"
	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/internal/core/presence"
	"github.com/yndnr/syncroom-go/internal/eventbus"
	"github.com/yndnr/syncroom-go/internal/telemetry/metric"
)

// Defaults for zero Config fields.
const (
	DefaultReadTimeout     = 60 * time.Second
	DefaultPingInterval    = 25 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultMaxMessageBytes = 64 << 10
	DefaultRateLimit       = 30
	DefaultRateBurst       = 60
	DefaultSendQueue       = 256
	DefaultCallTimeout     = 5 * time.Second
)

// ErrShuttingDown is returned once Shutdown has begun.
var ErrShuttingDown = errors.New("gateway: shutting down")

// Directory is the part of the presence directory the gateway drives.
type Directory interface {
	Node() string
	Register(ctx context.Context, id string, attrs domain.ConnectorAttrs, handle presence.Handle) (*domain.Connector, error)
	Unregister(ctx context.Context, id string) (*domain.Connector, error)
	Heartbeat(ctx context.Context, id string) (*domain.Connector, error)
	SetStatus(ctx context.Context, id string, status domain.ConnectorStatus) (*domain.Connector, error)
	GetProcessHandle(ctx context.Context, id string) (presence.Handle, error)
}

// Resources resolves room resources to their arbiters.
type Resources interface {
	Get(id domain.ResourceID) (arbiter.Resource, error)
}

// Config configures a Gateway.
type Config struct {
	Directory Directory
	Resources Resources
	Bus       eventbus.Bus

	ReadTimeout     time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64

	// RateLimit and RateBurst bound inbound frames per socket.
	RateLimit float64
	RateBurst int

	// SendQueue is the outbound frame buffer per socket. A socket whose
	// queue overflows is closed.
	SendQueue int

	// CallTimeout bounds each directory or arbiter call made for a frame.
	CallTimeout time.Duration

	// CheckOrigin overrides the upgrader's same-origin check.
	CheckOrigin func(r *http.Request) bool

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Gateway upgrades HTTP requests to websocket sessions.
type Gateway struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// New validates cfg and creates a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Directory == nil || cfg.Resources == nil || cfg.Bus == nil {
		return nil, errors.New("gateway: directory, resources and bus are required")
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.ReadTimeout {
		cfg.PingInterval = cfg.ReadTimeout * 9 / 20
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Gateway{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		sessions: make(map[*session]struct{}),
	}, nil
}

// ServeHTTP upgrades the request and runs the session until the socket
// closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	s := &session{
		id:       uuid.NewString(),
		gw:       g,
		conn:     conn,
		handle:   presence.NewLocalHandle(g.cfg.Directory.Node()),
		limiter:  rate.NewLimiter(rate.Limit(g.cfg.RateLimit), g.cfg.RateBurst),
		send:     make(chan []byte, g.cfg.SendQueue),
		done:     make(chan struct{}),
		channels: make(map[string]channel),
	}
	s.logger = g.logger.With("session_id", s.id, "remote_addr", r.RemoteAddr)

	if !g.track(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer g.untrack(s)

	s.logger.Info("websocket session opened")
	s.run()
}

// Sessions returns the number of open sockets.
func (g *Gateway) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Shutdown closes every socket and waits for their sessions to finish
// cleanup, or for ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	sessions := make([]*session, 0, len(g.sessions))
	for s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	for _, s := range sessions {
		s.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		g.logger.Info("gateway stopped", "sessions_closed", len(sessions))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) track(s *session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.sessions[s] = struct{}{}
	g.wg.Add(1)
	g.cfg.Metrics.GatewaySessionOpened()
	return true
}

func (g *Gateway) untrack(s *session) {
	g.mu.Lock()
	delete(g.sessions, s)
	g.mu.Unlock()
	g.cfg.Metrics.GatewaySessionClosed()
	g.wg.Done()
}
