package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/syncroom-go/internal/server/httpserver/handler"
	"github.com/yndnr/syncroom-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// API wires the JSON handlers.
	API handler.Config

	// Gateway serves websocket upgrades on GatewayPath. Optional.
	Gateway     http.Handler
	GatewayPath string

	// Metrics is served on /metrics and records request counts. Optional.
	Metrics *metric.Registry

	Logger *slog.Logger

	// AllowList restricts the mutating connector endpoints to these
	// IPs/CIDRs. Empty means no restriction.
	AllowList []string

	// CORSAllowedOrigins is the list of allowed CORS origins (empty = allow all).
	CORSAllowedOrigins []string

	// RateLimit is the per-IP request rate (req/s). Zero disables it.
	RateLimit float64
	RateBurst int

	// EnableAudit enables access logging for every request.
	EnableAudit bool
}

// NewRouter creates and configures the HTTP router with all routes and middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.API.Logger == nil {
		cfg.API.Logger = cfg.Logger
	}
	h := handler.New(cfg.API)

	// Order: Recover -> RequestID -> Metrics -> RateLimit -> Audit -> Handler
	base := []Middleware{Recover(cfg.Logger), RequestID(), Metrics(cfg.Metrics)}
	if cfg.RateLimit > 0 {
		base = append(base, RateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.EnableAudit {
		base = append(base, Audit(cfg.Logger))
	}

	mux := http.NewServeMux()

	// Health checks skip rate limiting and audit.
	health := Chain(h, Recover(cfg.Logger), RequestID())
	mux.Handle("GET /health", health)
	mux.Handle("GET /ready", health)

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics.Handler(), Recover(cfg.Logger)))
	}

	read := Chain(h, append(base, CORS(cfg.CORSAllowedOrigins))...)
	mux.Handle("GET /connectors", read)
	mux.Handle("GET /connectors/{id}", read)
	mux.Handle("GET /connectors/{id}/location", read)
	mux.Handle("GET /cluster/members", read)
	mux.Handle("GET /cluster/groups/{group}", read)
	mux.Handle("GET /rooms", read)
	mux.Handle("GET /rooms/{room}/{kind}", read)

	write := Chain(h, append(base, NetworkACL(&NetworkACLConfig{
		AllowList: cfg.AllowList,
		Logger:    cfg.Logger,
	}))...)
	mux.Handle("POST /connectors/{id}/status", write)
	mux.Handle("POST /connectors/{id}/heartbeat", write)
	mux.Handle("POST /connectors/{id}/unregister", write)

	if cfg.Gateway != nil {
		path := cfg.GatewayPath
		if path == "" {
			path = "/ws"
		}
		// The socket rate limit lives in the gateway itself.
		mux.Handle("GET "+path, Chain(cfg.Gateway, Recover(cfg.Logger), RequestID()))
	}

	return mux
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		GatewayPath: "/ws",
		RateLimit:   100,
		RateBurst:   200,
		EnableAudit: true,
	}
}
