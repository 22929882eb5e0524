package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yndnr/syncroom-go/internal/cluster"
	"github.com/yndnr/syncroom-go/internal/core/arbiter"
	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/internal/core/presence"
	"github.com/yndnr/syncroom-go/internal/telemetry/logger"
)

// Directory is the presence directory surface exposed over HTTP.
type Directory interface {
	Node() string
	Get(ctx context.Context, id string) (*domain.Connector, error)
	List(ctx context.Context, filter domain.ConnectorFilter) ([]*domain.Connector, error)
	GetProcessHandle(ctx context.Context, id string) (presence.Handle, error)
	GetClusterMembers() []presence.Member
	Heartbeat(ctx context.Context, id string) (*domain.Connector, error)
	SetStatus(ctx context.Context, id string, status domain.ConnectorStatus) (*domain.Connector, error)
	Unregister(ctx context.Context, id string) (*domain.Connector, error)
}

// Resources looks up live arbiters. Lookups never create one.
type Resources interface {
	Lookup(id domain.ResourceID) (arbiter.Resource, bool)
	Resources() []domain.ResourceID
}

// ClusterView lists gossip members. Nil on a single node.
type ClusterView interface {
	Members() []cluster.Node
	LocalNode() cluster.Node
}

// Config wires a Handler.
type Config struct {
	Directory Directory
	Resources Resources
	Groups    presence.Membership
	Cluster   ClusterView

	// Ready reports whether the node accepts traffic. Nil means always.
	Ready func(ctx context.Context) error

	Logger *slog.Logger
}

// Handler routes the API requests.
type Handler struct {
	cfg    Config
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Handler and registers its routes.
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "http"),
		mux:    http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /connectors", h.handleListConnectors)
	h.mux.HandleFunc("GET /connectors/{id}", h.handleGetConnector)
	h.mux.HandleFunc("GET /connectors/{id}/location", h.handleConnectorLocation)
	h.mux.HandleFunc("POST /connectors/{id}/status", h.handleSetStatus)
	h.mux.HandleFunc("POST /connectors/{id}/heartbeat", h.handleHeartbeat)
	h.mux.HandleFunc("POST /connectors/{id}/unregister", h.handleUnregister)

	h.mux.HandleFunc("GET /cluster/members", h.handleClusterMembers)
	h.mux.HandleFunc("GET /cluster/groups/{group}", h.handleClusterGroup)

	h.mux.HandleFunc("GET /rooms", h.handleListRooms)
	h.mux.HandleFunc("GET /rooms/{room}/{kind}", h.handleRoomState)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := logger.RequestIDFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, details))
}

// handleServiceError converts domain errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		status := errorCodeToHTTPStatus(de.Code)
		if status >= 500 {
			h.logger.Error("request failed",
				"request_id", logger.RequestIDFromContext(r.Context()),
				"code", de.Code,
				"error", err)
		}
		message := de.Message
		if de.Details != "" {
			message += ": " + de.Details
		}
		h.writeError(w, r, status, de.Code, message, nil)
		return
	}

	h.logger.Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, domain.ErrInternalServer.Message, nil)
}

// errorCodeToHTTPStatus maps error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-4040"), strings.HasSuffix(code, "-4041"):
		return http.StatusNotFound
	case strings.HasPrefix(code, "SR-CTRL-409"), strings.HasSuffix(code, "-4090"), strings.HasSuffix(code, "-4091"):
		return http.StatusConflict
	case strings.HasSuffix(code, "-4290"):
		return http.StatusTooManyRequests
	case strings.HasPrefix(code, "SR-CTRL-403"), strings.HasSuffix(code, "-4030"):
		return http.StatusForbidden
	case strings.HasSuffix(code, "-4100"):
		return http.StatusGone
	case strings.HasSuffix(code, "-4210"):
		return http.StatusMisdirectedRequest
	case strings.HasSuffix(code, "-4000"), strings.HasSuffix(code, "-4001"), strings.HasSuffix(code, "-4002"):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "SR-ARG-"):
		return http.StatusBadRequest
	case strings.HasSuffix(code, "-5030"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
