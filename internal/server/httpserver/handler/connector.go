package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/yndnr/syncroom-go/internal/core/domain"
)

const maxBodyBytes = 64 << 10

// pathConnectorID reads and validates the {id} path value.
func pathConnectorID(r *http.Request) (string, error) {
	p := ConnectorIDParam{ID: r.PathValue("id")}
	if err := validateStruct(&p); err != nil {
		return "", err
	}
	return p.ID, nil
}

// handleListConnectors handles GET /connectors?owner=&status=.
func (h *Handler) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	q := ListConnectorsQuery{
		Owner:  r.URL.Query().Get("owner"),
		Status: r.URL.Query().Get("status"),
	}
	if err := validateStruct(&q); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	items, err := h.cfg.Directory.List(r.Context(), domain.ConnectorFilter{
		OwnerID: q.Owner,
		Status:  domain.ConnectorStatus(q.Status),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []*domain.Connector{}
	}
	h.writeJSON(w, r, http.StatusOK, ListConnectorsResponse{Items: items, Total: len(items)})
}

// handleGetConnector handles GET /connectors/{id}.
func (h *Handler) handleGetConnector(w http.ResponseWriter, r *http.Request) {
	id, err := pathConnectorID(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	conn, err := h.cfg.Directory.Get(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, conn)
}

// handleConnectorLocation handles GET /connectors/{id}/location.
//
// A local binding answers with its handle. Otherwise the cluster connector
// group is consulted, which knows the hosting node but not the handle.
func (h *Handler) handleConnectorLocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathConnectorID(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	handle, err := h.cfg.Directory.GetProcessHandle(r.Context(), id)
	switch {
	case err == nil:
		h.writeJSON(w, r, http.StatusOK, LocationResponse{
			ConnectorID: id,
			Node:        handle.Node(),
			HandleID:    handle.ID(),
			Local:       handle.Node() == h.cfg.Directory.Node(),
		})
		return
	case !errors.Is(err, domain.ErrNoBinding):
		h.handleServiceError(w, r, err)
		return
	}

	for _, m := range h.cfg.Directory.GetClusterMembers() {
		if m.ID == id {
			h.writeJSON(w, r, http.StatusOK, LocationResponse{ConnectorID: id, Node: m.Node})
			return
		}
	}
	h.handleServiceError(w, r, err)
}

// handleSetStatus handles POST /connectors/{id}/status.
func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathConnectorID(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.handleServiceError(w, r, domain.ErrBadRequest.WithCause(err))
		return
	}
	var req SetStatusRequest
	if err := decodeBody(body, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	conn, err := h.cfg.Directory.SetStatus(r.Context(), id, domain.ConnectorStatus(req.Status))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, conn)
}

// handleHeartbeat handles POST /connectors/{id}/heartbeat.
func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := pathConnectorID(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	conn, err := h.cfg.Directory.Heartbeat(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, conn)
}

// handleUnregister handles POST /connectors/{id}/unregister. The record is
// kept and marked offline.
func (h *Handler) handleUnregister(w http.ResponseWriter, r *http.Request) {
	id, err := pathConnectorID(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	conn, err := h.cfg.Directory.Unregister(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.logger.Info("connector unregistered over http",
		"connector_id", id,
		"client", r.RemoteAddr)
	h.writeJSON(w, r, http.StatusOK, conn)
}
