package handler

import (
	"net/http"

	"github.com/yndnr/syncroom-go/internal/core/domain"
)

// handleListRooms handles GET /rooms: the resources with a live arbiter
// on this node.
func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	ids := h.cfg.Resources.Resources()
	if ids == nil {
		ids = []domain.ResourceID{}
	}
	h.writeJSON(w, r, http.StatusOK, ListRoomsResponse{Resources: ids})
}

// handleRoomState handles GET /rooms/{room}/{kind}.
func (h *Handler) handleRoomState(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseResourceKind(r.PathValue("kind"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	id := domain.ResourceID{Kind: kind, RoomID: r.PathValue("room")}

	res, ok := h.cfg.Resources.Lookup(id)
	if !ok {
		h.handleServiceError(w, r, domain.ErrResourceNotFound.WithDetails(id.String()))
		return
	}
	snap, err := res.Snapshot(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, snap)
}
