package handler

import (
	"net/http"

	"github.com/yndnr/syncroom-go/internal/cluster"
	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/internal/core/presence"
)

// handleClusterMembers handles GET /cluster/members. A node running
// without gossip reports itself alone.
func (h *Handler) handleClusterMembers(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Cluster == nil {
		node := h.cfg.Directory.Node()
		h.writeJSON(w, r, http.StatusOK, ClusterMembersResponse{
			Local:   node,
			Members: []cluster.Node{{Name: node, State: "alive", Local: true}},
		})
		return
	}
	h.writeJSON(w, r, http.StatusOK, ClusterMembersResponse{
		Local:   h.cfg.Cluster.LocalNode().Name,
		Members: h.cfg.Cluster.Members(),
	})
}

// handleClusterGroup handles GET /cluster/groups/{group}.
func (h *Handler) handleClusterGroup(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	if group == "" {
		h.handleServiceError(w, r, domain.ErrMissingArgument.WithDetails("group"))
		return
	}

	var members []presence.Member
	if h.cfg.Groups != nil {
		members = h.cfg.Groups.Members(group)
	} else if group == presence.ConnectorGroup {
		members = h.cfg.Directory.GetClusterMembers()
	}
	if members == nil {
		members = []presence.Member{}
	}
	h.writeJSON(w, r, http.StatusOK, GroupResponse{Group: group, Members: members})
}
