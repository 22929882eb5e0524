package command

import (
	"encoding/json"
	"time"

	"github.com/yndnr/syncroom-go/internal/cluster"
	"github.com/yndnr/syncroom-go/internal/core/arbiter"
	"github.com/yndnr/syncroom-go/internal/core/domain"
)

// Wire shapes of the admin API. Server types are reused where they carry
// json tags; the row types below only decide table columns.

type listConnectorsResponse struct {
	Items []*domain.Connector `json:"items"`
	Total int                 `json:"total"`
}

type locationResponse struct {
	ConnectorID string `json:"connector_id"`
	Node        string `json:"node"`
	HandleID    string `json:"handle_id,omitempty" table:"HANDLE,wide"`
	Local       bool   `json:"local"`
}

type clusterMembersResponse struct {
	Local   string         `json:"local"`
	Members []cluster.Node `json:"members"`
}

type groupMember struct {
	ID   string `json:"id" table:"CONNECTOR"`
	Node string `json:"node"`
}

type groupResponse struct {
	Group   string        `json:"group"`
	Members []groupMember `json:"members"`
}

type listRoomsResponse struct {
	Resources []domain.ResourceID `json:"resources"`
}

type connectorRow struct {
	ID        string   `table:"ID"`
	Name      string   `table:"NAME"`
	Type      string   `table:"TYPE"`
	Owner     string   `table:"OWNER"`
	Status    string   `table:"STATUS"`
	LastSeen  int64    `table:"LAST SEEN,ms"`
	Features  []string `table:"FEATURES,wide"`
	CreatedAt int64    `table:"CREATED,wide,ms"`
}

func connectorRows(items []*domain.Connector) []connectorRow {
	rows := make([]connectorRow, 0, len(items))
	for _, c := range items {
		rows = append(rows, connectorRowOf(c))
	}
	return rows
}

func connectorRowOf(c *domain.Connector) connectorRow {
	return connectorRow{
		ID:        c.ID,
		Name:      c.Name,
		Type:      string(c.Type),
		Owner:     c.OwnerID,
		Status:    string(c.Status),
		LastSeen:  c.LastSeen,
		Features:  c.Features,
		CreatedAt: c.CreatedAt,
	}
}

type nodeRow struct {
	Name    string `table:"NAME"`
	Gossip  string `table:"GOSSIP ADDR"`
	HTTP    string `table:"HTTP ADDR"`
	State   string `table:"STATE"`
	Version string `table:"VERSION,wide"`
	Local   string `table:"LOCAL"`
}

func nodeRows(nodes []cluster.Node) []nodeRow {
	rows := make([]nodeRow, 0, len(nodes))
	for _, n := range nodes {
		local := ""
		if n.Local {
			local = "*"
		}
		rows = append(rows, nodeRow{
			Name:    n.Name,
			Gossip:  n.GossipAddr,
			HTTP:    n.Meta.HTTPAddr,
			State:   n.State,
			Version: n.Meta.Version,
			Local:   local,
		})
	}
	return rows
}

type resourceRow struct {
	Room string `table:"ROOM"`
	Kind string `table:"KIND"`
}

// stateView flattens a snapshot for the FIELD/VALUE table.
type stateView struct {
	Resource   string          `table:"RESOURCE"`
	Controller string          `table:"CONTROLLER"`
	Requester  string          `table:"REQUESTER"`
	Deadline   time.Time       `table:"REQUEST DEADLINE"`
	Version    uint64          `table:"VERSION"`
	Payload    json.RawMessage `table:"PAYLOAD"`
}

func stateViewOf(s arbiter.Snapshot) stateView {
	v := stateView{
		Resource: s.Resource.String(),
		Version:  s.Version,
		Payload:  s.Payload,
	}
	if s.Controller != nil {
		v.Controller = actorLabel(*s.Controller)
	}
	if s.Pending != nil {
		v.Requester = actorLabel(s.Pending.Requester)
		v.Deadline = s.Pending.Deadline
	}
	return v
}

func actorLabel(a domain.Actor) string {
	if a.Name == "" || a.Name == a.ID {
		return a.ID
	}
	return a.Name + " (" + a.ID + ")"
}
