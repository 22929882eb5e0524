package presence

import (
	"sort"
	"sync"
)

// ConnectorGroup is the membership group every registered connector joins.
const ConnectorGroup = "connectors"

// Member is one process in a membership group.
type Member struct {
	ID   string `json:"id"`
	Node string `json:"node"`
}

// Membership is a cluster-visible process group registry.
type Membership interface {
	// Join adds or replaces m in group.
	Join(group string, m Member) error
	// Leave removes memberID from group. Unknown members are ignored.
	Leave(group, memberID string) error
	// Members returns group members ordered by ID.
	Members(group string) []Member
	// NodeLeft drops every member hosted on node.
	NodeLeft(node string)
}

// LocalGroups is an in-process Membership for single-node deployments.
type LocalGroups struct {
	mu     sync.RWMutex
	groups map[string]map[string]Member
}

// NewLocalGroups creates an empty registry.
func NewLocalGroups() *LocalGroups {
	return &LocalGroups{groups: make(map[string]map[string]Member)}
}

func (g *LocalGroups) Join(group string, m Member) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.groups[group]
	if !ok {
		members = make(map[string]Member)
		g.groups[group] = members
	}
	members[m.ID] = m
	return nil
}

func (g *LocalGroups) Leave(group, memberID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if members, ok := g.groups[group]; ok {
		delete(members, memberID)
		if len(members) == 0 {
			delete(g.groups, group)
		}
	}
	return nil
}

func (g *LocalGroups) Members(group string) []Member {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Member, 0, len(g.groups[group]))
	for _, m := range g.groups[group] {
		out = append(out, m)
	}
	SortMembers(out)
	return out
}

func (g *LocalGroups) NodeLeft(node string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for name, members := range g.groups {
		for id, m := range members {
			if m.Node == node {
				delete(members, id)
			}
		}
		if len(members) == 0 {
			delete(g.groups, name)
		}
	}
}

// SortMembers orders members by ID.
func SortMembers(ms []Member) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
}
