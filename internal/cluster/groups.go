package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/internal/core/presence"
)

// DefaultRetransmitMult scales how many times a group change is gossiped.
const DefaultRetransmitMult = 4

// ErrStopped is returned by calls made after Stop.
var ErrStopped = domain.ErrServiceUnavailable.WithDetails("cluster groups stopped")

// GroupsConfig configures Groups.
type GroupsConfig struct {
	// Node is the local node name.
	Node           string
	RetransmitMult int
	Logger         *slog.Logger
}

// Groups is a cluster-visible process group registry.
//
// Each node is authoritative for the claims it issued. Local joins and
// leaves are gossiped as broadcasts; push/pull state exchange replaces a
// peer's whole claim set, which repairs any broadcast that was lost.
// All state is owned by a single goroutine.
type Groups struct {
	node   string
	logger *slog.Logger

	queue    *memberlist.TransmitLimitedQueue
	numNodes func() int
	nodesMu  sync.RWMutex

	mailbox  chan any
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	// Owned by run: group -> member id -> entry.
	groups map[string]map[string]entry
}

type entry struct {
	presence.Member
	// Origin is the node that issued the claim.
	Origin string `json:"origin"`
	// At orders conflicting claims for the same member (Unix nanos at the
	// origin).
	At int64 `json:"at"`
}

var (
	_ presence.Membership = (*Groups)(nil)
	_ StateDelegate       = (*Groups)(nil)
)

// NewGroups creates a registry and starts its goroutine.
func NewGroups(cfg GroupsConfig) *Groups {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetransmitMult <= 0 {
		cfg.RetransmitMult = DefaultRetransmitMult
	}

	g := &Groups{
		node:     cfg.Node,
		logger:   cfg.Logger.With("component", "cluster-groups"),
		numNodes: func() int { return 1 },
		mailbox:  make(chan any, 1024),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		groups:   make(map[string]map[string]entry),
	}
	g.queue = &memberlist.TransmitLimitedQueue{
		NumNodes:       g.nodeCount,
		RetransmitMult: cfg.RetransmitMult,
	}
	go g.run()
	return g
}

// SetNumNodes installs the cluster size source used to bound retransmits.
func (g *Groups) SetNumNodes(fn func() int) {
	g.nodesMu.Lock()
	defer g.nodesMu.Unlock()
	g.numNodes = fn
}

func (g *Groups) nodeCount() int {
	g.nodesMu.RLock()
	defer g.nodesMu.RUnlock()
	return g.numNodes()
}

// Join adds or moves a member and gossips the change.
func (g *Groups) Join(group string, m presence.Member) error {
	if group == "" || m.ID == "" {
		return domain.ErrMissingArgument.WithDetails("group and member id")
	}
	if m.Node == "" {
		m.Node = g.node
	}
	return g.call(joinCmd{group: group, entry: entry{Member: m, Origin: g.node, At: time.Now().UnixNano()}})
}

// Leave withdraws this node's claim on a member and gossips the change. A
// claim issued elsewhere since is left alone.
func (g *Groups) Leave(group, memberID string) error {
	return g.call(leaveCmd{group: group, id: memberID})
}

// Members returns group members ordered by ID.
func (g *Groups) Members(group string) []presence.Member {
	reply := make(chan []presence.Member, 1)
	if err := g.send(membersCmd{group: group, reply: reply}); err != nil {
		return nil
	}
	select {
	case ms := <-reply:
		return ms
	case <-g.doneCh:
		return nil
	}
}

// Groups returns the names of all non-empty groups.
func (g *Groups) Groups() []string {
	reply := make(chan []string, 1)
	if err := g.send(namesCmd{reply: reply}); err != nil {
		return nil
	}
	select {
	case names := <-reply:
		return names
	case <-g.doneCh:
		return nil
	}
}

// NodeLeft drops every member hosted on node or claimed by it.
func (g *Groups) NodeLeft(node string) {
	_ = g.call(nodeLeftCmd{node: node})
}

// Stop terminates the goroutine.
func (g *Groups) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
	<-g.doneCh
}

// NotifyMsg implements memberlist.Delegate.
func (g *Groups) NotifyMsg(buf []byte) {
	if len(buf) == 0 {
		return
	}
	var msg groupMessage
	if err := json.Unmarshal(buf, &msg); err != nil {
		g.logger.Warn("discarding malformed group message", "error", err)
		return
	}
	_ = g.send(remoteMsgCmd{msg: msg})
}

// GetBroadcasts implements memberlist.Delegate.
func (g *Groups) GetBroadcasts(overhead, limit int) [][]byte {
	return g.queue.GetBroadcasts(overhead, limit)
}

// LocalState implements memberlist.Delegate. It carries only the claims
// this node issued.
func (g *Groups) LocalState(bool) []byte {
	reply := make(chan []byte, 1)
	if err := g.send(localStateCmd{reply: reply}); err != nil {
		return nil
	}
	select {
	case buf := <-reply:
		return buf
	case <-g.doneCh:
		return nil
	}
}

// MergeRemoteState implements memberlist.Delegate.
func (g *Groups) MergeRemoteState(buf []byte, _ bool) {
	if len(buf) == 0 {
		return
	}
	var st nodeState
	if err := json.Unmarshal(buf, &st); err != nil {
		g.logger.Warn("discarding malformed group state", "error", err)
		return
	}
	_ = g.call(mergeStateCmd{state: st})
}

// ============================================================================
// Wire format
// ============================================================================

const (
	opJoin  = "join"
	opLeave = "leave"
)

type groupMessage struct {
	Op    string `json:"op"`
	Group string `json:"group"`
	Entry entry  `json:"entry"`
}

// nodeState is the push/pull payload: every claim issued by Node.
type nodeState struct {
	Node   string             `json:"node"`
	Groups map[string][]entry `json:"groups"`
}

type groupBroadcast struct {
	key string
	msg []byte
}

func (b *groupBroadcast) Invalidates(other memberlist.Broadcast) bool {
	o, ok := other.(*groupBroadcast)
	return ok && o.key == b.key
}

func (b *groupBroadcast) Message() []byte { return b.msg }
func (b *groupBroadcast) Finished()       {}

// ============================================================================
// Actor
// ============================================================================

type (
	joinCmd struct {
		group string
		entry entry
	}
	leaveCmd struct {
		group string
		id    string
	}
	nodeLeftCmd struct {
		node string
	}
	membersCmd struct {
		group string
		reply chan []presence.Member
	}
	namesCmd struct {
		reply chan []string
	}
	remoteMsgCmd struct {
		msg groupMessage
	}
	localStateCmd struct {
		reply chan []byte
	}
	mergeStateCmd struct {
		state nodeState
	}
	// syncCmd wraps a command whose completion the caller waits for.
	syncCmd struct {
		cmd  any
		done chan struct{}
	}
)

func (g *Groups) send(cmd any) error {
	select {
	case g.mailbox <- cmd:
		return nil
	case <-g.stopCh:
		return ErrStopped
	}
}

// call sends cmd and waits until it has been applied.
func (g *Groups) call(cmd any) error {
	done := make(chan struct{})
	if err := g.send(syncCmd{cmd: cmd, done: done}); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-done:
		return nil
	case <-g.doneCh:
		return ErrStopped
	case <-ctx.Done():
		return domain.ErrServiceUnavailable.WithCause(ctx.Err())
	}
}

func (g *Groups) run() {
	defer close(g.doneCh)
	for {
		select {
		case cmd := <-g.mailbox:
			g.handle(cmd)
		case <-g.stopCh:
			return
		}
	}
}

func (g *Groups) handle(cmd any) {
	switch c := cmd.(type) {
	case syncCmd:
		g.handle(c.cmd)
		close(c.done)
	case joinCmd:
		if g.put(c.group, c.entry) {
			g.broadcast(groupMessage{Op: opJoin, Group: c.group, Entry: c.entry})
		}
	case leaveCmd:
		if e, ok := g.withdraw(c.group, c.id, g.node, 0); ok {
			g.broadcast(groupMessage{Op: opLeave, Group: c.group, Entry: e})
		}
	case nodeLeftCmd:
		g.dropNode(c.node)
	case membersCmd:
		c.reply <- g.members(c.group)
	case namesCmd:
		names := make([]string, 0, len(g.groups))
		for name := range g.groups {
			names = append(names, name)
		}
		sort.Strings(names)
		c.reply <- names
	case remoteMsgCmd:
		g.applyRemote(c.msg)
	case localStateCmd:
		c.reply <- g.localState()
	case mergeStateCmd:
		g.mergeState(c.state)
	default:
		g.logger.Error("unknown groups command", "type", fmt.Sprintf("%T", cmd))
	}
}

// put stores e unless a newer claim for the same member exists.
func (g *Groups) put(group string, e entry) bool {
	members, ok := g.groups[group]
	if !ok {
		members = make(map[string]entry)
		g.groups[group] = members
	}
	if cur, ok := members[e.ID]; ok && cur.At > e.At {
		return false
	}
	members[e.ID] = e
	return true
}

// withdraw deletes a member while its current claim was issued by origin.
// A non-zero at additionally requires the claim to be no newer than at.
func (g *Groups) withdraw(group, id, origin string, at int64) (entry, bool) {
	members, ok := g.groups[group]
	if !ok {
		return entry{}, false
	}
	e, ok := members[id]
	if !ok || e.Origin != origin || (at != 0 && e.At > at) {
		return entry{}, false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(g.groups, group)
	}
	return e, true
}

func (g *Groups) dropNode(node string) {
	dropped := 0
	for name, members := range g.groups {
		for id, e := range members {
			if e.Node == node || e.Origin == node {
				delete(members, id)
				dropped++
			}
		}
		if len(members) == 0 {
			delete(g.groups, name)
		}
	}
	if dropped > 0 {
		g.logger.Info("dropped members of departed node", "node", node, "count", dropped)
	}
}

func (g *Groups) members(group string) []presence.Member {
	out := make([]presence.Member, 0, len(g.groups[group]))
	for _, e := range g.groups[group] {
		out = append(out, e.Member)
	}
	presence.SortMembers(out)
	return out
}

func (g *Groups) applyRemote(msg groupMessage) {
	switch msg.Op {
	case opJoin:
		g.put(msg.Group, msg.Entry)
	case opLeave:
		g.withdraw(msg.Group, msg.Entry.ID, msg.Entry.Origin, msg.Entry.At)
	default:
		g.logger.Warn("unknown group message op", "op", msg.Op)
	}
}

func (g *Groups) localState() []byte {
	st := nodeState{Node: g.node, Groups: make(map[string][]entry)}
	for name, members := range g.groups {
		for _, e := range members {
			if e.Origin == g.node {
				st.Groups[name] = append(st.Groups[name], e)
			}
		}
	}
	buf, err := json.Marshal(st)
	if err != nil {
		g.logger.Error("failed to encode group state", "error", err)
		return nil
	}
	return buf
}

// mergeState makes this registry's view of the claims issued by st.Node
// match st exactly.
func (g *Groups) mergeState(st nodeState) {
	if st.Node == "" || st.Node == g.node {
		return
	}

	claimed := make(map[string]map[string]struct{})
	for name, entries := range st.Groups {
		ids := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			e.Origin = st.Node
			g.put(name, e)
			ids[e.ID] = struct{}{}
		}
		claimed[name] = ids
	}

	for name, members := range g.groups {
		for id, e := range members {
			if e.Origin != st.Node {
				continue
			}
			if _, ok := claimed[name][id]; !ok {
				g.withdraw(name, id, st.Node, 0)
			}
		}
	}
}

func (g *Groups) broadcast(msg groupMessage) {
	buf, err := json.Marshal(msg)
	if err != nil {
		g.logger.Error("failed to encode group message", "error", err)
		return
	}
	g.queue.QueueBroadcast(&groupBroadcast{
		key: msg.Group + "/" + msg.Entry.ID,
		msg: buf,
	})
}
