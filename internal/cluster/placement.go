package cluster

import (
	"sort"
	"strconv"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultVirtualNodes is the number of ring positions per node.
const DefaultVirtualNodes = 128

// Placement assigns every resource key to exactly one live node with a
// consistent hash ring. Only that node runs the resource's arbiter, so a
// membership change moves only the keys whose ring segment changed hands.
type Placement struct {
	local  string
	vnodes int

	mu      sync.RWMutex
	nodes   map[string]NodeMeta
	ring    map[uint64]string
	sorted  []uint64
	version uint64

	cbMu     sync.RWMutex
	onChange []func()
}

// NewPlacement creates a ring holding only the local node.
func NewPlacement(local string, vnodes int) *Placement {
	if vnodes <= 0 {
		vnodes = DefaultVirtualNodes
	}
	p := &Placement{
		local:  local,
		vnodes: vnodes,
		nodes:  make(map[string]NodeMeta),
		ring:   make(map[uint64]string),
	}
	p.AddNode(local, NodeMeta{})
	return p
}

// Attach keeps the ring in step with d's membership. Call it before
// joining seeds.
func (p *Placement) Attach(d *Discovery) {
	d.OnJoin(func(n Node) { p.AddNode(n.Name, n.Meta) })
	d.OnLeave(p.RemoveNode)
	for _, n := range d.Members() {
		p.AddNode(n.Name, n.Meta)
	}
}

// OnChange registers fn to run after every ring change.
func (p *Placement) OnChange(fn func()) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.onChange = append(p.onChange, fn)
}

// AddNode places node on the ring. Re-adding a node only refreshes its
// metadata.
func (p *Placement) AddNode(node string, meta NodeMeta) {
	p.mu.Lock()
	if _, ok := p.nodes[node]; ok {
		p.nodes[node] = meta
		p.mu.Unlock()
		return
	}
	p.nodes[node] = meta
	for i := 0; i < p.vnodes; i++ {
		p.ring[virtualHash(node, i)] = node
	}
	p.rebuild()
	p.mu.Unlock()

	p.changed()
}

// RemoveNode takes node off the ring. The local node is never removed.
func (p *Placement) RemoveNode(node string) {
	if node == p.local {
		return
	}
	p.mu.Lock()
	if _, ok := p.nodes[node]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.nodes, node)
	for i := 0; i < p.vnodes; i++ {
		h := virtualHash(node, i)
		if p.ring[h] == node {
			delete(p.ring, h)
		}
	}
	p.rebuild()
	p.mu.Unlock()

	p.changed()
}

// Owner returns the node that owns key and whether that is this node.
func (p *Placement) Owner(key string) (string, bool) {
	h := murmur3.Sum64([]byte(key))

	p.mu.RLock()
	defer p.mu.RUnlock()

	idx := sort.Search(len(p.sorted), func(i int) bool { return p.sorted[i] >= h })
	if idx == len(p.sorted) {
		idx = 0
	}
	node := p.ring[p.sorted[idx]]
	return node, node == p.local
}

// OwnerAddr returns the advertised HTTP address of key's owner, if known.
func (p *Placement) OwnerAddr(key string) string {
	node, _ := p.Owner(key)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nodes[node].HTTPAddr
}

// Nodes returns the nodes on the ring ordered by name.
func (p *Placement) Nodes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.nodes))
	for n := range p.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Version increases on every ring change.
func (p *Placement) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

func (p *Placement) rebuild() {
	p.sorted = p.sorted[:0]
	for h := range p.ring {
		p.sorted = append(p.sorted, h)
	}
	sort.Slice(p.sorted, func(i, j int) bool { return p.sorted[i] < p.sorted[j] })
	p.version++
}

func (p *Placement) changed() {
	p.cbMu.RLock()
	callbacks := p.onChange
	p.cbMu.RUnlock()
	for _, fn := range callbacks {
		fn()
	}
}

func virtualHash(node string, i int) uint64 {
	buf := make([]byte, 0, len(node)+8)
	buf = append(buf, node...)
	buf = append(buf, '#')
	buf = strconv.AppendInt(buf, int64(i), 10)
	return murmur3.Sum64(buf)
}
