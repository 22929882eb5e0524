package presence

import (
	"sync"

	"github.com/google/uuid"
)

// Handle identifies the process serving a connector and signals its death.
type Handle interface {
	// ID is unique per process instance; a reconnect gets a new ID.
	ID() string
	// Node is the cluster node hosting the process.
	Node() string
	// Done is closed when the process terminates. A nil channel means the
	// process cannot be observed from here and only node departure or an
	// explicit unregister will end its binding.
	Done() <-chan struct{}
}

// LocalHandle represents a process on this node, typically a websocket
// session. Close it when the process ends.
type LocalHandle struct {
	id   string
	node string
	done chan struct{}
	once sync.Once
}

// NewLocalHandle creates a live handle hosted on node.
func NewLocalHandle(node string) *LocalHandle {
	return &LocalHandle{
		id:   uuid.NewString(),
		node: node,
		done: make(chan struct{}),
	}
}

func (h *LocalHandle) ID() string            { return h.id }
func (h *LocalHandle) Node() string          { return h.node }
func (h *LocalHandle) Done() <-chan struct{} { return h.done }

// Close marks the process as terminated. Safe to call more than once.
func (h *LocalHandle) Close() {
	h.once.Do(func() { close(h.done) })
}

// RemoteHandle references a process on another node. Its Done channel
// never fires; the binding ends when that node leaves the cluster.
type RemoteHandle struct {
	id   string
	node string
}

// NewRemoteHandle creates a handle for process id on node.
func NewRemoteHandle(id, node string) RemoteHandle {
	return RemoteHandle{id: id, node: node}
}

func (h RemoteHandle) ID() string            { return h.id }
func (h RemoteHandle) Node() string          { return h.node }
func (h RemoteHandle) Done() <-chan struct{} { return nil }

// Alive reports whether h has not signalled termination yet.
func Alive(h Handle) bool {
	if h == nil {
		return false
	}
	done := h.Done()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
