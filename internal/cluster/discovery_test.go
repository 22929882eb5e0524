package cluster

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/syncroom-go/internal/core/presence"
)

type testNode struct {
	discovery *Discovery
	groups    *Groups
}

func startNode(t *testing.T, name string) *testNode {
	t.Helper()
	groups := newTestGroups(t, name)
	d, err := NewDiscovery(DiscoveryConfig{
		NodeID:        name,
		BindAddr:      "127.0.0.1",
		BindPort:      0,
		Meta:          NodeMeta{HTTPAddr: "127.0.0.1:8080", Version: "test"},
		State:         groups,
		CheckInterval: 200 * time.Millisecond,
		Logger:        quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Shutdown() })
	return &testNode{discovery: d, groups: groups}
}

func TestNewDiscovery(t *testing.T) {
	t.Run("RequiresNodeID", func(t *testing.T) {
		_, err := NewDiscovery(DiscoveryConfig{BindAddr: "127.0.0.1"})
		assert.Error(t, err)
	})

	t.Run("LocalNode", func(t *testing.T) {
		n := startNode(t, "solo")

		local := n.discovery.LocalNode()
		assert.Equal(t, "solo", local.Name)
		assert.True(t, local.Local)
		assert.Equal(t, "alive", local.State)
		assert.Equal(t, "127.0.0.1:8080", local.Meta.HTTPAddr)

		joined, err := n.discovery.Join(nil)
		require.NoError(t, err)
		assert.Zero(t, joined)
		assert.Equal(t, 1, n.discovery.NumMembers())
	})

	t.Run("OversizedMeta", func(t *testing.T) {
		big := make([]byte, 600)
		for i := range big {
			big[i] = 'x'
		}
		_, err := NewDiscovery(DiscoveryConfig{
			NodeID:   "big",
			BindAddr: "127.0.0.1",
			Meta:     NodeMeta{HTTPAddr: string(big)},
			Logger:   quietLogger(),
		})
		assert.Error(t, err)
	})
}

func TestDiscovery_TwoNodes(t *testing.T) {
	n1 := startNode(t, "n1")
	n2 := startNode(t, "n2")

	var (
		mu   sync.Mutex
		left []string
	)
	n1.discovery.OnLeave(func(nodeID string) {
		mu.Lock()
		defer mu.Unlock()
		left = append(left, nodeID)
	})

	require.NoError(t, n1.groups.Join(presence.ConnectorGroup, presence.Member{ID: "c1"}))

	seed := n1.discovery.LocalNode().GossipAddr
	joined, err := n2.discovery.Join([]string{seed})
	require.NoError(t, err)
	assert.Equal(t, 1, joined)

	require.Eventually(t, func() bool {
		return n1.discovery.NumMembers() == 2 && n2.discovery.NumMembers() == 2
	}, 5*time.Second, 50*time.Millisecond)

	members := n2.discovery.Members()
	require.Len(t, members, 2)
	assert.Equal(t, "n1", members[0].Name)
	assert.False(t, members[0].Local)
	assert.True(t, members[1].Local)

	// The join-time state exchange carries n1's claims to n2.
	require.Eventually(t, func() bool {
		return len(n2.groups.Members(presence.ConnectorGroup)) == 1
	}, 5*time.Second, 50*time.Millisecond)

	// Later changes travel as broadcasts.
	require.NoError(t, n2.groups.Join(presence.ConnectorGroup, presence.Member{ID: "c2"}))
	require.Eventually(t, func() bool {
		return len(n1.groups.Members(presence.ConnectorGroup)) == 2
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, n2.discovery.Leave(time.Second))
	require.NoError(t, n2.discovery.Shutdown())
	require.NoError(t, n2.discovery.Shutdown())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fmt.Sprint(left) == "[n2]"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestDiscovery_SyncState(t *testing.T) {
	n1 := startNode(t, "n1")
	n2 := startNode(t, "n2")
	n3 := startNode(t, "n3")

	synced, err := n1.discovery.SyncState()
	require.NoError(t, err)
	assert.Zero(t, synced, "a lone node has nobody to sync with")

	require.NoError(t, n1.groups.Join(presence.ConnectorGroup, presence.Member{ID: "c1"}))
	_, err = n2.discovery.Join([]string{n1.discovery.LocalNode().GossipAddr})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return n1.discovery.NumMembers() == 2 && n2.discovery.NumMembers() == 2
	}, 5*time.Second, 50*time.Millisecond)

	// n3 only contacts n2, which does not carry n1's claims in its state.
	_, err = n3.discovery.Join([]string{n2.discovery.LocalNode().GossipAddr})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return n3.discovery.NumMembers() == 3
	}, 5*time.Second, 50*time.Millisecond)

	synced, err = n3.discovery.SyncState()
	require.NoError(t, err)
	assert.Equal(t, 2, synced)
	assert.Equal(t, []presence.Member{{ID: "c1", Node: "n1"}}, n3.groups.Members(presence.ConnectorGroup))
}
