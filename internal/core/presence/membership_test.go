package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGroups(t *testing.T) {
	g := NewLocalGroups()

	require.NoError(t, g.Join(ConnectorGroup, Member{ID: "b", Node: "n1"}))
	require.NoError(t, g.Join(ConnectorGroup, Member{ID: "a", Node: "n2"}))
	require.NoError(t, g.Join("other", Member{ID: "c", Node: "n2"}))

	assert.Equal(t, []Member{{ID: "a", Node: "n2"}, {ID: "b", Node: "n1"}}, g.Members(ConnectorGroup))

	// Rejoin moves the member.
	require.NoError(t, g.Join(ConnectorGroup, Member{ID: "a", Node: "n1"}))
	assert.Equal(t, []Member{{ID: "a", Node: "n1"}, {ID: "b", Node: "n1"}}, g.Members(ConnectorGroup))

	require.NoError(t, g.Leave(ConnectorGroup, "b"))
	require.NoError(t, g.Leave(ConnectorGroup, "missing"))
	require.NoError(t, g.Leave("missing", "a"))
	assert.Equal(t, []Member{{ID: "a", Node: "n1"}}, g.Members(ConnectorGroup))

	g.NodeLeft("n2")
	assert.Empty(t, g.Members("other"))
	assert.Len(t, g.Members(ConnectorGroup), 1)
	assert.Empty(t, g.Members("unknown"))
}
