package router

import (
	"testing"

	"github.com/shardmux/cluster-proxy/internal/resp"
	"github.com/shardmux/cluster-proxy/internal/topology"
	"github.com/stretchr/testify/require"
)

func twoNodeCluster(t *testing.T) *topology.Cluster {
	t.Helper()
	reply := `aaa 127.0.0.1:7000 myself,master - 0 0 1 connected 0-8191
bbb 127.0.0.1:7001 master - 0 0 2 connected 8192-16383
`
	c, err := topology.BuildFromNodesReply(reply, topology.BuildEntryNode("127.0.0.1", "7000"))
	require.NoError(t, err)
	return c
}

func mustCmd(t *testing.T, parts ...string) *resp.Command {
	t.Helper()
	return resp.NewCommand(parts...)
}

func TestRouteSingleKey(t *testing.T) {
	c := twoNodeCluster(t)
	out, err := Route(c, mustCmd(t, "SET", "foo", "bar"))
	require.NoError(t, err)
	require.NotNil(t, out.Node)
	require.Equal(t, out.Node, c.NodeOfSlot(out.Slot))
}

func TestRouteKeylessGoesToFirstNode(t *testing.T) {
	c := twoNodeCluster(t)
	out, err := Route(c, mustCmd(t, "PING"))
	require.NoError(t, err)
	require.Same(t, c.FirstNode(), out.Node)
}

func TestRouteEchoGoesToFirstNode(t *testing.T) {
	c := twoNodeCluster(t)
	out, err := Route(c, mustCmd(t, "ECHO", "hi"))
	require.NoError(t, err)
	require.Same(t, c.FirstNode(), out.Node)
}

func TestRouteMultiKeySameNode(t *testing.T) {
	c := twoNodeCluster(t)
	out, err := Route(c, mustCmd(t, "MGET", "{u1}:a", "{u1}:b"))
	require.NoError(t, err)
	require.NotNil(t, out.Node)
}

func TestRouteMultiKeyCrossShardRejected(t *testing.T) {
	c := twoNodeCluster(t)
	// foo and bar must land on different nodes in this 2-node split for the
	// test to be meaningful; if they don't, the test is skipped.
	keyA, keyB := "foo", "bar"
	na, _ := c.NodeOfKey([]byte(keyA))
	nb, _ := c.NodeOfKey([]byte(keyB))
	require.NotNil(t, na)
	require.NotNil(t, nb)
	if na == nb {
		t.Skip("chosen sample keys happened to collide on one node")
	}
	_, err := Route(c, mustCmd(t, "MGET", keyA, keyB))
	require.ErrorContains(t, err, "different nodes")
}

func TestRouteUnsupportedCommand(t *testing.T) {
	c := twoNodeCluster(t)
	_, err := Route(c, mustCmd(t, "SUBSCRIBE", "chan"))
	require.ErrorContains(t, err, "Unsupported command")
}

func TestRouteUnknownCommand(t *testing.T) {
	c := twoNodeCluster(t)
	_, err := Route(c, mustCmd(t, "FROBNICATE", "x"))
	require.ErrorContains(t, err, "Unsupported command")
}

func TestRouteNodeMatchesSlotInvariant(t *testing.T) {
	c := twoNodeCluster(t)
	for _, key := range []string{"a", "b", "c", "hello", "world", "{tag}x", "{tag}y"} {
		out, err := Route(c, mustCmd(t, "GET", key))
		require.NoError(t, err)
		require.Equal(t, out.Node, c.NodeOfSlot(out.Slot))
	}
}
