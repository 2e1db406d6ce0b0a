package topology

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleReply = `07c37dfeb235213a872192d90877d0cd55635b91 127.0.0.1:30004@31004 slave e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 0 1426238317239 4 connected
67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 127.0.0.1:30002@31002 master - 0 1426238316232 2 connected 5461-10922
292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f 127.0.0.1:30003@31003 master - 0 1426238318243 3 connected 10923-16383
6ec23923021cf3ffec47632106199cb7f496ce01 127.0.0.1:30005@31005 slave 67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 0 1426238316232 5 connected
824fe116063bc5fcf9f4ffd895bc17aee7731ac3 127.0.0.1:30006@31006 slave 292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f 0 1426238317741 6 connected
e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 127.0.0.1:30001@31001 myself,master - 0 0 1 connected 0-5460
`

func TestBuildFromNodesReply(t *testing.T) {
	entry := BuildEntryNode("127.0.0.1", "30001")
	c, err := BuildFromNodesReply(sampleReply, entry)
	require.NoError(t, err)
	require.Len(t, c.Nodes, 6)

	n0 := c.NodeOfSlot(0)
	require.NotNil(t, n0)
	require.Equal(t, "127.0.0.1", n0.Host)
	require.Equal(t, "30001", n0.Port)
	require.Equal(t, RolePrimary, n0.Role)
	require.Same(t, entry, n0, "myself line must merge into the pre-created entry node")

	n5461 := c.NodeOfSlot(5461)
	require.NotNil(t, n5461)
	require.Equal(t, "30002", n5461.Port)

	replica := c.NodeOfName("07c37dfeb235213a872192d90877d0cd55635b91")
	require.NotNil(t, replica)
	require.Equal(t, RoleReplica, replica.Role)

	require.Nil(t, c.NodeOfSlot(16383-1000000)) // out of range guard doesn't panic
}

func TestBuildFromNodesReplyMigratingImporting(t *testing.T) {
	reply := `aaa 127.0.0.1:7000 myself,master - 0 0 1 connected 0-100 [101->-bbb]
bbb 127.0.0.1:7001 master - 0 0 2 connected 101-200 [101-<-aaa]
`
	c, err := BuildFromNodesReply(reply, nil)
	require.NoError(t, err)
	a := c.NodeOfName("aaa")
	b := c.NodeOfName("bbb")
	require.Len(t, a.Migrating, 1)
	require.Equal(t, SlotMigration{Slot: 101, Peer: "bbb"}, a.Migrating[0])
	require.Len(t, b.Importing, 1)
	require.Equal(t, SlotMigration{Slot: 101, Peer: "aaa"}, b.Importing[0])
}

func TestBuildFromNodesReplyMissingFlags(t *testing.T) {
	_, err := BuildFromNodesReply("onlyonefield\n", nil)
	require.Error(t, err)
}

func TestBuildFromNodesReplyMissingAddr(t *testing.T) {
	_, err := BuildFromNodesReply("name badaddr master -\n", nil)
	require.Error(t, err)
}

func TestFirstNodeDeterministic(t *testing.T) {
	c, err := BuildFromNodesReply(sampleReply, BuildEntryNode("127.0.0.1", "30001"))
	require.NoError(t, err)
	first := c.FirstNode()
	require.NotNil(t, first)
	require.Equal(t, "30001", first.Port) // owns slot 0, the lowest
}

func TestCloneForClientIndependentConnections(t *testing.T) {
	c, err := BuildFromNodesReply(sampleReply, BuildEntryNode("127.0.0.1", "30001"))
	require.NoError(t, err)
	priv := c.CloneForClient()
	require.Len(t, priv.Nodes, len(c.Nodes))
	origOwner := c.NodeOfSlot(0)
	cloneOwner := priv.NodeOfSlot(0)
	require.NotSame(t, origOwner, cloneOwner)
	require.Same(t, origOwner, cloneOwner.CloneOf)
}
