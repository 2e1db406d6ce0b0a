package topology

import "github.com/shardmux/cluster-proxy/internal/slot"

// Cluster is the immutable-after-construction topology: the ordered list of
// nodes discovered at bootstrap plus a direct slot→node map. Per spec.md
// §4.2 the map is described as a big-endian-keyed ordered map so that
// "seek >= key" returns the owner; since the keyspace is the fixed range
// [0, slot.Count) a flat array gives exact lookups with the same effect and
// no dependency on a radix-tree library (see DESIGN.md Open Question 2).
type Cluster struct {
	Nodes   []*Node
	bySlot  [slot.Count]*Node
	byName  map[string]*Node
}

// NewCluster returns an empty Cluster, ready for nodes to be added by a
// builder (see build.go).
func NewCluster() *Cluster {
	return &Cluster{byName: make(map[string]*Node)}
}

// AddNode registers node in the cluster and indexes it by name.
func (c *Cluster) AddNode(n *Node) {
	n.Cluster = c
	c.Nodes = append(c.Nodes, n)
	if n.Name != "" {
		c.byName[n.Name] = n
	}
}

// ClaimSlot assigns slot s to node n.
func (c *Cluster) ClaimSlot(s int, n *Node) {
	if s < 0 || s >= slot.Count {
		return
	}
	c.bySlot[s] = n
}

// NodeOfSlot returns the node owning slot s, or nil if the slot is
// unassigned (a topology gap, per spec.md §7 NoRouteFound).
func (c *Cluster) NodeOfSlot(s int) *Node {
	if s < 0 || s >= slot.Count {
		return nil
	}
	return c.bySlot[s]
}

// NodeOfName returns the node with the given stable identifier, or nil.
func (c *Cluster) NodeOfName(name string) *Node {
	return c.byName[name]
}

// FirstNode returns the node owning the lowest assigned slot, used to route
// keyless commands (spec.md §4.5) deterministically.
func (c *Cluster) FirstNode() *Node {
	for s := 0; s < slot.Count; s++ {
		if n := c.bySlot[s]; n != nil {
			return n
		}
	}
	if len(c.Nodes) > 0 {
		return c.Nodes[0]
	}
	return nil
}

// NodeOfKey resolves the node owning the slot a key hashes to.
func (c *Cluster) NodeOfKey(key []byte) (*Node, int) {
	s := slot.Of(key)
	return c.NodeOfSlot(s), s
}

// CloneForClient returns a private topology for a demoted client: every
// node is replaced by an independent clone (spec.md §3: "Per-client private
// topologies duplicate the maps by cloning nodes"), preserving slot
// ownership but none of the shared connections.
func (c *Cluster) CloneForClient() *Cluster {
	priv := NewCluster()
	byOriginalName := make(map[string]*Node, len(c.Nodes))
	for _, n := range c.Nodes {
		cn := n.Clone()
		priv.AddNode(cn)
		byOriginalName[n.Name] = cn
	}
	for s := 0; s < slot.Count; s++ {
		if n := c.bySlot[s]; n != nil {
			priv.bySlot[s] = byOriginalName[n.Name]
		}
	}
	return priv
}
