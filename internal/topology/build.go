package topology

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildFromNodesReply parses a bootstrap node table, the text shape of a
// "CLUSTER NODES" reply, into a Cluster (spec.md §4.2). Each line is
// whitespace-separated: "name address flags primary-id ... slot-spec*".
// entry, if non-nil, is the node record pre-created for the address the
// bootstrap connection dialed; the line flagged "myself" merges into it
// regardless of where that line falls in the reply.
//
// Grounded on the upstream fetchClusterConfiguration in
// original_source/src/cluster.c: the "myself" line's address fills in the
// entry node's own host/port, internal-bus suffixes ("@16379") are dropped,
// and slot specs come in four shapes: "N-M", "N", "[N->-ID]", "[N-<-ID]".
func BuildFromNodesReply(text string, entry *Node) (*Cluster, error) {
	c := NewCluster()
	entryNode := entry
	if entryNode != nil {
		c.AddNode(entryNode)
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for _, rawLine := range lines {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("topology: invalid bootstrap line, missing flags: %q", rawLine)
		}
		name := fields[0]
		addr := fields[1]
		flags := fields[2]
		var primaryID string
		if len(fields) > 3 {
			primaryID = fields[3]
		}
		var slotSpecs []string
		if len(fields) > 8 {
			slotSpecs = fields[8:]
		}

		host, port, ok := splitHostPort(addr)
		if !ok {
			return nil, fmt.Errorf("topology: invalid bootstrap line, missing addr: %q", rawLine)
		}

		isMyself := strings.Contains(flags, "myself")
		var node *Node
		if isMyself && entryNode != nil {
			node = entryNode
			if node.Host == "" {
				node.Host = host
				node.Port = port
			}
		} else {
			node = &Node{Host: host, Port: port}
			c.AddNode(node)
			if isMyself {
				entryNode = node
			}
		}
		node.Name = name
		c.byName[name] = node
		if strings.Contains(flags, "slave") || (primaryID != "" && primaryID != "-") {
			node.Role = RoleReplica
		} else {
			node.Role = RolePrimary
		}

		for _, spec := range slotSpecs {
			if err := applySlotSpec(c, node, spec); err != nil {
				return nil, fmt.Errorf("topology: %s: %q", err, rawLine)
			}
		}
	}
	if len(c.Nodes) == 0 {
		return nil, fmt.Errorf("topology: bootstrap reply contained no nodes")
	}
	return c, nil
}

// BuildEntryNode pre-registers the node learned from the bootstrap dial
// target before the "CLUSTER NODES" reply is parsed, matching
// fetchClusterConfiguration's "firstNode" which exists before the loop so
// the "myself" line can merge into it.
func BuildEntryNode(host, port string) *Node {
	return &Node{Host: host, Port: port}
}

func splitHostPort(addr string) (host, port string, ok bool) {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return "", "", false
	}
	return addr[:i], addr[i+1:], true
}

func applySlotSpec(c *Cluster, node *Node, spec string) error {
	switch {
	case strings.HasPrefix(spec, "[") && strings.Contains(spec, "->-"):
		slotNum, peer, err := parseBracketSpec(spec, "->-")
		if err != nil {
			return err
		}
		node.Migrating = append(node.Migrating, SlotMigration{Slot: slotNum, Peer: peer})
		return nil
	case strings.HasPrefix(spec, "[") && strings.Contains(spec, "-<-"):
		slotNum, peer, err := parseBracketSpec(spec, "-<-")
		if err != nil {
			return err
		}
		node.Importing = append(node.Importing, SlotMigration{Slot: slotNum, Peer: peer})
		return nil
	case strings.Contains(spec, "-"):
		parts := strings.SplitN(spec, "-", 2)
		start, err1 := strconv.Atoi(parts[0])
		stop, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || start > stop {
			return fmt.Errorf("invalid slot range %q", spec)
		}
		for s := start; s <= stop; s++ {
			node.Slots = append(node.Slots, s)
			c.ClaimSlot(s, node)
		}
		return nil
	default:
		s, err := strconv.Atoi(spec)
		if err != nil {
			return fmt.Errorf("invalid slot %q", spec)
		}
		node.Slots = append(node.Slots, s)
		c.ClaimSlot(s, node)
		return nil
	}
}

func parseBracketSpec(spec, sep string) (int, string, error) {
	body := strings.TrimSuffix(strings.TrimPrefix(spec, "["), "]")
	parts := strings.SplitN(body, sep, 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("invalid migration spec %q", spec)
	}
	s, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("invalid migration slot %q", spec)
	}
	return s, parts[1], nil
}
