// Package router derives the target back-end node/slot for a parsed request
// given its command descriptor, per spec.md §4.5.
package router

import (
	"fmt"

	"github.com/shardmux/cluster-proxy/internal/command"
	"github.com/shardmux/cluster-proxy/internal/resp"
	"github.com/shardmux/cluster-proxy/internal/topology"
)

// Outcome is the result of routing a command: the chosen node and the slot
// that drove the decision (or -1 for keyless commands).
type Outcome struct {
	Node *topology.Node
	Slot int
}

// Route resolves cmd against cluster, returning an Outcome or an error
// matching one of spec.md §7's UnsupportedCommand / MultiShardQuery /
// NoRouteFound taxonomy entries.
func Route(cluster *topology.Cluster, cmd *resp.Command) (Outcome, error) {
	name := cmd.Name()
	desc, known := command.Lookup(name)
	if !known || !desc.Supported {
		return Outcome{}, fmt.Errorf("Unsupported command: '%s'", name)
	}
	if !arityOK(desc.Arity, cmd.Argc()) {
		return Outcome{}, fmt.Errorf("Unsupported command: '%s'", name)
	}

	argc := cmd.Argc()
	if argc == 1 || desc.FirstKey == 0 {
		node := cluster.FirstNode()
		if node == nil {
			return Outcome{}, fmt.Errorf("Failed to get node for query")
		}
		return Outcome{Node: node, Slot: -1}, nil
	}

	firstKey := clamp(desc.FirstKey, 0, argc-1)
	lastKey := desc.LastKey
	if lastKey < 0 {
		lastKey = argc - 1 + (lastKey + 1) // e.g. LastKey=-1 means "last arg"
	}
	lastKey = clamp(lastKey, firstKey, argc-1)
	step := desc.KeyStep
	if step < 1 {
		step = 1
	}

	var (
		chosen     *topology.Node
		chosenSlot int
		haveFirst  bool
	)
	for i := firstKey; i <= lastKey; i += step {
		key := cmd.Arg(i)
		node, s := cluster.NodeOfKey(key)
		if node == nil {
			return Outcome{}, fmt.Errorf("Failed to get node for query")
		}
		if !haveFirst {
			chosen = node
			chosenSlot = s
			haveFirst = true
			continue
		}
		if node != chosen {
			return Outcome{}, fmt.Errorf("Queries with keys belonging to different nodes are not supported")
		}
	}
	if !haveFirst {
		node := cluster.FirstNode()
		if node == nil {
			return Outcome{}, fmt.Errorf("Failed to get node for query")
		}
		return Outcome{Node: node, Slot: -1}, nil
	}
	return Outcome{Node: chosen, Slot: chosenSlot}, nil
}

func arityOK(arity, argc int) bool {
	if arity >= 0 {
		return argc == arity
	}
	return argc >= -arity
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
