package pipeline

import "github.com/actuar/projector/internal/apperr"

// Validate checks a node list step 1 (unique IDs, every
// input resolvable, no cycles, engine_ref resolvable) without executing
// it, for callers like `actuar validate` that only want the
// ConfigurationError, if any.
func Validate(nodes []NodeSpec, registry *Registry) error {
	_, _, err := planExecution(nodes, registry)
	return err
}

// planExecution validates a node list step 1 (unique IDs,
// every input resolvable, no cycles, engine_ref resolvable) and returns
// a topological order (stable by declaration order on ties) plus each
// bus name's declared-consumer count.
func planExecution(nodes []NodeSpec, registry *Registry) ([]NodeSpec, map[string]int, error) {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if _, dup := index[n.ID]; dup {
			return nil, nil, apperr.Configurationf("", "duplicate node id %q", n.ID)
		}
		index[n.ID] = i
		if registry != nil {
			if _, ok := registry.Resolve(n.EngineRef); !ok {
				return nil, nil, apperr.Configurationf(n.ID, "engine_ref %q does not resolve", n.EngineRef)
			}
		}
	}

	// producer[name] = index of the node that declares it as an output.
	producer := make(map[string]int, len(nodes))
	for i, n := range nodes {
		for _, out := range n.Outputs {
			if existing, dup := producer[out]; dup {
				return nil, nil, apperr.Configurationf(n.ID, "output %q already produced by node %q", out, nodes[existing].ID)
			}
			producer[out] = i
		}
	}

	consumerCounts := make(map[string]int)
	for _, n := range nodes {
		for _, in := range n.Inputs {
			if sentinels[in] {
				continue
			}
			if _, ok := producer[in]; !ok {
				return nil, nil, apperr.Configurationf(n.ID, "input %q is not a sentinel and is not produced by any node", in)
			}
			consumerCounts[in]++
		}
	}

	// Build forward edges producer -> consumer and in-degrees.
	adj := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	seenEdge := make(map[[2]int]bool)
	for i, n := range nodes {
		for _, in := range n.Inputs {
			if sentinels[in] {
				continue
			}
			p := producer[in]
			if p == i {
				return nil, nil, apperr.Configurationf(n.ID, "node %q cannot consume its own output %q", n.ID, in)
			}
			edge := [2]int{p, i}
			if seenEdge[edge] {
				continue
			}
			seenEdge[edge] = true
			adj[p] = append(adj[p], i)
			indeg[i]++
		}
	}

	order, err := kahn(nodes, adj, indeg)
	if err != nil {
		return nil, nil, err
	}
	return order, consumerCounts, nil
}

// kahn computes a topological order via Kahn's algorithm, breaking ties
// among simultaneously-ready nodes by original declaration index so the
// order is stable step 2.
func kahn(nodes []NodeSpec, adj [][]int, indeg []int) ([]NodeSpec, error) {
	remaining := append([]int(nil), indeg...)
	ready := make([]int, 0, len(nodes))
	for i, d := range remaining {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	var order []NodeSpec
	for len(ready) > 0 {
		// ready is always kept sorted by declaration index: the initial
		// scan appends in increasing index order, and newly-freed nodes
		// are placed by insertSorted.
		i := ready[0]
		ready = ready[1:]
		order = append(order, nodes[i])
		for _, j := range adj[i] {
			remaining[j]--
			if remaining[j] == 0 {
				insertSorted(&ready, j)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, apperr.Configurationf("", "pipeline graph contains a cycle")
	}
	return order, nil
}

func insertSorted(ready *[]int, v int) {
	r := *ready
	i := 0
	for i < len(r) && r[i] < v {
		i++
	}
	r = append(r, 0)
	copy(r[i+1:], r[i:])
	r[i] = v
	*ready = r
}
