package graph

import (
	"sort"
	"sync"

	"blockgraph/pkg/types"
)

// Stats summarises what an Accumulator has seen
type Stats struct {
	Folded  int // outcomes folded
	Public  int // outcomes with a published list
	Entries int // moderation entries received
	Dropped int // entries targeting domains outside the roster
}

// Accumulator folds fetch outcomes into the linked-node set, the public
// list set and the edge list. All three are guarded by one mutex, so each
// Fold is atomic as a whole.
type Accumulator struct {
	mu sync.Mutex

	// Read-only after construction
	users map[string]int

	linked map[string]struct{}
	public map[string]struct{}
	edges  []types.GraphEdge
	stats  Stats
}

// NewAccumulator creates an accumulator over the given roster. The first
// occurrence of a repeated name wins.
func NewAccumulator(roster []types.Instance) *Accumulator {
	return &Accumulator{
		users:  types.UserCounts(roster),
		linked: make(map[string]struct{}),
		public: make(map[string]struct{}),
		edges:  make([]types.GraphEdge, 0),
	}
}

// Fold adds one outcome. Safe for concurrent callers.
func (a *Accumulator) Fold(o types.FetchOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Folded++
	a.stats.Entries += len(o.Entries)

	if len(o.Entries) > 0 {
		a.linked[o.Source] = struct{}{}
		if o.Public {
			a.public[o.Source] = struct{}{}
			a.stats.Public++
		}
	}

	for _, entry := range o.Entries {
		if _, known := a.users[entry.Domain]; !known {
			a.stats.Dropped++
			continue
		}
		a.linked[entry.Domain] = struct{}{}
		a.edges = append(a.edges, types.GraphEdge{
			Source:   o.Source,
			Target:   entry.Domain,
			Severity: entry.Severity,
			Comment:  entry.Comment,
		})
	}
}

// Nodes derives the node list from the linked set, sorted by id. Names
// missing from the roster are skipped. Call after the last Fold.
func (a *Accumulator) Nodes() []types.GraphNode {
	a.mu.Lock()
	defer a.mu.Unlock()

	nodes := make([]types.GraphNode, 0, len(a.linked))
	for name := range a.linked {
		users, ok := a.users[name]
		if !ok {
			continue
		}
		_, public := a.public[name]
		nodes = append(nodes, types.GraphNode{
			ID:               name,
			Users:            users,
			PublicModeration: public,
		})
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Edges returns a copy of the edge list in fold order
func (a *Accumulator) Edges() []types.GraphEdge {
	a.mu.Lock()
	defer a.mu.Unlock()

	edges := make([]types.GraphEdge, len(a.edges))
	copy(edges, a.edges)
	return edges
}

// Stats returns the current counters
func (a *Accumulator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Snapshot builds the output graph stamped with lastUpdated
func (a *Accumulator) Snapshot(lastUpdated string) *types.Graph {
	return &types.Graph{
		LastUpdated: lastUpdated,
		Nodes:       a.Nodes(),
		Links:       a.Edges(),
	}
}
