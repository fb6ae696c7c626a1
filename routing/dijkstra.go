package routing

import (
	"errors"
	"fmt"
	"math"
)

var ErrNoReachableNode = errors.New("routing: no node reachable from start")

// ShortestPaths is the single-source result of Dijkstra.
// Distances holds +Inf for unreached nodes. Prev has no entry for the
// source or for unreached nodes.
type ShortestPaths struct {
	Source    NodeID
	Distances map[NodeID]float64
	Prev      map[NodeID]NodeID
}

// Dijkstra computes shortest distances and predecessor links from start.
//
// The frontier may hold stale entries for a node that was improved after it
// was queued. Updates are only committed when alt < dist[to], so popping a
// stale entry re-relaxes edges without changing anything.
func Dijkstra(g *Graph, start NodeID) (*ShortestPaths, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil graph", ErrNodeNotFound)
	}
	if _, exists := g.Nodes[start]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, start)
	}
	for _, edges := range g.Edges {
		for _, e := range edges {
			if e.Weight < 0 {
				return nil, fmt.Errorf("%w: edge %s->%s weight=%g", ErrNegativeWeight, e.From, e.To, e.Weight)
			}
		}
	}

	sp := &ShortestPaths{
		Source:    start,
		Distances: make(map[NodeID]float64, len(g.Nodes)),
		Prev:      make(map[NodeID]NodeID, len(g.Nodes)),
	}
	for _, id := range g.Order {
		sp.Distances[id] = math.Inf(1)
	}
	sp.Distances[start] = 0

	pq := NewPriorityQueue[NodeID]()
	pq.Enqueue(start, 0)

	for !pq.IsEmpty() {
		item, err := pq.Dequeue()
		if err != nil {
			return nil, err
		}
		current := item.Element

		for _, edge := range g.Edges[current] {
			alt := sp.Distances[current] + edge.Weight
			if alt < sp.Distances[edge.To] {
				sp.Distances[edge.To] = alt
				sp.Prev[edge.To] = current
				pq.Enqueue(edge.To, alt)
			}
		}
	}

	return sp, nil
}

func (sp *ShortestPaths) Reachable(target NodeID) bool {
	d, ok := sp.Distances[target]
	return ok && !math.IsInf(d, 1)
}

// PathTo walks predecessor links from target back to the source and returns
// the hops in source->target order. It returns nil for unreachable targets.
func (sp *ShortestPaths) PathTo(target NodeID) []NodeID {
	if !sp.Reachable(target) {
		return nil
	}

	path := make([]NodeID, 0)
	current := target
	for {
		path = append([]NodeID{current}, path...)
		prev, ok := sp.Prev[current]
		if !ok {
			break
		}
		current = prev
	}
	return path
}

// Nearest is the closest node to a search source.
type Nearest struct {
	Node     NodeID
	Distance float64
	Path     []NodeID
}

// NearestByGraph runs Dijkstra from start and returns the closest other node
// by settled distance, along with the predecessor path to it. Ties go to the
// node inserted first.
func NearestByGraph(g *Graph, start NodeID) (Nearest, error) {
	sp, err := Dijkstra(g, start)
	if err != nil {
		return Nearest{}, err
	}

	closest := Nearest{Distance: math.Inf(1)}
	found := false
	for _, id := range g.Order {
		if id == start {
			continue
		}
		if d := sp.Distances[id]; d < closest.Distance {
			closest.Node = id
			closest.Distance = d
			found = true
		}
	}
	if !found {
		return Nearest{}, ErrNoReachableNode
	}

	closest.Path = sp.PathTo(closest.Node)
	return closest, nil
}
