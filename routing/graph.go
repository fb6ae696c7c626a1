package routing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	ErrDuplicateNode  = errors.New("routing: duplicate node id")
	ErrNodeNotFound   = errors.New("routing: node not found in graph")
	ErrNegativeWeight = errors.New("routing: negative edge weight")
)

// NodeKind tells facility nodes apart from the transient incident node.
type NodeKind uint8

const (
	FacilityNode NodeKind = iota
	IncidentNode
)

// NodeID identifies a vertex in the dispatch graph. Facilities carry their
// integer id; the incident node has no number of its own.
type NodeID struct {
	Kind     NodeKind
	Facility int
}

// IncidentMarker is the id of the incident node in a graph.
var IncidentMarker = NodeID{Kind: IncidentNode}

func FacilityID(id int) NodeID {
	return NodeID{Kind: FacilityNode, Facility: id}
}

func (id NodeID) IsIncident() bool { return id.Kind == IncidentNode }

func (id NodeID) String() string {
	if id.Kind == IncidentNode {
		return "incident"
	}
	return "facility:" + strconv.Itoa(id.Facility)
}

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Node represents a facility or the incident point
type Node struct {
	ID   NodeID
	Lat  float64
	Lng  float64
	Name string
}

func (n Node) Coordinate() Coordinate {
	return Coordinate{Lat: n.Lat, Lng: n.Lng}
}

// Edge represents a directed connection between two nodes
type Edge struct {
	From   NodeID
	To     NodeID
	Weight float64 // Euclidean distance in raw degrees
}

// Graph represents a directed graph of dispatch nodes and edges
type Graph struct {
	Nodes map[NodeID]*Node   // Map of node IDs to node objects
	Edges map[NodeID][]*Edge // Map of node IDs to outgoing edges
	Order []NodeID           // Insertion order, used for deterministic scans
}

func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[NodeID]*Node),
		Edges: make(map[NodeID][]*Edge),
	}
}

func (g *Graph) AddNode(n Node) error {
	if _, exists := g.Nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	node := n
	g.Nodes[n.ID] = &node
	g.Order = append(g.Order, n.ID)
	return nil
}

// Connect inserts both directed edges between a and b with the same weight.
func (g *Graph) Connect(a, b NodeID, weight float64) {
	g.Edges[a] = append(g.Edges[a], &Edge{From: a, To: b, Weight: weight})
	g.Edges[b] = append(g.Edges[b], &Edge{From: b, To: a, Weight: weight})
}

func (g *Graph) HasEdge(from, to NodeID) (*Edge, bool) {
	for _, e := range g.Edges[from] {
		if e.To == to {
			return e, true
		}
	}
	return nil, false
}

func (g *Graph) EdgeCount() int {
	total := 0
	for _, edges := range g.Edges {
		total += len(edges)
	}
	return total
}

// EuclideanDistance measures straight-line distance on raw lat/lng values.
// Only the relative ordering matters for dispatch decisions, so no geodesic
// correction is applied.
func EuclideanDistance(a, b Coordinate) float64 {
	return math.Sqrt(math.Pow(b.Lat-a.Lat, 2) + math.Pow(b.Lng-a.Lng, 2))
}

// BuildGraph returns the complete symmetric graph over the given facilities,
// with the incident (when non-nil) connected to every facility.
func BuildGraph(facilities []Node, incident *Node) (*Graph, error) {
	g := NewGraph()

	if incident != nil {
		n := *incident
		n.ID = IncidentMarker
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, f := range facilities {
		if f.ID.IsIncident() {
			return nil, fmt.Errorf("%w: facility list contains the incident node", ErrDuplicateNode)
		}
		if err := g.AddNode(f); err != nil {
			return nil, err
		}
	}

	if incident != nil {
		for _, f := range facilities {
			g.Connect(IncidentMarker, f.ID, EuclideanDistance(incident.Coordinate(), f.Coordinate()))
		}
	}

	for i := range facilities {
		for j := i + 1; j < len(facilities); j++ {
			weight := EuclideanDistance(facilities[i].Coordinate(), facilities[j].Coordinate())
			g.Connect(facilities[i].ID, facilities[j].ID, weight)
		}
	}

	return g, nil
}
