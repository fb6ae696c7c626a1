package routing

import (
	"errors"
	"sort"
)

// Capacity is the default number of incidents one facility may hold at once.
const Capacity = 5

var ErrNoEligibleFacility = errors.New("routing: every facility is at capacity")

// Candidate is a facility considered for an assignment together with the
// number of incidents it already holds.
type Candidate struct {
	Node Node
	Load int
}

// Ranked is a candidate with its straight-line distance to the incident.
type Ranked struct {
	Candidate
	Distance float64
}

// RankByDistance orders candidates by direct distance to at. The sort is
// stable, so equal distances keep the caller's ordering.
func RankByDistance(candidates []Candidate, at Coordinate) []Ranked {
	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		ranked[i] = Ranked{Candidate: c, Distance: EuclideanDistance(at, c.Node.Coordinate())}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Distance < ranked[j].Distance
	})
	return ranked
}

// SelectEligible picks the nearest candidate whose load is strictly below
// capacity. A farther facility wins over a saturated nearer one.
func SelectEligible(candidates []Candidate, at Coordinate, capacity int) (Ranked, error) {
	for _, r := range RankByDistance(candidates, at) {
		if r.Load < capacity {
			return r, nil
		}
	}
	return Ranked{}, ErrNoEligibleFacility
}
