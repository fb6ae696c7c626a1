package routing

import "context"

// Renderer turns an ordered list of waypoints into a drawable path. The
// dispatch core hands waypoints over and never looks at the geometry.
type Renderer interface {
	Route(ctx context.Context, waypoints []Coordinate) (*RenderedRoute, error)
}

type RenderedRoute struct {
	Waypoints []Coordinate `json:"waypoints"`
	DistanceM float64      `json:"distanceM"`
	Duration  float64      `json:"durationSec"`
	Geometry  string       `json:"geometry"`
}

type osrmRoute struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Geometry string  `json:"geometry"`
}

type osrmResponse struct {
	Routes  []osrmRoute `json:"routes"`
	Code    string      `json:"code"`
	Message string      `json:"message,omitempty"`
}
