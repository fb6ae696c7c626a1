package dispatch

import (
	"time"

	"dispatch-route-server/routing"
)

// Facility is a hospital or health center that incidents can be assigned to.
// Fixed facilities are seeded at startup and can only be hidden; user-added
// ones can only be removed.
type Facility struct {
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Fixed   bool    `json:"fixed"`
	Visible bool    `json:"visible"`
}

func (f Facility) node() routing.Node {
	return routing.Node{ID: routing.FacilityID(f.ID), Lat: f.Lat, Lng: f.Lng, Name: f.Name}
}

func (f Facility) Coordinate() routing.Coordinate {
	return routing.Coordinate{Lat: f.Lat, Lng: f.Lng}
}

// Incident is a reported accident and the facility serving it.
type Incident struct {
	ID         int       `json:"id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	FacilityID int       `json:"facilityId"`
	Distance   float64   `json:"distance"`
	ReportedAt time.Time `json:"reportedAt"`

	// DistanceM and EtaSec are straight-line display figures.
	DistanceM float64 `json:"distanceM"`
	EtaSec    float64 `json:"etaSec"`

	// ToRoute runs from the assigned facility to the incident.
	ToRoute []routing.Coordinate `json:"toRoute"`
	// FromRoute is the predecessor chain of the incident's shortest-path
	// tree, from the incident to the assigned facility.
	FromRoute []routing.Coordinate `json:"fromRoute"`
	FromPath  []string             `json:"fromPath"`
}

func (i Incident) Coordinate() routing.Coordinate {
	return routing.Coordinate{Lat: i.Lat, Lng: i.Lng}
}

func (i Incident) clone() Incident {
	out := i
	out.ToRoute = append([]routing.Coordinate(nil), i.ToRoute...)
	out.FromRoute = append([]routing.Coordinate(nil), i.FromRoute...)
	out.FromPath = append([]string(nil), i.FromPath...)
	return out
}

// DefaultFacilities returns the ten hospitals seeded around Tunja.
func DefaultFacilities() []Facility {
	return []Facility{
		{ID: 1, Lat: 5.5439915, Lng: -73.3597110, Name: "Clínica Los Andes", Fixed: true},
		{ID: 2, Lat: 5.5404943, Lng: -73.3612242, Name: "Hospital San Rafael", Fixed: true},
		{ID: 3, Lat: 5.536562, Lng: -73.363540, Name: "ESE SANTIAGO DE TUNJA", Fixed: true},
		{ID: 4, Lat: 5.5348351, Lng: -73.3601600, Name: "Centro de especialidades médicas", Fixed: true},
		{ID: 5, Lat: 5.5531544, Lng: -73.3514213, Name: "Clínica Chía nueva eps", Fixed: true},
		{ID: 6, Lat: 5.5547927, Lng: -73.3506117, Name: "Clínica Asorsalud SM", Fixed: true},
		{ID: 7, Lat: 5.552599, Lng: -73.346360, Name: "Clínica Cancerológica de Boyacá", Fixed: true},
		{ID: 8, Lat: 5.5568944, Lng: -73.3504343, Name: "Salud Coop ISP Norte", Fixed: true},
		{ID: 9, Lat: 5.569618, Lng: -73.336905, Name: "Clínica Mediláser", Fixed: true},
		{ID: 10, Lat: 5.519279, Lng: -73.358486, Name: "ESE SANTIAGO DE TUNJA", Fixed: true},
	}
}
