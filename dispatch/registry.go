// Package dispatch owns the mutable state of the dispatch map: facilities,
// their visibility, active incidents and how many incidents each facility
// currently serves.
//
// Every mutation and every search runs under a single mutex, so a search
// never observes a half-updated facility set. Changing the facility set
// replays all incidents, oldest first, against the new set; older incidents
// therefore get first claim on capacity.
package dispatch

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"dispatch-route-server/routing"
)

var (
	ErrUnknownFacility    = errors.New("dispatch: unknown facility")
	ErrUnknownIncident    = errors.New("dispatch: unknown incident")
	ErrInvalidName        = errors.New("dispatch: facility name is empty")
	ErrInvalidCoordinate  = errors.New("dispatch: coordinate is not a finite number")
	ErrNoEligibleFacility = routing.ErrNoEligibleFacility
)

type Registry struct {
	mu sync.Mutex

	facilities   []*Facility // registration order
	incidents    []*Incident // creation order
	load         map[int]int
	nextIncident int
	capacity     int

	notifier Notifier
	metrics  *Metrics
	log      *zap.SugaredLogger
	now      func() time.Time
}

type Option func(*Registry)

func WithCapacity(capacity int) Option {
	return func(r *Registry) {
		if capacity > 0 {
			r.capacity = capacity
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(r *Registry) {
		if n != nil {
			r.notifier = n
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a registry seeded with the given facilities. Seeds
// keep their Fixed flag and start visible.
func NewRegistry(seeds []Facility, opts ...Option) (*Registry, error) {
	r := &Registry{
		load:         make(map[int]int),
		nextIncident: 1,
		capacity:     routing.Capacity,
		notifier:     nopNotifier{},
		log:          zap.NewNop().Sugar(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	seen := make(map[int]bool, len(seeds))
	for _, s := range seeds {
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate facility id %d", s.ID)
		}
		seen[s.ID] = true
		f := s
		f.Visible = true
		r.facilities = append(r.facilities, &f)
		r.metrics.setLoad(f.ID, 0)
	}

	r.log.Infof("Registry ready: %d facilities, capacity %d per facility", len(r.facilities), r.capacity)
	return r, nil
}

func (r *Registry) Capacity() int { return r.capacity }

func (r *Registry) Facilities() []Facility {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Facility, len(r.facilities))
	for i, f := range r.facilities {
		out[i] = *f
	}
	return out
}

func (r *Registry) Facility(id int) (Facility, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.findFacility(id)
	if f == nil {
		return Facility{}, fmt.Errorf("%w: %d", ErrUnknownFacility, id)
	}
	return *f, nil
}

func (r *Registry) Incidents() []Incident {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Incident, len(r.incidents))
	for i, inc := range r.incidents {
		out[i] = inc.clone()
	}
	return out
}

func (r *Registry) Incident(id int) (Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, inc := r.findIncident(id)
	if inc == nil {
		return Incident{}, fmt.Errorf("%w: %d", ErrUnknownIncident, id)
	}
	return inc.clone(), nil
}

// Load returns how many incidents the facility currently serves.
func (r *Registry) Load(facilityID int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load[facilityID]
}

// SetFacilityVisibility shows or hides a fixed facility. It is a no-op when
// the facility is already in the requested state.
func (r *Registry) SetFacilityVisibility(id int, visible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.findFacility(id)
	if f == nil || !f.Fixed {
		return fmt.Errorf("%w: no fixed facility %d", ErrUnknownFacility, id)
	}
	if f.Visible == visible {
		return nil
	}

	r.setVisibleLocked(f, visible)
	r.recomputeLocked()
	return nil
}

// ToggleFacility flips the visibility of a fixed facility and reports the
// new state.
func (r *Registry) ToggleFacility(id int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.findFacility(id)
	if f == nil || !f.Fixed {
		return false, fmt.Errorf("%w: no fixed facility %d", ErrUnknownFacility, id)
	}

	r.setVisibleLocked(f, !f.Visible)
	r.recomputeLocked()
	return f.Visible, nil
}

// AddUserFacility registers a removable health center under the next
// unused id and reassigns incidents against the enlarged set.
func (r *Registry) AddUserFacility(name string, lat, lng float64) (Facility, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Facility{}, ErrInvalidName
	}
	if !finite(lat, lng) {
		return Facility{}, ErrInvalidCoordinate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	maxID := 0
	for _, f := range r.facilities {
		if f.ID > maxID {
			maxID = f.ID
		}
	}

	f := &Facility{ID: maxID + 1, Name: name, Lat: lat, Lng: lng, Visible: true}
	r.facilities = append(r.facilities, f)
	r.metrics.setLoad(f.ID, 0)
	r.log.Infof("Added facility %d %q at (%.6f, %.6f)", f.ID, f.Name, f.Lat, f.Lng)

	ev := r.event(EventFacilityAdded)
	ev.FacilityID = f.ID
	ev.Message = f.Name
	r.notifier.Publish(ev)

	r.recomputeLocked()
	return *f, nil
}

// RemoveFacility hides a fixed facility or deletes a user-added one, then
// reassigns every incident.
func (r *Registry) RemoveFacility(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.findFacility(id)
	if f == nil {
		return fmt.Errorf("%w: %d", ErrUnknownFacility, id)
	}

	if f.Fixed {
		if f.Visible {
			r.setVisibleLocked(f, false)
		}
	} else {
		for i, candidate := range r.facilities {
			if candidate.ID == id {
				r.facilities = append(r.facilities[:i], r.facilities[i+1:]...)
				break
			}
		}
		r.metrics.forgetFacility(id)
		r.log.Infof("Removed facility %d %q", f.ID, f.Name)

		ev := r.event(EventFacilityRemoved)
		ev.FacilityID = id
		r.notifier.Publish(ev)
	}

	r.recomputeLocked()
	return nil
}

// ReportIncident assigns a new incident to the nearest visible facility
// that still has capacity. When every facility is saturated it returns
// ErrNoEligibleFacility and changes nothing.
func (r *Registry) ReportIncident(lat, lng float64) (Incident, error) {
	if !finite(lat, lng) {
		return Incident{}, ErrInvalidCoordinate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inc, err := r.placeLocked(r.nextIncident, lat, lng, r.now())
	if err != nil {
		r.metrics.incidentRejected()
		r.log.Warnf("Rejected incident at (%.6f, %.6f): %v", lat, lng, err)

		ev := r.event(EventIncidentRejected)
		ev.Message = err.Error()
		r.notifier.Publish(ev)
		return Incident{}, err
	}
	r.nextIncident++
	return inc.clone(), nil
}

// RemoveIncident deletes an incident and frees its slot at the facility.
func (r *Registry) RemoveIncident(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, inc := r.findIncident(id)
	if inc == nil {
		return fmt.Errorf("%w: %d", ErrUnknownIncident, id)
	}
	r.incidents = append(r.incidents[:idx], r.incidents[idx+1:]...)

	before := r.load[inc.FacilityID]
	after := before - 1
	if after < 0 {
		after = 0
	}
	r.load[inc.FacilityID] = after
	r.metrics.setLoad(inc.FacilityID, after)
	r.log.Infof("Removed incident %d (facility %d now at %d/%d)", id, inc.FacilityID, after, r.capacity)

	ev := r.event(EventIncidentRemoved)
	ev.IncidentID = id
	ev.FacilityID = inc.FacilityID
	r.notifier.Publish(ev)

	if before >= r.capacity-1 && after < r.capacity-1 {
		r.publishLoad(EventFacilityDesaturated, inc.FacilityID, after)
	}
	return nil
}

// RecomputeAllIncidents clears every assignment and replays the incidents in
// creation order against the current facility set.
func (r *Registry) RecomputeAllIncidents() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recomputeLocked()
}

func (r *Registry) recomputeLocked() {
	r.log.Infof("=== Recomputing %d incidents against %d visible facilities ===", len(r.incidents), r.visibleCount())

	snapshot := r.incidents
	r.incidents = nil

	for facilityID, n := range r.load {
		if n >= r.capacity-1 && r.findFacility(facilityID) != nil {
			r.publishLoad(EventFacilityDesaturated, facilityID, 0)
		}
	}
	r.load = make(map[int]int)
	for _, f := range r.facilities {
		r.metrics.setLoad(f.ID, 0)
	}

	for _, old := range snapshot {
		if _, err := r.placeLocked(old.ID, old.Lat, old.Lng, old.ReportedAt); err != nil {
			r.log.Warnf("Dropped incident %d at (%.6f, %.6f): %v", old.ID, old.Lat, old.Lng, err)

			ev := r.event(EventIncidentDropped)
			ev.IncidentID = old.ID
			ev.FacilityID = old.FacilityID
			ev.Message = err.Error()
			r.notifier.Publish(ev)
		}
	}

	r.metrics.recomputation()
	ev := r.event(EventIncidentsRecomputed)
	ev.Count = len(r.incidents)
	r.notifier.Publish(ev)
	r.log.Infof("=== Recompute completed: %d of %d incidents placed ===", len(r.incidents), len(snapshot))
}

// placeLocked selects a facility for the point, builds the informational
// route and records the incident under id.
func (r *Registry) placeLocked(id int, lat, lng float64, reportedAt time.Time) (*Incident, error) {
	at := routing.Coordinate{Lat: lat, Lng: lng}

	visible := make([]routing.Node, 0, len(r.facilities))
	candidates := make([]routing.Candidate, 0, len(r.facilities))
	for _, f := range r.facilities {
		if !f.Visible {
			continue
		}
		visible = append(visible, f.node())
		candidates = append(candidates, routing.Candidate{Node: f.node(), Load: r.load[f.ID]})
	}

	chosen, err := routing.SelectEligible(candidates, at, r.capacity)
	if err != nil {
		return nil, err
	}

	fromPath, err := r.pathFromIncident(visible, at, chosen.Node.ID)
	if err != nil {
		return nil, fmt.Errorf("build route for incident %d: %w", id, err)
	}

	inc := &Incident{
		ID:         id,
		Lat:        lat,
		Lng:        lng,
		FacilityID: chosen.Node.ID.Facility,
		Distance:   chosen.Distance,
		ReportedAt: reportedAt,
		ToRoute:    []routing.Coordinate{chosen.Node.Coordinate(), at},
	}
	inc.DistanceM = routing.HaversineDistance(chosen.Node.Coordinate(), at)
	inc.EtaSec = routing.EstimateDriveSeconds(inc.DistanceM)
	for _, hop := range fromPath {
		inc.FromPath = append(inc.FromPath, hop.String())
		if hop.IsIncident() {
			inc.FromRoute = append(inc.FromRoute, at)
			continue
		}
		inc.FromRoute = append(inc.FromRoute, r.findFacility(hop.Facility).Coordinate())
	}

	r.incidents = append(r.incidents, inc)
	r.load[inc.FacilityID]++
	n := r.load[inc.FacilityID]
	r.metrics.setLoad(inc.FacilityID, n)
	r.metrics.incidentReported()
	r.log.Infof("Incident %d at (%.6f, %.6f) assigned to facility %d (%d/%d)",
		inc.ID, lat, lng, inc.FacilityID, n, r.capacity)

	ev := r.event(EventIncidentCreated)
	ev.IncidentID = inc.ID
	ev.FacilityID = inc.FacilityID
	ev.Count = n
	r.notifier.Publish(ev)

	if n == r.capacity-1 {
		r.publishLoad(EventFacilitySaturated, inc.FacilityID, n)
	}
	return inc, nil
}

// pathFromIncident runs Dijkstra over the incident plus the visible
// facilities and returns the predecessor chain from the incident to target.
func (r *Registry) pathFromIncident(visible []routing.Node, at routing.Coordinate, target routing.NodeID) ([]routing.NodeID, error) {
	g, err := routing.BuildGraph(visible, &routing.Node{Lat: at.Lat, Lng: at.Lng, Name: "Accidente"})
	if err != nil {
		return nil, err
	}
	sp, err := routing.Dijkstra(g, routing.IncidentMarker)
	if err != nil {
		return nil, err
	}
	path := sp.PathTo(target)
	if path == nil {
		return nil, fmt.Errorf("%w: %s", routing.ErrNoReachableNode, target)
	}
	return path, nil
}

func (r *Registry) setVisibleLocked(f *Facility, visible bool) {
	f.Visible = visible
	kind := EventFacilityHidden
	if visible {
		kind = EventFacilityShown
	}
	r.log.Infof("Facility %d %q is now %s", f.ID, f.Name, strings.TrimPrefix(string(kind), "facility."))

	ev := r.event(kind)
	ev.FacilityID = f.ID
	r.notifier.Publish(ev)
}

func (r *Registry) publishLoad(kind EventKind, facilityID, count int) {
	ev := r.event(kind)
	ev.FacilityID = facilityID
	ev.Count = count
	r.notifier.Publish(ev)
}

func (r *Registry) event(kind EventKind) Event {
	return newEvent(kind, r.now())
}

func (r *Registry) findFacility(id int) *Facility {
	for _, f := range r.facilities {
		if f.ID == id {
			return f
		}
	}
	return nil
}

func (r *Registry) findIncident(id int) (int, *Incident) {
	for i, inc := range r.incidents {
		if inc.ID == id {
			return i, inc
		}
	}
	return -1, nil
}

func (r *Registry) visibleCount() int {
	n := 0
	for _, f := range r.facilities {
		if f.Visible {
			n++
		}
	}
	return n
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
