package dispatch_test

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-route-server/dispatch"
	"dispatch-route-server/routing"
)

type recorder struct {
	mu     sync.Mutex
	events []dispatch.Event
}

func (r *recorder) Publish(ev dispatch.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []dispatch.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dispatch.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recorder) find(kind dispatch.EventKind) []dispatch.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dispatch.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func twoFacilities() []dispatch.Facility {
	return []dispatch.Facility{
		{ID: 1, Name: "Near", Lat: 0, Lng: 0, Fixed: true},
		{ID: 2, Name: "Far", Lat: 10, Lng: 10, Fixed: true},
	}
}

func newRegistry(t *testing.T, seeds []dispatch.Facility, opts ...dispatch.Option) (*dispatch.Registry, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]dispatch.Option{dispatch.WithNotifier(rec)}, opts...)
	reg, err := dispatch.NewRegistry(seeds, opts...)
	require.NoError(t, err)
	return reg, rec
}

func assignments(reg *dispatch.Registry) map[int]int {
	out := make(map[int]int)
	for _, inc := range reg.Incidents() {
		out[inc.ID] = inc.FacilityID
	}
	return out
}

func TestNewRegistry_DuplicateSeed(t *testing.T) {
	_, err := dispatch.NewRegistry([]dispatch.Facility{{ID: 1, Name: "a"}, {ID: 1, Name: "b"}})
	assert.Error(t, err)
}

func TestNewRegistry_DefaultFacilities(t *testing.T) {
	reg, _ := newRegistry(t, dispatch.DefaultFacilities())

	facilities := reg.Facilities()
	require.Len(t, facilities, 10)
	for i, f := range facilities {
		assert.Equal(t, i+1, f.ID)
		assert.True(t, f.Fixed)
		assert.True(t, f.Visible)
	}
	assert.Equal(t, routing.Capacity, reg.Capacity())
}

func TestReportIncident_FallsBackWhenNearestIsSaturated(t *testing.T) {
	reg, rec := newRegistry(t, twoFacilities())

	for i := 0; i < 5; i++ {
		inc, err := reg.ReportIncident(0.1, 0.1)
		require.NoError(t, err)
		assert.Equal(t, 1, inc.FacilityID)
		assert.Equal(t, i+1, inc.ID)
	}
	assert.Equal(t, 5, reg.Load(1))

	sixth, err := reg.ReportIncident(0.1, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 2, sixth.FacilityID)
	assert.Equal(t, 5, reg.Load(1))
	assert.Equal(t, 1, reg.Load(2))

	saturated := rec.find(dispatch.EventFacilitySaturated)
	require.Len(t, saturated, 1)
	assert.Equal(t, 1, saturated[0].FacilityID)
	assert.Equal(t, 4, saturated[0].Count)
}

func TestReportIncident_AllSaturated(t *testing.T) {
	reg, rec := newRegistry(t, twoFacilities(), dispatch.WithCapacity(1))

	_, err := reg.ReportIncident(0, 0)
	require.NoError(t, err)
	_, err = reg.ReportIncident(0, 0)
	require.NoError(t, err)

	before := reg.Incidents()
	rec.reset()

	_, err = reg.ReportIncident(1, 1)
	assert.ErrorIs(t, err, dispatch.ErrNoEligibleFacility)
	assert.Equal(t, before, reg.Incidents())
	assert.Equal(t, 1, reg.Load(1))
	assert.Equal(t, 1, reg.Load(2))
	assert.Equal(t, []dispatch.EventKind{dispatch.EventIncidentRejected}, rec.kinds())

	// Freeing a slot makes the next report succeed with a fresh id.
	require.NoError(t, reg.RemoveIncident(1))
	inc, err := reg.ReportIncident(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, inc.FacilityID)
	assert.Equal(t, 3, inc.ID)
}

func TestReportIncident_InvalidCoordinate(t *testing.T) {
	reg, _ := newRegistry(t, twoFacilities())
	_, err := reg.ReportIncident(math.NaN(), 0)
	assert.ErrorIs(t, err, dispatch.ErrInvalidCoordinate)
	_, err = reg.ReportIncident(0, math.Inf(1))
	assert.ErrorIs(t, err, dispatch.ErrInvalidCoordinate)
}

func TestReportIncident_Routes(t *testing.T) {
	reg, _ := newRegistry(t, twoFacilities())

	inc, err := reg.ReportIncident(1, 2)
	require.NoError(t, err)

	assert.InDelta(t, math.Sqrt(5), inc.Distance, 1e-12)
	assert.Equal(t, []routing.Coordinate{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 2}}, inc.ToRoute)

	require.NotEmpty(t, inc.FromRoute)
	assert.Equal(t, routing.Coordinate{Lat: 1, Lng: 2}, inc.FromRoute[0])
	assert.Equal(t, routing.Coordinate{Lat: 0, Lng: 0}, inc.FromRoute[len(inc.FromRoute)-1])
	assert.Equal(t, []string{"incident", "facility:1"}, inc.FromPath)
}

func TestCapacityInvariant(t *testing.T) {
	seeds := []dispatch.Facility{
		{ID: 1, Name: "a", Lat: 0, Lng: 0, Fixed: true},
		{ID: 2, Name: "b", Lat: 5, Lng: 0, Fixed: true},
		{ID: 3, Name: "c", Lat: 0, Lng: 5, Fixed: true},
	}
	reg, _ := newRegistry(t, seeds)
	rng := rand.New(rand.NewSource(1))

	check := func() {
		total := 0
		for _, f := range reg.Facilities() {
			load := reg.Load(f.ID)
			require.GreaterOrEqual(t, load, 0)
			require.LessOrEqual(t, load, reg.Capacity())
			total += load
		}
		require.Equal(t, len(reg.Incidents()), total)
	}

	for step := 0; step < 200; step++ {
		switch op := rng.Intn(10); {
		case op < 6:
			_, err := reg.ReportIncident(rng.Float64()*5, rng.Float64()*5)
			if err != nil {
				require.ErrorIs(t, err, dispatch.ErrNoEligibleFacility)
			}
		case op < 8:
			incidents := reg.Incidents()
			if len(incidents) > 0 {
				require.NoError(t, reg.RemoveIncident(incidents[rng.Intn(len(incidents))].ID))
			}
		default:
			_, err := reg.ToggleFacility(1 + rng.Intn(3))
			require.NoError(t, err)
		}
		check()
	}
}

func TestRemoveIncident(t *testing.T) {
	reg, rec := newRegistry(t, twoFacilities())

	for i := 0; i < 4; i++ {
		_, err := reg.ReportIncident(0, 0)
		require.NoError(t, err)
	}
	rec.reset()

	err := reg.RemoveIncident(99)
	assert.ErrorIs(t, err, dispatch.ErrUnknownIncident)

	require.NoError(t, reg.RemoveIncident(2))
	assert.Equal(t, 3, reg.Load(1))
	_, err = reg.Incident(2)
	assert.ErrorIs(t, err, dispatch.ErrUnknownIncident)

	assert.Equal(t, []dispatch.EventKind{dispatch.EventIncidentRemoved, dispatch.EventFacilityDesaturated}, rec.kinds())

	rec.reset()
	require.NoError(t, reg.RemoveIncident(3))
	assert.Equal(t, []dispatch.EventKind{dispatch.EventIncidentRemoved}, rec.kinds())
}

func TestRecompute_Idempotent(t *testing.T) {
	reg, _ := newRegistry(t, dispatch.DefaultFacilities())
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 30; i++ {
		_, err := reg.ReportIncident(5.53+rng.Float64()*0.04, -73.37+rng.Float64()*0.03)
		require.NoError(t, err)
	}

	reg.RecomputeAllIncidents()
	first := assignments(reg)
	reg.RecomputeAllIncidents()
	second := assignments(reg)

	assert.Len(t, first, 30)
	assert.Equal(t, first, second)
}

func TestRecompute_KeepsCreationOrder(t *testing.T) {
	seeds := []dispatch.Facility{
		{ID: 1, Name: "a", Lat: 0, Lng: 0, Fixed: true},
		{ID: 2, Name: "b", Lat: 10, Lng: 0, Fixed: true},
	}
	reg, _ := newRegistry(t, seeds, dispatch.WithCapacity(1))

	// The first incident claims facility 1 even though the second one is
	// closer to it.
	first, err := reg.ReportIncident(4, 0)
	require.NoError(t, err)
	second, err := reg.ReportIncident(3, 0)
	require.NoError(t, err)
	require.Equal(t, 1, first.FacilityID)
	require.Equal(t, 2, second.FacilityID)

	reg.RecomputeAllIncidents()
	assert.Equal(t, map[int]int{first.ID: 1, second.ID: 2}, assignments(reg))

	ids := []int{}
	for _, inc := range reg.Incidents() {
		ids = append(ids, inc.ID)
	}
	assert.Equal(t, []int{first.ID, second.ID}, ids)
}

func TestRemoveFacility_ReassignsIncidents(t *testing.T) {
	seeds := []dispatch.Facility{
		{ID: 1, Name: "a", Lat: 0, Lng: 0, Fixed: true},
		{ID: 2, Name: "b", Lat: 2, Lng: 0, Fixed: true},
		{ID: 3, Name: "c", Lat: 20, Lng: 0, Fixed: true},
	}
	reg, _ := newRegistry(t, seeds)

	for i := 0; i < 3; i++ {
		inc, err := reg.ReportIncident(0.1, 0)
		require.NoError(t, err)
		require.Equal(t, 1, inc.FacilityID)
	}

	require.NoError(t, reg.RemoveFacility(1))

	f, err := reg.Facility(1)
	require.NoError(t, err, "fixed facilities are hidden, never deleted")
	assert.False(t, f.Visible)

	incidents := reg.Incidents()
	require.Len(t, incidents, 3)
	for _, inc := range incidents {
		assert.Equal(t, 2, inc.FacilityID)
	}
	assert.Equal(t, 0, reg.Load(1))
	assert.Equal(t, 3, reg.Load(2))
}

func TestRemoveFacility_UserAdded(t *testing.T) {
	reg, rec := newRegistry(t, twoFacilities())

	_, err := reg.ReportIncident(3, 3)
	require.NoError(t, err)

	added, err := reg.AddUserFacility("  Centro Norte ", 3, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, added.ID)
	assert.Equal(t, "Centro Norte", added.Name)
	assert.False(t, added.Fixed)

	// The incident moves to the new, closer facility.
	inc, err := reg.Incident(1)
	require.NoError(t, err)
	assert.Equal(t, 3, inc.FacilityID)

	// User facilities cannot be hidden, only removed.
	err = reg.SetFacilityVisibility(3, false)
	assert.ErrorIs(t, err, dispatch.ErrUnknownFacility)

	rec.reset()
	require.NoError(t, reg.RemoveFacility(3))
	_, err = reg.Facility(3)
	assert.ErrorIs(t, err, dispatch.ErrUnknownFacility)

	inc, err = reg.Incident(1)
	require.NoError(t, err)
	assert.Equal(t, 1, inc.FacilityID)
	assert.Contains(t, rec.kinds(), dispatch.EventFacilityRemoved)
	assert.Contains(t, rec.kinds(), dispatch.EventIncidentsRecomputed)

	err = reg.RemoveFacility(3)
	assert.ErrorIs(t, err, dispatch.ErrUnknownFacility)
}

func TestAddUserFacility(t *testing.T) {
	reg, _ := newRegistry(t, dispatch.DefaultFacilities())

	_, err := reg.AddUserFacility("   ", 5.5, -73.3)
	assert.ErrorIs(t, err, dispatch.ErrInvalidName)
	_, err = reg.AddUserFacility("x", math.NaN(), -73.3)
	assert.ErrorIs(t, err, dispatch.ErrInvalidCoordinate)

	f, err := reg.AddUserFacility("Centro de Salud", 5.5, -73.3)
	require.NoError(t, err)
	assert.Equal(t, 11, f.ID)
	assert.True(t, f.Visible)

	// Hidden facilities still count towards the next id.
	require.NoError(t, reg.SetFacilityVisibility(10, false))
	g, err := reg.AddUserFacility("Otro", 5.5, -73.3)
	require.NoError(t, err)
	assert.Equal(t, 12, g.ID)

	empty, _ := newRegistry(t, nil)
	first, err := empty.AddUserFacility("Primero", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ID)
}

func TestSetFacilityVisibility(t *testing.T) {
	reg, rec := newRegistry(t, twoFacilities())

	assert.ErrorIs(t, reg.SetFacilityVisibility(42, false), dispatch.ErrUnknownFacility)

	// Already visible: nothing happens.
	require.NoError(t, reg.SetFacilityVisibility(1, true))
	assert.Empty(t, rec.kinds())

	_, err := reg.ReportIncident(0, 0)
	require.NoError(t, err)
	rec.reset()

	require.NoError(t, reg.SetFacilityVisibility(1, false))
	kinds := rec.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, dispatch.EventFacilityHidden, kinds[0])
	assert.Equal(t, dispatch.EventIncidentsRecomputed, kinds[len(kinds)-1])

	inc, err := reg.Incident(1)
	require.NoError(t, err)
	assert.Equal(t, 2, inc.FacilityID)

	visible, err := reg.ToggleFacility(1)
	require.NoError(t, err)
	assert.True(t, visible)

	inc, err = reg.Incident(1)
	require.NoError(t, err)
	assert.Equal(t, 1, inc.FacilityID)
}

func TestRecompute_DropsUnplaceableIncidents(t *testing.T) {
	reg, rec := newRegistry(t, twoFacilities(), dispatch.WithCapacity(1))

	_, err := reg.ReportIncident(0, 0)
	require.NoError(t, err)
	_, err = reg.ReportIncident(10, 10)
	require.NoError(t, err)
	rec.reset()

	require.NoError(t, reg.SetFacilityVisibility(2, false))

	incidents := reg.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, 1, incidents[0].ID)

	dropped := rec.find(dispatch.EventIncidentDropped)
	require.Len(t, dropped, 1)
	assert.Equal(t, 2, dropped[0].IncidentID)
}

func TestRegistry_Metrics(t *testing.T) {
	promReg := prometheus.NewRegistry()
	metrics := dispatch.NewMetrics(promReg)
	reg, _ := newRegistry(t, twoFacilities(), dispatch.WithMetrics(metrics), dispatch.WithCapacity(1))

	_, err := reg.ReportIncident(0, 0)
	require.NoError(t, err)
	_, err = reg.ReportIncident(0, 0)
	require.NoError(t, err)
	_, err = reg.ReportIncident(0, 0)
	require.Error(t, err)
	reg.RecomputeAllIncidents()

	expected := `
# HELP dispatch_incidents_rejected_total Count of incident reports refused because every facility was saturated
# TYPE dispatch_incidents_rejected_total counter
dispatch_incidents_rejected_total 1
# HELP dispatch_recomputations_total Count of full incident reassignments
# TYPE dispatch_recomputations_total counter
dispatch_recomputations_total 1
`
	require.NoError(t, testutil.GatherAndCompare(promReg, strings.NewReader(expected),
		"dispatch_incidents_rejected_total", "dispatch_recomputations_total"))

	// One load series per facility.
	count, err := testutil.GatherAndCount(promReg, "dispatch_facility_load")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRegistry_Clock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	reg, rec := newRegistry(t, twoFacilities(), dispatch.WithClock(func() time.Time { return fixed }))

	inc, err := reg.ReportIncident(0, 0)
	require.NoError(t, err)
	assert.Equal(t, fixed, inc.ReportedAt)

	for _, ev := range rec.find(dispatch.EventIncidentCreated) {
		assert.Equal(t, fixed, ev.At)
		assert.NotEmpty(t, ev.ID)
	}
}
