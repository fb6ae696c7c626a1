package dispatch

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes registry activity to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	reported     prometheus.Counter
	rejected     prometheus.Counter
	recomputed   prometheus.Counter
	facilityLoad *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_incidents_reported_total",
			Help: "Count of incidents assigned to a facility, replays included",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_incidents_rejected_total",
			Help: "Count of incident reports refused because every facility was saturated",
		}),
		recomputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_recomputations_total",
			Help: "Count of full incident reassignments",
		}),
		facilityLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatch_facility_load",
			Help: "Incidents currently assigned to each facility",
		}, []string{"facility"}),
	}
	reg.MustRegister(m.reported, m.rejected, m.recomputed, m.facilityLoad)
	return m
}

func (m *Metrics) incidentReported() {
	if m == nil {
		return
	}
	m.reported.Inc()
}

func (m *Metrics) incidentRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Metrics) recomputation() {
	if m == nil {
		return
	}
	m.recomputed.Inc()
}

func (m *Metrics) setLoad(facilityID, load int) {
	if m == nil {
		return
	}
	m.facilityLoad.WithLabelValues(strconv.Itoa(facilityID)).Set(float64(load))
}

func (m *Metrics) forgetFacility(facilityID int) {
	if m == nil {
		return
	}
	m.facilityLoad.DeleteLabelValues(strconv.Itoa(facilityID))
}
