package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for profile sync. A nil *Metrics
// is valid and records nothing.
//
// Metrics:
//   - tracker_path_resolutions_total{outcome} - cached, unscoped, root, scoped or default
//   - tracker_profile_saves_total{result} - ok or error
//   - tracker_remote_updates_total - profile updates delivered by listeners
//   - tracker_active_listeners - listeners currently attached
type Metrics struct {
	PathResolutions *prometheus.CounterVec
	ProfileSaves    *prometheus.CounterVec
	RemoteUpdates   prometheus.Counter
	ActiveListeners prometheus.Gauge
}

// New registers the collectors with reg. Use a fresh prometheus.NewRegistry
// in tests to avoid duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PathResolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_path_resolutions_total",
				Help: "Logical key resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ProfileSaves: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_profile_saves_total",
				Help: "Profile writes by result",
			},
			[]string{"result"},
		),
		RemoteUpdates: f.NewCounter(prometheus.CounterOpts{
			Name: "tracker_remote_updates_total",
			Help: "Profile updates delivered by listeners",
		}),
		ActiveListeners: f.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_listeners",
			Help: "Profile listeners currently attached",
		}),
	}
}

func (m *Metrics) ObserveResolution(outcome string) {
	if m == nil {
		return
	}
	m.PathResolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSave(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProfileSaves.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRemoteUpdate() {
	if m == nil {
		return
	}
	m.RemoteUpdates.Inc()
}

func (m *Metrics) ListenerAttached() {
	if m == nil {
		return
	}
	m.ActiveListeners.Inc()
}

func (m *Metrics) ListenerDetached() {
	if m == nil {
		return
	}
	m.ActiveListeners.Dec()
}
