// Package metrics holds the prometheus collectors shared across the
// sidechannel, autopost and oracle engines, grounded on the teacher's own
// HealthLogger: an owned registry plus explicit gauge/counter fields,
// registered once at construction and exposed over promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors bundles every counter and gauge this node exposes.
type Collectors struct {
	registry *prometheus.Registry

	SidechannelAdmissionDrops *prometheus.CounterVec
	SidechannelRelayedTotal   prometheus.Counter
	SidechannelConnections    prometheus.Gauge

	AutopostRunsTotal prometheus.Counter
	AutopostStopsTotal *prometheus.CounterVec

	OracleTickDurationSeconds prometheus.Histogram
	OracleTickOk              prometheus.Gauge
}

// New builds and registers every collector against a fresh registry.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		registry: reg,
		SidechannelAdmissionDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sidechannel_admission_drops_total",
			Help: "Payloads dropped by the admission pipeline, labeled by reason.",
		}, []string{"reason"}),
		SidechannelRelayedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sidechannel_relayed_total",
			Help: "Payloads forwarded by the relay step.",
		}),
		SidechannelConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sidechannel_connections",
			Help: "Currently tracked peer connections.",
		}),
		AutopostRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopost_runs_total",
			Help: "Successful autopost job runs.",
		}),
		AutopostStopsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopost_stops_total",
			Help: "Terminal autopost job stops, labeled by reason.",
		}, []string{"reason"}),
		OracleTickDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oracle_tick_duration_seconds",
			Help:    "Wall-clock duration of one price oracle tick.",
			Buckets: prometheus.DefBuckets,
		}),
		OracleTickOk: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oracle_tick_ok",
			Help: "1 if the most recent oracle snapshot was fully ok, else 0.",
		}),
	}

	reg.MustRegister(
		c.SidechannelAdmissionDrops,
		c.SidechannelRelayedTotal,
		c.SidechannelConnections,
		c.AutopostRunsTotal,
		c.AutopostStopsTotal,
		c.OracleTickDurationSeconds,
		c.OracleTickOk,
	)
	return c
}

// Handler returns the promhttp handler for this Collectors' registry.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
