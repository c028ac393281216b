// Package metrics exposes the Prometheus counters, gauges, and histograms
// surfaced by the SIP and SON diagnostics endpoint (§6, §11). Every method on
// *Registry is nil-receiver safe, so callers that run without a metrics
// server (e.g. unit tests) can pass a nil *Registry and skip the instrumentation
// without a conditional at every call site.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric this repository reports.
type Registry struct {
	reg *prometheus.Registry

	RouteUpdatesSent       prometheus.Counter
	RouteUpdatesReceived   prometheus.Counter
	RelaxationImprovements prometheus.Counter
	SegmentsForwarded      prometheus.Counter
	SegmentsDropped        prometheus.Counter

	SegmentsSent          *prometheus.CounterVec // by STCP role and type
	SegmentsRetransmitted prometheus.Counter

	NeighborLinksUp prometheus.Gauge
	LinkRTT         *prometheus.HistogramVec // seconds, by neighbor node id
}

// New builds a Registry with every metric registered under the "simplenet"
// namespace.
func New() *Registry {
	reg := prometheus.NewRegistry()
	ns := "simplenet"

	r := &Registry{
		reg: reg,
		RouteUpdatesSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "sip", Name: "route_updates_sent_total",
			Help: "Route-update broadcasts sent by this node.",
		}),
		RouteUpdatesReceived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "sip", Name: "route_updates_received_total",
			Help: "Route-update packets received from neighbors.",
		}),
		RelaxationImprovements: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "sip", Name: "relaxation_improvements_total",
			Help: "Bellman-Ford relaxation steps that lowered a distance-vector entry.",
		}),
		SegmentsForwarded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "sip", Name: "segments_forwarded_total",
			Help: "Transport segments handed to SON toward a resolved next hop.",
		}),
		SegmentsDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "sip", Name: "segments_dropped_total",
			Help: "Transport segments dropped for lack of a forwarding-table route.",
		}),
		SegmentsSent: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "stcp", Name: "segments_sent_total",
			Help: "STCP segments sent, by role and segment type.",
		}, []string{"role", "type"}),
		SegmentsRetransmitted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "stcp", Name: "segments_retransmitted_total",
			Help: "STCP segments retransmitted after a Go-Back-N timeout.",
		}),
		NeighborLinksUp: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "son", Name: "neighbor_links_up",
			Help: "Number of overlay neighbor links currently connected.",
		}),
		LinkRTT: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "son", Name: "neighbor_link_rtt_seconds",
			Help:    "Observed round-trip estimate per overlay neighbor link.",
			Buckets: prometheus.DefBuckets,
		}, []string{"neighbor"}),
	}

	return r
}

// Handler returns the HTTP handler to mount for Prometheus scraping.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) incRouteUpdateSent() {
	if r == nil {
		return
	}
	r.RouteUpdatesSent.Inc()
}

func (r *Registry) incRouteUpdateReceived() {
	if r == nil {
		return
	}
	r.RouteUpdatesReceived.Inc()
}

func (r *Registry) incRelaxationImprovement() {
	if r == nil {
		return
	}
	r.RelaxationImprovements.Inc()
}

func (r *Registry) incSegmentForwarded() {
	if r == nil {
		return
	}
	r.SegmentsForwarded.Inc()
}

func (r *Registry) incSegmentDropped() {
	if r == nil {
		return
	}
	r.SegmentsDropped.Inc()
}

// ObserveRouteUpdateSent records a broadcast route update.
func (r *Registry) ObserveRouteUpdateSent() { r.incRouteUpdateSent() }

// ObserveRouteUpdateReceived records an inbound route update.
func (r *Registry) ObserveRouteUpdateReceived() { r.incRouteUpdateReceived() }

// ObserveRelaxationImprovement records a Bellman-Ford improvement.
func (r *Registry) ObserveRelaxationImprovement() { r.incRelaxationImprovement() }

// ObserveSegmentForwarded records a segment handed to SON.
func (r *Registry) ObserveSegmentForwarded() { r.incSegmentForwarded() }

// ObserveSegmentDropped records a segment dropped for lack of a route.
func (r *Registry) ObserveSegmentDropped() { r.incSegmentDropped() }

// ObserveSegmentSent records an STCP segment transmission by role and type.
func (r *Registry) ObserveSegmentSent(role, segType string) {
	if r == nil {
		return
	}
	r.SegmentsSent.WithLabelValues(role, segType).Inc()
}

// ObserveRetransmission records a Go-Back-N retransmission.
func (r *Registry) ObserveRetransmission() {
	if r == nil {
		return
	}
	r.SegmentsRetransmitted.Inc()
}

// SetNeighborLinksUp records the current live-neighbor-link count.
func (r *Registry) SetNeighborLinksUp(n int) {
	if r == nil {
		return
	}
	r.NeighborLinksUp.Set(float64(n))
}

// ObserveLinkRTT records a round-trip estimate for a neighbor link.
func (r *Registry) ObserveLinkRTT(neighbor string, seconds float64) {
	if r == nil {
		return
	}
	r.LinkRTT.WithLabelValues(neighbor).Observe(seconds)
}
