// Package metrics exports inkbridge telemetry to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inkbridge"

// Outcome labels shared across collectors.
const (
	OutcomeOK           = "ok"
	OutcomeError        = "error"
	OutcomeDisconnected = "disconnected"
	OutcomeEmpty        = "empty"
	OutcomeTimeout      = "timeout"
)

// Metrics holds the inkbridge collectors.
type Metrics struct {
	registry prometheus.Gatherer

	contentSent        *prometheus.CounterVec
	debounceSuperseded prometheus.Counter
	normalizeRepairs   *prometheus.CounterVec
	uploads            *prometheus.CounterVec
	uploadDuration     prometheus.Histogram
	attachments        *prometheus.GaugeVec
	bridgeCalls        *prometheus.CounterVec
	bridgeDuration     *prometheus.HistogramVec
	bridgeEvents       *prometheus.CounterVec
	bridgeConnected    prometheus.Gauge
}

// New creates and registers the collectors on reg. A nil reg registers on a
// fresh private registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		contentSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_changed_total",
			Help:      "Content changed notifications by send outcome.",
		}, []string{"outcome"}),
		debounceSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debounce_superseded_total",
			Help:      "Pending content snapshots replaced by a newer edit before sending.",
		}),
		normalizeRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalize_repairs_total",
			Help:      "Markup fragments rewritten by the normalizer.",
		}, []string{"rule"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Finished attachment uploads by kind and outcome.",
		}, []string{"kind", "outcome"}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Time from dispatching a file to the host until its reply.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		attachments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attachments",
			Help:      "Attachments currently tracked by state.",
		}, []string{"state"}),
		bridgeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_calls_total",
			Help:      "Outbound bridge requests by channel and outcome.",
		}, []string{"channel", "outcome"}),
		bridgeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bridge_call_duration_seconds",
			Help:      "Outbound bridge request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		bridgeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_events_total",
			Help:      "Bridge events by channel and direction.",
		}, []string{"channel", "direction"}),
		bridgeConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_connected",
			Help:      "1 while a bridge peer is connected.",
		}),
	}

	collectors := []prometheus.Collector{
		m.contentSent, m.debounceSuperseded, m.normalizeRepairs,
		m.uploads, m.uploadDuration, m.attachments,
		m.bridgeCalls, m.bridgeDuration, m.bridgeEvents, m.bridgeConnected,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ContentSent records the outcome of one content changed notification.
func (m *Metrics) ContentSent(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.contentSent.WithLabelValues(OutcomeError).Inc()
		return
	}
	m.contentSent.WithLabelValues(OutcomeOK).Inc()
}

// DebounceSuperseded records a pending snapshot replaced before it was sent.
func (m *Metrics) DebounceSuperseded() {
	if m == nil {
		return
	}
	m.debounceSuperseded.Inc()
}

// NormalizeRepairs records rewritten list and embed fragments.
func (m *Metrics) NormalizeRepairs(lists, embeds int) {
	if m == nil {
		return
	}
	if lists > 0 {
		m.normalizeRepairs.WithLabelValues("list").Add(float64(lists))
	}
	if embeds > 0 {
		m.normalizeRepairs.WithLabelValues("video_embed").Add(float64(embeds))
	}
}

// UploadFinished records a terminal upload result.
func (m *Metrics) UploadFinished(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(kind, outcome).Inc()
	m.uploadDuration.Observe(d.Seconds())
}

// AttachmentMoved shifts the per-state gauge for one transition. An empty
// from means the attachment was just created; an empty to means it was
// dropped from the registry.
func (m *Metrics) AttachmentMoved(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.attachments.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.attachments.WithLabelValues(to).Inc()
	}
}

// BridgeCall records an outbound request.
func (m *Metrics) BridgeCall(channel, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.bridgeCalls.WithLabelValues(channel, outcome).Inc()
	m.bridgeDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// BridgeEvent records a one-way event. direction is "in" or "out".
func (m *Metrics) BridgeEvent(channel, direction string) {
	if m == nil {
		return
	}
	m.bridgeEvents.WithLabelValues(channel, direction).Inc()
}

// SetConnected flips the connection gauge.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.bridgeConnected.Set(1)
		return
	}
	m.bridgeConnected.Set(0)
}
