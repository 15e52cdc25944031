// Package metrics exposes the stream state as Prometheus collectors.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmacdonaldsmith/quotestream/internal/reducer"
	"github.com/rmacdonaldsmith/quotestream/pkg/transport"
)

const namespace = "quotestream"

// Drop reasons.
const (
	DropMalformed = "malformed"
	DropStale     = "stale_session"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	MessagesReceived    *prometheus.CounterVec
	MessagesDropped     *prometheus.CounterVec
	ReconnectsScheduled *prometheus.CounterVec
	ApplyDuration       prometheus.Histogram
	LogSize             prometheus.Gauge
	Duplicates          prometheus.Gauge
	Subscriptions       prometheus.Gauge
	ConnectionStatus    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of inbound message bodies by message type",
			},
			[]string{"type"},
		),
		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Total number of inbound messages dropped before reaching the log",
			},
			[]string{"reason"},
		),
		ReconnectsScheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "reconnects_scheduled_total",
				Help:      "Total number of reconnect attempts scheduled",
			},
			[]string{"reason"},
		),
		ApplyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reducer",
				Name:      "apply_duration_seconds",
				Help:      "Time spent applying one event to the stream state",
				Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
		),
		LogSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "log",
				Name:      "records",
				Help:      "Number of records in the message log",
			},
		),
		Duplicates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "log",
				Name:      "duplicates",
				Help:      "Number of log records flagged duplicate",
			},
		),
		Subscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "subscriptions",
				Name:      "active",
				Help:      "Number of live topic subscriptions",
			},
		),
		ConnectionStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "status",
				Help:      "Connection status (0=disconnected, 1=initializing, 2=connected)",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.MessagesReceived,
		m.MessagesDropped,
		m.ReconnectsScheduled,
		m.ApplyDuration,
		m.LogSize,
		m.Duplicates,
		m.Subscriptions,
		m.ConnectionStatus,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// RecordMessageReceived counts an inbound body of the given message type.
func (m *Metrics) RecordMessageReceived(messageType string) {
	if m == nil {
		return
	}
	if messageType == "" {
		messageType = "none"
	}
	m.MessagesReceived.WithLabelValues(messageType).Inc()
}

// RecordMessageDropped counts a dropped message.
func (m *Metrics) RecordMessageDropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// RecordReconnectScheduled counts a scheduled reconnect.
func (m *Metrics) RecordReconnectScheduled(reason string) {
	if m == nil {
		return
	}
	m.ReconnectsScheduled.WithLabelValues(reason).Inc()
}

// RecordApply observes how long one Apply took.
func (m *Metrics) RecordApply(d time.Duration) {
	if m == nil {
		return
	}
	m.ApplyDuration.Observe(d.Seconds())
}

// RecordState updates the gauges from s.
func (m *Metrics) RecordState(s reducer.State) {
	if m == nil {
		return
	}
	m.LogSize.Set(float64(len(s.Log)))
	m.Duplicates.Set(float64(s.Duplicates()))
	m.Subscriptions.Set(float64(s.Subscriptions.Len()))
	m.ConnectionStatus.Set(statusValue(s.Status))
}

func statusValue(s transport.Status) float64 {
	switch s {
	case transport.Initializing:
		return 1
	case transport.Connected:
		return 2
	default:
		return 0
	}
}
