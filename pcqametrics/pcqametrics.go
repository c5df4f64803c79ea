// SPDX-License-Identifier: MPL-2.0

// Package pcqametrics exports a pcqa.Analyzer's per-channel quality level
// as a Prometheus gauge and its statsUpdated events as a counter, using a
// dedicated registry so
// embedding applications choose when and how to serve it (mirroring the
// DefaultRegisterer/DefaultGatherer split used elsewhere in the corpus
// for Prometheus wiring).
package pcqametrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediaqual/pcqa"
)

var (
	defaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is a registry pre-populated with no collectors
	// other than what NewExporter registers on it.
	DefaultRegisterer prometheus.Registerer = defaultRegistry
	// DefaultGatherer points at the same registry as DefaultRegisterer.
	DefaultGatherer prometheus.Gatherer = defaultRegistry
)

// Handler returns an http.Handler serving DefaultGatherer in the
// Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultGatherer, promhttp.HandlerOpts{})
}

// Exporter mirrors each attached Analyzer's state onto a gauge per media
// kind, tagged with a caller-supplied label identifying the peer
// connection.
// The gauge value is the QualityLevel ordinal (0..5); NO_TRANSMITTED_DATA
// is 0 and GOOD is 4, UNKNOWN is 5 — callers graphing this should treat
// UNKNOWN as "no data" rather than "best quality".
type Exporter struct {
	level   *prometheus.GaugeVec
	updates *prometheus.CounterVec
}

// NewExporter registers its collectors with reg (use DefaultRegisterer
// to serve them from Handler) and returns an Exporter ready to attach to
// one or more Analyzers via Attach.
func NewExporter(reg prometheus.Registerer) *Exporter {
	e := &Exporter{
		level: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pcqa",
			Name:      "connection_quality_level",
			Help:      "Current QualityLevel ordinal per connection and media kind (0=NO_TRANSMITTED_DATA .. 4=GOOD, 5=UNKNOWN).",
		}, []string{"connection", "kind"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pcqa",
			Name:      "stats_updates_total",
			Help:      "Total statsUpdated events observed per connection and media kind.",
		}, []string{"connection", "kind"}),
	}
	reg.MustRegister(e.level, e.updates)
	return e
}

// Attach subscribes to a's four events for connection label and keeps
// the exported gauges current. It also seeds the gauges with a's
// Snapshot so a dashboard reflects reality immediately, before the next
// tick fires an event.
func (e *Exporter) Attach(connection string, a *pcqa.Analyzer) {
	snap := a.Snapshot()
	e.level.WithLabelValues(connection, "audio").Set(float64(snap.Audio))
	e.level.WithLabelValues(connection, "video").Set(float64(snap.Video))

	a.On(pcqa.EventQualityChangedAudio, func(_ *pcqa.Analyzer, v pcqa.QualityLevel) {
		e.level.WithLabelValues(connection, "audio").Set(float64(v))
	})
	a.On(pcqa.EventQualityChangedVideo, func(_ *pcqa.Analyzer, v pcqa.QualityLevel) {
		e.level.WithLabelValues(connection, "video").Set(float64(v))
	})
	a.On(pcqa.EventStatsUpdatedAudio, func(_ *pcqa.Analyzer, _ pcqa.QualityLevel) {
		e.updates.WithLabelValues(connection, "audio").Inc()
	})
	a.On(pcqa.EventStatsUpdatedVideo, func(_ *pcqa.Analyzer, _ pcqa.QualityLevel) {
		e.updates.WithLabelValues(connection, "video").Inc()
	})
}
