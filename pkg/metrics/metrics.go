// Package metrics exposes Prometheus collectors for the tour engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TriggersTotal counts visit triggers by reason (dwell, drive_by, manual).
	TriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waytale_triggers_total",
		Help: "Total number of POI triggers emitted, by reason.",
	}, []string{"reason"})

	// ResolveStageTotal counts resolution attempts by stage and outcome.
	ResolveStageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waytale_resolve_stage_total",
		Help: "Total content resolution stage attempts, by stage and outcome.",
	}, []string{"stage", "outcome"})

	// ResolveDuration observes end-to-end resolution latency by final source.
	ResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "waytale_resolve_duration_seconds",
		Help:    "End-to-end content resolution latency, by final source kind.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"source"})

	// ContentUnavailableTotal counts triggers whose whole chain failed.
	ContentUnavailableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waytale_content_unavailable_total",
		Help: "Total triggers for which every content stage failed.",
	})

	// RegionsMonitored tracks the current monitored-region count.
	RegionsMonitored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waytale_regions_monitored",
		Help: "Current number of registered proximity regions.",
	})

	// RegionChurnTotal counts monitor register/deregister calls.
	RegionChurnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waytale_region_churn_total",
		Help: "Total region monitor registrations and deregistrations.",
	}, []string{"op"})

	// PlaybackCommandsTotal counts orchestrator commands by kind.
	PlaybackCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waytale_playback_commands_total",
		Help: "Total playback commands issued, by command.",
	}, []string{"command"})

	// SamplesRejectedTotal counts discarded position samples by reason.
	SamplesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waytale_samples_rejected_total",
		Help: "Total position samples rejected by the classifier, by reason.",
	}, []string{"reason"})

	// SignalLossTotal counts transitions into stale-signal state.
	SignalLossTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waytale_signal_loss_total",
		Help: "Total transitions into signal-lost state.",
	})
)
