package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grace_turns_total",
			Help: "Total number of inbound customer turns by outcome",
		},
		[]string{"tenant_id", "outcome"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grace_turn_duration_seconds",
			Help:    "Duration of a full dialogue turn in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16},
		},
		[]string{"tenant_id"},
	)

	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grace_stage_transitions_total",
			Help: "Funnel stage transitions",
		},
		[]string{"from", "to"},
	)

	IntentsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grace_intents_total",
			Help: "Classified intents by label and source",
		},
		[]string{"label", "source"},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grace_tool_calls_total",
			Help: "Tool gateway invocations by kind and failure reason",
		},
		[]string{"kind", "reason"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "grace_tool_duration_seconds",
			Help: "Duration of tool calls in seconds",
		},
		[]string{"kind"},
	)

	SessionsArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grace_sessions_archived_total",
			Help: "Sessions archived for inactivity",
		},
	)

	TenantSnapshotVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grace_tenant_snapshot_version",
			Help: "Version of the active tenant routing table",
		},
	)
)
