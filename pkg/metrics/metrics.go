// Package metrics defines the Prometheus instruments exported by the
// server. promauto registers everything with the default registry; the
// HTTP listener serves it at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts processed commands, labeled by command name and
	// outcome ("ok" or the error kind tag).
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hnswdb_commands_total",
			Help: "Total number of commands processed",
		},
		[]string{"command", "status"},
	)

	// CommandDuration measures command latency. Buckets span cached reads
	// up to large-graph insertions.
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hnswdb_command_duration_seconds",
			Help:    "Duration of command processing in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"command"},
	)

	// TotalVectors tracks the number of live nodes per index.
	TotalVectors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hnswdb_vectors_total",
			Help: "Total number of indexed vectors",
		},
		[]string{"index_name"},
	)
)
