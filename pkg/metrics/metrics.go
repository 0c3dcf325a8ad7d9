package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsLoadedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datamart_rows_loaded_total",
			Help: "Total number of rows bulk-loaded into dimension and fact tables",
		},
		[]string{"kind", "table"},
	)

	PopulationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datamart_population_total",
			Help: "Total number of population operations",
		},
		[]string{"kind", "status"},
	)

	PopulationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datamart_population_duration_seconds",
			Help:    "Duration of bulk population operations",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"kind"},
	)

	SchemaOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datamart_schema_operations_total",
			Help: "Total number of schema lifecycle operations (create, drop, truncate)",
		},
		[]string{"kind", "operation", "status"},
	)
)
