// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal tracks ingestion cycles by final status
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kpc",
			Subsystem: "ingest",
			Name:      "cycles_total",
			Help:      "Total number of ingestion cycles by status",
		},
		[]string{"status"},
	)

	// CycleDuration tracks ingestion cycle duration in seconds
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kpc",
			Subsystem: "ingest",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of ingestion cycles in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)

	// SourceOffersTotal tracks offers harvested per source
	SourceOffersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kpc",
			Subsystem: "ingest",
			Name:      "source_offers_total",
			Help:      "Total number of offers harvested per source",
		},
		[]string{"source"},
	)

	// SourceFailuresTotal tracks harvests that failed or panicked
	SourceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kpc",
			Subsystem: "ingest",
			Name:      "source_failures_total",
			Help:      "Total number of failed harvests per source",
		},
		[]string{"source"},
	)

	// MappingsCreatedTotal tracks mappings written by the matching engine
	MappingsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kpc",
			Subsystem: "matching",
			Name:      "mappings_created_total",
			Help:      "Total number of store item to product mappings created",
		},
	)
)
