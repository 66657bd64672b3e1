package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backlog_documents_processed_total",
			Help: "Bulletin documents processed by outcome status and reason",
		},
		[]string{"status", "reason"},
	)

	tablesExtractedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backlog_tables_extracted_total",
			Help: "Family-sponsored tables extracted by table type",
		},
		[]string{"table_type"},
	)

	rowsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backlog_rows_emitted_total",
			Help: "Backlog rows written by country",
		},
		[]string{"country"},
	)

	rowsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backlog_rows_dropped_total",
			Help: "Rows dropped by country and cause (unrecognized_level, undated)",
		},
		[]string{"country", "cause"},
	)

	runDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backlog_run_duration_seconds",
			Help:    "Duration of a full bulletin scrape",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		},
	)
)
