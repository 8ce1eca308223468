/*
metrics.go - Prometheus instrumentation for the mutation engine

PURPOSE:
  Counters and histograms around the commit path and the secondary
  snapshot, registered on the default registry. The api package serves
  them on /metrics via promhttp.

METRICS:
  materials_engine_commits_total{source,result}
  materials_engine_commit_duration_seconds{result}
  materials_engine_preview_rejections_total{reason}
  materials_snapshot_writes_total{result}
  materials_snapshot_fallback_reads_total
*/
package materials

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warp/materials-engine/catalog"
)

var (
	commitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "materials",
			Subsystem: "engine",
			Name:      "commits_total",
			Help:      "Committed field mutations by source and result.",
		},
		[]string{"source", "result"},
	)

	commitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "materials",
			Subsystem: "engine",
			Name:      "commit_duration_seconds",
			Help:      "Wall time of one transactional field commit.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	previewRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "materials",
			Subsystem: "engine",
			Name:      "preview_rejections_total",
			Help:      "Mutation previews rejected by a validation check.",
		},
		[]string{"reason"},
	)

	snapshotWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "materials",
			Subsystem: "snapshot",
			Name:      "writes_total",
			Help:      "Secondary snapshot writes after commits.",
		},
		[]string{"result"},
	)

	snapshotFallbackReads = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "materials",
			Subsystem: "snapshot",
			Name:      "fallback_reads_total",
			Help:      "Exports served from the last snapshot after a primary read failure.",
		},
	)
)

func recordCommit(source catalog.EditSource, result string, seconds float64) {
	commitsTotal.WithLabelValues(string(source), result).Inc()
	commitDuration.WithLabelValues(result).Observe(seconds)
}

func recordPreviewRejection(err error) {
	previewRejections.WithLabelValues(catalog.Code(err)).Inc()
}

func recordSnapshotWrite(ok bool) {
	result := "success"
	if !ok {
		result = "error"
	}
	snapshotWrites.WithLabelValues(result).Inc()
}

func recordSnapshotFallback() {
	snapshotFallbackReads.Inc()
}
