package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Derivative outcomes per spec
	DerivativesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photoassets",
			Name:      "derivatives_total",
			Help:      "Derivatives handled, by spec and status (written, skipped, failed)",
		},
		[]string{"spec", "status"},
	)

	SourceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photoassets",
			Name:      "source_failures_total",
			Help:      "Source images that failed generation, by error kind",
		},
		[]string{"kind"},
	)

	GenerateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "photoassets",
			Name:      "generate_duration_seconds",
			Help:      "Time to generate all derivatives of one source image",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	OrphansRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "photoassets",
			Name:      "orphans_removed_total",
			Help:      "Orphaned derivative files deleted by cleanup",
		},
	)

	ExifExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photoassets",
			Name:      "exif_extractions_total",
			Help:      "EXIF extractions, by status (found, empty, failed)",
		},
		[]string{"status"},
	)
)

func RecordDerivative(spec, status string) {
	DerivativesTotal.WithLabelValues(spec, status).Inc()
}

func RecordSourceFailure(kind string) {
	SourceFailuresTotal.WithLabelValues(kind).Inc()
}

func ObserveGenerate(durationSec float64) {
	GenerateDuration.Observe(durationSec)
}

func RecordOrphansRemoved(n int) {
	OrphansRemovedTotal.Add(float64(n))
}

func RecordExifExtraction(status string) {
	ExifExtractionsTotal.WithLabelValues(status).Inc()
}
