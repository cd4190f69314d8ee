package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callscope_ingest_total",
		Help: "Analyses ingested, by outcome",
	}, []string{"result"})

	resultBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callscope_result_bytes",
		Help:    "Size of stored analysis result blobs",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB to ~256MiB
	})

	changedFunctionsHist = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callscope_changed_functions",
		Help:    "Changed functions per ingested analysis",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 500},
	})
)
