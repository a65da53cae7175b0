package fileio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mainthreadio_records_skipped_total",
		Help: "Records that produced no feature vectors, by reason",
	}, []string{"reason"})
	vectorsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mainthreadio_vectors_emitted_total",
		Help: "Feature vectors emitted by the extractor",
	})
)
