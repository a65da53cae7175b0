package mainthreadio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mainthreadio_records_read_total",
		Help: "Input records handed to the mapper",
	})
	recordFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mainthreadio_record_failures_total",
		Help: "Input records whose mapping failed",
	})
	keysReduced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mainthreadio_keys_reduced_total",
		Help: "Keys handed to the reducer",
	})
	keyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mainthreadio_key_failures_total",
		Help: "Keys whose reduction failed",
	})
	rowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mainthreadio_rows_written_total",
		Help: "Output rows written by reducers",
	})
	tasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mainthreadio_tasks_completed_total",
		Help: "Map and reduce tasks completed, by phase and outcome",
	}, []string{"phase", "outcome"})
)

func (p Phase) String() string {
	if p == ReducePhase {
		return "reduce"
	}
	return "map"
}

func observeTask(phase Phase, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	tasksCompleted.WithLabelValues(phase.String(), outcome).Inc()
}
