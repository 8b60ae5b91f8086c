package snapshot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabula_store_operations_total",
		Help: "Store load and save operations by outcome.",
	}, []string{"op", "status"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tabula_store_operation_duration_seconds",
		Help:    "Duration of store load and save operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	analysisRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabula_analysis_rows_total",
		Help: "Rows processed by analysis steps by outcome.",
	}, []string{"outcome"})
)

func observe(op string, start time.Time, err error) {
	status := "ok"
	switch {
	case IsSuperseded(err):
		status = "superseded"
	case err != nil:
		status = "error"
	}
	operationsTotal.WithLabelValues(op, status).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
