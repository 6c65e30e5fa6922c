package convert

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	valuesConverted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fixpoint_values_converted_total",
		Help: "Total number of values run through the fixed-point codec",
	}, []string{"format", "op"})

	saturations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fixpoint_saturations_total",
		Help: "Total number of values that hit a format boundary",
	}, []string{"format", "op"})

	convertDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fixpoint_convert_duration_seconds",
		Help:    "Time spent converting a batch",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)
