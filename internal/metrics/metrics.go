package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NightsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pranight_nights_processed_total",
			Help: "Station-nights run through the pipeline, by final state",
		},
		[]string{"station", "state"},
	)

	AnomalousWindows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pranight_anomalous_windows_total",
			Help: "Anomalous windows appended to the anomaly log",
		},
		[]string{"station"},
	)

	AcquisitionCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pranight_acquisition_calls_total",
			Help: "Raw day-file fetch attempts against upstream services",
		},
		[]string{"source", "status"},
	)

	AcquisitionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pranight_acquisition_latency_seconds",
			Help:    "Day-file fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	NightThreshold = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pranight_night_threshold",
			Help: "Most recently calibrated polarization ratio threshold",
		},
		[]string{"station", "method"},
	)

	NightDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pranight_night_duration_seconds",
			Help:    "Wall time of one station-night pipeline run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"station"},
	)
)
