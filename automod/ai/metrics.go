package ai

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var classifyResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_classifier_results_total",
	Help: "Classifier calls by result (clean, flagged, malformed, empty, error)",
}, []string{"result"})

var classifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "warden_classifier_duration_seconds",
	Help:    "Duration of classifier calls",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
})

var chatResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_assistant_results_total",
	Help: "Assistant chat calls by result",
}, []string{"result"})
