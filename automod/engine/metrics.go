package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "automod_event_duration_sec",
	Help: "Total duration of automod event processing",
}, []string{"type"})

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_event_processed",
	Help: "Number of events processed",
}, []string{"type"})

var eventErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_event_errors",
	Help: "Number of events which failed processing",
}, []string{"type"})

var eventSkipCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_event_skipped",
	Help: "Number of events skipped before classification, by reason",
}, []string{"reason"})

var classifierFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_classifier_failures",
	Help: "Number of messages treated as clean because classification failed",
})

var actionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_actions",
	Help: "Number of automated moderation actions taken",
}, []string{"action"})

var enforcementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_enforcement_failures",
	Help: "Number of platform-side enforcement actions which failed",
}, []string{"action"})
