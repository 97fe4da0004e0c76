package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commandOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_dispatch_commands",
	Help: "Number of commands dispatched, by command and outcome",
}, []string{"command", "outcome"})

var commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "warden_dispatch_handler_duration_seconds",
	Help:    "Time spent in command handlers",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
}, []string{"command"})

var replyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_dispatch_reply_failures",
	Help: "Number of dispatcher replies (denials, cooldowns, failures) which could not be delivered",
}, []string{"kind"})
