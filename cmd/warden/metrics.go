package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_events_received",
	Help: "Number of gateway events received, by type",
}, []string{"type"})

var apiSweeps = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_api_sweeps_triggered",
	Help: "Number of punishment sweeps triggered through the admin API",
})
