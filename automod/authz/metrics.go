package authz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var authzFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_authz_lookup_failures",
	Help: "Number of permission lookups which failed and were treated as denials",
})
