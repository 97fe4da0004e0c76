package platform

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_platform_api_requests_total",
	Help: "Number of platform REST API requests, by operation and status",
}, []string{"op", "status"})

var gatewayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_gateway_events_total",
	Help: "Number of dispatch events received from the platform gateway, by type",
}, []string{"type"})

var gatewayConnects = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_gateway_connects_total",
	Help: "Number of gateway connection attempts",
})
