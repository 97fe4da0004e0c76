package punish

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var punishmentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_punishments_created_total",
	Help: "Number of temporary punishments created",
}, []string{"type"})

var punishmentsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_punishments_expired_total",
	Help: "Expired punishment processing outcomes (reversed, failed, dropped)",
}, []string{"type", "result"})

var sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "warden_punishment_sweep_duration_seconds",
	Help: "Duration of punishment expiry sweeps",
})
