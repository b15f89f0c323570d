package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	RequestsAllowedTotal      prometheus.Counter
	RequestsThrottledTotal    prometheus.Counter
	RequestsBlacklistedTotal  prometheus.Counter
	SecurityFlagsTotal        prometheus.Counter
	SecurityFlagsDroppedTotal prometheus.Counter
	LoginSuccessTotal         prometheus.Counter
	LoginFailureTotal         prometheus.Counter
)

// Init registers the custom metrics. Call once at startup; a nil registerer
// leaves the metrics usable but unregistered, which tests rely on.
func Init(reg prometheus.Registerer) {
	RequestsAllowedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_requests_allowed_total",
		Help: "Total number of requests allowed by the rate limiter.",
	})
	RequestsThrottledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_requests_throttled_total",
		Help: "Total number of requests soft-throttled by the rate limiter.",
	})
	RequestsBlacklistedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_requests_blacklisted_total",
		Help: "Total number of requests rejected for a blacklisted IP.",
	})
	SecurityFlagsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "security_flags_recorded_total",
		Help: "Total number of security flags recorded.",
	})
	SecurityFlagsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "security_flags_dropped_total",
		Help: "Total number of security flags dropped before persistence.",
	})
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logins_success_total",
		Help: "Total number of successful logins.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logins_failure_total",
		Help: "Total number of failed logins.",
	})

	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		RequestsAllowedTotal, RequestsThrottledTotal, RequestsBlacklistedTotal,
		SecurityFlagsTotal, SecurityFlagsDroppedTotal, LoginSuccessTotal, LoginFailureTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
}

func init() {
	// Metrics must be non-nil even before Init runs.
	Init(nil)
}
