package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flexi_chat_build_info",
		Help: "Build information of the Flexi chat backend",
	}, []string{"version"})

	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flexi_chat_resolutions_total", Help: "Chat answers returned, by the tier that produced them.",
	}, []string{"tier"})
	TierMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flexi_chat_tier_misses_total", Help: "Tier invocations that produced no usable text.",
	}, []string{"tier", "reason"})
	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flexi_chat_resolve_duration_seconds",
		Help:    "Time spent resolving one chat question.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
	})

	ProbeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flexi_external_probe_attempts_total", Help: "External endpoint attempts, by outcome.",
	}, []string{"outcome"})

	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexi_http_rate_limit_rejections_total", Help: "Requests rejected by the per-address rate limiter.",
	})
	AccessDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flexi_http_access_denied_total", Help: "Requests refused by an access gate.",
	}, []string{"gate"})

	LeadsCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexi_leads_captured_total", Help: "Leads accepted by the lead endpoint.",
	})
)
