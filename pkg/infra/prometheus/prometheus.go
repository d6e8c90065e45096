package prometheus

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

// Scoring outcomes, one per failure class plus success.
const (
	OutcomePresent        = "present"
	OutcomeMissingKey     = "missing_key"
	OutcomeTransportError = "transport_error"
	OutcomeBadStatus      = "bad_status"
	OutcomeParseError     = "parse_error"
	OutcomeTooLarge       = "too_large"
)

var (
	// Latency buckets in milliseconds; the analyzer usually answers in 100-400ms
	latencyBuckets = []float64{
		25, 50, 100, // cached or nearby
		200, 400, 800, // typical
		1500, 3000, 5000, // slow / timeout territory
	}

	ScoringRequestsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ircd_toxicity_scoring_requests_total",
			Help: "Scoring calls by outcome",
		},
		[]string{"outcome"},
	)

	ScoringLatency = promauto.With(registerer).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ircd_toxicity_scoring_latency_ms",
			Help:    "Perspective API round trip in milliseconds",
			Buckets: latencyBuckets,
		},
	)

	TagsWrittenTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ircd_toxicity_tags_written_total",
			Help: "Toxicity tags written to outgoing messages",
		},
		[]string{"action"}, // insert or overwrite
	)

	MessagesSkippedTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ircd_toxicity_messages_skipped_total",
			Help: "Channel messages not submitted for scoring",
		},
		[]string{"reason"},
	)
)

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ProcessCollector adds process_* metrics; hosts that already export them turn it off
	ProcessCollector bool `mapstructure:"process_collector"`
}

var (
	Config   MetricsConfig
	initOnce sync.Once
)

func Initialize(cfg MetricsConfig) {
	initOnce.Do(func() {
		Config = cfg
		if cfg.ProcessCollector {
			registry.MustRegister(
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
	})
}

// Gatherer exposes the private registry for tests and custom exporters.
func Gatherer() prometheus.Gatherer {
	return registry
}

// Handler serves the private registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
