package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch metrics
	FetchBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scormview",
			Subsystem: "fetch",
			Name:      "bytes_total",
			Help:      "Total number of archive bytes downloaded",
		},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scormview",
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Archive download duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scormview",
			Subsystem: "fetch",
			Name:      "errors_total",
			Help:      "Total number of failed archive downloads",
		},
		[]string{"code"},
	)

	// Extraction metrics
	ExtractedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scormview",
			Subsystem: "extract",
			Name:      "entries_total",
			Help:      "Total number of archive entries processed",
		},
		[]string{"result"},
	)

	ExtractDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scormview",
			Subsystem: "extract",
			Name:      "duration_seconds",
			Help:      "Archive extraction duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	LiveBlobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scormview",
			Subsystem: "extract",
			Name:      "blobs_live",
			Help:      "Number of blob references not yet revoked",
		},
	)

	// Resolver metrics
	EntryPointResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scormview",
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Entry point resolutions by winning tier",
		},
		[]string{"tier"},
	)

	// Viewer metrics
	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scormview",
			Subsystem: "viewer",
			Name:      "stage_transitions_total",
			Help:      "Total number of load stage transitions",
		},
		[]string{"from", "to"},
	)

	LoadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scormview",
			Subsystem: "viewer",
			Name:      "load_failures_total",
			Help:      "Total number of failed package loads",
		},
		[]string{"code"},
	)

	BlankScreens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scormview",
			Subsystem: "viewer",
			Name:      "blank_screens_total",
			Help:      "Total number of suspected blank screens",
		},
		[]string{"reason"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scormview",
			Subsystem: "viewer",
			Name:      "sessions_active",
			Help:      "Number of open viewing sessions",
		},
	)

	NavigationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scormview",
			Subsystem: "navigation",
			Name:      "attempts_total",
			Help:      "Navigation fallback strategy attempts",
		},
		[]string{"strategy", "result"},
	)

	// Runtime metrics
	RuntimeCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scormview",
			Subsystem: "runtime",
			Name:      "calls_total",
			Help:      "Total number of SCORM runtime API calls",
		},
		[]string{"version", "method"},
	)

	// Relay metrics
	RelayConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "scormview",
			Subsystem: "relay",
			Name:      "connections_active",
			Help:      "Number of active relay websocket connections",
		},
		[]string{"role"},
	)

	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scormview",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Total number of relayed messages",
		},
		[]string{"direction", "kind"},
	)

	RelayDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scormview",
			Subsystem: "relay",
			Name:      "drops_total",
			Help:      "Messages dropped by backpressure or rate limiting",
		},
		[]string{"reason"},
	)
)
