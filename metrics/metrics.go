package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus 指标，覆盖：
// - 推荐请求结果与延迟
// - Pipeline 各节点耗时与出入条数
// - 缓存命中、限流拒绝
// - 旁路写入（曝光日志、性能日志、缓存回写、限流计数）失败
// - 候选服务熔断器

var (
	// Recommend Metrics
	RecommendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearrec_recommend_requests_total",
			Help: "Total number of recommend requests by outcome",
		},
		[]string{"outcome"}, // ok, cached, rate_limited, invalid, timeout, error
	)

	RecommendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nearrec_recommend_duration_seconds",
			Help:    "End-to-end recommend latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 3, 5},
		},
		[]string{"cached"},
	)

	RecommendItems = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nearrec_recommend_items",
			Help:    "Number of items returned per fresh recommendation",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)

	CandidatesFetched = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nearrec_candidates_fetched",
			Help:    "Number of candidates returned by the candidate source",
			Buckets: []float64{0, 10, 50, 100, 200, 300, 500},
		},
	)

	// Pipeline Metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nearrec_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline nodes in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"node", "kind"},
	)

	StageDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearrec_pipeline_stage_dropped_total",
			Help: "Items removed by pipeline nodes",
		},
		[]string{"node"},
	)

	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearrec_pipeline_stage_errors_total",
			Help: "Pipeline node failures",
		},
		[]string{"node"},
	)

	// Cache & Rate Limit Metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nearrec_cache_hits_total",
			Help: "Total number of recommendation cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nearrec_cache_misses_total",
			Help: "Total number of recommendation cache misses",
		},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nearrec_rate_limited_total",
			Help: "Total number of requests denied by the per-identity rate limiter",
		},
	)

	// Side Channel Metrics
	SideChannelFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearrec_side_channel_failures_total",
			Help: "Best-effort writes that failed and were swallowed",
		},
		[]string{"channel"}, // impression, performance, cache_write, ratelimit_incr
	)

	ImpressionsLogged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nearrec_impressions_logged_total",
			Help: "Total number of impression records written",
		},
	)

	FunctionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nearrec_function_duration_seconds",
			Help:    "Duration of served functions as reported to the performance sink",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function", "success"},
	)

	// Feedback Metrics
	FeedbackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearrec_feedback_events_total",
			Help: "Total number of feedback events recorded",
		},
		[]string{"event_type"},
	)

	// HTTP Metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearrec_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	APIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nearrec_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nearrec_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearrec_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearrec_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordRecommend 记录一次推荐请求的结果与耗时。
func RecordRecommend(outcome string, cached bool, duration time.Duration) {
	RecommendRequests.WithLabelValues(outcome).Inc()
	RecommendDuration.WithLabelValues(strconv.FormatBool(cached)).Observe(duration.Seconds())
}

// RecordSideChannelFailure 记录一次被吞掉的旁路写入失败。
func RecordSideChannelFailure(channel string) {
	SideChannelFailures.WithLabelValues(channel).Inc()
}

// RecordAPIRequest 记录 HTTP 请求。
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
