package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_http_requests_total",
			Help: "Total number of HTTP requests processed by the channel service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "channel_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "channel_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsRoomMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "channel_ws_room_members",
			Help: "Number of (connection, room) memberships held by the broker.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_ws_events_total",
			Help: "Total number of websocket events by direction.",
		},
		[]string{"direction", "event"},
	)
	wsSlowConsumerDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "channel_ws_slow_consumer_drops_total",
			Help: "Connections dropped because their send buffer was full.",
		},
	)
	messageOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_message_ops_total",
			Help: "Message operations by kind and result.",
		},
		[]string{"op", "result"},
	)
	channelOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_directory_ops_total",
			Help: "Channel directory operations.",
		},
		[]string{"op"},
	)
	reactionOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_reaction_ops_total",
			Help: "Reaction set and clear operations.",
		},
		[]string{"op"},
	)
	readReceiptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_read_receipts_total",
			Help: "Read receipts written, by operation.",
		},
		[]string{"scope"},
	)
	storeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "channel_store_duration_seconds",
			Help:    "Message store latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "channel_send_rate_limited_total",
			Help: "Sends rejected by the per-user rate limit.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "channel_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsRoomMembers,
		wsEventsTotal,
		wsSlowConsumerDrops,
		messageOpsTotal,
		channelOpsTotal,
		reactionOpsTotal,
		readReceiptsTotal,
		storeLatency,
		rateLimitedTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func AddRoomMembers(delta int) {
	wsRoomMembers.Add(float64(delta))
}

func IncWSEvent(direction, event string) {
	wsEventsTotal.WithLabelValues(direction, event).Inc()
}

func IncSlowConsumerDrop() {
	wsSlowConsumerDrops.Inc()
}

func IncMessageOp(op, result string) {
	messageOpsTotal.WithLabelValues(op, result).Inc()
}

func IncChannelOp(op string) {
	channelOpsTotal.WithLabelValues(op).Inc()
}

func IncReactionOp(op string) {
	reactionOpsTotal.WithLabelValues(op).Inc()
}

func IncReadReceipts(scope string, n int64) {
	if n > 0 {
		readReceiptsTotal.WithLabelValues(scope).Add(float64(n))
	}
}

func ObserveStoreLatency(op string, start time.Time) {
	storeLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func IncRateLimited() {
	rateLimitedTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
