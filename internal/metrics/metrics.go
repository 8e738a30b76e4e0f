// Package metrics exposes Prometheus collectors for the relay and its HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "huddle"

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Inbound signaling events by kind and result",
	}, []string{"kind", "result"})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Outbound frames by delivery result",
	}, []string{"result"})

	presenceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "presence_feed_total",
		Help:      "Presence feed publications by result",
	}, []string{"result"})

	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Live signaling connections",
	})

	joined = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "joined_connections",
		Help:      "Signaling connections currently joined to a room",
	})

	rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_rooms",
		Help:      "Rooms with at least one member",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func ObserveEvent(kind, result string) {
	eventsTotal.WithLabelValues(kind, result).Inc()
}

func ObserveDelivery(result string) {
	deliveriesTotal.WithLabelValues(result).Inc()
}

func ObservePresence(result string) {
	presenceTotal.WithLabelValues(result).Inc()
}

func SetPopulation(conns, joinedConns, activeRooms int) {
	connections.Set(float64(conns))
	joined.Set(float64(joinedConns))
	rooms.Set(float64(activeRooms))
}

// Middleware records request metrics. The route template is used as the path
// label so room ids do not explode cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		httpLatency.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
