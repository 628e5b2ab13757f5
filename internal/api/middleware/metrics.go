package middleware

import (
	"net/http"
	"sync/atomic"
	"time"
)

// MetricsCollector counts requests, error responses, and cumulative handler
// time. All fields are read lock-free by the metrics endpoint.
type MetricsCollector struct {
	requests atomic.Int64
	errors   atomic.Int64
	totalNS  atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// Requests returns the number of requests served.
func (mc *MetricsCollector) Requests() int64 {
	return mc.requests.Load()
}

// Errors returns the number of 4xx/5xx responses.
func (mc *MetricsCollector) Errors() int64 {
	return mc.errors.Load()
}

// AverageLatency returns the mean handler time across all requests.
func (mc *MetricsCollector) AverageLatency() time.Duration {
	n := mc.requests.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(mc.totalNS.Load() / n)
}

// Middleware returns middleware that records per-request metrics.
func (mc *MetricsCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		mc.requests.Add(1)
		mc.totalNS.Add(int64(time.Since(start)))
		if rw.statusCode >= 400 {
			mc.errors.Add(1)
		}
	})
}
