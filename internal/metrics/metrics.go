// Package metrics holds the Prometheus instruments for the guide service and
// the HTTP layer. Everything registers on the default registry and is served
// by Handler at GET /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RefreshTotal counts refresh cycles by result (success, failure, skipped).
var RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tvguide_refresh_total",
	Help: "Guide refresh cycles by result.",
}, []string{"result"})

// RefreshDuration tracks how long a refresh cycle takes end to end.
var RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "tvguide_refresh_duration_seconds",
	Help:    "Duration of guide refresh cycles in seconds.",
	Buckets: prometheus.DefBuckets,
})

var FixturesFetched = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "tvguide_fixtures_fetched",
	Help: "Raw fixture records returned by the source in the last successful cycle.",
})

var FixturesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tvguide_fixtures_dropped_total",
	Help: "Raw fixture records rejected during normalization, by reason.",
}, []string{"reason"})

var ProgrammesPublished = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "tvguide_programmes_published",
	Help: "Programme entries in the currently published guide.",
})

var LastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "tvguide_last_success_timestamp_seconds",
	Help: "Unix time of the last successful refresh.",
})

var SchedulerPanics = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tvguide_scheduler_panics_total",
	Help: "Panics recovered at the refresh cycle boundary.",
})

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tvguide_http_requests_total",
	Help: "Total HTTP requests handled.",
}, []string{"method", "route", "status"})

var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "tvguide_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route"})

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency. Routes are labelled by
// their mux template so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
