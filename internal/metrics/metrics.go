// Package metrics provides Prometheus metrics for the document tracker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctracker_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doctracker_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doctracker_rate_limited_requests_total",
			Help: "Requests rejected by the per-user rate limiter",
		},
	)

	// Document metrics
	uploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doctracker_upload_bytes_total",
			Help: "Total bytes accepted by the upload endpoint",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctracker_uploads_total",
			Help: "Total number of document uploads",
		},
		[]string{"status"},
	)

	deletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctracker_deletes_total",
			Help: "Total number of document deletions",
		},
		[]string{"status"},
	)

	searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctracker_searches_total",
			Help: "Total number of searches",
		},
		[]string{"found"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doctracker_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "doctracker_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Blob storage metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doctracker_storage_operation_duration_seconds",
			Help:    "Blob storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctracker_storage_operations_total",
			Help: "Total blob storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Client-side document cache metrics
	cacheFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctracker_cache_fetches_total",
			Help: "Document list fetches issued by the cache",
		},
		[]string{"mode", "status"},
	)

	cacheFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "doctracker_cache_fetch_duration_seconds",
			Help:    "Duration of document list fetches issued by the cache",
			Buckets: prometheus.DefBuckets,
		},
	)

	cacheReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctracker_cache_reads_total",
			Help: "Cache reads by freshness outcome",
		},
		[]string{"outcome"},
	)

	cacheDocuments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "doctracker_cache_documents",
			Help: "Number of documents currently held by the cache",
		},
	)

	subscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "doctracker_cache_subscribers_active",
			Help: "Number of active cache change subscribers",
		},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctracker_cache_events_total",
			Help: "Cache change events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRateLimited counts a request rejected by the rate limiter.
func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

// RecordUpload records a document upload.
func RecordUpload(bytes int64, success bool) {
	if success {
		uploadBytes.Add(float64(bytes))
	}
	uploadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordDelete records a document deletion. Partial deletions count as errors.
func RecordDelete(success bool) {
	deletesTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordSearch records a search and whether anything matched.
func RecordSearch(found bool) {
	searchesTotal.WithLabelValues(strconv.FormatBool(found)).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// RecordStorageOperation records a blob storage operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, statusLabel(success)).Inc()
}

// RecordCacheFetch records a document list fetch. mode is "foreground" or
// "background".
func RecordCacheFetch(mode string, duration time.Duration, success bool) {
	cacheFetchesTotal.WithLabelValues(mode, statusLabel(success)).Inc()
	cacheFetchDuration.Observe(duration.Seconds())
}

// RecordCacheRead records a cache read outcome ("fresh", "stale", "empty",
// "forced").
func RecordCacheRead(outcome string) {
	cacheReadsTotal.WithLabelValues(outcome).Inc()
}

// SetCacheDocuments sets the number of cached documents.
func SetCacheDocuments(n int) {
	cacheDocuments.Set(float64(n))
}

// SetSubscribersActive sets the number of change subscribers.
func SetSubscribersActive(n int64) {
	subscribersActive.Set(float64(n))
}

// RecordEvent records a published cache change event.
func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. The
// matched route pattern is used as the path label to keep cardinality bounded,
// so it must wrap the ServeMux directly.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
