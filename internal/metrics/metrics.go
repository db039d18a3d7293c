// Package metrics exposes the Prometheus collectors for the license server:
// HTTP traffic, activation/validation outcomes, fleet sync throughput, and
// rate-limiter rejections.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "giro",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "giro",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "giro",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	activationAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "giro",
		Subsystem: "activation",
		Name:      "attempts_total",
		Help:      "Total license activation attempts grouped by outcome.",
	}, []string{"outcome"})

	validationAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "giro",
		Subsystem: "activation",
		Name:      "validations_total",
		Help:      "Total license validation attempts grouped by outcome.",
	}, []string{"outcome"})

	rateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "giro",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Total requests rejected by the per-license rate limiter.",
	}, []string{"operation"})

	syncEntitiesPushed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "giro",
		Subsystem: "sync",
		Name:      "entities_pushed_total",
		Help:      "Total entities pushed from a master to its satellites.",
	}, []string{"kind"})

	syncLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "giro",
		Subsystem: "sync",
		Name:      "lag_seconds",
		Help:      "Most recently reported sync lag for a terminal, by hardware ID.",
	}, []string{"hardware_id"})

	activeTerminals = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "giro",
		Subsystem: "fleet",
		Name:      "active_terminals",
		Help:      "Number of terminals that reported telemetry in the last window.",
	})

	licenseExpirySweep = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "giro",
		Subsystem: "licenses",
		Name:      "expiry_sweep_total",
		Help:      "Licenses moved to expired by the periodic sweep.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		activationAttempts,
		validationAttempts,
		rateLimitRejections,
		syncEntitiesPushed,
		syncLag,
		activeTerminals,
		licenseExpirySweep,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Instrument wraps an HTTP handler with request count/duration/in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordActivation records the outcome of a license activation attempt.
func RecordActivation(outcome string) {
	activationAttempts.WithLabelValues(normalize(outcome)).Inc()
}

// RecordValidation records the outcome of a license validation attempt.
func RecordValidation(outcome string) {
	validationAttempts.WithLabelValues(normalize(outcome)).Inc()
}

// RecordRateLimitRejection records a request dropped by the rate limiter.
func RecordRateLimitRejection(operation string) {
	rateLimitRejections.WithLabelValues(normalize(operation)).Inc()
}

// RecordSyncPush records entities a master pushed to satellites, by kind.
func RecordSyncPush(kind string, count int) {
	if count <= 0 {
		return
	}
	syncEntitiesPushed.WithLabelValues(normalize(kind)).Add(float64(count))
}

// RecordSyncLag publishes the most recently reported lag for a terminal.
func RecordSyncLag(hardwareID string, seconds float64) {
	if hardwareID == "" {
		hardwareID = "unknown"
	}
	syncLag.WithLabelValues(hardwareID).Set(seconds)
}

// SetActiveTerminals publishes the count of terminals seen in the last window.
func SetActiveTerminals(n int) {
	activeTerminals.Set(float64(n))
}

// RecordExpirySweep records the number of licenses expired by a sweep run.
func RecordExpirySweep(expired int64, err error) {
	if err != nil {
		licenseExpirySweep.WithLabelValues("error").Inc()
		return
	}
	licenseExpirySweep.WithLabelValues("expired").Add(float64(expired))
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path parameters so the requests_total cardinality
// stays bounded (license keys and hardware IDs are high-cardinality).
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if looksLikeIdentifier(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

// looksLikeIdentifier treats a segment of 6+ characters that contains a digit
// or an uppercase letter (UUIDs, GIRO-XXXX-XXXX-XXXX license keys) as an ID.
func looksLikeIdentifier(segment string) bool {
	if len(segment) < 6 {
		return false
	}
	for _, r := range segment {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}
