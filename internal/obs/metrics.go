package obs

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	registrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "famlocator_registrations_total",
			Help: "Registration attempts by outcome.",
		},
		[]string{"outcome"},
	)

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "famlocator_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	messagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "famlocator_chat_messages_total",
		Help: "Chat messages accepted.",
	})

	emailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "famlocator_emails_total",
			Help: "Outgoing emails by result.",
		},
		[]string{"result"},
	)

	liveSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "famlocator_live_subscribers",
		Help: "Open live chat feeds (SSE and WebSocket).",
	})
)

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			registrationsTotal, loginsTotal, messagesTotal, emailsTotal, liveSubscribers,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records count, latency and in-flight gauge per route pattern.
// The label is resolved after the router has matched, so ids never leak into it.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := RoutePattern(r)
		status := strconv.Itoa(sw.Code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// RoutePattern returns the matched chi pattern or "unmatched".
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// RecordRegistration counts a registration outcome ("created", "resent", "rejected", ...).
func RecordRegistration(outcome string) { registrationsTotal.WithLabelValues(outcome).Inc() }

// RecordLogin counts a login outcome.
func RecordLogin(outcome string) { loginsTotal.WithLabelValues(outcome).Inc() }

// RecordMessage counts an accepted chat message.
func RecordMessage() { messagesTotal.Inc() }

// RecordEmail counts an email send attempt.
func RecordEmail(ok bool) {
	if ok {
		emailsTotal.WithLabelValues("sent").Inc()
		return
	}
	emailsTotal.WithLabelValues("failed").Inc()
}

// TrackSubscriber adjusts the live subscriber gauge; call the returned func on close.
func TrackSubscriber() func() {
	liveSubscribers.Inc()
	return liveSubscribers.Dec
}

// StatusWriter captures the response code. It forwards Flush so streaming handlers keep working.
type StatusWriter struct {
	http.ResponseWriter
	Code    int
	written bool
}

func (w *StatusWriter) WriteHeader(code int) {
	if !w.written {
		w.Code = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

func (w *StatusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack hands the connection to WebSocket upgraders.
func (w *StatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("obs: response writer does not support hijacking")
	}
	w.written = true
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *StatusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
