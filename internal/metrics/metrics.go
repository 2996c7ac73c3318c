package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heartbeat_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heartbeat_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	acquisitionCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heartbeat_acquisition_cycles_total",
			Help: "Acquisition cycles by outcome (frame, empty, transport_error, decode_error, invalid_input).",
		},
		[]string{"result"},
	)

	acquisitionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heartbeat_acquisition_duration_seconds",
			Help:    "Duration of one fetch, decode and correlate cycle.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	frameSamples = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heartbeat_frame_samples",
		Help: "Number of samples in the latest frame.",
	})

	frameSampleRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heartbeat_frame_sample_rate_hz",
		Help: "Sample rate of the latest frame.",
	})

	correlationPeak = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heartbeat_correlation_peak",
		Help: "Raw correlation maximum of the latest frame before normalisation.",
	})

	slotPresent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heartbeat_slot_present",
		Help: "1 when the shared slot holds a result, 0 when it is empty.",
	})

	slotAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heartbeat_slot_age_seconds",
		Help: "Age of the result currently held in the shared slot.",
	})

	renderTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heartbeat_render_ticks_total",
			Help: "Display ticks by drawn state (chart, no_data).",
		},
		[]string{"state"},
	)

	renderDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heartbeat_render_duration_seconds",
			Help:    "Time to draw and encode one display tick.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heartbeat_stream_connections_total",
			Help: "Stream connect and disconnect events.",
		},
		[]string{"transport", "event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heartbeat_streams_active",
		Help: "Currently open display streams.",
	})

	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartbeat_stream_messages_total",
		Help: "Messages written to display streams.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartbeat_stream_bytes_total",
		Help: "Bytes written to display streams.",
	})

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heartbeat_stream_errors_total",
			Help: "Display stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		acquisitionCyclesTotal,
		acquisitionDurationSeconds,
		frameSamples,
		frameSampleRate,
		correlationPeak,
		slotPresent,
		slotAgeSeconds,
		renderTicksTotal,
		renderDurationSeconds,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncAcquisitionCycles counts one acquisition cycle with the given outcome.
func IncAcquisitionCycles(result string) {
	acquisitionCyclesTotal.WithLabelValues(result).Inc()
}

func ObserveAcquisitionDuration(d time.Duration) {
	acquisitionDurationSeconds.Observe(d.Seconds())
}

// SetFrame records the shape of the latest published frame.
func SetFrame(samples int, sampleRate, peak float64) {
	frameSamples.Set(float64(samples))
	frameSampleRate.Set(sampleRate)
	correlationPeak.Set(peak)
}

// SetSlot records whether the shared slot holds a result and how old it is.
// A negative age means the slot is empty.
func SetSlot(ageSeconds float64) {
	if ageSeconds < 0 {
		slotPresent.Set(0)
		slotAgeSeconds.Set(0)
		return
	}
	slotPresent.Set(1)
	slotAgeSeconds.Set(ageSeconds)
}

func IncRenderTicks(state string) {
	renderTicksTotal.WithLabelValues(state).Inc()
}

func ObserveRenderDuration(d time.Duration) {
	renderDurationSeconds.Observe(d.Seconds())
}

func IncStreamConnections(transport, event string) {
	streamConnectionsTotal.WithLabelValues(transport, event).Inc()
}

func IncStreamsActive()  { streamsActive.Inc() }
func DecStreamsActive()  { streamsActive.Dec() }
func IncStreamMessages() { streamMessagesTotal.Inc() }

func AddStreamBytes(n int64) {
	streamBytesTotal.Add(float64(n))
}

func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

// knownRoutes are exact paths recorded under their own label.
var knownRoutes = map[string]bool{
	"/":                    true,
	"/app.js":              true,
	"/styles.css":          true,
	"/healthz":             true,
	"/readyz":              true,
	"/metrics":             true,
	"/api/v1/frame/latest": true,
	"/api/v1/chart.png":    true,
	"/api/v1/stream/chart": true,
	"/api/v1/ws/chart":     true,
}

// normalizeRoute maps a request path to a bounded label set so that bot
// traffic cannot grow label cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}
