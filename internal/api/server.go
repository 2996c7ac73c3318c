package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/star/heartbeat/internal/auth"
	"github.com/star/heartbeat/internal/display"
	"github.com/star/heartbeat/internal/frame"
	"github.com/star/heartbeat/internal/health"
	"github.com/star/heartbeat/internal/httputil"
	"github.com/star/heartbeat/internal/metrics"
	"github.com/star/heartbeat/internal/stream"
)

// Deps are the components the HTTP surface serves from.
type Deps struct {
	Store      *frame.Store
	Display    *display.Display
	Streams    *stream.Handler
	Ready      func() bool
	Static     fs.FS
	TrustProxy bool
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(deps.Ready))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /api/v1/frame/latest", gzhttp.GzipHandler(latestHandler(deps.Store)))
	mux.HandleFunc("GET /api/v1/chart.png", chartHandler(logger, deps.Display))
	mux.HandleFunc("GET /api/v1/stream/chart", deps.Streams.HandleChart)
	mux.HandleFunc("GET /api/v1/ws/chart", deps.Streams.HandleChartWS)
	if deps.Static != nil {
		mux.Handle("GET /", http.FileServerFS(deps.Static))
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger, deps.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// latestResponse is the JSON view of the slot.
type latestResponse struct {
	NodeID         string       `json:"node_id,omitempty"`
	FetchedAt      string       `json:"fetched_at"`
	AgeSeconds     float64      `json:"age_seconds"`
	Frame          *frame.Frame `json:"frame"`
	TemplateLength int          `json:"template_length"`
	Peak           float64      `json:"peak"`
	PeakIndex      int          `json:"peak_index"`
	Correlation    []float64    `json:"correlation,omitempty"`
}

// latestHandler serves the current slot contents, or 404 while it is empty.
// GET /api/v1/frame/latest?correlation=true
func latestHandler(store *frame.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := store.Get()
		if res == nil {
			writeError(w, http.StatusNotFound, "no frame available")
			return
		}

		withCorr := false
		if v := r.URL.Query().Get("correlation"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid correlation parameter, must be a boolean")
				return
			}
			withCorr = b
		}

		resp := latestResponse{
			NodeID:         res.NodeID,
			FetchedAt:      res.FetchedAt.UTC().Format(time.RFC3339Nano),
			AgeSeconds:     time.Since(res.FetchedAt).Seconds(),
			Frame:          res.Frame,
			TemplateLength: res.TemplateLength,
			Peak:           res.Peak,
			PeakIndex:      res.PeakIndex,
		}
		if withCorr {
			resp.Correlation = res.Correlation
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		json.NewEncoder(w).Encode(resp)
	}
}

// chartHandler renders one display tick as a PNG. An empty slot yields the
// no-data picture, flagged by the X-Heartbeat-Shown header.
// GET /api/v1/chart.png?width=640&height=480
func chartHandler(logger *slog.Logger, disp *display.Display) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		width, height, err := stream.ParseSize(r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		data, shown, err := disp.RenderPNG(width, height)
		if err != nil {
			logger.Error("chart render failed", "component", "api", "error", err)
			writeError(w, http.StatusInternalServerError, "render failed")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("X-Heartbeat-Shown", strconv.FormatBool(shown))
		w.Write(data)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	// A hijacked connection never gets a WriteHeader call.
	sr.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
