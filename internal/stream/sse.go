// Package stream pushes rendered chart frames to browsers. Clients connect
// via GET /api/v1/stream/chart (Server-Sent Events) or GET /api/v1/ws/chart
// (WebSocket) and receive one PNG per display tick.
//
// SSE message format:
//
//	data: {"type":"chart","seq":1,"shown":true,"width":640,"height":480,"png":"iVBORw0..."}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","session":"...","width":640,"height":480,"fps":2,"window":[0,0.1]}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval without a frame.
// SSE clients change size by reconnecting with new width/height parameters;
// WebSocket clients send {"type":"resize","width":W,"height":H}.
package stream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/star/heartbeat/internal/display"
	"github.com/star/heartbeat/internal/httputil"
	"github.com/star/heartbeat/internal/metrics"
)

// Frame size bounds and defaults in pixels.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
	MinSize       = 64
	MaxSize       = 4096
	MaxFPS        = 10
)

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	FPS                int           // Display ticks per second (default: 2).
	KeepaliveInterval  time.Duration // Keep-alive interval (default: 30s).
	TrustProxy         bool          // Take client IPs from proxy headers.
}

// Handler manages display stream connections.
type Handler struct {
	display  *display.Display
	config   Config
	limiter  *streamLimiter
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(disp *display.Display, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = 10
	}
	if config.FPS <= 0 {
		config.FPS = 2
	}
	if config.FPS > MaxFPS {
		config.FPS = MaxFPS
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	return &Handler{
		display: disp,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		logger: logger,
	}
}

// Active returns the number of open streams.
func (h *Handler) Active() int {
	return h.limiter.active()
}

// HandleChart serves the SSE chart stream.
// GET /api/v1/stream/chart?width=640&height=480&fps=2
func (h *Handler) HandleChart(w http.ResponseWriter, r *http.Request) {
	width, height, err := ParseSize(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fps, err := h.parseFPS(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Rate limiting: enforce concurrent stream limit per IP.
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		h.rejectBusy(w, ip)
		return
	}

	session := uuid.NewString()
	done := h.connected("sse", ip, session, r)
	defer func() {
		h.limiter.release(ip)
		done()
	}()

	// Verify flusher support (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	ev := newEventWriter(w, flusher, h.logger)

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	if err := ev.retry(time.Duration(3000+rand.Intn(4000)) * time.Millisecond); err != nil {
		metrics.IncStreamErrors("send_error")
		return
	}

	if err := ev.event(newMetadata(session, width, height, fps)); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "session", session, "error", err)
		return
	}

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			seq++
			msg, err := h.renderChart(seq, width, height)
			if err != nil {
				metrics.IncStreamErrors("render_error")
				h.logger.Warn("stream render error", "remote_ip", ip, "session", session, "error", err)
				continue
			}
			if err := ev.event(msg); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "session", session, "error", err)
				return
			}
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := ev.keepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "session", session, "error", err)
				return
			}
		}
	}
}

// connected records a new stream and returns the matching disconnect hook.
func (h *Handler) connected(transport, ip, session string, r *http.Request) func() {
	metrics.IncStreamConnections(transport, "connect")
	metrics.IncStreamsActive()

	start := time.Now()
	h.logger.Info("stream connected",
		"transport", transport,
		"session", session,
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
	)
	return func() {
		metrics.IncStreamConnections(transport, "disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"transport", transport,
			"session", session,
			"remote_ip", ip,
			"duration_seconds", int(time.Since(start).Seconds()),
		)
	}
}

func (h *Handler) rejectBusy(w http.ResponseWriter, ip string) {
	metrics.IncStreamErrors("rate_limit")
	h.logger.Warn("stream rate limit exceeded",
		"remote_ip", ip,
		"current_count", h.limiter.count(ip),
	)
	w.Header().Set("Retry-After", "30")
	writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
}

// renderChart draws one display tick at the requested size.
func (h *Handler) renderChart(seq uint64, width, height int) (chartMessage, error) {
	data, shown, err := h.display.RenderPNG(width, height)
	if err != nil {
		return chartMessage{}, err
	}
	return chartMessage{
		Type:   "chart",
		Seq:    seq,
		Shown:  shown,
		Width:  width,
		Height: height,
		PNG:    base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (h *Handler) parseFPS(q url.Values) (int, error) {
	v := q.Get("fps")
	if v == "" {
		return h.config.FPS, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > MaxFPS {
		return 0, fmt.Errorf("invalid fps parameter, must be 1-%d", MaxFPS)
	}
	return n, nil
}

// ParseSize reads the width and height query parameters, falling back to
// DefaultWidth and DefaultHeight when absent.
func ParseSize(q url.Values) (width, height int, err error) {
	width, height = DefaultWidth, DefaultHeight
	if v := q.Get("width"); v != "" {
		if width, err = parseDimension("width", v); err != nil {
			return 0, 0, err
		}
	}
	if v := q.Get("height"); v != "" {
		if height, err = parseDimension("height", v); err != nil {
			return 0, 0, err
		}
	}
	return width, height, nil
}

func parseDimension(name, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || !validDimension(n) {
		return 0, fmt.Errorf("invalid %s parameter, must be %d-%d", name, MinSize, MaxSize)
	}
	return n, nil
}

func validDimension(n int) bool {
	return n >= MinSize && n <= MaxSize
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func newMetadata(session string, width, height, fps int) metadataMessage {
	return metadataMessage{
		Type:    "metadata",
		Session: session,
		Width:   width,
		Height:  height,
		FPS:     fps,
		Window:  [2]float64{display.Window.Min, display.Window.Max},
	}
}

// Stream message payload types.

type metadataMessage struct {
	Type    string     `json:"type"`
	Session string     `json:"session"`
	Width   int        `json:"width"`
	Height  int        `json:"height"`
	FPS     int        `json:"fps"`
	Window  [2]float64 `json:"window"`
}

type chartMessage struct {
	Type   string `json:"type"`
	Seq    uint64 `json:"seq"`
	Shown  bool   `json:"shown"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	PNG    string `json:"png"` // base64
}

type resizeMessage struct {
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}
