package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/star/heartbeat/internal/httputil"
	"github.com/star/heartbeat/internal/metrics"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 4096
)

type size struct {
	width, height int
}

// HandleChartWS serves the WebSocket chart stream. The browser may send
// resize messages at any time; the next tick uses the new geometry.
// GET /api/v1/ws/chart?width=640&height=480&fps=2
func (h *Handler) HandleChartWS(w http.ResponseWriter, r *http.Request) {
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

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		h.rejectBusy(w, ip)
		return
	}
	defer h.limiter.release(ip)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		metrics.IncStreamErrors("upgrade_error")
		h.logger.Warn("websocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}
	defer conn.Close()

	session := uuid.NewString()
	done := h.connected("websocket", ip, session, r)
	defer done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	resize := make(chan size, 1)
	go h.readResizes(conn, resize, cancel)

	if err := h.writeJSON(conn, newMetadata(session, width, height, fps)); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("websocket send error (metadata)", "remote_ip", ip, "session", session, "error", err)
		return
	}

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	pingTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer pingTicker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return

		case sz := <-resize:
			width, height = sz.width, sz.height
			h.logger.Debug("websocket resize", "session", session, "width", width, "height", height)

		case <-ticker.C:
			seq++
			msg, err := h.renderChart(seq, width, height)
			if err != nil {
				metrics.IncStreamErrors("render_error")
				h.logger.Warn("websocket render error", "remote_ip", ip, "session", session, "error", err)
				continue
			}
			if err := h.writeJSON(conn, msg); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("websocket send error", "remote_ip", ip, "session", session, "error", err)
				return
			}

		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("websocket ping error", "remote_ip", ip, "session", session, "error", err)
				return
			}
		}
	}
}

// writeJSON sends one text message. Only the stream loop writes to conn.
func (h *Handler) writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	cw := &countingWriter{w: w}
	if err := encodeJSON(cw, v); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	metrics.IncStreamMessages()
	metrics.AddStreamBytes(cw.n)
	return nil
}

// readResizes consumes client messages until the connection fails, keeping
// only the newest valid size in resize. It cancels the stream on exit.
func (h *Handler) readResizes(conn *websocket.Conn, resize chan size, cancel context.CancelFunc) {
	defer cancel()

	readWait := 3 * h.config.KeepaliveInterval
	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		var msg resizeMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "resize" || !validDimension(msg.Width) || !validDimension(msg.Height) {
			metrics.IncStreamErrors("bad_message")
			continue
		}
		select {
		case <-resize:
		default:
		}
		resize <- size{msg.Width, msg.Height}
	}
}
