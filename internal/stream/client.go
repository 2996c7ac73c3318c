package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/heartbeat/internal/metrics"
)

const sseWriteWait = 30 * time.Second

// eventWriter writes SSE records for one chart stream. Every byte goes
// through a countingWriter so the stream metrics match what hit the wire.
type eventWriter struct {
	out     countingWriter
	flusher http.Flusher
	rc      *http.ResponseController
	logger  *slog.Logger
}

func newEventWriter(w http.ResponseWriter, flusher http.Flusher, logger *slog.Logger) *eventWriter {
	return &eventWriter{
		out:     countingWriter{w: w},
		flusher: flusher,
		rc:      http.NewResponseController(w),
		logger:  logger,
	}
}

// retry sets the browser's reconnect delay.
func (e *eventWriter) retry(d time.Duration) error {
	return e.write(func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "retry: %d\n\n", d.Milliseconds())
		return err
	})
}

// event sends v as one "data: {json}\n\n" record and counts it as a message.
func (e *eventWriter) event(v any) error {
	err := e.write(func(w io.Writer) error {
		if _, err := io.WriteString(w, "data: "); err != nil {
			return err
		}
		// Encode ends the JSON with the first of the two newlines.
		if err := encodeJSON(w, v); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	})
	if err != nil {
		return err
	}
	metrics.IncStreamMessages()
	return nil
}

// keepalive sends an SSE comment line.
func (e *eventWriter) keepalive() error {
	return e.write(func(w io.Writer) error {
		_, err := io.WriteString(w, ":\n\n")
		return err
	})
}

// write extends the deadline, runs fn against the counting writer, flushes,
// and adds the bytes written to the stream metrics.
func (e *eventWriter) write(fn func(io.Writer) error) error {
	if err := e.rc.SetWriteDeadline(time.Now().Add(sseWriteWait)); err != nil {
		e.logger.Debug("could not set write deadline", "error", err)
	}
	before := e.out.n
	err := fn(&e.out)
	metrics.AddStreamBytes(e.out.n - before)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	e.flusher.Flush()
	return nil
}

// countingWriter counts bytes passed through to w.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func encodeJSON(w io.Writer, v any) error {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}
