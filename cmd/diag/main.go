// Command diag runs one acquisition cycle against a node and prints what the
// display would show. With --png the rendered chart is written to stdout and
// the summary goes to stderr.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/star/heartbeat/internal/acquire"
	"github.com/star/heartbeat/internal/display"
	"github.com/star/heartbeat/internal/frame"
)

func main() {
	endpoint := pflag.StringP("endpoint", "e", frame.DefaultEndpoint, "acquisition node frame URL")
	writePNG := pflag.Bool("png", false, "write the rendered chart as PNG to stdout")
	width := pflag.Int("width", 640, "chart width in pixels")
	height := pflag.Int("height", 480, "chart height in pixels")
	timeout := pflag.Duration("timeout", 10*time.Second, "fetch timeout")
	pflag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	out := io.Writer(os.Stdout)
	if *writePNG {
		out = os.Stderr
	}

	store := frame.NewStore()
	loop := acquire.NewLoop(frame.NewFetcher(*endpoint), store, acquire.Config{}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	if err := loop.Cycle(ctx); err != nil {
		fmt.Fprintf(out, "ERROR %s: %v\n", *endpoint, err)
		os.Exit(1)
	}
	fmt.Fprintf(out, "Fetched %s in %v\n", *endpoint, time.Since(start).Round(time.Millisecond))

	res := store.Get()
	if res == nil {
		fmt.Fprintln(out, "Node reachable, no current frame")
	} else {
		fmt.Fprintln(out, display.StatusLine(res))
		fmt.Fprintf(out, "Template: %d samples (%.0f Hz, %.3f s)\n",
			res.TemplateLength, acquire.ReferenceFrequency, acquire.ReferenceDuration)
		fmt.Fprintf(out, "Correlation: %d values, raw peak %.1f at index %d\n",
			len(res.Correlation), res.Peak, res.PeakIndex)
	}

	if !*writePNG {
		return
	}
	data, _, err := display.New(store).RenderPNG(*width, *height)
	if err != nil {
		fmt.Fprintln(out, "ERROR rendering:", err)
		os.Exit(1)
	}
	if _, err := os.Stdout.Write(data); err != nil {
		fmt.Fprintln(out, "ERROR writing png:", err)
		os.Exit(1)
	}
}
