package runtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/l0p7/dashfeed/internal/fetch"
)

// instrument runs one dashboard action and logs its outcome and latency.
func (d *Dashboard) instrument(ctx context.Context, action, target string, fn func(context.Context) error) error {
	start := d.clock.Now()
	err := fn(ctx)
	duration := d.clock.Since(start)

	attrs := []slog.Attr{
		slog.String("action", action),
		slog.Float64("latency_ms", float64(duration)/float64(time.Millisecond)),
		slog.String("state", d.controller.State().String()),
	}
	if target != "" {
		attrs = append(attrs, slog.String("target", target))
	}

	level := slog.LevelInfo
	outcome := "ok"
	if err != nil {
		level = slog.LevelWarn
		outcome = "error"
		attrs = append(attrs, slog.Any("error", err))
		var fetchErr *fetch.Error
		if errors.As(err, &fetchErr) {
			attrs = append(attrs, slog.String("kind", string(fetchErr.Kind)))
		}
	}
	attrs = append(attrs, slog.String("outcome", outcome))

	d.logger.LogAttrs(ctx, level, "action executed", attrs...)
	return err
}
