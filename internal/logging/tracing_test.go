package logging_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/Amund211/weakcache/internal/logging"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestTracingLogHandler(t *testing.T) {
	t.Parallel()

	traceID, err := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("b7ad6b7169203331")
	require.NoError(t, err)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	t.Run("adds span info", func(t *testing.T) {
		t.Parallel()
		w := newWriter(t)
		logger := slog.New(logging.NewTracingLogHandler(slog.NewJSONHandler(w, nil))).With("component", "test")

		ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
		logger.InfoContext(ctx, "traced")

		entry, ok := w.PopWithoutTime()
		require.True(t, ok)
		require.Equal(t, map[string]any{
			"level":        "INFO",
			"msg":          "traced",
			"component":    "test",
			"traceId":      "0af7651916cd43dd8448eb211c80319c",
			"spanId":       "b7ad6b7169203331",
			"traceSampled": true,
		}, entry)
	})

	t.Run("no span", func(t *testing.T) {
		t.Parallel()
		w := newWriter(t)
		logger := slog.New(logging.NewTracingLogHandler(slog.NewJSONHandler(w, nil)))

		logger.InfoContext(context.Background(), "untraced")

		entry, ok := w.PopWithoutTime()
		require.True(t, ok)
		require.Equal(t, map[string]any{
			"level": "INFO",
			"msg":   "untraced",
		}, entry)
	})
}
