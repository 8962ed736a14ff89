package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Amund211/weakcache/internal/logging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type jsonWriter struct {
	t    *testing.T
	data []string
}

func newWriter(t *testing.T) *jsonWriter {
	return &jsonWriter{t: t, data: make([]string, 0)}
}

func (w *jsonWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, string(p))
	return len(p), nil
}

func (w *jsonWriter) PopWithoutTime() (map[string]any, bool) {
	w.t.Helper()
	if len(w.data) == 0 {
		return nil, false
	}

	lastIndex := len(w.data) - 1
	val := w.data[lastIndex]
	w.data = w.data[:lastIndex]

	var result map[string]any
	require.NoError(w.t, json.Unmarshal([]byte(val), &result))

	timeStr, ok := result["time"].(string)
	require.True(w.t, ok)
	timeTime, err := time.Parse(time.RFC3339, timeStr)
	require.NoError(w.t, err)
	require.WithinDuration(w.t, time.Now(), timeTime, 5*time.Second)

	// Drop "time" as it is hard to match against
	delete(result, "time")

	return result, true
}

func (w *jsonWriter) RequireEmpty() {
	w.t.Helper()
	require.Empty(w.t, w.data)
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	t.Run("stored logger", func(t *testing.T) {
		t.Parallel()
		logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
		ctx := logging.AddToContext(t.Context(), logger)
		require.Equal(t, logger, logging.FromContext(ctx))
	})

	t.Run("fallback", func(t *testing.T) {
		t.Parallel()
		require.NotNil(t, logging.FromContext(t.Context()))
	})
}

func TestAddMetaToContext(t *testing.T) {
	t.Parallel()

	w := newWriter(t)
	rootLogger := slog.New(slog.NewJSONHandler(w, nil)).With(slog.String("rootprop", "rootval"))
	ctx := logging.AddToContext(t.Context(), rootLogger)

	ctx = logging.AddMetaToContext(ctx, slog.String("testprop", "testval"))
	logging.FromContext(ctx).Info("test")
	entry, ok := w.PopWithoutTime()
	require.True(t, ok)
	require.Equal(t, map[string]any{
		"level":    "INFO",
		"msg":      "test",
		"rootprop": "rootval",
		"testprop": "testval",
	}, entry)
	w.RequireEmpty()

	ctx = logging.AddMetaToContext(ctx, slog.String("testprop", "testval2"), slog.String("rootprop", "rootval2"))
	logging.FromContext(ctx).Info("test")
	entry, ok = w.PopWithoutTime()
	require.True(t, ok)
	require.Equal(t, map[string]any{
		"level":    "INFO",
		"msg":      "test",
		"rootprop": "rootval2",
		"testprop": "testval2",
	}, entry)
}

func TestRequestLoggerMiddleware(t *testing.T) {
	t.Parallel()

	run := func(t *testing.T, request *http.Request) map[string]any {
		t.Helper()
		w := newWriter(t)
		middleware := logging.NewRequestLoggerMiddleware(slog.New(slog.NewJSONHandler(w, nil)))

		mux := http.NewServeMux()
		mux.HandleFunc("/v1/resources/{key}", middleware(func(w http.ResponseWriter, r *http.Request) {
			logging.FromContext(r.Context()).Info("test")
		}))
		mux.HandleFunc("/v1/entries", middleware(func(w http.ResponseWriter, r *http.Request) {
			logging.FromContext(r.Context()).Info("test")
		}))

		mux.ServeHTTP(httptest.NewRecorder(), request)

		entry, ok := w.PopWithoutTime()
		require.True(t, ok)
		w.RequireEmpty()
		return entry
	}

	t.Run("all props", func(t *testing.T) {
		t.Parallel()
		request := httptest.NewRequest(http.MethodGet, "/v1/resources/my-key", nil)
		request.Header.Set("X-Request-Id", "request-id")
		request.Header.Set("User-Agent", "user-agent/1.0")

		require.Equal(t, map[string]any{
			"level":      "INFO",
			"msg":        "test",
			"requestId":  "request-id",
			"key":        "my-key",
			"userAgent":  "user-agent/1.0",
			"methodPath": "GET /v1/resources/my-key",
		}, run(t, request))
	})

	t.Run("missing props", func(t *testing.T) {
		t.Parallel()
		request := httptest.NewRequest(http.MethodGet, "/v1/entries", nil)
		request.Header.Del("User-Agent")

		entry := run(t, request)

		requestID, ok := entry["requestId"].(string)
		require.True(t, ok)
		_, err := uuid.Parse(requestID)
		require.NoError(t, err, "generated request id should be a uuid")
		delete(entry, "requestId")

		require.Equal(t, map[string]any{
			"level":      "INFO",
			"msg":        "test",
			"key":        "<missing>",
			"userAgent":  "<missing>",
			"methodPath": "GET /v1/entries",
		}, entry)
	})
}
