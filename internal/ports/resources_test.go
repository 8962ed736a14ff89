package ports_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Amund211/weakcache/internal/app"
	"github.com/Amund211/weakcache/internal/domain"
	"github.com/Amund211/weakcache/internal/ports"
	"github.com/Amund211/weakcache/internal/ratelimiting"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func noopMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h(w, r)
	}
}

type allowAll struct{}

func (allowAll) Consume(key string) bool { return true }

type denyAll struct{}

func (denyAll) Consume(key string) bool { return false }

func allowAllByIP() ratelimiting.RequestRateLimiter {
	return ratelimiting.NewRequestBasedRateLimiter(allowAll{}, ratelimiting.IPKeyFunc)
}

func denyAllByIP() ratelimiting.RequestRateLimiter {
	return ratelimiting.NewRequestBasedRateLimiter(denyAll{}, ratelimiting.IPKeyFunc)
}

func TestMakeGetResourceHandler(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)

	makeGetResource := func(t *testing.T, expectedKey string, resource *domain.Resource, err error) (app.GetResource, *bool) {
		called := false
		return func(ctx context.Context, key string) (*domain.Resource, error) {
			t.Helper()
			require.Equal(t, expectedKey, key)
			called = true
			return resource, err
		}, &called
	}

	makeRequest := func(key string) *http.Request {
		req := httptest.NewRequest("GET", "/v1/resources/"+key, nil)
		req.SetPathValue("key", key)
		return req
	}

	makeHandler := func(getResource app.GetResource, limiter ratelimiting.RateLimiter) http.HandlerFunc {
		return ports.MakeGetResourceHandler(
			getResource,
			ratelimiting.NewRequestBasedRateLimiter(limiter, ratelimiting.IPKeyFunc),
			testLogger,
			noopMiddleware,
		)
	}

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		getResource, called := makeGetResource(t, "key", &domain.Resource{
			Key:        "key",
			Generation: 3,
			CreatedAt:  createdAt,
			Digest:     "abcd",
			Payload:    make([]byte, 10),
		}, nil)

		w := httptest.NewRecorder()
		makeHandler(getResource, allowAll{}).ServeHTTP(w, makeRequest("key"))

		require.True(t, *called)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "application/json", w.Result().Header.Get("Content-Type"))
		require.JSONEq(t, `{
			"success": true,
			"resource": {
				"key": "key",
				"generation": 3,
				"createdAt": "2026-03-04T05:06:07Z",
				"digest": "abcd",
				"sizeBytes": 10
			}
		}`, w.Body.String())
	})

	t.Run("invalid key", func(t *testing.T) {
		t.Parallel()
		getResource, called := makeGetResource(t, "", nil, app.ErrEmptyKey)

		w := httptest.NewRecorder()
		makeHandler(getResource, allowAll{}).ServeHTTP(w, makeRequest(""))

		require.True(t, *called)
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.JSONEq(t, `{"success":false,"cause":"invalid key"}`, w.Body.String())
	})

	t.Run("temporarily unavailable", func(t *testing.T) {
		t.Parallel()
		getResource, _ := makeGetResource(t, "key", nil, domain.ErrTemporarilyUnavailable)

		w := httptest.NewRecorder()
		makeHandler(getResource, allowAll{}).ServeHTTP(w, makeRequest("key"))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.JSONEq(t, `{"success":false,"cause":"temporarily unavailable"}`, w.Body.String())
	})

	t.Run("internal error", func(t *testing.T) {
		t.Parallel()
		getResource, _ := makeGetResource(t, "key", nil, errors.New("boom"))

		w := httptest.NewRecorder()
		makeHandler(getResource, allowAll{}).ServeHTTP(w, makeRequest("key"))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.JSONEq(t, `{"success":false,"cause":"internal server error"}`, w.Body.String())
	})

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()
		getResource, called := makeGetResource(t, "key", nil, nil)

		w := httptest.NewRecorder()
		makeHandler(getResource, denyAll{}).ServeHTTP(w, makeRequest("key"))

		require.False(t, *called)
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		require.JSONEq(t, `{"success":false,"cause":"rate limit exceeded"}`, w.Body.String())
	})
}
