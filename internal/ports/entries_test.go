package ports_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Amund211/weakcache/internal/adapters/cache"
	"github.com/Amund211/weakcache/internal/app"
	"github.com/Amund211/weakcache/internal/ports"
	"github.com/Amund211/weakcache/internal/ratelimiting"
	"github.com/stretchr/testify/require"
)

func TestMakeGetEntriesHandler(t *testing.T) {
	t.Parallel()

	lastAccessed := time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)

	t.Run("entries", func(t *testing.T) {
		t.Parallel()
		listEntries := func(ctx context.Context) []cache.EntryState {
			return []cache.EntryState{
				{Key: "a", LastAccessed: lastAccessed, StrongHeld: true, Alive: true},
				{Key: "b", LastAccessed: lastAccessed, StrongHeld: false, Alive: false},
			}
		}

		w := httptest.NewRecorder()
		handler := ports.MakeGetEntriesHandler(listEntries, allowAllByIP(), testLogger, noopMiddleware)
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/v1/entries", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "application/json", w.Result().Header.Get("Content-Type"))
		require.JSONEq(t, `{
			"success": true,
			"entries": [
				{"key": "a", "lastAccessed": "2026-03-04T05:06:07Z", "strongHeld": true, "alive": true},
				{"key": "b", "lastAccessed": "2026-03-04T05:06:07Z", "strongHeld": false, "alive": false}
			]
		}`, w.Body.String())
	})

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()
		called := false
		listEntries := func(ctx context.Context) []cache.EntryState {
			called = true
			return nil
		}

		w := httptest.NewRecorder()
		handler := ports.MakeGetEntriesHandler(listEntries, denyAllByIP(), testLogger, noopMiddleware)
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/v1/entries", nil))

		require.False(t, called)
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		require.JSONEq(t, `{"success":false,"cause":"rate limit exceeded"}`, w.Body.String())
	})

	t.Run("empty cache", func(t *testing.T) {
		t.Parallel()
		listEntries := func(ctx context.Context) []cache.EntryState {
			return []cache.EntryState{}
		}

		w := httptest.NewRecorder()
		handler := ports.MakeGetEntriesHandler(listEntries, allowAllByIP(), testLogger, noopMiddleware)
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/v1/entries", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"success":true,"entries":[]}`, w.Body.String())
	})
}

func TestMakeDeleteEntryHandler(t *testing.T) {
	t.Parallel()

	makeRequest := func(key string) *http.Request {
		req := httptest.NewRequest("DELETE", "/v1/entries/"+key, nil)
		req.SetPathValue("key", key)
		return req
	}

	makeRemoveEntry := func(t *testing.T, outcome app.RemovalOutcome, err error) app.RemoveEntry {
		return func(ctx context.Context, key string) (app.RemovalOutcome, error) {
			t.Helper()
			require.Equal(t, "key", key)
			return outcome, err
		}
	}

	t.Run("removed", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()
		handler := ports.MakeDeleteEntryHandler(makeRemoveEntry(t, app.RemovalDone, nil), allowAllByIP(), testLogger, noopMiddleware)
		handler.ServeHTTP(w, makeRequest("key"))

		require.Equal(t, http.StatusNoContent, w.Code)
		require.Empty(t, w.Body.String())
	})

	t.Run("scheduled", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()
		handler := ports.MakeDeleteEntryHandler(makeRemoveEntry(t, app.RemovalScheduled, nil), allowAllByIP(), testLogger, noopMiddleware)
		handler.ServeHTTP(w, makeRequest("key"))

		require.Equal(t, http.StatusAccepted, w.Code)
		require.JSONEq(t, `{"success":true,"scheduled":true}`, w.Body.String())
	})

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()
		called := false
		removeEntry := func(ctx context.Context, key string) (app.RemovalOutcome, error) {
			called = true
			return app.RemovalDone, nil
		}

		w := httptest.NewRecorder()
		handler := ports.MakeDeleteEntryHandler(removeEntry, denyAllByIP(), testLogger, noopMiddleware)
		handler.ServeHTTP(w, makeRequest("key"))

		require.False(t, called)
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		require.JSONEq(t, `{"success":false,"cause":"rate limit exceeded"}`, w.Body.String())
	})

	t.Run("burst of removals from one client is cut off", func(t *testing.T) {
		t.Parallel()
		limiter, stop := ratelimiting.NewTokenBucketRateLimiter(0.001, 5)
		t.Cleanup(stop)

		calls := 0
		removeEntry := func(ctx context.Context, key string) (app.RemovalOutcome, error) {
			calls++
			return app.RemovalScheduled, nil
		}
		handler := ports.MakeDeleteEntryHandler(
			removeEntry,
			ratelimiting.NewRequestBasedRateLimiter(limiter, ratelimiting.IPKeyFunc),
			testLogger,
			noopMiddleware,
		)

		statusCodes := map[int]int{}
		for range 20 {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, makeRequest("key"))
			statusCodes[w.Code]++
		}

		require.Equal(t, 5, calls)
		require.Equal(t, map[int]int{http.StatusAccepted: 5, http.StatusTooManyRequests: 15}, statusCodes)
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()
		handler := ports.MakeDeleteEntryHandler(makeRemoveEntry(t, app.RemovalDone, errors.New("boom")), allowAllByIP(), testLogger, noopMiddleware)
		handler.ServeHTTP(w, makeRequest("key"))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.JSONEq(t, `{"success":false,"cause":"internal server error"}`, w.Body.String())
	})
}
