package ports

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Amund211/weakcache/internal/app"
	"github.com/Amund211/weakcache/internal/logging"
	"github.com/Amund211/weakcache/internal/ratelimiting"
	"github.com/Amund211/weakcache/internal/reporting"
)

func MakeGetEntriesHandler(
	listEntries app.ListEntries,
	ipRateLimiter ratelimiting.RequestRateLimiter,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		buildMetricsMiddleware("entries"),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware("entries"),
		NewRateLimitMiddleware(ipRateLimiter, onLimitExceeded),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		writeJSON(ctx, w, http.StatusOK, entriesToResponse(listEntries(ctx)))
	}

	return middleware(handler)
}

func MakeDeleteEntryHandler(
	removeEntry app.RemoveEntry,
	ipRateLimiter ratelimiting.RequestRateLimiter,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		buildMetricsMiddleware("delete_entry"),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware("delete_entry"),
		// NOTE: Every removal waits for the exclusive table lock and holds back lookups meanwhile
		NewRateLimitMiddleware(ipRateLimiter, onLimitExceeded),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := r.PathValue("key")

		outcome, err := removeEntry(ctx, key)
		if errors.Is(err, app.ErrEmptyKey) || errors.Is(err, app.ErrKeyTooLong) {
			writeError(ctx, w, http.StatusBadRequest, "invalid key")
			return
		} else if err != nil {
			reporting.Report(ctx, err)
			writeError(ctx, w, http.StatusInternalServerError, "internal server error")
			return
		}

		if outcome == app.RemovalScheduled {
			writeJSON(ctx, w, http.StatusAccepted, deleteEntryResponse{Success: true, Scheduled: true})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}

	return middleware(handler)
}
