package ports

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Amund211/weakcache/internal/app"
	"github.com/Amund211/weakcache/internal/domain"
	"github.com/Amund211/weakcache/internal/logging"
	"github.com/Amund211/weakcache/internal/ratelimiting"
	"github.com/Amund211/weakcache/internal/reporting"
)

func MakeGetResourceHandler(
	getResource app.GetResource,
	ipRateLimiter ratelimiting.RequestRateLimiter,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		buildMetricsMiddleware("resources"),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware("resources"),
		NewRateLimitMiddleware(ipRateLimiter, onLimitExceeded),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := r.PathValue("key")

		resource, err := getResource(ctx, key)
		if errors.Is(err, app.ErrEmptyKey) || errors.Is(err, app.ErrKeyTooLong) {
			writeError(ctx, w, http.StatusBadRequest, "invalid key")
			return
		} else if errors.Is(err, domain.ErrTemporarilyUnavailable) {
			writeError(ctx, w, http.StatusServiceUnavailable, "temporarily unavailable")
			return
		} else if err != nil {
			reporting.Report(ctx, err)
			writeError(ctx, w, http.StatusInternalServerError, "internal server error")
			return
		}

		writeJSON(ctx, w, http.StatusOK, getResourceResponse{
			Success:  true,
			Resource: resourceToResponse(resource),
		})
	}

	return middleware(handler)
}
