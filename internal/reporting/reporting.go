package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"regexp"
	"time"

	"github.com/Amund211/weakcache/internal/config"
	"github.com/Amund211/weakcache/internal/logging"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
)

// Cache keys are user controlled, so they are always quoted in error messages
var quotedRx = regexp.MustCompile(`"[^"]*"`)
var hostRx = regexp.MustCompile(`\[:{0,2}([0-9a-f]{0,4}:?){1,8}\]:\d+`)

// Strip high cardinality parts of error messages so reports group together
func sanitizeError(err string) string {
	err = quotedRx.ReplaceAllString(err, "<quoted>")
	err = hostRx.ReplaceAllString(err, "<host>")
	return err
}

type reportingMetaContextKey struct{}

type meta struct {
	tags      map[string]string
	extras    map[string]string
	startedAt time.Time
}

func metaFromContext(ctx context.Context) meta {
	m, ok := ctx.Value(reportingMetaContextKey{}).(meta)
	if !ok {
		return meta{
			tags:   make(map[string]string),
			extras: make(map[string]string),
		}
	}
	return meta{
		tags:      maps.Clone(m.tags),
		extras:    maps.Clone(m.extras),
		startedAt: m.startedAt,
	}
}

func AddTagsToContext(ctx context.Context, tags map[string]string) context.Context {
	m := metaFromContext(ctx)
	maps.Copy(m.tags, tags)
	return context.WithValue(ctx, reportingMetaContextKey{}, m)
}

func AddExtrasToContext(ctx context.Context, extras map[string]string) context.Context {
	m := metaFromContext(ctx)
	maps.Copy(m.extras, extras)
	return context.WithValue(ctx, reportingMetaContextKey{}, m)
}

func setStartedAtInContext(ctx context.Context, startedAt time.Time) context.Context {
	m := metaFromContext(ctx)
	m.startedAt = startedAt
	return context.WithValue(ctx, reportingMetaContextKey{}, m)
}

// Report logs err and sends it to Sentry, if a hub is present in ctx
func Report(ctx context.Context, err error, extras ...map[string]string) {
	if err == nil {
		err = errors.New("No error provided")
	}

	logger := logging.FromContext(ctx)
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	logger.ErrorContext(
		ctx,
		"Reporting error to Sentry",
		slog.String("error", err.Error()),
		slog.Any("extras", extras),
	)

	hub.WithScope(func(scope *sentry.Scope) {
		m := metaFromContext(ctx)
		scope.SetTags(m.tags)
		for key, value := range m.extras {
			scope.SetExtra(key, value)
		}
		if !m.startedAt.IsZero() {
			scope.SetExtra("secondsSinceStart", time.Since(m.startedAt).Seconds())
		}

		for _, extra := range extras {
			for key, value := range extra {
				scope.SetExtra(key, value)
			}
		}

		scope.SetFingerprint([]string{"{{ default }}", sanitizeError(err.Error())})
		hub.CaptureException(err)
	})
}

// NewAddMetaMiddleware tags reports made while handling a request with the
// port that handled it
func NewAddMetaMiddleware(portName string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			userAgent := r.UserAgent()
			if userAgent == "" {
				userAgent = "<missing>"
			}

			ctx = AddTagsToContext(ctx, map[string]string{
				"port":       portName,
				"userAgent":  userAgent,
				"methodPath": fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			})
			ctx = setStartedAtInContext(ctx, time.Now())

			next(w, r.WithContext(ctx))
		}
	}
}

func InitSentryMiddleware(sentryDSN string, environment string) (func(http.HandlerFunc) http.HandlerFunc, func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              sentryDSN,
		Environment:      environment,
		EnableTracing:    true,
		TracesSampleRate: 1.0 / 100.0,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})

	middleware := func(next http.HandlerFunc) http.HandlerFunc {
		return sentryHandler.HandleFunc(next)
	}

	flush := func() {
		sentry.Flush(5 * time.Second)
	}

	return middleware, flush, nil
}

func NewSentryMiddlewareOrMock(conf config.Config) (func(http.HandlerFunc) http.HandlerFunc, func(), error) {
	if conf.SentryDSN() != "" {
		environment := "development"
		if conf.IsProduction() {
			environment = "production"
		} else if conf.IsStaging() {
			environment = "staging"
		}
		return InitSentryMiddleware(conf.SentryDSN(), environment)
	}

	if conf.IsDevelopment() {
		middleware := func(next http.HandlerFunc) http.HandlerFunc {
			return next
		}
		flush := func() {}
		return middleware, flush, nil
	}

	return nil, nil, fmt.Errorf("%w: missing Sentry DSN in non-development environment", config.ErrMissingRequiredValue)
}
