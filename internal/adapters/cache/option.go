package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Amund211/weakcache/internal/logging"
)

type config struct {
	nowFunc func() time.Time
	logger  *slog.Logger
	onPanic PanicHandler
}

// Option is a function that sets a value in a config.
type Option func(*config) error

func getOpts(opts []Option) (config, error) {
	cfg := config{
		nowFunc: time.Now,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %w", i, err)
		}
	}

	if cfg.onPanic == nil {
		logger := cfg.logger
		cfg.onPanic = func(ctx context.Context, event Event, recovered any) {
			l := logger
			if l == nil {
				l = logging.FromContext(ctx)
			}
			l.ErrorContext(ctx, "Cache subscriber panicked", "event", event.String(), "panic", fmt.Sprint(recovered))
		}
	}
	return cfg, nil
}

// WithNowFunc sets the clock used for last access bookkeeping and expiry.
//
// Default is time.Now
func WithNowFunc(nowFunc func() time.Time) Option {
	return func(cfg *config) error {
		if nowFunc == nil {
			return errors.New("nil now func")
		}
		cfg.nowFunc = nowFunc
		return nil
	}
}

// WithLogger sets the logger used by the cache. When unset the logger is
// taken from the context of each call.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) error {
		cfg.logger = logger
		return nil
	}
}

// WithPanicHandler sets the function called when a subscriber panics.
//
// Default logs the panic at error level.
func WithPanicHandler(onPanic PanicHandler) Option {
	return func(cfg *config) error {
		cfg.onPanic = onPanic
		return nil
	}
}
