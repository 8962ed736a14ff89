package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/Amund211/weakcache/internal/adapters/cache"
	"github.com/Amund211/weakcache/internal/adapters/resourceprovider"
	"github.com/Amund211/weakcache/internal/domain"
	"github.com/Amund211/weakcache/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxKeyLength = 256

var (
	ErrEmptyKey   = errors.New("empty key")
	ErrKeyTooLong = errors.New("key too long")
)

var tracer = otel.Tracer("weakcache/app")

type GetResource func(ctx context.Context, key string) (*domain.Resource, error)

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: %d > %d", ErrKeyTooLong, len(key), maxKeyLength)
	}
	return nil
}

func BuildGetResourceWithCache(resourceCache *cache.Cache[domain.Resource], provider resourceprovider.ResourceProvider) GetResource {
	return func(ctx context.Context, key string) (*domain.Resource, error) {
		ctx, span := tracer.Start(ctx, "GetResource", trace.WithAttributes(attribute.Int("key_length", len(key))))
		defer span.End()

		if err := validateKey(key); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		created := false
		resource, err := resourceCache.GetOrCreate(ctx, key, func() (*domain.Resource, error) {
			created = true
			return provider.GetResource(ctx, key)
		})
		if err != nil {
			// NOTE: GetOrCreate only returns an error if create() fails, and nothing is cached
			logging.FromContext(ctx).WarnContext(ctx, "Failed to create resource", "error", err.Error())
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create resource")
			return nil, fmt.Errorf("failed to cache.GetOrCreate resource: %w", err)
		}

		span.SetAttributes(
			attribute.Bool("created", created),
			attribute.Int64("generation", resource.Generation),
		)

		return resource, nil
	}
}
