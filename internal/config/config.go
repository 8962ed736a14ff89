package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

const (
	defaultPort              = "8123"
	defaultRollingLifetime   = 20 * time.Minute
	defaultReapInterval      = 1 * time.Minute
	defaultRemovalTimeout    = 1 * time.Second
	defaultResourceSizeBytes = 4096
)

type Config struct {
	port              string
	sentryDSN         string
	rollingLifetime   time.Duration
	reapInterval      time.Duration
	removalTimeout    time.Duration
	resourceSizeBytes int
	otelEnabled       bool
	env               environment
}

func (c *Config) Port() string {
	return c.port
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

// How long cache entries keep a strong reference after their last access
func (c *Config) RollingLifetime() time.Duration {
	return c.rollingLifetime
}

func (c *Config) ReapInterval() time.Duration {
	return c.reapInterval
}

// How long the reaper waits for the exclusive table lock per attempt
func (c *Config) RemovalTimeout() time.Duration {
	return c.removalTimeout
}

func (c *Config) ResourceSizeBytes() int {
	return c.resourceSizeBytes
}

func (c *Config) OTelEnabled() bool {
	return c.otelEnabled
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, port: %s, rollingLifetime: %s, reapInterval: %s, removalTimeout: %s, resourceSizeBytes: %d, otelEnabled: %t, ...}",
		string(c.env),
		c.port,
		c.rollingLifetime,
		c.reapInterval,
		c.removalTimeout,
		c.resourceSizeBytes,
		c.otelEnabled,
	)
}

func invalidValue(key, raw string) error {
	return fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, raw)
}

func positiveDurationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		return 0, invalidValue(key, raw)
	}
	return duration, nil
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("WEAKCACHE_ENVIRONMENT")
	if !ok {
		return missingKey("WEAKCACHE_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return Config{}, invalidValue("WEAKCACHE_ENVIRONMENT", rawEnv)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return Config{}, invalidValue("PORT", port)
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	if (env == production || env == staging) && sentryDSN == "" {
		return missingKey("SENTRY_DSN")
	}

	rollingLifetime, err := positiveDurationFromEnv("ROLLING_LIFETIME", defaultRollingLifetime)
	if err != nil {
		return Config{}, err
	}
	reapInterval, err := positiveDurationFromEnv("REAP_INTERVAL", defaultReapInterval)
	if err != nil {
		return Config{}, err
	}
	removalTimeout, err := positiveDurationFromEnv("REMOVAL_TIMEOUT", defaultRemovalTimeout)
	if err != nil {
		return Config{}, err
	}

	resourceSizeBytes := defaultResourceSizeBytes
	if raw := os.Getenv("RESOURCE_SIZE_BYTES"); raw != "" {
		resourceSizeBytes, err = strconv.Atoi(raw)
		if err != nil || resourceSizeBytes < 0 {
			return Config{}, invalidValue("RESOURCE_SIZE_BYTES", raw)
		}
	}

	otelEnabled := false
	if raw := os.Getenv("OTEL_ENABLED"); raw != "" {
		otelEnabled, err = strconv.ParseBool(raw)
		if err != nil {
			return Config{}, invalidValue("OTEL_ENABLED", raw)
		}
	}

	return Config{
		port:              port,
		sentryDSN:         sentryDSN,
		rollingLifetime:   rollingLifetime,
		reapInterval:      reapInterval,
		removalTimeout:    removalTimeout,
		resourceSizeBytes: resourceSizeBytes,
		otelEnabled:       otelEnabled,
		env:               env,
	}, nil
}
