package config

import (
	"errors"
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}

	t := cfg.Treasury
	if t.MaxAttempts < 1 {
		return errors.New("treasury.maxAttempts must be >= 1")
	}
	if t.Timeout <= 0 {
		return errors.New("treasury.timeout must be > 0")
	}
	if t.BackoffBase < 0 || t.JitterMax < 0 {
		return errors.New("treasury backoff settings must be >= 0")
	}
	if t.RateLimit < 0 {
		return errors.New("treasury.rateLimit must be >= 0")
	}
	if t.RateLimit > 0 && t.RateBurst < 1 {
		return errors.New("treasury.rateBurst must be >= 1 when rateLimit is set")
	}
	if t.BreakerThreshold < 0 || t.BreakerCooldown < 0 {
		return errors.New("treasury breaker settings must be >= 0")
	}

	db := cfg.Database
	switch db.Driver {
	case "memory":
	case "postgres":
		if db.DSN == "" && db.Host == "" {
			return errors.New("database.dsn or database.host is required for postgres (or TD_DATABASE_DSN)")
		}
		if db.Port < 0 || db.MaxOpenConns < 0 || db.MaxIdleConns < 0 {
			return errors.New("database pool settings must be >= 0")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (memory, postgres)", db.Driver)
	}

	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if cfg.Server.ShutdownTimeout < 0 {
		return errors.New("server.shutdownTimeout must be >= 0")
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format %q must be json or console", cfg.Log.Format)
	}

	if cfg.Curve.MemoTTL < 0 {
		return errors.New("curve.memoTTL must be >= 0")
	}
	if cfg.Curve.WarmWorkers < 0 {
		return errors.New("curve.warmWorkers must be >= 0")
	}
	if cfg.Alert.Throttle < 0 {
		return errors.New("alert.throttle must be >= 0")
	}
	return nil
}
