package sqlite

import (
	"math/rand/v2"
	"strings"
	"time"
)

// RetryConfig controls exponential backoff on transient SQLite contention.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	JitterPct  float64
}

// DefaultRetryConfig: 7 retries, 50ms base, 25% jitter. With doubling that
// covers ~6s of contention before giving up.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 7,
		BaseDelay:  50 * time.Millisecond,
		JitterPct:  0.25,
	}
}

// RetryOnBusy retries fn on SQLITE_BUSY / database-is-locked errors using the
// default config. Any other error is returned immediately.
func RetryOnBusy(fn func() error) error {
	return retryOnBusy(DefaultRetryConfig(), fn, time.Sleep)
}

// RetryOnBusyWithConfig is RetryOnBusy with explicit tuning.
func RetryOnBusyWithConfig(cfg RetryConfig, fn func() error) error {
	return retryOnBusy(cfg, fn, time.Sleep)
}

func retryOnBusy(cfg RetryConfig, fn func() error, sleep func(time.Duration)) error {
	err := fn()
	if err == nil || !isBusy(err) {
		return err
	}
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		delay := cfg.BaseDelay * (1 << (attempt - 1))
		jitter := time.Duration(float64(delay) * rand.Float64() * cfg.JitterPct)
		sleep(delay + jitter)

		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
	}
	return err
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
