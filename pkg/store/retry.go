// retry.go retries writes that fail on transient SQLite contention.
//
// The busy_timeout pragma absorbs most SQLITE_BUSY errors, but under WAL
// contention modernc.org/sqlite can still surface SQLITE_LOCKED or a short
// read (522). Those are retried with exponential backoff and jitter; every
// other error returns at once.
package store

import (
	"math/rand"
	"strings"
	"time"
)

type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

var transientPatterns = []string{
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
	"IOERR_SHORT_READ",
	"database is locked",
	"database table is locked",
	"(5)",   // SQLITE_BUSY
	"(6)",   // SQLITE_LOCKED
	"(522)", // SQLITE_IOERR_SHORT_READ
}

// isTransientSQLiteErr matches on the message because the driver's
// error codes are not exported as sentinels.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// retryOp runs fn until it succeeds, fails permanently, or the retries
// run out. onRetry, if set, is called before each sleep.
func retryOp(cfg retryConfig, fn func() error, onRetry func(attempt int, err error)) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isTransientSQLiteErr(lastErr) {
			return lastErr
		}
		if attempt < cfg.maxRetries {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			time.Sleep(backoffDelay(cfg, attempt))
		}
	}
	return lastErr
}

// backoffDelay is min(base·2^attempt, max) plus jitter in [0, base).
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(cfg.baseDelay)))
}
