// Package poll implements bounded polling with capped exponential backoff.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the condition is not met within Config.Timeout.
var ErrTimeout = errors.New("poll: timed out")

// Config bounds a polling loop.
type Config struct {
	Interval    time.Duration // Initial delay between checks (default: 20ms)
	MaxInterval time.Duration // Delay cap (default: 200ms)
	Timeout     time.Duration // Overall budget (default: 5s)
}

// DefaultConfig returns the polling defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    20 * time.Millisecond,
		MaxInterval: 200 * time.Millisecond,
		Timeout:     5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.MaxInterval < c.Interval {
		c.MaxInterval = c.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// CondFunc reports whether polling is done. A non-nil error aborts polling.
type CondFunc func() (bool, error)

// Until calls cond until it returns true, returns an error, the context is
// cancelled or the timeout elapses.
//
// The delay between checks doubles from Interval up to MaxInterval:
//   - Check 1: immediately
//   - Check 2: 20ms
//   - Check 3: 40ms
//   - ...
//   - Then every 200ms until Timeout
func Until(ctx context.Context, cfg Config, cond CondFunc) error {
	cfg = cfg.withDefaults()
	deadline := time.Now().Add(cfg.Timeout)

	for attempt := 1; ; attempt++ {
		done, err := cond()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w after %s (%d checks)", ErrTimeout, cfg.Timeout, attempt)
		}

		delay := Backoff(attempt, cfg)
		if delay > remaining {
			delay = remaining
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Backoff returns the delay after the given attempt.
//
// Formula: delay = Interval * 2^(attempt-1), capped at MaxInterval.
func Backoff(attempt int, cfg Config) time.Duration {
	cfg = cfg.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return cfg.MaxInterval
	}
	delay := cfg.Interval * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxInterval {
		delay = cfg.MaxInterval
	}
	return delay
}
