// Package udf implements the UDF Adjustment Host: bounded
// time, batched invocation of user-supplied per-year mortality/lapse
// adjustment functions, with graceful fallback on timeout or failure.
package udf

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/actuar/projector/internal/domain"
	"github.com/actuar/projector/internal/obslog"
)

// AdjustFunc is a user-supplied adjustment function. It must return a
// multiplier in [0, 10]; the host treats any other return, any error, or
// any call exceeding Timeout as a fallback to 1.0, counted as a warning.
type AdjustFunc func(ctx context.Context, policy *domain.Policy, year int, lives, rate float64) (float64, error)

// Config controls the host's per-call timeout. Batching is not
// configured here; it comes from wrapping Hosts in a BatchHost.
type Config struct {
	Timeout time.Duration // default 1s
}

// DefaultTimeout is the host contract's default bound.
const DefaultTimeout = 1000 * time.Millisecond

// Host wraps one named adjustment function with the timeout/fallback
// contract. It is safe for concurrent use: each call gets
// its own context and goroutine, so a slow or hung UDF for one
// (policy, year) never blocks another.
type Host struct {
	Name    string
	Fn      AdjustFunc
	Timeout time.Duration
	Logger  obslog.Logger

	warnings int64
}

// NewHost builds a Host with Config.Timeout, defaulting to 1000ms.
func NewHost(name string, fn AdjustFunc, cfg Config) *Host {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := obslog.Logger(obslog.NopLogger{})
	return &Host{Name: name, Fn: fn, Timeout: timeout, Logger: logger}
}

// Call invokes the UDF synchronously from the kernel's point of view,
// but bounds it with Timeout via an internal goroutine + channel so a
// hanging UDF cannot stall the caller past its contract.
func (h *Host) Call(ctx context.Context, policy *domain.Policy, year int, lives, rate float64) (float64, error) {
	if h == nil || h.Fn == nil {
		return 1.0, nil
	}
	cctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	type result struct {
		mult float64
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := h.Fn(cctx, policy, year, lives, rate)
		ch <- result{m, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			h.warn("udf %s failed for policy %d year %d: %v", h.Name, policy.PolicyID, year, r.err)
			return 1.0, r.err
		}
		if r.mult < 0 || r.mult > 10 {
			h.warn("udf %s returned out-of-range multiplier %g for policy %d year %d", h.Name, r.mult, policy.PolicyID, year)
			return 1.0, errOutOfRange
		}
		return r.mult, nil
	case <-cctx.Done():
		h.warn("udf %s timed out after %s for policy %d year %d", h.Name, h.Timeout, policy.PolicyID, year)
		return 1.0, cctx.Err()
	}
}

func (h *Host) warn(format string, args ...any) {
	atomic.AddInt64(&h.warnings, 1)
	h.Logger.Warnf(format, args...)
}

// Warnings returns the cumulative UDFWarning count since the host's
// construction.
func (h *Host) Warnings() int64 { return atomic.LoadInt64(&h.warnings) }

var errOutOfRange = &rangeError{}

type rangeError struct{}

func (*rangeError) Error() string { return "udf multiplier out of [0,10] range" }
