// Package health polls a worker's readiness endpoint with bounded
// exponential backoff.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// ErrExhausted is returned when the worker never reported ready within the
// attempt and elapsed-time bounds.
var ErrExhausted = errors.New("worker health checks exhausted")

// Defaults for Policy fields left at zero.
const (
	DefaultPath           = "/health"
	DefaultInitialDelay   = time.Second
	DefaultBaseDelay      = 300 * time.Millisecond
	DefaultFactor         = 1.5
	DefaultMaxDelay       = 2 * time.Second
	DefaultMaxAttempts    = 20
	DefaultMaxElapsed     = 20 * time.Second
	DefaultAttemptTimeout = 3 * time.Second
)

// Policy is the bounded retry schedule for one readiness cycle, stated as
// data so it can be tested without wall-clock timers.
type Policy struct {
	Path           string        `json:"path" mapstructure:"path"`
	InitialDelay   time.Duration `json:"initial_delay" mapstructure:"initial_delay"`
	BaseDelay      time.Duration `json:"base_delay" mapstructure:"base_delay"`
	Factor         float64       `json:"factor" mapstructure:"factor"`
	MaxDelay       time.Duration `json:"max_delay" mapstructure:"max_delay"`
	MaxAttempts    int           `json:"max_attempts" mapstructure:"max_attempts"`
	MaxElapsed     time.Duration `json:"max_elapsed" mapstructure:"max_elapsed"`
	AttemptTimeout time.Duration `json:"attempt_timeout" mapstructure:"attempt_timeout"`
}

// DefaultPolicy returns the standard worker readiness schedule: a 1s settle
// before the first probe, then up to 20 attempts within 20s, pausing
// min(300ms * 1.5^(n-1), 2s) after failed attempt n, 3s timeout per attempt.
func DefaultPolicy() Policy {
	return Policy{
		Path:           DefaultPath,
		InitialDelay:   DefaultInitialDelay,
		BaseDelay:      DefaultBaseDelay,
		Factor:         DefaultFactor,
		MaxDelay:       DefaultMaxDelay,
		MaxAttempts:    DefaultMaxAttempts,
		MaxElapsed:     DefaultMaxElapsed,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Delay returns the pause after failed attempt n (1-based):
// min(BaseDelay * Factor^(n-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// URL returns the probe target for the given loopback port.
func (p Policy) URL(port int) string {
	path := p.Path
	if path == "" {
		path = DefaultPath
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}

func (p Policy) normalized() Policy {
	if p.Path == "" {
		p.Path = DefaultPath
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Factor <= 1 {
		p.Factor = DefaultFactor
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = DefaultMaxElapsed
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultAttemptTimeout
	}
	return p
}

// Report is the outcome of one readiness cycle, carrying attempt count and
// elapsed time for diagnostics.
type Report struct {
	Ready    bool
	Attempts int
	Elapsed  time.Duration
	Err      error
}

// Checker runs readiness cycles against a worker port. The sleep and clock
// functions are injectable for tests; zero-value fields are filled by
// NewChecker.
type Checker struct {
	policy Policy
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

func NewChecker(p Policy) *Checker {
	return &Checker{
		policy: p.normalized(),
		client: &http.Client{},
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

// Policy returns the normalized schedule in use.
func (c *Checker) Policy() Policy { return c.policy }

// Wait runs one readiness cycle against port. It returns Ready on the first
// 2xx response; a non-2xx status, connection error, or per-attempt timeout
// consumes one attempt. The cycle fails once attempts or total elapsed time
// are exhausted, or when ctx is cancelled (worker exit, newer restart).
func (c *Checker) Wait(ctx context.Context, port int) Report {
	p := c.policy
	start := c.now()
	if p.InitialDelay > 0 {
		if err := c.sleep(ctx, p.InitialDelay); err != nil {
			return Report{Elapsed: c.now().Sub(start), Err: err}
		}
	}
	attempts := 0
	var lastErr error
	for attempts < p.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return Report{Attempts: attempts, Elapsed: c.now().Sub(start), Err: err}
		}
		if c.now().Sub(start) >= p.MaxElapsed {
			break
		}
		attempts++
		ok, err := c.probe(ctx, port)
		if ok {
			return Report{Ready: true, Attempts: attempts, Elapsed: c.now().Sub(start)}
		}
		lastErr = err
		if attempts >= p.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, p.Delay(attempts)); err != nil {
			return Report{Attempts: attempts, Elapsed: c.now().Sub(start), Err: err}
		}
	}
	err := fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempts, lastErr)
	return Report{Attempts: attempts, Elapsed: c.now().Sub(start), Err: err}
}

func (c *Checker) probe(ctx context.Context, port int) (bool, error) {
	actx, cancel := context.WithTimeout(ctx, c.policy.AttemptTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(actx, http.MethodGet, c.policy.URL(port), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, nil
	}
	return false, fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
