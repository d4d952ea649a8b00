// Package health provides health check utilities for trust-anchor
// dependencies.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Pinger is anything with a context-aware liveness probe. The postgres
// store, the Redis session store and the audit bus all satisfy it.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Checker performs health checks on registered dependencies.
type Checker struct {
	logger   *zap.Logger
	critical map[string]Pinger
	optional map[string]Pinger
}

// NewChecker creates an empty health checker.
func NewChecker(logger *zap.Logger) *Checker {
	return &Checker{
		logger:   logger,
		critical: make(map[string]Pinger),
		optional: make(map[string]Pinger),
	}
}

// RegisterCritical adds a dependency whose failure makes the service
// unhealthy.
func (h *Checker) RegisterCritical(name string, p Pinger) {
	h.critical[name] = p
}

// RegisterOptional adds a dependency that degrades rather than fails the
// service, like the audit bus.
func (h *Checker) RegisterOptional(name string, p Pinger) {
	h.optional[name] = p
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Component string        `json:"component"`
	Healthy   bool          `json:"healthy"`
	Critical  bool          `json:"critical"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
}

// SystemHealth represents overall system health. Healthy is false only when
// a critical dependency fails.
type SystemHealth struct {
	Healthy bool          `json:"healthy"`
	Checks  []CheckResult `json:"checks"`
}

// CheckAll probes every registered dependency.
func (h *Checker) CheckAll(ctx context.Context) *SystemHealth {
	results := make([]CheckResult, 0, len(h.critical)+len(h.optional))
	allHealthy := true

	for name, p := range h.critical {
		res := h.check(ctx, name, p, true)
		results = append(results, res)
		if !res.Healthy {
			allHealthy = false
		}
	}

	for name, p := range h.optional {
		res := h.check(ctx, name, p, false)
		results = append(results, res)
		if !res.Healthy {
			h.logger.Warn("Optional dependency unhealthy, continuing",
				zap.String("component", name),
				zap.String("message", res.Message),
			)
		}
	}

	return &SystemHealth{
		Healthy: allHealthy,
		Checks:  results,
	}
}

func (h *Checker) check(ctx context.Context, name string, p Pinger, critical bool) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: name,
		Critical:  critical,
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.HealthCheck(checkCtx); err != nil {
		result.Message = fmt.Sprintf("health check failed: %v", err)
		result.Duration = time.Since(start)
		return result
	}

	result.Healthy = true
	result.Message = "ok"
	result.Duration = time.Since(start)
	return result
}

// WaitForHealthy blocks until all critical dependencies are healthy or
// maxWait elapses. Used at startup so the anchor never serves before its
// stores do.
func (h *Checker) WaitForHealthy(ctx context.Context, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		h.logger.Info("Checking system health", zap.Int("attempt", attempt))

		health := h.CheckAll(ctx)
		if health.Healthy {
			h.logger.Info("All critical dependencies healthy")
			return nil
		}

		for _, check := range health.Checks {
			if !check.Healthy {
				h.logger.Warn("Dependency unhealthy",
					zap.String("component", check.Component),
					zap.String("message", check.Message),
				)
			}
		}

		// Linear backoff capped at 5s
		waitTime := time.Duration(attempt) * time.Second
		if waitTime > 5*time.Second {
			waitTime = 5 * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}

	return fmt.Errorf("health check timeout after %v", maxWait)
}
