// Package handler serves liveness and readiness over HTTP and the standard
// gRPC health protocol.
package handler

import (
	"context"
	"fmt"
)

// Pinger checks database connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the policy engine can evaluate (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker runs the readiness checks. A nil dependency is skipped.
type Checker struct {
	db     Pinger
	policy PolicyChecker
}

// NewChecker returns a readiness checker. Either argument may be nil.
func NewChecker(db Pinger, policy PolicyChecker) *Checker {
	return &Checker{db: db, policy: policy}
}

// Ready returns the first failing check.
func (c *Checker) Ready(ctx context.Context) error {
	if c.db != nil {
		if err := c.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	return nil
}
