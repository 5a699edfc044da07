package engine

import "context"

// ScopeInput is the authorization question asked for a bearer-authenticated request.
type ScopeInput struct {
	UserID        string
	DeviceID      string
	Scopes        []string
	RequiredScope string
	Method        string
	Path          string
}

// Evaluator decides whether a caller's token may use a route.
type Evaluator interface {
	// Allow reports whether the input is permitted. An error means the policy
	// could not be evaluated; callers must deny.
	Allow(ctx context.Context, in ScopeInput) (bool, error)
}
