package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const policyQuery = "data.distrack.authz.allow"

// DefaultPolicy allows a request when the required scope is among the token's scopes.
const DefaultPolicy = `package distrack.authz

default allow := false

allow if {
	input.required_scope == ""
}

allow if {
	input.scopes[_] == input.required_scope
}
`

// OPAEvaluator evaluates scope policy with OPA Rego. The policy is compiled
// once and the prepared query is reused for every request.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles module, or DefaultPolicy when module is empty.
// The module must define data.distrack.authz.allow.
func NewOPAEvaluator(ctx context.Context, module string) (*OPAEvaluator, error) {
	if module == "" {
		module = DefaultPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"authz.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// Allow evaluates the policy for in. An undefined result denies.
func (e *OPAEvaluator) Allow(ctx context.Context, in ScopeInput) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	return ok && allowed, nil
}

// HealthCheck verifies that the prepared policy evaluates and denies an empty token.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	allowed, err := e.Allow(ctx, ScopeInput{RequiredScope: "health:check"})
	if err != nil {
		return err
	}
	if allowed {
		return fmt.Errorf("policy allowed a token without scopes")
	}
	return nil
}

func buildInput(in ScopeInput) map[string]interface{} {
	scopes := make([]interface{}, 0, len(in.Scopes))
	for _, s := range in.Scopes {
		scopes = append(scopes, s)
	}
	return map[string]interface{}{
		"user_id":        in.UserID,
		"device_id":      in.DeviceID,
		"scopes":         scopes,
		"required_scope": in.RequiredScope,
		"method":         in.Method,
		"path":           in.Path,
	}
}
