package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const loginQuery = "data.auth.login"

// DefaultLoginPolicy admits active identities, and only verified ones when the entity requires it.
const DefaultLoginPolicy = `package auth.login

default allow := false

allow if {
	input.identity.status == "active"
	not needs_verification
}

needs_verification if {
	input.entity.require_verified_email
	not input.identity.email_verified
}

deny_reason := "account_not_active" if {
	input.identity.status != "active"
}

deny_reason := "email_not_verified" if {
	input.identity.status == "active"
	needs_verification
}
`

// OPAEvaluator evaluates the login admission policy with OPA Rego. The policy is compiled once.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy (DefaultLoginPolicy when empty). The module must declare package auth.login
// and define allow; deny_reason is optional.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultLoginPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"login.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile login policy: %w", err)
	}
	q, err := rego.New(rego.Query(loginQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare login policy: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// HealthCheck evaluates the compiled policy against a minimal active identity.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.EvaluateLogin(ctx, LoginInput{Entity: "users", Status: "active"})
	return err
}

// EvaluateLogin runs the policy. A policy that yields no decision denies with DenyAccountNotActive.
func (e *OPAEvaluator) EvaluateLogin(ctx context.Context, in LoginInput) (Decision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return Decision{}, fmt.Errorf("eval login policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("login policy returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("login policy result has type %T", rs[0].Expressions[0].Value)
	}
	out := Decision{}
	if v, ok := doc["allow"].(bool); ok {
		out.Allow = v
	}
	if out.Allow {
		return out, nil
	}
	out.DenyReason = DenyAccountNotActive
	if v, ok := doc["deny_reason"].(string); ok && v != "" {
		out.DenyReason = v
	}
	return out, nil
}

func buildInput(in LoginInput) map[string]interface{} {
	return map[string]interface{}{
		"entity": map[string]interface{}{
			"name":                   in.Entity,
			"require_verified_email": in.RequireVerifiedEmail,
		},
		"identity": map[string]interface{}{
			"id":             in.IdentityID,
			"status":         in.Status,
			"role":           in.Role,
			"email_verified": in.EmailVerified,
		},
	}
}
