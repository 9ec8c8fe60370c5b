package engine

import "context"

// Deny reasons produced by the login admission policy.
const (
	DenyAccountNotActive = "account_not_active"
	DenyEmailNotVerified = "email_not_verified"
)

// LoginInput is what the admission policy sees for a login attempt whose password has not been checked yet.
type LoginInput struct {
	Entity               string
	RequireVerifiedEmail bool
	IdentityID           string
	Status               string
	Role                 string
	EmailVerified        bool
}

// Decision is the admission outcome. DenyReason is empty when Allow is true.
type Decision struct {
	Allow      bool
	DenyReason string
}

// Evaluator decides whether an identity may log in.
type Evaluator interface {
	EvaluateLogin(ctx context.Context, in LoginInput) (Decision, error)
}
