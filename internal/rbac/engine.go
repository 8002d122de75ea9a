package rbac

import (
	"context"
	"errors"
	"log/slog"
)

// Decision is the outcome of a permission evaluation.
type Decision int

const (
	DecisionDenied Decision = iota
	DecisionAllowed
	// DecisionPending means the identity or ownership could not be resolved
	// before the request context ended.
	DecisionPending
)

func (d Decision) String() string {
	switch d {
	case DecisionAllowed:
		return "allowed"
	case DecisionPending:
		return "pending"
	default:
		return "denied"
	}
}

// IdentityFunc resolves the principal of the current request.
type IdentityFunc func(ctx context.Context) (*Identity, bool)

// Engine evaluates permission checks against the static matrix.
type Engine struct {
	ownership Ownership
	identity  IdentityFunc
	logger    *slog.Logger
}

// NewEngine constructs an Engine. A nil ownership relation denies every
// scoped client check.
func NewEngine(ownership Ownership, identity IdentityFunc, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{ownership: ownership, identity: identity, logger: logger}
}

// HasPermission reports whether id may perform check.
func (e *Engine) HasPermission(ctx context.Context, id *Identity, check Check) bool {
	return e.Decide(ctx, id, check) == DecisionAllowed
}

// Decide evaluates check for id.
func (e *Engine) Decide(ctx context.Context, id *Identity, check Check) Decision {
	if id == nil {
		return DecisionDenied
	}
	if !Allowed(id.Role, check.Module, check.Capability) {
		return DecisionDenied
	}
	if id.Role != RoleClient || check.Scope == "" {
		return DecisionAllowed
	}
	if e.ownership == nil {
		return DecisionDenied
	}
	owns, err := e.ownership.Owns(ctx, id.Email, check.Module, check.Scope)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return DecisionPending
		}
		e.logger.Error("rbac ownership lookup", slog.String("check", check.String()), slog.Any("error", err))
		return DecisionDenied
	}
	if owns {
		return DecisionAllowed
	}
	return DecisionDenied
}

// Current resolves the identity attached to ctx.
func (e *Engine) Current(ctx context.Context) *Identity {
	if e.identity == nil {
		return nil
	}
	id, ok := e.identity(ctx)
	if !ok {
		return nil
	}
	return id
}

// Check is the string-keyed entry point for callers outside this package.
// Unknown module or capability names are rejected with shared.ErrValidation.
func (e *Engine) Check(ctx context.Context, module, capability, scope string) (bool, error) {
	check, err := ParseCheck(module, capability, scope)
	if err != nil {
		return false, err
	}
	return e.HasPermission(ctx, e.Current(ctx), check), nil
}
