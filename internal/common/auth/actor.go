// Package auth carries the acting user through a request. Identity itself is
// resolved by the platform gateway; this package is only the boundary the
// progression engine trusts for authorization and audit attribution.
package auth

import (
	"context"

	"github.com/google/uuid"

	"solar-salesops/internal/common/errors"
)

// Role is the coarse permission level of an actor within a company.
type Role string

const (
	RoleRep     Role = "rep"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// Actor identifies the user performing an operation.
type Actor struct {
	ID        uuid.UUID `json:"id"`
	CompanyID uuid.UUID `json:"companyId"`
	Role      Role      `json:"role"`
}

// CanDecideFinancing reports whether the actor may record lender decisions
// (approved, conditionally_approved, denied, funded).
func (a Actor) CanDecideFinancing() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin
}

// CanDecideIntake reports whether the actor may approve or reject intake.
func (a Actor) CanDecideIntake() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin
}

type ctxKey struct{}

// WithActor attaches the actor to the request context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// FromContext returns the acting user, failing UNAUTHORIZED when absent.
func FromContext(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(ctxKey{}).(Actor)
	if !ok || actor.ID == uuid.Nil {
		return Actor{}, errors.NewUnauthorizedError("no actor on request context")
	}
	return actor, nil
}

// ParseRole normalizes a role string, defaulting unknown values to rep so a
// misconfigured gateway can never grant elevated rights.
func ParseRole(raw string) Role {
	switch Role(raw) {
	case RoleManager:
		return RoleManager
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleRep
	}
}
