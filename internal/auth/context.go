package auth

import (
	"context"
)

// Role is a merchant user role
type Role string

const (
	RoleOwner Role = "owner"
	RoleStaff Role = "staff"
)

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	return r == RoleOwner || r == RoleStaff
}

// Actor is the authenticated caller of a request
type Actor struct {
	ID          string
	DisplayName string
	Role        Role
	// System is true for API key callers such as the extraction service
	System bool
}

type contextKey string

const actorContextKey contextKey = "actor"

// WithActor adds the actor to the context
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// FromContext extracts the actor from the context
func FromContext(ctx context.Context) (*Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(*Actor)
	return actor, ok
}

// ActorName returns the display name of the caller, or "system" when unauthenticated
func ActorName(ctx context.Context) string {
	if actor, ok := FromContext(ctx); ok && actor != nil {
		if actor.DisplayName != "" {
			return actor.DisplayName
		}
		return actor.ID
	}
	return "system"
}

// HasRole checks if the actor has one of the given roles
func (a *Actor) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// IsOwner checks if the actor may perform owner-only operations
func (a *Actor) IsOwner() bool {
	return a.Role == RoleOwner
}
