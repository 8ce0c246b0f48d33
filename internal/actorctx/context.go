// Package actorctx carries the acting user through request contexts so
// services can enforce ownership without threading identity parameters
// through every call.
package actorctx

import "context"

const (
	RoleAdmin            = "admin"
	RoleAffiliateManager = "affiliate_manager"
	RoleAgent            = "agent"
)

// Actor identifies who is performing the current operation.
type Actor struct {
	ID   string
	Name string
	Role string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a Actor) IsAffiliateManager() bool {
	return a.Role == RoleAffiliateManager
}

func (a Actor) IsAgent() bool {
	return a.Role == RoleAgent
}

type actorKey struct{}

// WithActor stores the actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// FromContext returns the actor from context, if set.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.ID == "" {
		return Actor{}, false
	}
	return actor, true
}

// System returns the actor used by batch jobs running without a user.
func System() Actor {
	return Actor{ID: "system", Name: "system", Role: RoleAdmin}
}
