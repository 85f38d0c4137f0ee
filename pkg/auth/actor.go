package auth

import (
	"context"
	"strings"

	"github.com/angelmondragon/bazari-settlement/pkg/enums"
)

// Actor is the authenticated caller as seen by the settlement services.
type Actor struct {
	SubjectID string
	Wallet    string
	Role      enums.ActorRole
}

// ActorFromClaims maps validated token claims to an Actor.
func ActorFromClaims(c *AccessTokenClaims) Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{SubjectID: c.Subject, Wallet: strings.TrimSpace(c.Wallet), Role: c.Role}
}

// Authenticated reports whether the actor carries a subject.
func (a Actor) Authenticated() bool {
	return a.SubjectID != ""
}

// HasWallet reports whether the actor is bound to a chain address.
func (a Actor) HasWallet() bool {
	return a.Wallet != ""
}

type actorKey struct{}

// WithActor stores a on ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok && a.Authenticated()
}
