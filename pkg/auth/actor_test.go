package auth

import (
	"context"
	"testing"

	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestActorContextRoundTrip(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	require.False(t, ok)

	claims := &AccessTokenClaims{Wallet: " 5Wallet ", Role: enums.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}}
	ctx := WithActor(context.Background(), ActorFromClaims(claims))

	actor, ok := ActorFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, Actor{SubjectID: "sub-1", Wallet: "5Wallet", Role: enums.RoleAdmin}, actor)
	require.True(t, actor.HasWallet())

	_, ok = ActorFromContext(WithActor(context.Background(), Actor{Wallet: "x"}))
	require.False(t, ok)
}
