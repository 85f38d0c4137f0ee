package auth

import (
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	SubjectID string
	Wallet    string
	Role      enums.ActorRole
	JTI       string
}

// AccessTokenClaims is the token the identity service issues. The subject is
// carried in the registered "sub" claim.
type AccessTokenClaims struct {
	Wallet string          `json:"wallet"`
	Role   enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}
