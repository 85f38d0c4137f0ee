package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
)

var signingMethod = jwt.SigningMethodHS256

var (
	errMissingSecret  = errors.New("jwt secret is required")
	errMissingSubject = errors.New("token subject is required")
)

// MintAccessToken signs an HS256 token for payload, valid for ttl from now.
// The identity service issues production tokens; tooling and tests use this.
func MintAccessToken(cfg config.JWTConfig, now time.Time, ttl time.Duration, payload AccessTokenPayload) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", errMissingSecret
	case cfg.Issuer == "":
		return "", errors.New("jwt issuer is required")
	case ttl <= 0:
		return "", errors.New("jwt ttl must be positive")
	case strings.TrimSpace(payload.SubjectID) == "":
		return "", errMissingSubject
	}
	role, err := resolveRole(payload.Role)
	if err != nil {
		return "", err
	}
	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	registered := jwt.RegisteredClaims{
		ID:        jti,
		Subject:   payload.SubjectID,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if cfg.Audience != "" {
		registered.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	claims := AccessTokenClaims{Wallet: payload.Wallet, Role: role, RegisteredClaims: registered}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer, expiry (within cfg.Leeway) and
// audience when configured. The role claim defaults to user.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, errMissingSecret
	}
	claims := &AccessTokenClaims{}
	if _, err := jwt.ParseWithClaims(tokenString, claims, secretKey(cfg), parserOptions(cfg)...); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errMissingSubject
	}
	role, err := resolveRole(claims.Role)
	if err != nil {
		return nil, err
	}
	claims.Role = role
	return claims, nil
}

func secretKey(cfg config.JWTConfig) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method != signingMethod {
			return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}
}

func parserOptions(cfg config.JWTConfig) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return opts
}

func resolveRole(role enums.ActorRole) (enums.ActorRole, error) {
	if role == "" {
		return enums.RoleUser, nil
	}
	if !role.IsValid() {
		return "", fmt.Errorf("invalid actor role %q", role)
	}
	return role, nil
}
