// Package token issues and verifies the bearer tokens that carry an
// actor's identity and roles.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"site-decisions/internal/workflow"
)

var (
	ErrNonValidToken    = errors.New("token did not pass validation")
	ErrInvalidClaimType = errors.New("invalid claim type")
	ErrMissingSubject   = errors.New("token has no user id")
	ErrMissingSecret    = errors.New("token secret is not configured")
)

var tokenSignatureAlg = jwt.SigningMethodHS256

// ActorClaims identifies the caller of the decision API.
type ActorClaims struct {
	UserID string   `json:"uid"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func NewActorClaims(userID string, roles []string, ttl uint) ActorClaims {
	return ActorClaims{
		UserID:           userID,
		Roles:            roles,
		RegisteredClaims: newRegisteredClaims(ttl),
	}
}

// Actor converts the claims to the identity the workflow engine checks.
func (c *ActorClaims) Actor() workflow.Actor {
	return workflow.Actor{ID: c.UserID, Roles: append([]string(nil), c.Roles...)}
}

func newRegisteredClaims(ttl uint) jwt.RegisteredClaims {
	now := time.Now().UTC()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwtExpiry(now, ttl),
	}
}

// Convert TTL to time in future
func jwtExpiry(now time.Time, ttl uint) *jwt.NumericDate {
	if ttl == 0 {
		panic("invalid token TTL")
	}
	return jwt.NewNumericDate(now.Add(time.Duration(ttl) * time.Second))
}

// Generic JWT token generation function
func GenerateJWT(claims jwt.Claims, secret string) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	token := jwt.NewWithClaims(tokenSignatureAlg, claims)
	return token.SignedString([]byte(secret))
}

// DecodeActorJWT verifies tokenString and returns its actor claims.
func DecodeActorJWT(tokenString, secret string) (*ActorClaims, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	claims, err := decodeJWT(tokenString, secret, &ActorClaims{})
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

// PeekActor reads the actor from a token without verifying the signature.
// The CLI uses it to know who it is acting as; the server always verifies.
func PeekActor(tokenString string) (workflow.Actor, error) {
	claims := &ActorClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return workflow.Actor{}, fmt.Errorf("%w: %v", ErrNonValidToken, err)
	}
	if claims.UserID == "" {
		return workflow.Actor{}, ErrMissingSubject
	}
	return claims.Actor(), nil
}

func decodeJWT[T jwt.Claims](tokenString, secret string, claimsType T) (T, error) {
	var zero T

	parsedToken, err := jwt.ParseWithClaims(tokenString, claimsType, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{tokenSignatureAlg.Alg()}))

	if err != nil {
		return zero, err
	} else if parsedToken == nil || !parsedToken.Valid {
		return zero, ErrNonValidToken
	} else if claims, ok := parsedToken.Claims.(T); ok {
		return claims, nil
	}

	return zero, ErrInvalidClaimType
}
