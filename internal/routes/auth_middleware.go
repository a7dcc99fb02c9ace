// Authentication middleware.
// Checks for a valid bearer token in the Authorization header.
// If valid, sets the actor in the context.
// If invalid, the request fails with 401 Unauthorized.
package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"site-decisions/internal/token"
	"site-decisions/internal/workflow"
)

const actorKey = "actor"

var ErrActorNotFound = errors.New("actor not found in context")

// GetActor returns the authenticated actor of the request.
func GetActor(c *gin.Context) (workflow.Actor, error) {
	v, exists := c.Get(actorKey)
	if !exists {
		return workflow.Actor{}, ErrActorNotFound
	}
	actor, ok := v.(workflow.Actor)
	if !ok {
		slog.Warn("GetActor: actor in context has unexpected type")
		return workflow.Actor{}, ErrActorNotFound
	}
	return actor, nil
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", ErrUnauthorized
	}
	scheme, tok, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrUnauthorized)
	}
	return strings.TrimSpace(tok), nil
}

// AuthMiddleware requires a bearer token signed with secret.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := bearerToken(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		claims, err := token.DecodeActorJWT(tok, secret)
		if err != nil {
			slog.Warn("AuthMiddleware: Invalid auth token", "error", err)
			if errors.Is(err, token.ErrMissingSecret) {
				AbortWithError(c, err)
				return
			}
			AbortWithError(c, fmt.Errorf("%w: %v", token.ErrNonValidToken, err))
			return
		}

		actor := claims.Actor()
		slog.Debug("AuthMiddleware: Authenticated actor", "userID", actor.ID, "roles", actor.Roles)
		c.Set(actorKey, actor)
		c.Next()
	}
}
