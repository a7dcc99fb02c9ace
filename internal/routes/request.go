package routes

import (
	"errors"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"site-decisions/internal/workflow"
)

// IdempotencyHeader carries the caller's key for one logical mutation.
// Retrying with the same key returns the current entity instead of
// applying the event twice.
const IdempotencyHeader = "Idempotency-Key"

// mustActor returns the actor set by AuthMiddleware.
func mustActor(c *gin.Context) workflow.Actor {
	return c.MustGet(actorKey).(workflow.Actor)
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return false
	}
	return true
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return false
	}
	return true
}
