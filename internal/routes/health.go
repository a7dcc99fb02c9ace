package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"site-decisions/internal/storage"
	"site-decisions/internal/utils"
)

// Health reports liveness, the app version and the schema version of the
// store.
func Health(r *gin.RouterGroup, store storage.Provider) {
	r.GET("/health", func(c *gin.Context) {
		msg := c.Query("ping")
		if msg == "" {
			msg = "pong"
		}

		status := http.StatusOK
		body := gin.H{
			"message": msg,
			"version": utils.GetVersion(),
		}
		if store != nil {
			schema, err := store.GetSchemaVersion(c.Request.Context())
			if err != nil {
				status = http.StatusServiceUnavailable
				body["error"] = "storage unavailable"
			} else {
				body["schema"] = schema
			}
		}
		c.JSON(status, body)
	})
}
