package utils

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
)

func requestScheme(c *gin.Context) string {
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		return "https"
	}
	return "http"
}

// UrlFor returns an absolute URL for path on the host the request came to.
func UrlFor(c *gin.Context, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s%s", requestScheme(c), c.Request.Host, path)
}

// GetBaseURL automatically detects the base URL from the request
func GetBaseURL(c *gin.Context, configBaseURL string) string {
	if configBaseURL != "" {
		return configBaseURL
	}
	return fmt.Sprintf("%s://%s/", requestScheme(c), c.Request.Host)
}
