package routes

import (
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"site-decisions/internal/access"
	"site-decisions/internal/service"
	"site-decisions/internal/storage"
	"site-decisions/internal/utils"
)

type ServerConfig struct {
	Service *service.Service
	RBAC    *access.RBAC
	// Used by /health. Optional.
	Store   storage.Provider
	Secret  string
	BaseURL string
	// Comma separated CIDRs allowed to reach the server. Empty allows all.
	AllowedNetworks string
}

func securityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("X-XSS-Protection", "1; mode=block")

	// Responses carry live workflow state
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Next()
}

// IPAccessControl allows only clients from allowedCIDRs.
func IPAccessControl(allowedCIDRs []string) gin.HandlerFunc {
	var parsedCIDRs []*net.IPNet

	// Allow local networks in debug mode
	if os.Getenv("GIN_MODE") != "release" {
		allowedCIDRs = append(allowedCIDRs, "127.0.0.1/8", "::1/128")
	}

	for _, cidr := range allowedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			slog.Warn("Invalid CIDR", "cidr", cidr)
			continue
		}
		slog.Debug("Allowed CIDR", "cidr", cidr)
		parsedCIDRs = append(parsedCIDRs, network)
	}

	return func(c *gin.Context) {
		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			slog.Warn("Invalid client IP", "ip", c.ClientIP())
			AbortWithError(c, ErrInsufficientPermissions)
			return
		}

		for _, network := range parsedCIDRs {
			if network.Contains(clientIP) {
				c.Next()
				return
			}
		}
		slog.Warn("IP not allowed", "ip", clientIP)
		AbortWithHTTPError(c, http.StatusForbidden, ErrInsufficientPermissions, "Access denied", "IP_NOT_ALLOWED")
	}
}

func splitCIDRs(networks string) []string {
	var cidrs []string
	for cidr := range strings.SplitSeq(networks, ",") {
		if cidr := strings.TrimSpace(cidr); cidr != "" {
			cidrs = append(cidrs, cidr)
		}
	}
	return cidrs
}

// NewServer wires the decision API.
func NewServer(cfg ServerConfig) *gin.Engine {
	r := gin.Default()
	r.HTMLRender = NewRenderer()

	r.Use(func(c *gin.Context) {
		c.Set("BaseURL", utils.GetBaseURL(c, cfg.BaseURL))
		c.Next()
	})
	r.Use(ErrorHandler())
	if cfg.AllowedNetworks != "" {
		slog.Debug("Enabling IP access control", "allowed_networks", cfg.AllowedNetworks)
		r.Use(IPAccessControl(splitCIDRs(cfg.AllowedNetworks)))
	}
	r.Use(securityHeaders)

	Health(r.Group(""), cfg.Store)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", AuthMiddleware(cfg.Secret))
	ApprovalRoutes(api.Group("/approvals"), cfg.Service, cfg.RBAC)
	MeetingRoutes(api.Group("/meetings"), cfg.Service, cfg.RBAC)

	r.NoRoute(func(c *gin.Context) {
		AbortWithHTTPError(c, http.StatusNotFound, nil, "Page not found", "NOT_FOUND")
	})

	return r
}
