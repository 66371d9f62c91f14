package http

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/nortide/console-auth/internal/config"
	"github.com/nortide/console-auth/internal/http/handler"
	httpmiddleware "github.com/nortide/console-auth/internal/http/middleware"
	"github.com/nortide/console-auth/internal/tenant"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(
	cfg config.Config,
	authzHandler *handler.AuthzHandler,
	consentHandler *handler.ConsentHandler,
	webauthnHandler *handler.WebAuthnHandler,
	passkeysHandler *handler.PasskeysHandler,
	resolver *tenant.Resolver,
	rateLimiter *httpmiddleware.RateLimiter,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	r.Use(httpmiddleware.Tenant(resolver))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(httpmiddleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authzGroup := r.Group("/authz")
	{
		authzGroup.POST("/initiate", authzHandler.Initiate)
		authzGroup.GET("/callback", authzHandler.Callback)
		authzGroup.POST("/relay", authzHandler.Relay)
		authzGroup.GET("/await/:state", authzHandler.Await)
	}

	consentGroup := r.Group("/consent")
	{
		consentGroup.GET("", consentHandler.Describe)
		consentGroup.POST("/decision", consentHandler.Decide)
	}

	webauthnGroup := r.Group("/webauthn")
	{
		register := webauthnGroup.Group("/register", httpmiddleware.BearerToken)
		{
			register.POST("/start", webauthnHandler.RegisterStart)
			register.POST("/finish", webauthnHandler.RegisterFinish)
		}

		authenticate := webauthnGroup.Group("/authenticate")
		{
			authenticate.POST("/start", webauthnHandler.AuthenticateStart)
			authenticate.POST("/finish", webauthnHandler.AuthenticateFinish)
		}
	}

	account := r.Group("/account", httpmiddleware.BearerToken)
	{
		account.GET("/passkeys", passkeysHandler.List)
		account.PATCH("/passkeys/:id", passkeysHandler.Rename)
		account.DELETE("/passkeys/:id", passkeysHandler.Delete)
	}

	// UI is served only as static files; all flow logic stays on the API routes.
	attachUIRoutes(r, filepath.Join("ui", "dist"))

	return r
}

func attachUIRoutes(r *gin.Engine, distDir string) {
	indexPath := filepath.Join(distDir, "index.html")

	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if isAPIPath(path) {
			c.Status(http.StatusNotFound)
			return
		}

		if filePath, ok := safeJoin(distDir, path); ok {
			if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
				c.File(filePath)
				return
			}
		}

		c.File(indexPath)
	})
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/authz") ||
		strings.HasPrefix(path, "/consent") ||
		strings.HasPrefix(path, "/webauthn") ||
		strings.HasPrefix(path, "/account") ||
		strings.HasPrefix(path, "/healthz")
}

func safeJoin(baseDir, requestPath string) (string, bool) {
	trimmed := strings.TrimPrefix(requestPath, "/")
	cleaned := filepath.Clean(trimmed)
	if cleaned == "." {
		return filepath.Join(baseDir, cleaned), true
	}
	if strings.HasPrefix(cleaned, "..") {
		return "", false
	}
	return filepath.Join(baseDir, cleaned), true
}
