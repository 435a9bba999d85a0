package api

import (
	"fmt"

	"sharebox/internal/server/auth"
	"sharebox/internal/server/config"
	"sharebox/internal/server/storage"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// uploadBodyLimit leaves room for multipart framing around the largest file.
var uploadBodyLimit = fmt.Sprintf("%dK", storage.MaxFileSize/1024+1024)

// SetupRouter creates and configures the echo router with all routes and
// middleware. The returned limiter must be stopped on shutdown.
func SetupRouter(handler *Handler, sessions *auth.Sessions, cfg *config.Config) (*echo.Echo, *RateLimiter) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Client addresses feed download records and the per-IP limiter, so
	// forwarding headers are honored only behind a trusted proxy.
	if cfg.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	}))
	e.Use(RequestLogger())

	// Uploads and login attempts share one per-IP budget.
	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	requireAdmin := auth.RequireAdmin(sessions)

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Public browsing
	e.GET("/api/files", handler.HandleList)
	e.GET("/api/files/:id", handler.HandleInfo)
	e.GET("/d/:id", handler.HandleDownload)

	// Live events
	e.GET("/ws", handler.HandleEvents)

	// Admin session
	e.POST("/api/admin/login", handler.HandleLogin, limiter.Middleware())
	e.POST("/api/admin/logout", handler.HandleLogout)

	// Admin operations
	e.POST("/api/admin/upload", handler.HandleUpload,
		limiter.Middleware(),
		middleware.BodyLimit(uploadBodyLimit),
		requireAdmin,
	)
	e.DELETE("/api/admin/files/:id", handler.HandleDelete, requireAdmin)
	e.GET("/api/admin/files/:id/downloads", handler.HandleHistory, requireAdmin)

	return e, limiter
}
