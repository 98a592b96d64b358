// Package api is the HTTP surface: routing, identity resolution, rate
// limiting, and translation between transport shapes and service calls.
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"driftsend/internal/logging"
	"driftsend/internal/ratelimit"
	"driftsend/internal/server/config"
)

// SetupRouter builds the echo router with all routes and middleware.
func SetupRouter(handler *Handler, limiter *ratelimit.Limiter, log logging.Logger, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "X-Anon-Id", "X-Transfer-Password"},
	}))
	e.Use(RequestLogger(log))
	e.Use(Identity([]byte(cfg.SecretKey)))

	e.GET("/health", handler.HandleHealth)

	create := RateLimit(limiter, ratelimit.ClassCreate)
	download := RateLimit(limiter, ratelimit.ClassDownload)
	del := RateLimit(limiter, ratelimit.ClassDelete)

	e.POST("/api/transfers", handler.HandleCreate, create)
	e.GET("/api/transfers/:id", handler.HandleGet)
	e.POST("/api/transfers/:id/password", handler.HandleVerifyPassword, download)
	e.GET("/api/transfers/:id/files/:fileID/url", handler.HandleFileURL, download)
	e.GET("/api/transfers/:id/zip", handler.HandleZip, download)
	e.DELETE("/api/transfers/:id", handler.HandleDelete, del)
	e.POST("/api/transfers/:id/files/:fileID/uploaded", handler.HandleMarkUploaded)

	return e
}
