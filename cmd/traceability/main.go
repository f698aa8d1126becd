package main

import (
	"context"
	"fmt"
	"os"

	"github.com/duna/traceability/cmd/traceability/container"
	"github.com/duna/traceability/cmd/traceability/routes"
	"github.com/duna/traceability/common/config"
	"github.com/duna/traceability/common/logger"
	"github.com/duna/traceability/common/server"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("traceability")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	c, err := container.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, c)
	registerRoutes(e, c)

	srv := server.New("traceability", cfg.Service.Port, e, log)
	if err := srv.Start(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, c *container.Container) {
	e.GET("/health", func(ec echo.Context) error {
		if err := c.DB.Health(ec.Request().Context()); err != nil {
			return ec.JSON(503, map[string]string{
				"status":  "degraded",
				"service": "traceability",
			})
		}
		return ec.JSON(200, map[string]string{
			"status":  "ok",
			"service": "traceability",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterFlowRoutes(e, c)
	routes.RegisterRunRoutes(e, c)
	routes.RegisterLotRoutes(e, c)
	routes.RegisterQCRoutes(e, c)
}
