// Package server exposes the turn engine over HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carelens/edrisk/config"
	"github.com/carelens/edrisk/internal/engine"
	"github.com/carelens/edrisk/internal/session"
)

// Run wires the runtime and serves until interrupted.
func Run(cfg *config.Config) error {
	logger := log.New(os.Stdout, "[HTTP] ", log.LstdFlags)
	engLogger := log.New(os.Stdout, "[ENGINE] ", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := engine.BuildRuntime(ctx, cfg, prometheus.DefaultRegisterer, engLogger)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Redis enforces expiry via key TTLs; only the in-memory backend
	// needs the sweeper.
	if cfg.Session.Backend == session.BackendInMemory {
		sweeper, err := session.NewSweeper(rt.Sessions, cfg.Session.SweepSchedule, cfg.Session.TTL, engLogger)
		if err != nil {
			return err
		}
		go sweeper.Run(ctx)
	}

	e := newEcho(logger)
	registerRoutes(e, rt.Engine, cfg)

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Server.Address); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	logger.Printf("listening on %s", cfg.Server.Address)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newEcho(logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	return e
}

func registerRoutes(e *echo.Echo, eng *engine.Engine, cfg *config.Config) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	if cfg.Server.JWTSecret != "" {
		secret := []byte(cfg.Server.JWTSecret)
		api.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	}

	h := &TurnHandler{Engine: eng, Timeout: cfg.General.TurnTimeout}
	api.POST("/turn", h.Turn)
	api.GET("/sessions/:id", h.Session)
}
