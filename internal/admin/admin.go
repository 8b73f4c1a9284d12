// Package admin is the HTTP control surface of a running MLLP listener.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/mllp/internal/auth"
	"github.com/danmuck/mllp/internal/config"
	"github.com/danmuck/mllp/internal/observability"
	"github.com/danmuck/mllp/internal/server"
)

const version = "0.1.0"

// Target is the listener the admin routes report on and control.
type Target interface {
	Listening() bool
	Connections() []server.ConnectionInfo
	CloseConnections() int
	ResetConnections() int
}

type Admin struct {
	Name     string
	Addr     string
	Appeared time.Time

	target Target
	token  string
	router *gin.Engine
	log    zerolog.Logger
}

func New(cfg config.AdminConfig, target Target) *Admin {
	observability.RegisterMetrics()
	logger := observability.Component("admin")
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		Name:     cfg.Name,
		Addr:     cfg.Addr,
		Appeared: time.Now(),
		target:   target,
		token:    cfg.Token,
		router:   r,
		log:      logger,
	}
	a.RegisterRoutes()
	return a
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *Admin) RegisterRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Appeared).String(),
			"name":    a.Name,
			"version": version,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/ready", func(c *gin.Context) {
		ready := a.target.Listening()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(a.Appeared).String(),
			"name":    a.Name,
			"version": version,
		})
	})

	a.router.GET("/connections", func(c *gin.Context) {
		conns := a.target.Connections()
		c.JSON(http.StatusOK, gin.H{
			"count":       len(conns),
			"connections": conns,
		})
	})

	control := a.router.Group("/connections")
	if a.token != "" {
		control.Use(auth.RequireToken(auth.StaticToken{Token: a.token}))
	}

	control.POST("/close", func(c *gin.Context) {
		n := a.target.CloseConnections()
		a.log.Info().Int("count", n).Msg("admin.Admin close connections")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "closed": n})
	})

	control.POST("/reset", func(c *gin.Context) {
		n := a.target.ResetConnections()
		a.log.Info().Int("count", n).Msg("admin.Admin reset connections")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "reset": n})
	})
}

// Serve listens on Addr until ctx is done, then shuts down gracefully.
func (a *Admin) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Addr)
	if err != nil {
		return err
	}
	return a.ServeListener(ctx, ln)
}

func (a *Admin) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	a.log.Info().Str("addr", ln.Addr().String()).Msg("admin.Admin listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
