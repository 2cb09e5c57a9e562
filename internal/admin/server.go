// Package admin serves the operator HTTP surface: health, live session
// snapshots and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/simp/internal/auth"
	logs "github.com/danmuck/simp/internal/logging"
	"github.com/danmuck/simp/internal/observability"
	"github.com/danmuck/simp/internal/protocol/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionSource lists the sessions a process holds.
type SessionSource interface {
	Sessions() []session.Snapshot
}

// SessionsFunc adapts a function to SessionSource.
type SessionsFunc func() []session.Snapshot

func (f SessionsFunc) Sessions() []session.Snapshot { return f() }

// Options configures the admin server.
type Options struct {
	// Node labels request metrics and the health payload ("server", "client").
	Node        string
	Addr        string
	Version     string
	CORSOrigins []string
	// Token, when set, is required as a bearer token on every route but
	// /health.
	Token string
}

type Server struct {
	opts     Options
	sessions SessionSource
	router   *gin.Engine
	started  time.Time
}

func New(opts Options, sessions SessionSource) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logs.Logger()))
	r.Use(observability.RequestMetricsMiddleware(opts.Node))
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: opts.CORSOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		opts:     opts,
		sessions: sessions,
		router:   r,
		started:  time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.opts.Node,
			"version": s.opts.Version,
		})
	})

	routes := s.router.Group("/")
	if s.opts.Token != "" {
		routes.Use(requireToken(auth.StaticToken{Token: s.opts.Token}))
	}

	routes.GET("/sessions", func(c *gin.Context) {
		list := []session.Snapshot{}
		if s.sessions != nil {
			list = append(list, s.sessions.Sessions()...)
		}
		c.JSON(http.StatusOK, gin.H{
			"count":    len(list),
			"sessions": list,
		})
	})

	routes.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.CheckHeader(v, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// Serve listens on Options.Addr until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	logs.Infof("admin.Server.Serve listening addr=%s node=%s", ln.Addr(), s.opts.Node)
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
