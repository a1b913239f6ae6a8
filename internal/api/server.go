// Package api exposes the assistant over HTTP: the query endpoint the mobile
// app calls plus the admin surface for features and knowledge entries.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cabswale/raahi-agent/internal/agent"
	"github.com/cabswale/raahi-agent/internal/feature"
	"github.com/cabswale/raahi-agent/internal/knowledge"
	"github.com/cabswale/raahi-agent/internal/session"
)

// Server wires the echo router over the agent core.
type Server struct {
	echo      *echo.Echo
	loop      *agent.Loop
	sessions  *session.Store
	registry  *feature.Registry
	features  *feature.Store
	knowledge *knowledge.Search
	baseAudio map[string]string
	logger    *slog.Logger

	// locks serializes turns per session id; history append order within a
	// session must not race.
	locks keyedMutex
}

// NewServer builds the router. baseAudio maps system audio keys to URLs and
// is merged into every registry rebuild.
func NewServer(loop *agent.Loop, sessions *session.Store, registry *feature.Registry,
	features *feature.Store, know *knowledge.Search, baseAudio map[string]string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		echo:      echo.New(),
		loop:      loop,
		sessions:  sessions,
		registry:  registry,
		features:  features,
		knowledge: know,
		baseAudio: baseAudio,
		logger:    logger.With("component", "api"),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)

	s.echo.POST("/assistant/query", s.query)
	s.echo.DELETE("/assistant/session/:id", s.deleteSession)

	admin := s.echo.Group("/admin")
	admin.GET("/features", s.listFeatures)
	admin.POST("/features", s.upsertFeature)
	admin.PUT("/features/:name", s.upsertFeature)
	admin.DELETE("/features/:name", s.deleteFeature)
	admin.GET("/knowledge", s.listKnowledge)
	admin.POST("/knowledge", s.upsertKnowledge)
	admin.DELETE("/knowledge/:id", s.deleteKnowledge)
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server starting", "addr", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// keyedMutex hands out one mutex per key. Entries are never evicted; session
// churn is low enough that the map stays small.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
