// Package server exposes the tutor over HTTP: a JSON API plus a single static
// page with the solve and generate tabs.
package server

import (
	"context"
	"embed"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"utbk-tutor/internal/config"
	"utbk-tutor/internal/rag"
)

//go:embed static/index.html
var static embed.FS

const shutdownTimeout = 30 * time.Second

// Service is the part of the pipeline the HTTP layer drives.
type Service interface {
	Solve(ctx context.Context, query string) (rag.Answer, error)
	Generate(ctx context.Context, topic string) (rag.Answer, error)
	Ingest(ctx context.Context, dir string, opts rag.IngestOptions) (rag.IngestReport, error)
	IndexSize(ctx context.Context) (int, error)
}

type Server struct {
	svc     Service
	dataDir string
}

func New(svc Service, dataDir string) *Server {
	return &Server{svc: svc, dataDir: dataDir}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery())

	router.GET("/", s.index)
	router.GET("/health", s.health)

	api := router.Group("/api")
	api.POST("/solve", s.solve)
	api.POST("/generate", s.generate)
	api.POST("/ingest", s.ingest)

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, cfg config.ServerConfig) error {
	switch cfg.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		gin.SetMode(cfg.Mode)
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("Server exited")
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}
