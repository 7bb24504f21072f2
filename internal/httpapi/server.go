// Package httpapi implements the Job HTTP API (spec §6): submit a job,
// fetch one job's record, list jobs. Response conventions (gin.H{"error":
// ...} on failure, the resource itself on success) follow the teacher's
// handler/http/pdf.go.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/batyrsync/batyrd/internal/config"
	"github.com/batyrsync/batyrd/internal/jobmodel"
	"github.com/batyrsync/batyrd/internal/jobqueue"
	"github.com/batyrsync/batyrd/internal/log"
)

// Server wires the Job HTTP API onto a gin engine.
type Server struct {
	cfg    *config.Server
	queue  *jobqueue.Queue
	jobs   *jobmodel.JobList
	engine *gin.Engine
	http   *http.Server
}

// New builds a Server ready to Run. cfg is used to validate job submissions
// against the configured layer list.
func New(cfg *config.Server, queue *jobqueue.Queue, jobs *jobmodel.JobList) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), correlationID())

	s := &Server{cfg: cfg, queue: queue, jobs: jobs, engine: engine}

	v1 := engine.Group("/api/v1")
	v1.POST("/jobs", s.createJob)
	v1.GET("/jobs/:id", s.getJob)
	v1.GET("/jobs", s.listJobs)

	engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	return s
}

// correlationID stamps every request with an X-Correlation-Id header,
// generating one if the caller didn't supply it, so log lines from a single
// request can be tied together.
func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-Id")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("correlationID", id)
		c.Header("X-Correlation-Id", id)
		c.Next()
	}
}

// ServeHTTP lets a Server be driven directly by net/http/httptest without a
// listening socket.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Run starts the HTTP server on addr and blocks until ctx is cancelled, at
// which point it shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		log.Info("httpapi: listening", "addr", addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
