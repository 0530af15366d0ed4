// Package status serves a client's state over HTTP for dashboards and
// health checks.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/beacon/internal/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Reporter produces the current client state. It must be safe to call from
// any goroutine.
type Reporter interface {
	Report(ctx context.Context) (Report, error)
}

// Report is the JSON body of GET /state.
type Report struct {
	Client     string                 `json:"client"`
	Connection string                 `json:"connection"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse is the JSON body of GET /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	Connection string `json:"connection,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Server exposes /healthz and /state.
type Server struct {
	reporter Reporter
	server   *http.Server
	listener net.Listener
}

// NewServer creates a status server for reporter.
func NewServer(reporter Reporter) *Server {
	return &Server{reporter: reporter}
}

// Handler returns the routes, for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet},
		AllowHeaders:    []string{"Origin", "Accept"},
		MaxAge:          12 * time.Hour,
	}))
	r.GET("/healthz", s.healthCheckHandler)
	r.GET("/state", s.stateHandler)
	return r
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[Status] server error: %v", err)
		}
	}()
	logger.Infof("[Status] listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// healthCheckHandler returns 200 while the client can report its state,
// 503 otherwise.
func (s *Server) healthCheckHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	report, err := s.reporter.Report(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Connection: report.Connection})
}

func (s *Server) stateHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	report, err := s.reporter.Report(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
