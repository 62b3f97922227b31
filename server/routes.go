package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tokenkit/tokenkit/encodings"
	"github.com/tokenkit/tokenkit/envconfig"
	"github.com/tokenkit/tokenkit/logutil"
	"github.com/tokenkit/tokenkit/metrics"
	"github.com/tokenkit/tokenkit/tokenizer"
	"github.com/tokenkit/tokenkit/version"
)

type Server struct {
	registry *encodings.Registry
	metrics  *metrics.Metrics

	// maxInput caps the bytes of a single text when positive
	maxInput int
}

func NewServer(registry *encodings.Registry, m *metrics.Metrics) *Server {
	registry.OnLoad = m.ObserveLoad

	return &Server{
		registry: registry,
		metrics:  m,
		maxInput: int(envconfig.MaxInput()),
	}
}

// observe tags each request with an id, then records and logs it once the
// handler returns. Unmatched paths share one label.
func (s *Server) observe(c *gin.Context) {
	started := time.Now()

	id := c.GetHeader("X-Request-Id")
	if id == "" {
		if u, err := uuid.NewV7(); err == nil {
			id = u.String()
		}
	}
	c.Header("X-Request-Id", id)

	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}

	elapsed := time.Since(started)
	s.metrics.ObserveRequest(route, c.Request.Method, c.Writer.Status(), elapsed)
	slog.Debug("request", "id", id, "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "elapsed", elapsed)
}

func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.Recovery(),
		cors.New(corsConfig),
		s.observe,
	)

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "tokenkit is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "tokenkit is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })

	r.GET("/api/encodings", s.ListHandler)
	r.POST("/api/pull", s.PullHandler)

	r.POST("/api/tokenize", s.TokenizeHandler)
	r.POST("/api/count", s.CountHandler)
	r.POST("/api/detokenize", s.DetokenizeHandler)

	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	return r
}

// statusFor maps tokenizer and registry errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, encodings.ErrUnknownEncoding),
		errors.Is(err, encodings.ErrUnknownModel):
		return http.StatusNotFound
	case errors.Is(err, tokenizer.ErrInputTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, encodings.ErrNoEncoding),
		errors.Is(err, tokenizer.ErrDisallowedSpecialToken),
		errors.Is(err, tokenizer.ErrUnencodableByte),
		errors.Is(err, tokenizer.ErrUnknownTokenID),
		errors.Is(err, tokenizer.ErrInvalidUTF8Output):
		return http.StatusBadRequest
	case errors.Is(err, encodings.ErrNotCached):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}

	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func Serve(ln net.Listener) error {
	logutil.Install(os.Stderr, envconfig.LogLevel())
	slog.Info("server config", "env", envconfig.Values())

	s := NewServer(encodings.NewRegistry(), metrics.New())

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))
	srvr := &http.Server{
		Handler:           s.GenerateRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	ctx, done := context.WithCancel(context.Background())
	defer done()

	go func() {
		select {
		case <-signals:
		case <-ctx.Done():
			return
		}

		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srvr.Shutdown(shutdown); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}()

	if err := srvr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
