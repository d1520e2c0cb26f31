package metric

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/flowcanvas/errors"
)

// DefaultPort is used when Server is given port 0
const DefaultPort = 9090

// Server serves a MetricsRegistry for scraping
type Server struct {
	addr     string
	path     string
	registry *MetricsRegistry

	mu  sync.Mutex
	srv *http.Server
}

// NewServer serves registry on port at path ("/metrics" when empty)
func NewServer(port int, path string, registry *MetricsRegistry) *Server {
	if port == 0 {
		port = DefaultPort
	}
	if path == "" {
		path = "/metrics"
	}
	return &Server{
		addr:     net.JoinHostPort("", strconv.Itoa(port)),
		path:     path,
		registry: registry,
	}
}

// Handler serves the metrics path and a plain /health check
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+s.path, promhttp.HandlerFor(s.registry.Gatherer(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Start blocks serving until ctx is cancelled or Stop is called
func (s *Server) Start(ctx context.Context) error {
	if s.registry == nil {
		return errors.WrapFatal(fmt.Errorf("nil registry"), "metric.Server", "Start", "check registry")
	}
	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("server already running"), "metric.Server", "Start", "start")
	}
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv = srv
	s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-done:
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "metric.Server", "Start", "listen on "+s.addr)
	}
	return nil
}

// Stop closes the listener; scrapes in flight are cut off
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Close(); err != nil {
		return errors.WrapTransient(err, "metric.Server", "Stop", "close listener")
	}
	return nil
}

// URL is where a local scraper finds the metrics
func (s *Server) URL() string {
	return "http://localhost" + s.addr + s.path
}
