package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/flowcanvas/canvas"
	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/flowstore"
	"github.com/c360/flowcanvas/health"
	"github.com/c360/flowcanvas/metric"
	"github.com/c360/flowcanvas/model"
	"github.com/c360/flowcanvas/previewline"
	"github.com/c360/flowcanvas/validator"
)

const (
	// DefaultMaxBodyBytes limits request bodies
	DefaultMaxBodyBytes = 1 << 20
	defaultTimeout      = 15 * time.Second
	metricsService      = "gateway"
)

// CanvasHost is the part of canvas.Controller the server drives
type CanvasHost interface {
	State() canvas.State
	ValidateCanvasState() canvas.StateReport
	Engine() (canvas.Engine, error)
}

// KeyHandler applies forwarded canvas shortcuts
type KeyHandler interface {
	HandleKeydown(k canvas.KeyEvent) bool
}

// DocumentLoader is implemented by engines that can replace their content
// with a document
type DocumentLoader interface {
	Load(doc model.Document) error
}

// DocumentExporter is implemented by engines that can export their content
// over a base document
type DocumentExporter interface {
	Export(base model.Document) model.Document
}

// PreviewLines is the preview line collection opened and saved together
// with a document
type PreviewLines interface {
	Load(lines []model.PreviewLine) previewline.BatchResult
	Lines() []model.PreviewLine
}

// Options configures a Server
type Options struct {
	// Addr is the listen address, for example ":8080"
	Addr           string
	WSPath         string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string

	Store     flowstore.Store
	Validator *validator.Validator
	Canvas    CanvasHost
	Health    *health.Monitor
	Relay     *EventRelay
	// Preview, when set, is replaced on open and captured on save
	Preview PreviewLines
	// Keys enables POST /canvas/keys when set
	Keys KeyHandler

	Logger    *slog.Logger
	Registrar metric.MetricsRegistrar
}

// Server serves documents, the live canvas and the event stream
type Server struct {
	opts     Options
	logger   *slog.Logger
	requests *prometheus.CounterVec

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer validates opts and registers the request counter
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.WrapInvalid(errors.Newf(errors.ErrInvalidConfig, "document store is required"),
			"gateway", "NewServer", "check options")
	}
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger.With("component", "gateway"),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowcanvas",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
	if opts.Registrar != nil {
		if err := opts.Registrar.RegisterCounterVec(metricsService, "requests_total", s.requests); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler returns the routed handler with request id, CORS, recovery and
// accounting applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /documents", gzipped(s.listDocuments))
	mux.HandleFunc("POST /documents", s.createDocument)
	mux.Handle("GET /documents/{id}", gzipped(s.getDocument))
	mux.HandleFunc("PUT /documents/{id}", s.updateDocument)
	mux.HandleFunc("DELETE /documents/{id}", s.deleteDocument)
	mux.HandleFunc("POST /documents/{id}/validate", s.validateDocument)
	mux.HandleFunc("POST /documents/{id}/open", s.openDocument)
	mux.HandleFunc("POST /documents/{id}/save", s.saveDocument)
	mux.Handle("GET /canvas", gzipped(s.canvasState))
	mux.HandleFunc("POST /canvas/validate", s.validateCanvas)
	mux.HandleFunc("GET /healthz", s.healthz)
	if s.opts.Keys != nil {
		mux.HandleFunc("POST /canvas/keys", s.keydown)
	}
	if s.opts.Relay != nil {
		mux.Handle("GET "+s.opts.WSPath, s.opts.Relay)
	}
	return s.wrap(mux)
}

// gzipped compresses document-sized responses for clients that accept it
func gzipped(fn http.HandlerFunc) http.Handler {
	return handlers.CompressHandler(fn)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the WebSocket upgrader
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T cannot be hijacked", r.ResponseWriter)
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (s *Server) wrap(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestID(r)
		w.Header().Set(requestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, id))

		if s.applyCORS(w, r) && r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("handler panicked", "path", r.URL.Path, "request_id", id, "panic", p)
				if rec.status == 0 {
					s.writeError(rec, r, errors.WrapFatal(fmt.Errorf("panic: %v", p), "gateway", "serve", "handle request"))
				}
			}
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			_, pattern := next.Handler(r)
			if pattern == "" {
				pattern = "unmatched"
			}
			s.requests.WithLabelValues(pattern, strconv.Itoa(status)).Inc()
			s.logger.Debug("request served", logAttrs(r, pattern, status)...)
		}()
		next.ServeHTTP(rec, r)
	})
}

// applyCORS sets CORS headers for allowed origins and reports whether the
// request carried one
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || !originAllowed(s.opts.AllowedOrigins, origin) {
		return false
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	h.Set("Access-Control-Max-Age", "3600")
	return true
}

func originAllowed(allowed []string, origin string) bool {
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		return nil, errors.WrapInvalid(errors.Newf(errors.ErrInvalidArgument, "read body: %v", err),
			"gateway", "readBody", "read request")
	}
	return body, nil
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.opts.Store.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := flowstore.Decode(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.opts.Store.Create(r.Context(), doc); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/documents/"+doc.ID)
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.opts.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := flowstore.Decode(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if doc.ID != id {
		s.writeError(w, r, errors.WrapInvalid(
			errors.Newf(errors.ErrInvalidArgument, "body id %q does not match path id %q", doc.ID, id),
			"gateway", "updateDocument", "check id"))
		return
	}
	if err := s.opts.Store.Update(r.Context(), doc); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Store.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireValidator(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.Validator != nil {
		return true
	}
	s.writeError(w, r, errors.WrapTransient(errors.ErrNotReady, "gateway", "validate", "no validator configured"))
	return false
}

func (s *Server) validateDocument(w http.ResponseWriter, r *http.Request) {
	if !s.requireValidator(w, r) {
		return
	}
	doc, err := s.opts.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Validator.ValidateDocument(*doc))
}

// engine returns the ready canvas engine
func (s *Server) engine() (canvas.Engine, error) {
	if s.opts.Canvas == nil {
		return nil, errors.WrapTransient(errors.ErrNotReady, "gateway", "engine", "no canvas configured")
	}
	eng, err := s.opts.Canvas.Engine()
	if err != nil {
		return nil, errors.WrapTransient(err, "gateway", "engine", "reach canvas")
	}
	return eng, nil
}

func (s *Server) openDocument(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loader, ok := eng.(DocumentLoader)
	if !ok {
		s.writeError(w, r, errors.WrapFatal(fmt.Errorf("engine %T cannot load documents", eng), "gateway", "openDocument", "load"))
		return
	}
	doc, err := s.opts.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := loader.Load(*doc); err != nil {
		s.writeError(w, r, errors.Wrap(err, "gateway", "openDocument", "load into canvas"))
		return
	}
	if s.opts.Preview != nil {
		res := s.opts.Preview.Load(doc.PreviewLines)
		if len(res.Errors) > 0 {
			s.logger.Warn("preview lines skipped on open", "document_id", doc.ID, "skipped", len(res.Errors))
		}
	}
	s.logger.Info("document opened", "document_id", doc.ID, "version", doc.Version)
	writeJSON(w, http.StatusOK, s.opts.Canvas.ValidateCanvasState())
}

func (s *Server) saveDocument(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	exporter, ok := eng.(DocumentExporter)
	if !ok {
		s.writeError(w, r, errors.WrapFatal(fmt.Errorf("engine %T cannot export documents", eng), "gateway", "saveDocument", "export"))
		return
	}
	current, err := s.opts.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc := exporter.Export(*current)
	if s.opts.Preview != nil {
		doc.PreviewLines = s.opts.Preview.Lines()
	}
	if err := s.opts.Store.Update(r.Context(), &doc); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("document saved", "document_id", doc.ID, "version", doc.Version)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) canvasState(w http.ResponseWriter, r *http.Request) {
	if s.opts.Canvas == nil {
		s.writeError(w, r, errors.WrapTransient(errors.ErrNotReady, "gateway", "canvasState", "no canvas configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Canvas.ValidateCanvasState())
}

func (s *Server) validateCanvas(w http.ResponseWriter, r *http.Request) {
	if !s.requireValidator(w, r) {
		return
	}
	eng, err := s.engine()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, ok := eng.(validator.Snapshotter)
	if !ok {
		s.writeError(w, r, errors.WrapFatal(fmt.Errorf("engine %T cannot snapshot", eng), "gateway", "validateCanvas", "snapshot"))
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Validator.ValidateLive(snap))
}

func (s *Server) keydown(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var k canvas.KeyEvent
	if err := json.Unmarshal(body, &k); err != nil {
		s.writeError(w, r, errors.WrapInvalid(err, "gateway", "keydown", "decode key event"))
		return
	}
	if k.Key == "" {
		s.writeError(w, r, errors.WrapInvalid(errors.ErrInvalidArgument, "gateway", "keydown", "key is required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"consumed": s.opts.Keys.HandleKeydown(k)})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health == nil {
		writeJSON(w, http.StatusOK, health.Aggregate("flowcanvas", nil, time.Now()))
		return
	}
	status := s.opts.Health.Check(r.Context())
	code := http.StatusOK
	if status.Level == health.Unhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// Start listens on Addr and serves until ctx is cancelled or Stop is called
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return errors.WrapFatal(err, "gateway", "Start", "listen on "+s.opts.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or Stop is called
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.WrapInvalid(fmt.Errorf("server already running"), "gateway", "Serve", "start server")
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = s.Shutdown(shutdownCtx)
		case <-stopped:
		}
	}()

	s.logger.Info("gateway listening", "addr", ln.Addr().String(), "ws_path", s.opts.WSPath)
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "gateway", "Serve", "serve")
	}
	return nil
}

// Addr returns the bound address once serving
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.opts.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests, closes WebSocket clients and waits
// for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if s.opts.Relay != nil {
		s.opts.Relay.Close()
	}
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "gateway", "Shutdown", "drain requests")
	}
	return nil
}
