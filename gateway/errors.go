package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/health"
)

const requestIDHeader = "X-Request-ID"

type ctxKey struct{}

// requestID returns the incoming X-Request-ID or a new one
func requestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.NewString()
}

// RequestIDFrom returns the request id stored on ctx by the server
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error to an HTTP status
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case stderrors.Is(err, errors.ErrNotFound), stderrors.Is(err, errors.ErrNodeNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, errors.ErrConflict), stderrors.Is(err, errors.ErrDuplicatePreviewLine),
		stderrors.Is(err, errors.ErrBusy):
		return http.StatusConflict
	case stderrors.Is(err, errors.ErrProtected):
		return http.StatusForbidden
	case stderrors.Is(err, errors.ErrLimitExceeded):
		return http.StatusUnprocessableEntity
	case stderrors.Is(err, errors.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// publicMessage hides server-side detail; client errors keep their message
func publicMessage(status int, err error) string {
	switch {
	case status == http.StatusGatewayTimeout:
		return "request timeout"
	case status == http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case status >= 500:
		return "internal server error"
	}
	return health.Sanitize(err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	id := RequestIDFrom(r.Context())
	if status >= 500 {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", id, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "request_id", id, "status", status, "error", err)
	}
	writeJSON(w, status, ErrorBody{
		Error:     publicMessage(status, err),
		Kind:      errors.Kind(err),
		Status:    status,
		RequestID: id,
	})
}

// logAttrs is attached to the server log line of every request
func logAttrs(r *http.Request, route string, status int) []any {
	return []any{
		slog.String("method", r.Method),
		slog.String("route", route),
		slog.Int("status", status),
		slog.String("request_id", RequestIDFrom(r.Context())),
	}
}
