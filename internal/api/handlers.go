package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"argo-workflows-mcp/backend/internal/logging"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the unauthenticated operational endpoints.
type Handler struct {
	db      Pinger
	service string
	version string
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(db Pinger, service, version string) *Handler {
	return &Handler{db: db, service: service, version: version}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Database  string    `json:"database"`
}

// HandleHealth returns 200 when the database answers a ping and 503
// otherwise.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   h.service,
		Version:   h.version,
		Database:  "ok",
	}
	code := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		status.Status = "degraded"
		status.Database = err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't change response at this point
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(w http.ResponseWriter, status int, title, detail, instance string) {
	problem := ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(problem) //nolint:errcheck
}

// ProblemErrorHandler renders every error returned by an echo handler as
// problem+json. Errors that are not *echo.HTTPError become 500s and are
// logged.
func ProblemErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		detail := "internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			switch msg := he.Message.(type) {
			case string:
				detail = msg
			case error:
				detail = msg.Error()
			default:
				detail = http.StatusText(status)
			}
		} else {
			logger.Error("admin request failed", "path", c.Request().URL.Path, "error", err)
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(status) //nolint:errcheck
			return
		}
		writeError(c.Response(), status, http.StatusText(status), detail, c.Request().URL.Path)
	}
}
