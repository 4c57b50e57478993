package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/apsvt/svt-registry/internal/platform/auth"
)

// AuditEntry captures a write against the patient registry: who submitted,
// which surface, when, from where, and the outcome.
type AuditEntry struct {
	UserID     string
	Surface    string // patient, patient-csv, files, attachment-assist
	Action     string // create, update
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries. Decoupling the sink lets tests
// provide a mock implementation.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit returns Echo middleware that records every mutation of the patient
// registry (POST requests under /ingestion). Reads are not audited; the
// event log itself is the read-side record. If no AuditRecorder is given,
// entries go to the structured log only.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditable(req.Method, req.URL.Path) {
				return next(c)
			}

			// Run the handler first so the response status is known.
			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       req.URL.Path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				StatusCode: c.Response().Status,
				UserID:     auth.UserIDFromContext(req.Context()),
				Surface:    auditSurface(req.URL.Path),
				Action:     auditAction(req.Method),
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			if len(recorders) > 0 && recorders[0] != nil {
				if recErr := recorders[0].RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "registry_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("surface", entry.Surface).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("registry_write")

			return err
		}
	}
}

func isAuditable(method, path string) bool {
	if method != http.MethodPost {
		return false
	}
	return strings.HasPrefix(path, "/ingestion/")
}

// auditSurface names the ingestion surface hit by a write.
func auditSurface(path string) string {
	rest := strings.TrimPrefix(path, "/ingestion/")
	if idx := strings.IndexByte(rest, '/'); idx > 0 {
		rest = rest[:idx]
	}
	if rest == "" {
		return "unknown"
	}
	return rest
}

func auditAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	default:
		return "read"
	}
}
