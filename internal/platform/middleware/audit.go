package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/his/his/internal/platform/auth"
)

// AuditEntry captures who touched a billing record, when, from where, and how.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Action     string // read, create, update, delete, search
	Path       string
	Method     string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries. Tests provide a mock implementation;
// production falls back to structured logging when none is given.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs access to billing records: financial mutations must be traceable
// to an operator. Read access is logged at search/read granularity.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			// Run the handler first so the response status is known.
			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				StatusCode: c.Response().Status,
				Action:     httpMethodToAction(req.Method, path),
			}

			ctx := req.Context()
			entry.UserID = auth.UserIDFromContext(ctx)
			entry.UserRoles = auth.RolesFromContext(ctx)

			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			recorded := false
			for _, r := range recorders {
				if r != nil {
					_ = r.RecordAccess(entry)
					recorded = true
				}
			}
			if !recorded {
				logger.Info().
					Str("user_id", entry.UserID).
					Strs("roles", entry.UserRoles).
					Str("action", entry.Action).
					Str("method", entry.Method).
					Str("path", entry.Path).
					Int("status", entry.StatusCode).
					Str("request_id", entry.RequestID).
					Msg("audit")
			}

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.Contains(path, "/billing-records")
}

func httpMethodToAction(method, path string) string {
	switch method {
	case "GET":
		if strings.HasSuffix(strings.TrimRight(path, "/"), "billing-records") {
			return "search"
		}
		return "read"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
