package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medisecure/clinic/internal/platform/auth"
)

// AuditEntry records who touched which patient data and with what outcome.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	UserID     string
	UserRoles  []string
	Resource   string
	PatientID  string
	Action     string
	Method     string
	Route      string
	RemoteIP   string
	StatusCode int
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error { return f(entry) }

// Audit logs every request against patient and appointment resources after
// the handler ran, including denied ones.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	logger = logger.With().Str("type", "audit").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			resource := auditedResource(c.Path())
			if resource == "" {
				return next(c)
			}

			err := next(c)

			req := c.Request()
			status := c.Response().Status
			if err != nil {
				status = statusOf(err)
			}
			rid, _ := c.Get("request_id").(string)
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				RequestID:  rid,
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
				Resource:   resource,
				PatientID:  patientIDOf(c, resource),
				Action:     actionOf(req.Method),
				Method:     req.Method,
				Route:      c.Path(),
				RemoteIP:   c.RealIP(),
				StatusCode: status,
			}

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", rid).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("route", entry.Route).
				Str("remote_ip", entry.RemoteIP).
				Int("status", entry.StatusCode).
				Msg("data_access")

			return err
		}
	}
}

// auditedResource maps a registered route such as /api/v1/patients/:id to
// "patients". Routes outside patient and appointment data return "".
func auditedResource(route string) string {
	rest, ok := strings.CutPrefix(route, "/api/v1/")
	if !ok {
		return ""
	}
	segment, _, _ := strings.Cut(rest, "/")
	switch segment {
	case "patients", "appointments":
		return segment
	case "doctors":
		if strings.HasSuffix(rest, "/appointments") {
			return "appointments"
		}
	}
	return ""
}

func patientIDOf(c echo.Context, resource string) string {
	if resource == "patients" {
		if _, err := uuid.Parse(c.Param("id")); err == nil {
			return c.Param("id")
		}
	}
	return ""
}

func actionOf(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
