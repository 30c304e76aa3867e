package auth

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

// Role names carried in token claims.
const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleNurse        = "nurse"
	RoleReceptionist = "receptionist"
	RolePatient      = "patient"
)

// StaffRoles may read and write clinical records.
var StaffRoles = []string{RoleAdmin, RoleDoctor, RoleNurse, RoleReceptionist}

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Admin satisfies every role.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

func HasAnyRole(userRoles []string, required ...string) bool {
	if slices.Contains(userRoles, RoleAdmin) {
		return true
	}
	for _, r := range required {
		if slices.Contains(userRoles, r) {
			return true
		}
	}
	return false
}
