package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type revocationListResponse struct {
	Count   int              `json:"count"`
	Entries []RevocationInfo `json:"entries"`
}

// RegisterSessionRoutes adds logout for any authenticated caller and the
// admin-only revocation listing.
func RegisterSessionRoutes(g *echo.Group, store *TokenRevocationStore) {
	g.POST("/auth/logout", handleLogout(store))
	g.GET("/auth/revocations", handleListRevocations(store), RequireRole(RoleAdmin))
}

// handleLogout revokes the token that authenticated the request.
func handleLogout(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims := ClaimsFromContext(c.Request().Context())
		if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "no active session")
		}
		store.Revoke(claims.ID, claims.Subject, claims.ExpiresAt.Time)
		return c.NoContent(http.StatusNoContent)
	}
}

func handleListRevocations(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries := store.Entries()
		return c.JSON(http.StatusOK, revocationListResponse{Count: len(entries), Entries: entries})
	}
}
