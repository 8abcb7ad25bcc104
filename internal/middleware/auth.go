// Package middleware contains the echo middleware gating the HTTP API:
// JWT authentication and per-key rate limiting.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Jishnu-21/chat-app/internal/auth"
)

// ClaimsContextKey is the echo context key under which verified JWT claims
// are stored for downstream handlers.
const ClaimsContextKey = "auth_claims"

// TokenFromRequest extracts the bearer credential from a request: the
// Authorization header first, then the "token" query parameter, which is
// how browser websocket clients supply it (the WebSocket API cannot set
// request headers).
func TokenFromRequest(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	}
	return c.QueryParam("token")
}

// Auth returns middleware that enforces JWT authentication and attaches the
// verified claims to the request context. Routes behind it can assume
// GetClaims succeeds.
func Auth(j *auth.JWTManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := TokenFromRequest(c)
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization token")
			}

			claims, err := j.VerifyToken(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			c.Set(ClaimsContextKey, claims)
			return next(c)
		}
	}
}

// GetClaims extracts the verified claims stored by Auth, if present.
func GetClaims(c echo.Context) (*auth.Claims, bool) {
	v := c.Get(ClaimsContextKey)
	if v == nil {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
