package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ContextKey is a type for context keys used in auth middleware
type ContextKey string

const (
	// OperatorContextKey is the key used to store the operator name in echo context
	OperatorContextKey ContextKey = "operator"
)

// RequireAuth creates authentication middleware for the operator API
func RequireAuth(tokenService *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := tokenService.ValidateToken(tokenParts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(string(OperatorContextKey), claims.Operator)

			return next(c)
		}
	}
}

// OperatorFrom returns the authenticated operator name from the echo context,
// or an empty string when the request was not authenticated.
func OperatorFrom(c echo.Context) string {
	operator, _ := c.Get(string(OperatorContextKey)).(string)
	return operator
}
