package middleware // reusable HTTP middleware functions

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5" // JWT library for parsing and validating tokens
	"github.com/labstack/echo/v4"  // Echo framework used for defining middleware and handlers
)

// ClientAuth returns an Echo middleware that validates a Bearer token
// issued to a marketplace client and injects the client id into the
// request context.  The provided secret must match the one used when
// issuing tokens.  Every data-touching route is wrapped by this
// middleware so handlers can scope queries via `c.Get("client_id")`.
func ClientAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// Pin the signing method to HMAC; reject anything else.
			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			// Numeric claims decode as float64 from JSON.
			cid, ok := claims["cid"].(float64)
			if !ok || cid <= 0 {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid client claim"})
			}
			c.Set("client_id", uint64(cid))
			return next(c)
		}
	}
}

// ClientID extracts the authenticated client id a ClientAuth
// middleware stored on the context.  Returns 0 when unauthenticated.
func ClientID(c echo.Context) uint64 {
	if v, ok := c.Get("client_id").(uint64); ok {
		return v
	}
	return 0
}
