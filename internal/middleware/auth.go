// Package middleware provides authentication, logging and rate limiting
// middleware for the application.
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"sologram/internal/auth"
)

const identityLocal = "identity"

// RequireAuth returns a middleware that enforces authentication on protected
// routes. The token comes from the Authorization header, or from the "token"
// query parameter for websocket upgrades where custom headers are not
// available to browser clients.
func RequireAuth(verifier auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authorization required",
			})
		}

		ident, err := verifier.Verify(c.UserContext(), token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals(identityLocal, &ident)
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// Identity returns the authenticated identity stored by RequireAuth, or nil
// when the request is unauthenticated.
func Identity(c *fiber.Ctx) *auth.Identity {
	if ident, ok := c.Locals(identityLocal).(*auth.Identity); ok {
		return ident
	}
	return nil
}

func currentUID(c *fiber.Ctx) string {
	if ident := Identity(c); ident != nil {
		return ident.UID
	}
	return ""
}
