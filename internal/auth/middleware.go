package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/engine"
)

// Principal is the authenticated caller attached to a request.
type Principal struct {
	ID    string
	Roles []string
}

// Middleware validates the bearer token and stores the Principal on the
// request context.
func Middleware(issuer *Issuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return engine.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := issuer.Parse(parts[1])
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		c.Locals("user", &Principal{ID: claims.Subject, Roles: claims.Roles})
		return c.Next()
	}
}

// GetPrincipal extracts the Principal from a request, or nil.
func GetPrincipal(c *fiber.Ctx) *Principal {
	p, _ := c.Locals("user").(*Principal)
	return p
}
