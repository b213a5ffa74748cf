package middleware

import (
	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/DeFacto/defacto-go/pkg/hash"
)

// AdminTokenHeader carries the operator token on admin routes.
const AdminTokenHeader = "X-Admin-Token"

// RequireAdmin rejects requests whose X-Admin-Token does not match token.
// An empty token disables every admin route.
func RequireAdmin(token string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if token == "" {
			return ErrorResponse(c, fiber.StatusForbidden, "FORBIDDEN", "admin operations are disabled")
		}
		if !hash.Equal(c.Get(AdminTokenHeader), token) {
			return ErrorResponse(c, fiber.StatusForbidden, "FORBIDDEN", "admin token required")
		}
		return c.Next()
	}
}
