package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/andriansp/gigchat/internal/utils"
)

// BearerAuth validates the Authorization header and attaches userId and role
// locals for the handlers. The chat clients send a bearer token on every
// REST call; there is no cookie fallback here.
func BearerAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get(fiber.HeaderAuthorization)
		tokenStr := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if auth == "" || tokenStr == "" || tokenStr == auth {
			return unauthorized(c, "missing bearer token")
		}

		claims, err := utils.ParseJWT(secret, tokenStr)
		if err != nil {
			return unauthorized(c, "invalid token")
		}

		uid := strings.TrimSpace(claims.UserID)
		if uid == "" {
			return unauthorized(c, "invalid token")
		}

		c.Locals("userId", uid)
		c.Locals("role", strings.ToLower(strings.TrimSpace(claims.Role)))
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"message": msg,
	})
}
