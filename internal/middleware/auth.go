package middleware

import (
	"strings"

	"github.com/askgene/backend/internal/auth"
	"github.com/askgene/backend/internal/config"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const CtxClaims = "claims"

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"error":   msg,
		"code":    "UNAUTHORIZED",
	})
}

// AuthMiddleware verifies the bearer token. With AUTH_REQUIRED off a missing
// header passes through, but a present and invalid token is still rejected.
func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			if !cfg.AuthRequired {
				return c.Next()
			}
			return unauthorized(c, "missing authorization header")
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return unauthorized(c, "invalid authorization format")
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals(CtxClaims, claims)
		return c.Next()
	}
}

// GetClaims returns the verified claims, or nil for anonymous requests.
func GetClaims(c *fiber.Ctx) *auth.Claims {
	claims, _ := c.Locals(CtxClaims).(*auth.Claims)
	return claims
}
