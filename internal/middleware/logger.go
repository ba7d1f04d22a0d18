package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var quietPaths = map[string]bool{"/health": true, "/metrics": true}

// LoggerMiddleware writes one line per request. Server errors log at error
// level, client errors at warn.
func LoggerMiddleware(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		if quietPaths[c.Path()] {
			return err
		}
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}

		level := zapcore.InfoLevel
		switch {
		case status >= 500:
			level = zapcore.ErrorLevel
		case status >= 400:
			level = zapcore.WarnLevel
		}
		fields := []zap.Field{
			zap.String("request_id", RequestID(c)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		if claims := GetClaims(c); claims != nil {
			fields = append(fields, zap.String("audience", claims.Audience()))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		log.Log(level, "request", fields...)

		return err
	}
}
