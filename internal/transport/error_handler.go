package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/podledger/internal/domain"
	"github.com/kursadbilgin/podledger/internal/observability"
	"github.com/kursadbilgin/podledger/internal/provider"
	"go.uber.org/zap"
)

// StatusClientClosedRequest reports a wallet cancellation; it is not an error
// from the user's point of view.
const StatusClientClosedRequest = 499

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := StatusCode(err)
		log := observability.WithContextLogger(logger, c.UserContext())

		if code == StatusClientClosedRequest {
			log.Info("request cancelled by user",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
			)
			return c.Status(code).JSON(fiber.Map{"status": "cancelled"})
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if code >= fiber.StatusInternalServerError {
			log.Error("request error", fields...)
		} else {
			log.Debug("request rejected", fields...)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

// StatusCode maps domain and upstream errors to HTTP status codes.
func StatusCode(err error) int {
	var fe *fiber.Error
	var apiErr *provider.APIError

	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, domain.ErrSigningCancelled):
		return StatusClientClosedRequest
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrNoSession):
		return fiber.StatusPreconditionFailed
	case errors.As(err, &apiErr):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
