// Package observability wires structured logging and Prometheus metrics.
package observability

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ServiceName     = "podledger"
	RequestIDHeader = "X-Request-ID"

	correlationField = "correlationId"
)

type requestIDKey struct{}

// NewLogger builds the JSON production logger. An empty level means info.
func NewLogger(level string) (*zap.Logger, error) {
	text := strings.ToLower(strings.TrimSpace(level))
	if text == "" {
		text = zapcore.InfoLevel.String()
	}
	atomic, err := zap.ParseAtomicLevel(text)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = atomic
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]any{"service": ServiceName}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// WithCorrelationID tags ctx with the id of the request or message being
// handled.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id, id != ""
}

// WithContextLogger returns logger annotated with the correlation id carried
// by ctx. A nil logger yields a no-op logger.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	if id, ok := CorrelationIDFromContext(ctx); ok {
		return logger.With(zap.String(correlationField, id))
	}
	return logger
}

// CorrelationMiddleware takes the request id header, or mints one, and puts
// it on the request's user context and the response.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.SetUserContext(WithCorrelationID(c.UserContext(), id))
		return c.Next()
	}
}
