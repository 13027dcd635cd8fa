package logx

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GinRequestIDKey is where RequestIDMiddleware stores the id on the gin context.
const GinRequestIDKey = "request_id"

type requestIDKey struct{}

// NormalizeRequestID keeps a well-formed v4 id and mints a new one otherwise.
func NormalizeRequestID(value string) string {
	if parsed, err := uuid.Parse(value); err == nil && parsed.Version() == 4 {
		return parsed.String()
	}
	return uuid.NewString()
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}

func RequestIDFromGin(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if requestID := c.GetString(GinRequestIDKey); requestID != "" {
		return requestID
	}
	if c.Request == nil {
		return ""
	}
	return RequestIDFromContext(c.Request.Context())
}

// FromContext returns the default logger, tagged with the request id carried
// by ctx when there is one.
func FromContext(ctx context.Context) *slog.Logger {
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		return slog.Default().With("request_id", requestID)
	}
	return slog.Default()
}
