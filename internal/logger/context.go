package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	requestIDKey  ctxKey = "request_id"
	restaurantKey ctxKey = "restaurant_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func WithRestaurant(ctx context.Context, restaurantID string) context.Context {
	return context.WithValue(ctx, restaurantKey, restaurantID)
}

func RestaurantFrom(ctx context.Context) string {
	if v, ok := ctx.Value(restaurantKey).(string); ok {
		return v
	}
	return ""
}

// FromCtx returns the global logger with request_id and restaurant_id
// attached when the context carries them.
func FromCtx(ctx context.Context) *zap.Logger {
	l := L()
	if reqID := RequestIDFrom(ctx); reqID != "" {
		l = l.With(zap.String("request_id", reqID))
	}
	if rid := RestaurantFrom(ctx); rid != "" {
		l = l.With(zap.String("restaurant_id", rid))
	}
	return l
}
