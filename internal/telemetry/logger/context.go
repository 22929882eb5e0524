package logger

import "context"

type contextKey string

const (
	loggerKey      contextKey = "syncroom.logger"
	requestIDKey   contextKey = "syncroom.request_id"
	connectorIDKey contextKey = "syncroom.connector_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context.
// Returns the default logger if none is set.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithRequestID adds an HTTP request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithConnectorID tags the context with the connector a socket belongs to.
func WithConnectorID(ctx context.Context, connectorID string) context.Context {
	return context.WithValue(ctx, connectorIDKey, connectorID)
}

// ConnectorIDFromContext extracts the connector ID from context.
func ConnectorIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(connectorIDKey).(string)
	return id
}

// L is a shorthand for FromContext that also enriches the logger
// with request and connector IDs carried by the context.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)

	if reqID := RequestIDFromContext(ctx); reqID != "" {
		l = l.With("request_id", reqID)
	}
	if connID := ConnectorIDFromContext(ctx); connID != "" {
		l = l.With("connector_id", connID)
	}

	return l
}
