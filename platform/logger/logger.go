// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// UserIDKey is the context key for user ID
	UserIDKey contextKey = "user_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	var handler slog.Handler
	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithContext returns a logger with request-scoped values extracted from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	out := l
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		out = &Logger{Logger: out.With(slog.String("request_id", requestID))}
	}
	if userID, ok := ctx.Value(UserIDKey).(int64); ok && userID != 0 {
		out = &Logger{Logger: out.With(slog.Int64("user_id", userID))}
	}
	return out
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// ImportEvent logs the terminal outcome of a case import.
func (l *Logger) ImportEvent(caseID, orderNumber, outcome string, itemCount int) {
	l.Info("case_import",
		slog.String("case_id", caseID),
		slog.String("order_number", orderNumber),
		slog.String("outcome", outcome),
		slog.Int("item_count", itemCount),
	)
}

// TicketEvent logs ticket creation.
func (l *Logger) TicketEvent(caseID string, ticketNumber int, status string) {
	l.Info("ticket_created",
		slog.String("case_id", caseID),
		slog.Int("ticket_number", ticketNumber),
		slog.String("status", status),
	)
}

// EmailEvent logs an email dispatch attempt.
func (l *Logger) EmailEvent(to, subject string, success bool, reason string) {
	if success {
		l.Info("email_dispatch",
			slog.String("to", to),
			slog.String("subject", subject),
			slog.Bool("success", true),
		)
		return
	}
	l.Warn("email_dispatch",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.Bool("success", false),
		slog.String("reason", reason),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
