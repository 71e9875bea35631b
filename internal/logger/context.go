package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds per-datagram logging context.
type LogContext struct {
	ClientIP   string    // Client IP address (without port)
	ClientPort int       // Client source port
	Code       int       // RADIUS packet code
	PacketID   int       // RADIUS packet identifier
	StartTime  time.Time // For duration calculation
}

// WithContext returns a new context carrying the given LogContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a datagram from the given client.
func NewLogContext(clientIP string, clientPort int) *LogContext {
	return &LogContext{
		ClientIP:   clientIP,
		ClientPort: clientPort,
		StartTime:  time.Now(),
	}
}

// WithPacket returns a copy with the decoded packet code and id set.
func (lc *LogContext) WithPacket(code, id int) *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	clone.Code = code
	clone.PacketID = id
	return &clone
}

// DurationMs returns the duration since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
