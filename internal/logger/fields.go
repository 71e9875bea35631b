package logger

import (
	"log/slog"
)

// Standard field keys for structured logging. Use these consistently across
// all log statements so dialogs can be correlated in log aggregation.
const (
	// Client identification
	KeyClientIP   = "client_ip"   // NAS / client IP address
	KeyClientPort = "client_port" // Client source port

	// RADIUS packet
	KeyCode     = "code"      // RADIUS packet code (1, 2, 3, 4, 5, 11)
	KeyPacketID = "packet_id" // RADIUS packet identifier (0-255)
	KeyAttr     = "attr"      // Attribute name

	// Policy decisions
	KeyPool   = "pool"   // Selected address pool name
	KeyReply  = "reply"  // Selected reply template name
	KeyToken  = "token"  // Dialog store token
	KeyListen = "listen" // Listening address (host:port)

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
)

// ----------------------------------------------------------------------------
// Field constructors for type safety
// ----------------------------------------------------------------------------

// ClientIP returns a slog.Attr for the client IP address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// ClientPort returns a slog.Attr for the client source port.
func ClientPort(port int) slog.Attr {
	return slog.Int(KeyClientPort, port)
}

// Code returns a slog.Attr for a RADIUS packet code.
func Code(code int) slog.Attr {
	return slog.Int(KeyCode, code)
}

// PacketID returns a slog.Attr for a RADIUS packet identifier.
func PacketID(id int) slog.Attr {
	return slog.Int(KeyPacketID, id)
}

// Pool returns a slog.Attr for a selected pool name.
func Pool(name string) slog.Attr {
	return slog.String(KeyPool, name)
}

// Reply returns a slog.Attr for a selected reply template name.
func Reply(name string) slog.Attr {
	return slog.String(KeyReply, name)
}

// Token returns a slog.Attr for a dialog store token.
func Token(token string) slog.Attr {
	return slog.String(KeyToken, token)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
