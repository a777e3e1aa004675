package shardclient

import (
	"fmt"
	"log/slog"
	"time"
)

// LogEvent describes a loggable occurrence inside the connection layer.
type LogEvent interface {
	EventName() string
	Message() string
	LogLevel() slog.Level
	LogAttrs() []slog.Attr
}

type baseEvent struct {
	addr      string
	EventTime time.Time
}

func newBaseEvent(addr string) baseEvent {
	return baseEvent{
		addr:      addr,
		EventTime: time.Now(),
	}
}

func (e baseEvent) baseAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("component", "shardclient.connection"),
		slog.Time("event_time", e.EventTime),
	}
	if e.addr != "" {
		attrs = append(attrs, slog.String("addr", e.addr))
	}
	return attrs
}

// AuthAttemptEvent is reported before internal user authentication runs on a
// freshly created connection.
type AuthAttemptEvent struct {
	baseEvent
	User string
}

func (e AuthAttemptEvent) EventName() string { return "auth_attempt" }
func (e AuthAttemptEvent) Message() string {
	return fmt.Sprintf("Authenticating internal user %q", e.User)
}
func (e AuthAttemptEvent) LogLevel() slog.Level { return slog.LevelDebug }
func (e AuthAttemptEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.String("user", e.User),
	)
	return attrs
}

// ReplyMetadataFailedEvent is reported when routing statistics could not be
// recorded from a reply. Recording is best effort and never fails the RPC.
type ReplyMetadataFailedEvent struct {
	baseEvent
	Host  string
	Error error
}

func (e ReplyMetadataFailedEvent) EventName() string { return "reply_metadata_failed" }
func (e ReplyMetadataFailedEvent) Message() string {
	return fmt.Sprintf("Failed to record reply routing metadata from %s: %s", e.Host, e.Error)
}
func (e ReplyMetadataFailedEvent) LogLevel() slog.Level { return slog.LevelWarn }
func (e ReplyMetadataFailedEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.String("host", e.Host),
		slog.String("error", e.Error.Error()),
	)
	return attrs
}

// RequestMetadataFailedEvent is reported when impersonated identity metadata
// could not be attached to an outgoing request.
type RequestMetadataFailedEvent struct {
	baseEvent
	Error error
}

func (e RequestMetadataFailedEvent) EventName() string { return "request_metadata_failed" }
func (e RequestMetadataFailedEvent) Message() string {
	return fmt.Sprintf("Failed to attach identity metadata: %s", e.Error)
}
func (e RequestMetadataFailedEvent) LogLevel() slog.Level { return slog.LevelWarn }
func (e RequestMetadataFailedEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.String("error", e.Error.Error()),
	)
	return attrs
}

// ConfigServerDetectedEvent is reported when a probe classifies the remote
// node as a config server.
type ConfigServerDetectedEvent struct {
	baseEvent
	Mode    ConfigServerMode
	SetName string
}

func (e ConfigServerDetectedEvent) EventName() string { return "config_server_detected" }
func (e ConfigServerDetectedEvent) Message() string {
	return fmt.Sprintf("Detected %s config server", e.Mode)
}
func (e ConfigServerDetectedEvent) LogLevel() slog.Level { return slog.LevelInfo }
func (e ConfigServerDetectedEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.String("mode", e.Mode.String()),
	)
	if e.SetName != "" {
		attrs = append(attrs, slog.String("set_name", e.SetName))
	}
	return attrs
}

// ConnectionPoolEvent is reported by the pool when a connection is added to
// or removed from it.
type ConnectionPoolEvent struct {
	baseEvent
	PoolSize int
	Event    string
}

func (e ConnectionPoolEvent) EventName() string { return "connection_pool_" + e.Event }
func (e ConnectionPoolEvent) Message() string {
	switch e.Event {
	case "added":
		return "Connection added to pool"
	case "removed":
		return "Connection removed from pool"
	default:
		return "Connection pool event: " + e.Event
	}
}
func (e ConnectionPoolEvent) LogLevel() slog.Level { return slog.LevelInfo }
func (e ConnectionPoolEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.Int("pool_size", e.PoolSize),
		slog.String("pool_event", e.Event),
	)
	return attrs
}

// NewPoolEvent builds a ConnectionPoolEvent for the pool package.
func NewPoolEvent(addr, event string, size int) ConnectionPoolEvent {
	return ConnectionPoolEvent{
		baseEvent: newBaseEvent(addr),
		PoolSize:  size,
		Event:     event,
	}
}
