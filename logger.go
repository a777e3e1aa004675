package shardclient

import (
	"context"
	"log"
	"log/slog"
)

// Logger receives events from the connection layer. Interceptor failures are
// reported here instead of being propagated to the owning RPC.
type Logger interface {
	Report(event LogEvent, conn *Connection)
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func NewSlogLogger(logger *slog.Logger) SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return SlogLogger{
		logger: logger,
		ctx:    context.Background(),
	}
}

func (l SlogLogger) WithContext(ctx context.Context) SlogLogger {
	return SlogLogger{
		logger: l.logger,
		ctx:    ctx,
	}
}

func (l SlogLogger) Report(event LogEvent, conn *Connection) {
	attrs := event.LogAttrs()

	if conn != nil {
		keys := make(map[string]bool, len(attrs))
		for _, a := range attrs {
			keys[a.Key] = true
		}

		if !keys["connection_kind"] {
			attrs = append(attrs, slog.String("connection_kind", conn.Kind().String()))
		}
		if !keys["addr"] && conn.Addr() != "" {
			attrs = append(attrs, slog.String("addr", conn.Addr()))
		}
	}

	l.logger.LogAttrs(l.ctx, event.LogLevel(), event.Message(), attrs...)
}

// SimpleLogger writes events through the standard log package.
type SimpleLogger struct{}

func (l SimpleLogger) Report(event LogEvent, conn *Connection) {
	log.Printf("[%s] %s [event=%s]", event.LogLevel(), event.Message(), event.EventName())

	for _, attr := range event.LogAttrs() {
		if attr.Key == "error" {
			log.Printf("  Error: %v", attr.Value.Any())
		}
	}
}
