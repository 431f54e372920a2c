package logger

// Logger is the logging surface used by every negotiation component.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a message with structured fields.
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Scoped is implemented by loggers able to derive a child logger carrying
// extra fields, e.g. the negotiation identifier.
type Scoped interface {
	With(fields map[string]any) Logger
}

// With returns l enriched with fields when l supports it, l otherwise.
func With(l Logger, fields map[string]any) Logger {
	if s, ok := l.(Scoped); ok {
		return s.With(fields)
	}
	return l
}
