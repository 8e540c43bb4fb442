package logging

import (
	"log/slog"

	"github.com/arloliu/cqlcore/types"
)

// SlogLogger adapts a *slog.Logger to types.Logger.
type SlogLogger struct {
	l *slog.Logger
}

var _ types.Logger = (*SlogLogger)(nil)

// NewSlogLogger wraps l. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}

	return &SlogLogger{l: l}
}

// Debug logs at debug level.
func (s *SlogLogger) Debug(msg string, kv ...any) { s.l.Debug(msg, kv...) }

// Info logs at info level.
func (s *SlogLogger) Info(msg string, kv ...any) { s.l.Info(msg, kv...) }

// Warn logs at warn level.
func (s *SlogLogger) Warn(msg string, kv ...any) { s.l.Warn(msg, kv...) }

// Error logs at error level.
func (s *SlogLogger) Error(msg string, kv ...any) { s.l.Error(msg, kv...) }
