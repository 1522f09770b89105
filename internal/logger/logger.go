package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with application-specific methods
type Logger struct {
	zerolog.Logger
}

// New creates a new Logger writing to stdout
func New(level string, format string) *Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a Logger writing to w. "text" and "console" select
// the human-readable writer; anything else emits JSON.
func NewWithWriter(w io.Writer, level string, format string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	if format == "text" || format == "console" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	return &Logger{Logger: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithRequestID returns a new logger with the request ID attached
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With().Str("request_id", requestID).Logger(),
	}
}

// WithAccountID returns a new logger with the account ID attached
func (l *Logger) WithAccountID(accountID string) *Logger {
	return &Logger{
		Logger: l.With().Str("account_id", accountID).Logger(),
	}
}

// WithBatchID returns a new logger with the batch ID attached
func (l *Logger) WithBatchID(batchID string) *Logger {
	return &Logger{
		Logger: l.With().Str("batch_id", batchID).Logger(),
	}
}

// WithComponent returns a new logger with the component name attached
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With().Str("component", component).Logger(),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, statusCode int, duration time.Duration, clientIP string) {
	l.Info().
		Str("method", method).
		Str("path", path).
		Int("status", statusCode).
		Dur("duration", duration).
		Str("client_ip", clientIP).
		Msg("HTTP request")
}

// Ledger records a credit movement on an account
func (l *Logger) Ledger(accountID, kind string, amount, balanceAfter int, reference string) {
	l.Info().
		Str("ledger", "true").
		Str("account_id", accountID).
		Str("kind", kind).
		Int("amount", amount).
		Int("balance_after", balanceAfter).
		Str("reference", reference).
		Msg("credit ledger entry")
}
