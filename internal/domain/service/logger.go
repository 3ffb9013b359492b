package service

import "context"

// Logger abstracts structured logging. Shape matches the teacher's
// domain/service.Logger interface exactly (Debug/Info/Warn/Error/With),
// extended with WithContext for request/job-scoped trace fields.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a new logger with the given key-value pairs attached
	// to every subsequent entry.
	With(args ...any) Logger

	// WithContext returns a new logger carrying any trace/correlation
	// fields present on ctx (job id, tenant id) if the concrete
	// implementation knows how to extract them.
	WithContext(ctx context.Context) Logger
}
