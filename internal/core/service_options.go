package core

import (
	"context"
	"time"

	"hospitalcore/pkg/domain"
)

// Logger is the structured logging surface used by the service. Arguments are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Principal identifies the user acting in the current session.
type Principal struct {
	UserID string
	Role   domain.Role
}

// SessionProvider resolves the acting user for a request.
type SessionProvider interface {
	Current(ctx context.Context) (Principal, bool)
}

// SessionFunc adapts a function to SessionProvider.
type SessionFunc func(ctx context.Context) (Principal, bool)

// Current implements SessionProvider.
func (f SessionFunc) Current(ctx context.Context) (Principal, bool) { return f(ctx) }

type noSession struct{}

func (noSession) Current(context.Context) (Principal, bool) { return Principal{}, false }

// AuditStatus records whether an audited operation succeeded.
type AuditStatus string

// Audit outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one service operation for the audit trail.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  string
	Actor     string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// MetricsRecorder observes operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used for entity timestamps.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSession sets the provider of the acting user.
func WithSession(provider SessionProvider) Option {
	return func(s *Service) {
		if provider != nil {
			s.session = provider
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithDurableStore enables remote persistence of every committed change. Each
// durable call is bounded by timeout; zero uses DefaultRemoteTimeout.
func WithDurableStore(store domain.DurableStore, timeout time.Duration) Option {
	return func(s *Service) {
		if store != nil {
			s.durable = store
			s.remoteTimeout = timeout
		}
	}
}

// WithClaimNumberer overrides how claim numbers are assigned.
func WithClaimNumberer(fn func(provider string, now time.Time) string) Option {
	return func(s *Service) {
		if fn != nil {
			s.claimNumber = fn
		}
	}
}
