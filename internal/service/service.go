// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Shivanand-hulikatti/club-directory/internal/domainerr"
	"github.com/Shivanand-hulikatti/club-directory/internal/metrics"
	"github.com/Shivanand-hulikatti/club-directory/internal/repository"
)

// Option configures the ambient dependencies of a service.
type Option func(*deps)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *deps) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *deps) { d.metrics = m }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *deps) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *deps) {
		if now != nil {
			d.now = now
		}
	}
}

type deps struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func newDeps(opts []Option) deps {
	d := deps{
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer(""),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&d)
		}
	}
	return d
}

// withTelemetry wraps a service operation with a span, metrics and logging.
// Domain failures (validation, conflicts, missing records) are logged at
// info; anything else is an error.
func withTelemetry[T any](
	ctx context.Context,
	d *deps,
	service, operation, identifier string,
	op func(ctx context.Context) (T, error),
) (result T, err error) {
	ctx, span := d.tracer.Start(ctx, service+"."+operation, trace.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("identifier", identifier),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = domainerr.Wrap(fmt.Errorf("panic in %s: %v", operation, r), domainerr.CodeInternal, "internal error")
			var zero T
			result = zero
		}
		d.finish(ctx, span, service, operation, identifier, start, err)
	}()

	return op(ctx)
}

// tracedSeq applies withTelemetry semantics to each full range over seq.
func tracedSeq[T any](d *deps, ctx context.Context, service, operation, identifier string, seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		ctx, span := d.tracer.Start(ctx, service+"."+operation, trace.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("identifier", identifier),
		))
		defer span.End()

		start := time.Now()
		var (
			failure error
			count   int
		)
		defer func() {
			span.SetAttributes(attribute.Int("result.count", count))
			d.finish(ctx, span, service, operation, identifier, start, failure)
		}()

		for v, err := range seq {
			if err != nil {
				failure = err
				yield(v, err)
				return
			}
			count++
			if !yield(v, nil) {
				return
			}
		}
	}
}

func (d *deps) finish(ctx context.Context, span trace.Span, service, operation, identifier string, start time.Time, err error) {
	attrs := []any{
		slog.String("service", service),
		slog.String("operation", operation),
		slog.String("identifier", identifier),
		slog.Duration("duration", time.Since(start)),
	}

	switch {
	case err == nil:
		d.metrics.ObserveOperation(service, operation, metrics.OutcomeSuccess, start)
		d.logger.DebugContext(ctx, "operation succeeded", attrs...)
	case isDomainFailure(err):
		code := domainerr.CodeOf(err)
		d.metrics.ObserveOperation(service, operation, metrics.OutcomeFailure, start)
		span.SetAttributes(attribute.String("failure.code", string(code)))
		d.logger.InfoContext(ctx, "operation rejected", append(attrs, slog.String("code", string(code)))...)
	default:
		d.metrics.ObserveOperation(service, operation, metrics.OutcomeError, start)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.ErrorContext(ctx, "operation failed", append(attrs,
			slog.String("code", string(domainerr.CodeOf(err))),
			slog.String("error", err.Error()),
		)...)
	}
}

func isDomainFailure(err error) bool {
	switch domainerr.CodeOf(err) {
	case domainerr.CodeInternal, domainerr.CodeStoreUnavailable:
		return false
	default:
		return true
	}
}

// translate maps repository facts onto domain codes. notFound is the
// message used for ErrNotFound, which differs per operation.
func translate(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return domainerr.Wrap(err, domainerr.CodeNotFound, notFound)
	case errors.Is(err, repository.ErrClubFull):
		return domainerr.Wrap(err, domainerr.CodeClubFull, "club is at capacity")
	case errors.Is(err, repository.ErrAlreadyMember):
		return domainerr.Wrap(err, domainerr.CodeAlreadyMember, "already a member of this club")
	case errors.Is(err, repository.ErrNotMember):
		return domainerr.Wrap(err, domainerr.CodeNotMember, "not a member of this club")
	case errors.Is(err, repository.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return domainerr.Wrap(err, domainerr.CodeStoreUnavailable, "store unavailable")
	default:
		return domainerr.Wrap(err, domainerr.CodeInternal, "internal error")
	}
}

func validation(msg string) error {
	return domainerr.New(domainerr.CodeValidation, msg)
}
