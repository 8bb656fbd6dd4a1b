// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	reservationIDKey
)

// fieldKeys lists every context-carried field WithContext knows how to
// project onto a logger, paired with the log field name it's emitted
// under. Adding a carried field means adding one entry here plus its
// ContextWithX/XFromContext accessor pair below.
var fieldKeys = []struct {
	key  ctxKey
	name string
}{
	{requestIDKey, FieldRequestID},
	{reservationIDKey, FieldReservationID},
}

func contextWithField(ctx context.Context, key ctxKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func fieldFromContext(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// ContextWithRequestID stores the provided request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return contextWithField(ctx, requestIDKey, id)
}

// ContextWithReservationID stores the provided reservation ID in the context.
func ContextWithReservationID(ctx context.Context, id string) context.Context {
	return contextWithField(ctx, reservationIDKey, id)
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string {
	return fieldFromContext(ctx, requestIDKey)
}

// ReservationIDFromContext extracts the reservation ID from context if present.
func ReservationIDFromContext(ctx context.Context) string {
	return fieldFromContext(ctx, reservationIDKey)
}

// WithContext enriches logger with every carried field present in ctx
// (request ID, reservation ID), skipping fields that were never set rather
// than emitting them blank.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	added := false
	for _, f := range fieldKeys {
		if v := fieldFromContext(ctx, f.key); v != "" {
			builder = builder.Str(f.name, v)
			added = true
		}
	}
	if !added {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext returns a logger that is annotated with the component
// name and enriched with carried fields from ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	l := WithContext(ctx, *FromContext(ctx))
	return l.With().Str(FieldComponent, component).Logger()
}

// FromContext returns a logger from the context, or a new one if not present.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		l := Base()
		return &l
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		b := Base()
		return &b
	}
	return l
}
