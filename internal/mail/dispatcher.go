package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-venue-backend/internal/domain"
	"github.com/tbourn/go-venue-backend/internal/observability"
)

// ErrNoStrategies is returned by Deliver when the chain is empty.
var ErrNoStrategies = errors.New("no delivery strategies configured")

var (
	// deliveryAttempts counts strategy attempts by outcome ("success"|"failure").
	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_delivery_attempts_total",
			Help: "Notification delivery attempts by strategy and result.",
		},
		[]string{"strategy", "result"},
	)

	// deliveryLat records how long each strategy attempt took.
	deliveryLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mail_delivery_duration_seconds",
			Help:    "Duration of notification delivery attempts in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"strategy"},
	)

	// deliveryExhausted counts messages for which every strategy failed.
	deliveryExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mail_delivery_exhausted_total",
			Help: "Notifications that failed on every configured strategy.",
		},
	)
)

func init() {
	prometheus.MustRegister(deliveryAttempts, deliveryLat, deliveryExhausted)
}

// DeliveryError reports that every strategy failed. Attempts holds one entry
// per strategy in the order tried.
type DeliveryError struct {
	Attempts []domain.DeliveryAttempt
	errs     []error
}

func (e *DeliveryError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrNoStrategies.Error()
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("#%d %s: %s", a.Ordinal, a.Strategy, a.Error))
	}
	return fmt.Sprintf("all %d delivery strategies failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// Unwrap exposes the per-strategy errors to errors.Is / errors.As.
func (e *DeliveryError) Unwrap() []error {
	if len(e.errs) == 0 {
		return []error{ErrNoStrategies}
	}
	return e.errs
}

// Dispatcher tries its strategies strictly in order and stops at the first
// success, so at most one copy of a message is ever sent.
type Dispatcher struct {
	strategies     []Strategy
	attemptTimeout time.Duration
}

// NewDispatcher returns a Dispatcher. attemptTimeout <= 0 leaves each attempt
// bounded only by the caller's context and the transport's own limits.
func NewDispatcher(attemptTimeout time.Duration, strategies ...Strategy) *Dispatcher {
	return &Dispatcher{strategies: strategies, attemptTimeout: attemptTimeout}
}

// Strategies returns the names of the configured strategies in order.
func (d *Dispatcher) Strategies() []string {
	names := make([]string, len(d.strategies))
	for i, s := range d.strategies {
		names[i] = s.Name()
	}
	return names
}

// Deliver sends msg through the first strategy that succeeds. On success the
// returned attempts end with the successful one. When all strategies fail the
// error is a *DeliveryError carrying every attempt.
func (d *Dispatcher) Deliver(ctx context.Context, msg *Message) ([]domain.DeliveryAttempt, error) {
	lg := zerolog.Ctx(ctx)
	attempts := make([]domain.DeliveryAttempt, 0, len(d.strategies))
	var errs []error

	for i, s := range d.strategies {
		a := domain.DeliveryAttempt{Ordinal: i + 1, Strategy: s.Name()}
		lg.Info().Int("attempt", a.Ordinal).Str("strategy", a.Strategy).Msg("attempting delivery")

		start := time.Now()
		err := d.attempt(ctx, s, msg)
		deliveryLat.WithLabelValues(a.Strategy).Observe(time.Since(start).Seconds())

		if err == nil {
			a.Success = true
			attempts = append(attempts, a)
			deliveryAttempts.WithLabelValues(a.Strategy, "success").Inc()
			lg.Info().Int("attempt", a.Ordinal).Str("strategy", a.Strategy).Msg("delivery succeeded")
			return attempts, nil
		}

		a.Error = err.Error()
		attempts = append(attempts, a)
		errs = append(errs, fmt.Errorf("strategy %d (%s): %w", a.Ordinal, a.Strategy, err))
		deliveryAttempts.WithLabelValues(a.Strategy, "failure").Inc()
		lg.Warn().Err(err).Int("attempt", a.Ordinal).Str("strategy", a.Strategy).Msg("delivery failed")
	}

	deliveryExhausted.Inc()
	return attempts, &DeliveryError{Attempts: attempts, errs: errs}
}

// attempt runs one strategy under its own timeout and converts a panicking
// transport into an error so the chain can continue.
func (d *Dispatcher) attempt(ctx context.Context, s Strategy, msg *Message) (err error) {
	ctx, span := observability.Tracer("mail/Dispatcher").Start(ctx, "attempt",
		trace.WithAttributes(attribute.String("mail.strategy", s.Name())),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery failed")
		}
		span.End()
	}()
	if d.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.attemptTimeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("strategy panicked: %v", rec)
		}
	}()
	return s.Send(ctx, msg)
}
