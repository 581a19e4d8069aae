// Package services – SubmissionService
//
// SubmissionService runs one contact/booking inquiry through the pipeline:
// validate, write the durable record, compose the notification, and hand it
// to the ordered delivery chain. The durable write always happens before any
// delivery attempt and its failure never stops delivery.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-venue-backend/internal/domain"
	"github.com/tbourn/go-venue-backend/internal/mail"
	"github.com/tbourn/go-venue-backend/internal/observability"
)

// Recorder persists a submission record and returns where it was written.
type Recorder interface {
	Save(rec domain.SubmissionRecord) (string, error)
}

// Deliverer sends a composed notification, trying alternatives in order.
// A failure of every alternative is reported as *mail.DeliveryError.
type Deliverer interface {
	Deliver(ctx context.Context, msg *mail.Message) ([]domain.DeliveryAttempt, error)
}

// SubmissionRequest carries the fields accepted from the contact form.
type SubmissionRequest struct {
	FullName       string
	Email          string
	Phone          string
	ShowingTime    string
	GuestCount     string
	PreferredDate  string
	BookingDetails string
}

// Outcome describes what happened to an accepted submission.
type Outcome struct {
	Record     domain.SubmissionRecord
	BackupPath string // empty when the backup write failed
	BackupErr  error  // *BackupWriteError or nil
	Attempts   []domain.DeliveryAttempt
}

// Delivered reports whether any strategy succeeded.
func (o *Outcome) Delivered() bool {
	return len(o.Attempts) > 0 && o.Attempts[len(o.Attempts)-1].Success
}

// SubmissionService implements the contact-form use case. It holds no
// per-request state and is safe for concurrent use.
type SubmissionService struct {
	Store      Recorder
	Mailer     Deliverer
	Addressing mail.Addressing

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewSubmissionService wires the pipeline collaborators.
func NewSubmissionService(store Recorder, mailer Deliverer, addr mail.Addressing) *SubmissionService {
	return &SubmissionService{Store: store, Mailer: mailer, Addressing: addr}
}

// Submit validates req and, when valid, records and delivers it.
//
// Errors:
//   - *ValidationError when fullName, email or phone is blank; nothing is
//     written and nothing is sent.
//   - *mail.DeliveryError when every strategy failed; the record was still
//     written (unless Outcome.BackupErr says otherwise).
//   - any other error is unexpected (e.g. template rendering).
//
// The Outcome is non-nil whenever validation passed.
func (s *SubmissionService) Submit(ctx context.Context, req SubmissionRequest) (*Outcome, error) {
	ctx, span := observability.Tracer("services/SubmissionService").Start(ctx, "Submit")
	defer span.End()
	lg := zerolog.Ctx(ctx)

	rec := domain.NewSubmissionRecord(domain.SubmissionRecord{
		FullName:       strings.TrimSpace(req.FullName),
		Email:          strings.TrimSpace(req.Email),
		Phone:          strings.TrimSpace(req.Phone),
		ShowingTime:    req.ShowingTime,
		GuestCount:     req.GuestCount,
		PreferredDate:  req.PreferredDate,
		BookingDetails: req.BookingDetails,
	}, s.now())

	if missing := rec.MissingRequired(); len(missing) > 0 {
		span.SetAttributes(attribute.StringSlice("submission.missing", missing))
		return nil, &ValidationError{Missing: missing}
	}
	lg.Info().Str("submitted_at", rec.SubmittedAt).Msg("submission received")

	out := &Outcome{Record: rec}

	// Step 1: durable record. Failure is logged, never fatal.
	path, err := s.Store.Save(rec)
	if err != nil {
		out.BackupErr = &BackupWriteError{Err: err}
		span.RecordError(err)
		lg.Error().Err(err).Msg("submission backup failed")
	} else {
		out.BackupPath = path
		lg.Info().Str("path", path).Msg("submission saved")
	}

	// Steps 2 and 3: compose once, deliver through the chain.
	attempts, err := s.deliver(ctx, rec)
	out.Attempts = attempts
	span.SetAttributes(
		attribute.Bool("submission.backup_saved", out.BackupErr == nil),
		attribute.Int("submission.attempts", len(attempts)),
	)
	if err != nil {
		span.SetStatus(codes.Error, "notification not delivered")
		return out, err
	}
	return out, nil
}

// Resend pushes an already saved record through compose and delivery
// without writing a new backup file.
func (s *SubmissionService) Resend(ctx context.Context, rec domain.SubmissionRecord) ([]domain.DeliveryAttempt, error) {
	ctx, span := observability.Tracer("services/SubmissionService").Start(ctx, "Resend",
		trace.WithAttributes(attribute.String("submission.submitted_at", rec.SubmittedAt)),
	)
	defer span.End()
	if missing := rec.MissingRequired(); len(missing) > 0 {
		return nil, &ValidationError{Missing: missing}
	}
	return s.deliver(ctx, rec)
}

func (s *SubmissionService) deliver(ctx context.Context, rec domain.SubmissionRecord) ([]domain.DeliveryAttempt, error) {
	msg, err := mail.Compose(rec, s.Addressing)
	if err != nil {
		return nil, fmt.Errorf("compose notification: %w", err)
	}
	attempts, err := s.Mailer.Deliver(ctx, msg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("attempts", len(attempts)).Msg("notification not delivered")
		return attempts, err
	}
	return attempts, nil
}

func (s *SubmissionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
