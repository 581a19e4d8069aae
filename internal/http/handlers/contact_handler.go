// Contact HTTP handler.
//
// This file exposes the website's contact/booking form endpoint:
//   - POST {API_BASE_PATH}/contact   (validate, back up, notify, respond)
//
// The handler is transport-thin: it enforces the method, binds the JSON body,
// delegates to services.SubmissionService and maps the outcome to the
// {success,message} envelope. Any other method on the route gets 405.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a stored result exists
// for that key, the handler returns the stored status and message and sets
// `Idempotency-Replayed: true` without writing a file or sending mail.
// Otherwise the key is reserved before the pipeline runs; a second request
// arriving while the first is still in flight gets 409 and may retry later
// to receive the stored result.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-venue-backend/internal/http/middleware"
	"github.com/tbourn/go-venue-backend/internal/mail"
	"github.com/tbourn/go-venue-backend/internal/services"
)

//
// DTOs
//

// FormString accepts a JSON string, number or boolean and keeps its text.
// Browsers serializing <input type="number"> sometimes send guestCount as a
// number; the record stores it as text either way. null decodes to "".
type FormString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FormString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FormString(s)
		return nil
	case len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*f = FormString(n.String())
		return nil
	case bytes.Equal(b, []byte("true")), bytes.Equal(b, []byte("false")):
		*f = FormString(b)
		return nil
	}
	return fmt.Errorf("form field must be a string, number or boolean, got %s", b)
}

// ContactRequest is the JSON payload posted by the contact form.
//
// Required fields are checked by the service (after trimming), not by gin
// binding tags, so that missing fields produce the form-specific message.
type ContactRequest struct {
	FullName       FormString `json:"fullName" example:"Jane Doe"`
	Email          FormString `json:"email" example:"jane@example.com"`
	Phone          FormString `json:"phone" example:"555-1234"`
	ShowingTime    FormString `json:"showingTime" example:"evening"`
	GuestCount     FormString `json:"guestCount" example:"10"`
	PreferredDate  FormString `json:"preferredDate" example:"2025-06-01"`
	BookingDetails FormString `json:"bookingDetails" example:"Birthday dinner for 10"`
}

func (r ContactRequest) toService() services.SubmissionRequest {
	return services.SubmissionRequest{
		FullName:       string(r.FullName),
		Email:          string(r.Email),
		Phone:          string(r.Phone),
		ShowingTime:    string(r.ShowingTime),
		GuestCount:     string(r.GuestCount),
		PreferredDate:  string(r.PreferredDate),
		BookingDetails: string(r.BookingDetails),
	}
}

//
// Dependencies
//

// SubmissionService is the use case behind the form.
type SubmissionService interface {
	Submit(ctx context.Context, req services.SubmissionRequest) (*services.Outcome, error)
}

// ErrKeyInUse is returned by IdempotencyStore.Reserve while another request
// holds the key.
var ErrKeyInUse = errors.New("idempotency key in use")

// IdempotencyStore records the response given for an Idempotency-Key.
type IdempotencyStore interface {
	// Reserve claims key for ttl, or returns ErrKeyInUse.
	Reserve(ctx context.Context, key string, ttl time.Duration) error
	// Remember stores the final response for key.
	Remember(ctx context.Context, key string, status int, success bool, message string, ttl time.Duration) error
	// Release drops an unfinished reservation.
	Release(ctx context.Context, key string) error
}

// reserveTTL bounds how long a crashed request can hold its key.
const reserveTTL = 10 * time.Minute

// ContactHandler serves the contact endpoint.
type ContactHandler struct {
	svc     SubmissionService
	idem    IdempotencyStore // optional
	idemTTL time.Duration
}

// NewContactHandler builds a ContactHandler. idem may be nil to disable
// storing results; replays are then never found.
func NewContactHandler(svc SubmissionService, idem IdempotencyStore, idemTTL time.Duration) *ContactHandler {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &ContactHandler{svc: svc, idem: idem, idemTTL: idemTTL}
}

//
// Handlers
//

// Submit godoc
// @ID          submitContact
// @Summary     Submit a contact / booking inquiry
// @Description Validates the inquiry, stores a JSON backup, and emails the venue operator,
// @Description falling over between mail strategies. When every strategy fails the
// @Description response is 500 but the inquiry is still saved for follow-up.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Contact
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string                    false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.ContactRequest   true  "Inquiry"
//
// @Success     200  {object}  handlers.ContactResponse  "Notification delivered"
// @Failure     400  {object}  handlers.ContactResponse  "Missing required fields or invalid body"
// @Failure     405  {object}  handlers.ContactResponse  "Method not allowed"
// @Failure     409  {object}  handlers.ContactResponse  "Same Idempotency-Key still in progress"
// @Failure     413  {object}  handlers.ContactResponse  "Body too large"
// @Failure     429  {object}  handlers.ContactResponse  "Rate limited"
// @Failure     500  {object}  handlers.ContactResponse  "Saved, but notification failed"
// @Router      /contact [post]
func (h *ContactHandler) Submit(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		middleware.LoggerFrom(c).Warn().
			Err(services.ErrMethodNotAllowed).
			Str("method", c.Request.Method).
			Msg("inquiry rejected")
		fail(c, http.StatusMethodNotAllowed, MsgMethodNotAllowed)
		return
	}

	// Idempotency (replay path).
	if sr, found := middleware.StoredReplay(c); found {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		c.JSON(sr.Status, ContactResponse{Success: sr.Success, Message: sr.Message})
		return
	}

	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, MsgBodyTooLarge)
			return
		}
		fail(c, http.StatusBadRequest, MsgInvalidBody)
		return
	}

	lg := middleware.LoggerFrom(c)
	if !h.reserve(c) {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			lg.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("submission panicked")
			h.respond(c, http.StatusInternalServerError, false, MsgSavedNotSent)
		}
	}()

	out, err := h.svc.Submit(c.Request.Context(), req.toService())
	switch {
	case err == nil:
		lg.Info().Int("attempts", len(out.Attempts)).Msg("inquiry delivered")
		h.respond(c, http.StatusOK, true, MsgSent)

	case errors.Is(err, services.ErrValidation):
		lg.Warn().Err(err).Msg("inquiry rejected")
		h.release(c)
		fail(c, http.StatusBadRequest, MsgMissingFields)

	default:
		var de *mail.DeliveryError
		if !errors.As(err, &de) {
			lg.Error().Err(err).Msg("submission failed unexpectedly")
		}
		msg := MsgSavedNotSent
		if out != nil && out.BackupErr != nil {
			msg = MsgNotCaptured
		}
		h.respond(c, http.StatusInternalServerError, false, msg)
	}
}

// reserve claims the request's Idempotency-Key. It reports false after
// answering 409 when another request holds the key. Store failures are
// logged and the request proceeds unreserved.
func (h *ContactHandler) reserve(c *gin.Context) bool {
	key, found := middleware.GetIdempotencyKey(c)
	if !found || h.idem == nil {
		return true
	}
	err := h.idem.Reserve(c.Request.Context(), key, reserveTTL)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrKeyInUse):
		middleware.LoggerFrom(c).Warn().Msg("idempotency key in progress")
		fail(c, http.StatusConflict, MsgInProgress)
		return false
	default:
		middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency reserve failed")
		return true
	}
}

// release frees the key of a request whose outcome is not stored.
func (h *ContactHandler) release(c *gin.Context) {
	if key, found := middleware.GetIdempotencyKey(c); found && h.idem != nil {
		if err := h.idem.Release(context.WithoutCancel(c.Request.Context()), key); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency release failed")
		}
	}
}

// respond writes the envelope and, for keyed requests, stores it for replay.
// Storing is best effort and survives a client disconnect.
func (h *ContactHandler) respond(c *gin.Context, status int, success bool, msg string) {
	if key, found := middleware.GetIdempotencyKey(c); found && h.idem != nil {
		if err := h.idem.Remember(context.WithoutCancel(c.Request.Context()), key, status, success, msg, h.idemTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency store failed")
		}
	}
	if c.Writer.Written() {
		return
	}
	c.JSON(status, ContactResponse{Success: success, Message: msg})
}
