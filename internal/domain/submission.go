// Package domain defines the core types of the venue booking backend: the
// durable SubmissionRecord written for every contact inquiry, the ephemeral
// DeliveryAttempt produced by each notification strategy, and the GORM model
// used to replay idempotent POSTs.
package domain

import (
	"strings"
	"time"
)

// SubmittedAtLayout is the ISO-8601 form used for SubmissionRecord.SubmittedAt
// (UTC, millisecond precision, trailing "Z").
const SubmittedAtLayout = "2006-01-02T15:04:05.000Z"

// SubmissionRecord is the file-backed copy of one contact/booking inquiry.
// It is written once, before any mail delivery is attempted, and never
// modified afterwards.
type SubmissionRecord struct {
	FullName       string `json:"fullName"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	ShowingTime    string `json:"showingTime"`
	GuestCount     string `json:"guestCount"`
	PreferredDate  string `json:"preferredDate"`
	BookingDetails string `json:"bookingDetails"`
	SubmittedAt    string `json:"submittedAt"`
}

// NewSubmissionRecord stamps the given fields with the receipt time.
func NewSubmissionRecord(fields SubmissionRecord, now time.Time) SubmissionRecord {
	fields.SubmittedAt = FormatSubmittedAt(now)
	return fields
}

// FormatSubmittedAt renders t in SubmittedAtLayout.
func FormatSubmittedAt(t time.Time) string {
	return t.UTC().Format(SubmittedAtLayout)
}

// ParseSubmittedAt parses a SubmittedAt value. RFC 3339 input is accepted as
// well so hand-edited backup files still load.
func ParseSubmittedAt(s string) (time.Time, error) {
	if t, err := time.Parse(SubmittedAtLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// MissingRequired returns the JSON names of required fields that are blank.
func (r SubmissionRecord) MissingRequired() []string {
	var missing []string
	if strings.TrimSpace(r.FullName) == "" {
		missing = append(missing, "fullName")
	}
	if strings.TrimSpace(r.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(r.Phone) == "" {
		missing = append(missing, "phone")
	}
	return missing
}

// DeliveryAttempt is the outcome of one notification strategy for one
// submission. It is never persisted.
type DeliveryAttempt struct {
	Ordinal  int    `json:"ordinal"`  // 1-based position in the strategy list
	Strategy string `json:"strategy"` // strategy name, e.g. "smtps"
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"` // set iff !Success
}
