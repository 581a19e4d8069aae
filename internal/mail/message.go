// Package mail composes the operator notification for a contact submission
// and delivers it through an ordered list of transport strategies, falling
// over to the next strategy only when the previous one fails.
package mail

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/Masterminds/sprig/v3"

	"github.com/tbourn/go-venue-backend/internal/domain"
)

//go:embed templates/inquiry.html
var inquiryTemplateRaw string

var inquiryTemplate = template.Must(template.New("inquiry").Funcs(sprig.FuncMap()).Parse(inquiryTemplateRaw))

// Message is a fully rendered notification, independent of the transport
// that eventually carries it.
type Message struct {
	From     string
	FromName string
	To       string
	ReplyTo  string
	Subject  string
	HTML     string
}

// Addressing holds the fixed sender and operator mailbox.
type Addressing struct {
	From     string
	FromName string
	To       string
}

// Compose renders the notification for rec. The message is reply-addressed
// to the submitter so the operator can answer directly.
func Compose(rec domain.SubmissionRecord, addr Addressing) (*Message, error) {
	var buf bytes.Buffer
	if err := inquiryTemplate.Execute(&buf, rec); err != nil {
		return nil, fmt.Errorf("render inquiry: %w", err)
	}
	return &Message{
		From:     addr.From,
		FromName: addr.FromName,
		To:       addr.To,
		ReplyTo:  oneLine(rec.Email),
		Subject:  "New Booking Inquiry from " + oneLine(rec.FullName),
		HTML:     buf.String(),
	}, nil
}

// oneLine keeps user input from injecting extra header lines.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
