package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"gopkg.in/gomail.v2"

	"github.com/tbourn/go-venue-backend/internal/config"
)

// Strategy is one way of getting a Message to the operator mailbox.
// Implementations must be safe for concurrent use.
type Strategy interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// servicePresets maps SMTP_SERVICE names to the provider's submission
// endpoint, so the operator only configures credentials.
var servicePresets = map[string]struct {
	host string
	port int
}{
	"gmail":    {"smtp.gmail.com", 587},
	"outlook":  {"smtp.office365.com", 587},
	"yahoo":    {"smtp.mail.yahoo.com", 465},
	"icloud":   {"smtp.mail.me.com", 587},
	"zoho":     {"smtp.zoho.com", 465},
	"sendgrid": {"smtp.sendgrid.net", 587},
}

// SMTPStrategy sends through an SMTP relay using gomail. SSL selects implicit
// TLS; otherwise gomail upgrades with STARTTLS when the server offers it.
//
// gomail bounds the TCP dial at 10s; the whole send (greeting, AUTH, DATA)
// is bounded by the attempt context.
type SMTPStrategy struct {
	name       string
	host       string
	port       int
	ssl        bool
	username   string
	password   string
	skipVerify bool
}

// NewSMTPStrategy builds an SMTP strategy. A new gomail.Dialer is created per
// send because gomail caches the negotiated auth on the dialer.
func NewSMTPStrategy(name, host string, port int, ssl bool, username, password string, skipVerify bool) *SMTPStrategy {
	return &SMTPStrategy{
		name:       name,
		host:       host,
		port:       port,
		ssl:        ssl,
		username:   username,
		password:   password,
		skipVerify: skipVerify,
	}
}

func (s *SMTPStrategy) Name() string { return s.name }

// Addr returns host:port, mainly for logs.
func (s *SMTPStrategy) Addr() string { return fmt.Sprintf("%s:%d", s.host, s.port) }

func (s *SMTPStrategy) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := gomail.NewDialer(s.host, s.port, s.username, s.password)
	d.SSL = s.ssl
	d.TLSConfig = &tls.Config{ServerName: s.host, InsecureSkipVerify: s.skipVerify}
	m := toGomail(msg)

	// gomail has no context support; a relay that accepts the connection
	// and then stalls would block forever, so the attempt is abandoned when
	// ctx ends and the send goroutine exits whenever the relay gives up.
	done := make(chan error, 1)
	go func() { done <- d.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp %s: %w", s.Addr(), err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp %s: %w", s.Addr(), ctx.Err())
	}
}

func toGomail(msg *Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.From, msg.FromName)
	m.SetHeader("To", msg.To)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)
	return m
}

// HTTPStrategy posts the message to a SendGrid v3 compatible mail API.
type HTTPStrategy struct {
	client *resty.Client
	url    string
	apiKey string
}

// NewHTTPStrategy returns a strategy that calls url with a bearer apiKey.
func NewHTTPStrategy(url, apiKey string, timeout time.Duration) *HTTPStrategy {
	return &HTTPStrategy{
		client: resty.New().SetTimeout(timeout),
		url:    url,
		apiKey: apiKey,
	}
}

func (h *HTTPStrategy) Name() string { return config.StrategyHTTP }

func (h *HTTPStrategy) Send(ctx context.Context, msg *Message) error {
	payload := apiPayload{
		Personalizations: []apiPersonalization{{To: []apiAddress{{Email: msg.To}}}},
		From:             apiAddress{Email: msg.From, Name: msg.FromName},
		Subject:          msg.Subject,
		Content:          []apiContent{{Type: "text/html", Value: msg.HTML}},
	}
	if msg.ReplyTo != "" {
		payload.ReplyTo = &apiAddress{Email: msg.ReplyTo}
	}

	resp, err := h.client.R().
		SetContext(ctx).
		SetAuthToken(h.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(h.url)
	if err != nil {
		return fmt.Errorf("mail api request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mail api returned status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

// SendGrid v3 Mail Send payload types.
type apiPayload struct {
	Personalizations []apiPersonalization `json:"personalizations"`
	From             apiAddress           `json:"from"`
	ReplyTo          *apiAddress          `json:"reply_to,omitempty"`
	Subject          string               `json:"subject"`
	Content          []apiContent         `json:"content"`
}

type apiPersonalization struct {
	To []apiAddress `json:"to"`
}

type apiAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type apiContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// StrategiesFromConfig builds the delivery chain in MAIL_STRATEGIES order.
// All SMTP strategies share the same account.
func StrategiesFromConfig(mc config.MailConfig) ([]Strategy, error) {
	out := make([]Strategy, 0, len(mc.Strategies))
	for _, name := range mc.Strategies {
		switch name {
		case config.StrategySMTPS:
			out = append(out, NewSMTPStrategy(name, mc.Host, mc.SSLPort, true, mc.Username, mc.Password, mc.SkipVerify))
		case config.StrategyService:
			p, ok := servicePresets[mc.Service]
			if !ok {
				return nil, fmt.Errorf("unknown SMTP_SERVICE %q", mc.Service)
			}
			out = append(out, NewSMTPStrategy(name, p.host, p.port, p.port == 465, mc.Username, mc.Password, mc.SkipVerify))
		case config.StrategySTARTTLS:
			out = append(out, NewSMTPStrategy(name, mc.Host, mc.SubmissionPort, false, mc.Username, mc.Password, mc.SkipVerify))
		case config.StrategyHTTP:
			out = append(out, NewHTTPStrategy(mc.APIURL, mc.APIKey, mc.AttemptTimeout))
		default:
			return nil, fmt.Errorf("unknown delivery strategy %q", name)
		}
	}
	return out, nil
}
