package mail

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// Message is a single outbound email.
type Message struct {
	ToName   string
	ToEmail  string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers email messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendgridSender delivers messages through the SendGrid v3 API.
type SendgridSender struct {
	key    string
	from   *sgmail.Email
	logger *zap.Logger
}

// NewSendgridSender constructs a sender with the given API key and from address.
func NewSendgridSender(key, fromName, fromEmail string, logger *zap.Logger) *SendgridSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendgridSender{
		key:    key,
		from:   sgmail.NewEmail(fromName, fromEmail),
		logger: logger,
	}
}

// Send delivers a single message, returning an error on non-2xx responses.
func (s *SendgridSender) Send(ctx context.Context, msg Message) error {
	if msg.ToEmail == "" {
		return fmt.Errorf("message has no recipient")
	}

	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.ToEmail))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	if msg.TextBody != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.TextBody))
	}
	if msg.HTMLBody != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLBody))
	}

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid responded %d: %s", res.StatusCode, res.Body)
	}

	s.logger.Debug("email sent", zap.String("to", msg.ToEmail), zap.String("subject", msg.Subject))
	return nil
}

// NopSender drops messages, used when mail delivery is disabled.
type NopSender struct{}

// Send implements Sender and does nothing.
func (NopSender) Send(ctx context.Context, msg Message) error { return nil }
