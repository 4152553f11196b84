// Package notify sends customer emails over SMTP.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/wneessen/go-mail"
)

// Confirmation is the data rendered into the order confirmation email.
type Confirmation struct {
	OrderID string
	Email   string
	Plan    string
	OSImage string
	Amount  string
	Support string
}

// Sender delivers messages. *mail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPConfig configures the outbound mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	FromName string
	Timeout  time.Duration
}

// Mailer renders and sends confirmation emails.
type Mailer struct {
	sender   Sender
	from     string
	fromName string
	tpl      *template.Template
}

var confirmationTpl = template.Must(template.New("confirmation").Parse(`<h2>Thank you for your purchase!</h2>
<p>Your VPS <strong>{{.Plan}}</strong> ({{.OSImage}}) has been ordered and paid: {{.Amount}}.</p>
<p>Order reference: {{.OrderID}}</p>
<p>Our team will contact you if anything else is needed. Support: {{.Support}}</p>
`))

// NewSMTPMailer builds a Mailer on a go-mail SMTP client. No connection is
// made until the first send.
func NewSMTPMailer(cfg SMTPConfig) (*Mailer, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return NewMailer(client, cfg.Username, cfg.FromName), nil
}

// NewMailer builds a Mailer on an arbitrary Sender.
func NewMailer(sender Sender, from, fromName string) *Mailer {
	return &Mailer{sender: sender, from: from, fromName: fromName, tpl: confirmationTpl}
}

// Render returns the HTML body for c.
func (m *Mailer) Render(c Confirmation) (string, error) {
	if c.Support == "" {
		c.Support = m.from
	}
	var buf bytes.Buffer
	if err := m.tpl.Execute(&buf, c); err != nil {
		return "", fmt.Errorf("render confirmation: %w", err)
	}
	return buf.String(), nil
}

// SendConfirmation emails the order confirmation to c.Email.
func (m *Mailer) SendConfirmation(ctx context.Context, c Confirmation) error {
	body, err := m.Render(c)
	if err != nil {
		return err
	}
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.fromName, m.from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(c.Email); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject("Your VPS order is confirmed")
	msg.SetBodyString(mail.TypeTextHTML, body)

	if err := m.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	return nil
}
