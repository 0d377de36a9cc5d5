package delivery

import (
	"context"
	"fmt"
	"io"

	"chatbi/internal/models"
	"chatbi/internal/render"
	"gopkg.in/gomail.v2"
)

// Deliverer hands a rendered artifact to a single recipient.
type Deliverer interface {
	Deliver(ctx context.Context, artifact *render.Artifact, rcpt models.Recipient, subject, body string) error
}

// Mailer delivers artifacts over SMTP, one message per recipient. Artifacts
// under the inline threshold ride along as attachments; larger ones are
// referenced by link in the body.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewMailer(host string, port int, from, password string) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(host, port, from, password),
		from:   from,
	}
}

func (m *Mailer) Deliver(ctx context.Context, artifact *render.Artifact, rcpt models.Recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rcpt.Email == "" {
		return fmt.Errorf("recipient %s has no email address", rcpt.ID)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", rcpt.Email)
	msg.SetHeader("Subject", subject)

	if artifact.Type == models.ArtifactLink {
		msg.SetBody("text/plain", fmt.Sprintf("%s\n\nYour report is ready: %s\n", body, artifact.URL))
	} else {
		msg.SetBody("text/plain", body)
		msg.Attach(artifact.FileName,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(artifact.Data)
				return err
			}),
			gomail.SetHeader(map[string][]string{"Content-Type": {artifact.ContentType}}),
		)
	}

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send report to %s: %v", rcpt.Email, err)
	}
	return nil
}
