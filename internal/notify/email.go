package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"trackmirror.app/syncd/common/logger"
)

// EmailSender delivers messages over plain SMTP. Auth-less relay is assumed;
// production deployments point SMTPAddr at an authenticated local relay.
type EmailSender struct {
	addr string
	from string
}

func NewEmailSender(addr, from string) *EmailSender {
	return &EmailSender{addr: addr, from: from}
}

func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "syncd.notify.email",
	})

	if s.addr == "" {
		slog.WarnContext(ctx, "email sender not configured, dropping notification", "subject", msg.Subject)
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	if msg.HTML != "" {
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.HTML)
	} else {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.Text)
	}

	if err := smtp.SendMail(s.addr, nil, s.from, msg.To, []byte(b.String())); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}

	slog.InfoContext(ctx, "alert email sent", "recipients", len(msg.To), "subject", msg.Subject)
	return nil
}
