package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/notify"
)

// SMTPSender sends email via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr   string
	from   string
	domain string
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(host string, port string, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@bookingflow.local"
	}
	domain := "bookingflow.local"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return &SMTPSender{
		addr:   fmt.Sprintf("%s:%s", host, port),
		from:   from,
		domain: domain,
		send:   smtp.SendMail,
	}
}

// Deliver implements notify.Channel. The generated Message-ID is returned as
// the delivery id.
func (s *SMTPSender) Deliver(ctx context.Context, msg notify.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.domain)
	raw := buildMessage(s.from, msg.To, msg.Subject, msg.Body, messageID, string(msg.Priority))
	if err := s.send(s.addr, nil, s.from, []string{msg.To}, []byte(raw)); err != nil {
		return "", err
	}
	return messageID, nil
}

func buildMessage(from, to, subject, body, messageID, priority string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	if priority == "high" || priority == "urgent" {
		b.WriteString("X-Priority: 1\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return b.String()
}
