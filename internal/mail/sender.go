// Package mail delivers notification messages through an external transport.
// Delivery failures are the caller's to absorb; nothing here retries.
package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"
)

type Sender interface {
	Send(to, subject, body string) error
}

// SMTPSender talks to a plain SMTP relay.
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(addr, from string) *SMTPSender {
	return &SMTPSender{addr: addr, from: from}
}

func (s *SMTPSender) Send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + s.from,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}

// LogSender is used when no SMTP endpoint is configured; messages are only
// written to the log.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(to, subject, body string) error {
	s.logger.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Info("Mail delivery (log transport)")
	return nil
}

// GuardedSender wraps a Sender in a circuit breaker so a dead relay stops
// burning connection attempts for every recipient.
type GuardedSender struct {
	sender  Sender
	breaker *Breaker
}

func NewGuardedSender(sender Sender, breaker *Breaker) *GuardedSender {
	return &GuardedSender{sender: sender, breaker: breaker}
}

func (g *GuardedSender) Send(to, subject, body string) error {
	return g.breaker.Execute(func() error {
		return g.sender.Send(to, subject, body)
	})
}
