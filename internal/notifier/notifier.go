// Package notifier emails operators when a job crashes or exhausts its
// retry budget, mirroring the worker's send_error_email behavior: a plain
// SMTP+STARTTLS send to a fixed recipient list, best-effort and never fatal
// to the worker loop if it fails.
package notifier

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"
)

// Notifier sends job-failure emails over SMTP with STARTTLS.
type Notifier struct {
	host       string
	port       string
	username   string
	password   string
	from       string
	recipients []string
	logger     *slog.Logger
}

// New builds a Notifier. If host, from or recipients are empty,
// NotifyFailure is a no-op — matching the
// original worker's "SMTP settings not configured, skipping" behavior.
func New(host, port, username, password, from string, recipients []string, logger *slog.Logger) *Notifier {
	return &Notifier{
		host:       host,
		port:       port,
		username:   username,
		password:   password,
		from:       from,
		recipients: recipients,
		logger:     logger.With("component", "notifier"),
	}
}

// NotifyFailure emails recipients about a failed job. Errors are logged, not
// returned, so a broken mail server never blocks job processing.
func (n *Notifier) NotifyFailure(jobID, sourceURL, reason string) {
	if n.host == "" || n.from == "" || len(n.recipients) == 0 {
		n.logger.Debug("smtp not configured, skipping failure notification", "job_id", jobID)
		return
	}

	subject := fmt.Sprintf("[newsagent] job %s failed", jobID)
	body := fmt.Sprintf("Job: %s\nURL: %s\nReason: %s\nTime: %s\n", jobID, sourceURL, reason, time.Now().Format(time.RFC3339))
	message := buildMessage(n.from, n.recipients, subject, body)

	if err := n.send(message); err != nil {
		n.logger.Error("failed to send failure notification", "job_id", jobID, "error", err)
		return
	}
	n.logger.Info("failure notification sent", "job_id", jobID, "recipients", len(n.recipients))
}

func (n *Notifier) send(message []byte) error {
	addr := n.host + ":" + n.port

	conn, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer conn.Close()

	if ok, _ := conn.Extension("STARTTLS"); ok {
		if err := conn.StartTLS(&tls.Config{ServerName: n.host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if n.username != "" {
		auth := smtp.PlainAuth("", n.username, n.password, n.host)
		if err := conn.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := conn.Mail(n.from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range n.recipients {
		if err := conn.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := conn.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return conn.Quit()
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
