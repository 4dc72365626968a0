package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// The pipeline sends two short operational emails, so the templates live
// inline instead of in a templates directory.
const completedTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a1a;">
  <h2>Inspection complete</h2>
  <p>The analysis for VIN <strong>{{.VIN}}</strong> has finished.</p>
  <p>Inspection: {{.InspectionID}}<br>
     AI cost: {{.CostDollars}}</p>
  <p style="color: #6b6b6b; font-size: 12px;">Camber &middot; {{.Year}}</p>
</body>
</html>`

const failedTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a1a;">
  <h2>Inspection failed</h2>
  <p>The analysis for VIN <strong>{{.VIN}}</strong> could not be completed.</p>
  <p>Inspection: {{.InspectionID}}<br>
     Reason: {{.Reason}}</p>
  <p style="color: #6b6b6b; font-size: 12px;">Camber &middot; {{.Year}}</p>
</body>
</html>`

// SMTPNotifier sends pipeline outcome emails via SMTP.
//
// Works with Mailhog (no authentication) in development and with
// username/password authentication against any standard relay in production.
type SMTPNotifier struct {
	config    SMTPConfig
	templates *template.Template
	logger    *slog.Logger
}

// NewSMTPNotifier creates an SMTP-based notifier.
func NewSMTPNotifier(config SMTPConfig, logger *slog.Logger) (*SMTPNotifier, error) {
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}
	if config.To == "" {
		return nil, fmt.Errorf("notification recipient is required")
	}

	templates := template.New("notify")
	if _, err := templates.New("completed").Parse(completedTemplate); err != nil {
		return nil, fmt.Errorf("parse completed template: %w", err)
	}
	if _, err := templates.New("failed").Parse(failedTemplate); err != nil {
		return nil, fmt.Errorf("parse failed template: %w", err)
	}

	return &SMTPNotifier{
		config:    config,
		templates: templates,
		logger:    logger,
	}, nil
}

// InspectionCompleted announces a finished inspection.
func (n *SMTPNotifier) InspectionCompleted(ctx context.Context, inspectionID uuid.UUID, vin string, costCents int32) error {
	costDollars := fmt.Sprintf("$%.2f", float64(costCents)/100)

	data := map[string]interface{}{
		"VIN":          vin,
		"InspectionID": inspectionID,
		"CostDollars":  costDollars,
		"Year":         time.Now().Year(),
	}
	htmlBody, err := n.renderTemplate("completed", data)
	if err != nil {
		return fmt.Errorf("render completed notification: %w", err)
	}

	textBody := fmt.Sprintf(`The analysis for VIN %s has finished.

Inspection: %s
AI cost: %s
`, vin, inspectionID, costDollars)

	return n.send(ctx, Email{
		To:       n.config.To,
		Subject:  fmt.Sprintf("Inspection complete: %s", vin),
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
}

// InspectionFailed announces a failed inspection.
func (n *SMTPNotifier) InspectionFailed(ctx context.Context, inspectionID uuid.UUID, vin, reason string) error {
	reason = trimmedReason(reason)
	data := map[string]interface{}{
		"VIN":          vin,
		"InspectionID": inspectionID,
		"Reason":       reason,
		"Year":         time.Now().Year(),
	}
	htmlBody, err := n.renderTemplate("failed", data)
	if err != nil {
		return fmt.Errorf("render failed notification: %w", err)
	}

	textBody := fmt.Sprintf(`The analysis for VIN %s could not be completed.

Inspection: %s
Reason: %s
`, vin, inspectionID, reason)

	return n.send(ctx, Email{
		To:       n.config.To,
		Subject:  fmt.Sprintf("Inspection failed: %s", vin),
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
}

// send sends an email via SMTP.
func (n *SMTPNotifier) send(ctx context.Context, email Email) error {
	msg := n.buildMessage(email)
	addr := fmt.Sprintf("%s:%d", n.config.Host, n.config.Port)

	var auth smtp.Auth
	if n.config.Username != "" && n.config.Password != "" {
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
	}

	if err := smtp.SendMail(addr, auth, n.config.From, []string{email.To}, msg); err != nil {
		n.logger.Error("failed to send notification",
			"to", email.To,
			"subject", email.Subject,
			"error", err,
		)
		return fmt.Errorf("failed to send notification: %w", err)
	}

	n.logger.Info("notification sent",
		"to", email.To,
		"subject", email.Subject,
	)
	return nil
}

// buildMessage constructs the raw email message with headers.
func (n *SMTPNotifier) buildMessage(email Email) []byte {
	var buf bytes.Buffer

	fromHeader := fmt.Sprintf("%s <%s>", n.config.FromName, n.config.From)

	buf.WriteString(fmt.Sprintf("From: %s\r\n", fromHeader))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	boundary := "===============CAMBER_BOUNDARY==============="
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.TextBody)
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.HTMLBody)
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.Bytes()
}

// renderTemplate renders a notification template with the given data.
func (n *SMTPNotifier) renderTemplate(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := n.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var _ Notifier = (*SMTPNotifier)(nil)

// trimmedReason shortens long failure reasons for the subject-adjacent body.
func trimmedReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) > 500 {
		return reason[:500] + "..."
	}
	return reason
}
