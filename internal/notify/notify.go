// Package notify sends pipeline outcome notifications.
//
// This package defines a Notifier interface with an SMTP implementation that
// works with Mailhog in development and any standard SMTP relay in production.
package notify

import (
	"context"

	"github.com/google/uuid"
)

// Notifier delivers terminal pipeline outcomes to the configured recipient.
//
// All methods are context-aware for timeout and cancellation support.
type Notifier interface {
	// InspectionCompleted announces a finished inspection and where its
	// report can be fetched.
	InspectionCompleted(ctx context.Context, inspectionID uuid.UUID, vin string, costCents int32) error

	// InspectionFailed announces a failed inspection and the reason.
	InspectionFailed(ctx context.Context, inspectionID uuid.UUID, vin, reason string) error
}

// Email represents a single email message.
type Email struct {
	To       string // Recipient email address
	Subject  string // Email subject line
	HTMLBody string // HTML content of the email
	TextBody string // Plain text fallback content
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Sender email address
	FromName string // Sender display name
	To       string // Destination for pipeline notifications
}

const (
	// DefaultFromEmail is the default sender for pipeline notifications.
	DefaultFromEmail = "noreply@camber.app"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "Camber"
)
