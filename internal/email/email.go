// internal/email/email.go
package email

import (
	"bytes"
	"fmt"
	"net/smtp"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/domodwyer/mailyak/v3"

	"medassoc/internal/logger"
)

const (
	defaultAlertRecipient = "admin@medassoc.org"
	defaultSender         = "noreply@medassoc.org"

	// maxMockOutbox bounds the mock outbox; the oldest messages are dropped first.
	maxMockOutbox = 100
)

// EmailConfig holds email configuration
type EmailConfig struct {
	SMTPHost          string
	SMTPPort          string
	SMTPUser          string
	SMTPPassword      string
	Sender            string
	SenderName        string
	AlertRecipient    string
	SendConfirmations bool
	MockMode          bool
	LogEmails         bool
}

// LoadEmailConfig loads email configuration from environment variables.
// Without an SMTP host the mailer runs in mock mode.
func LoadEmailConfig() EmailConfig {
	host := os.Getenv("EMAIL_SMTP_HOST")
	return EmailConfig{
		SMTPHost:          host,
		SMTPPort:          getEnvOrDefault("EMAIL_SMTP_PORT", "587"),
		SMTPUser:          os.Getenv("EMAIL_SMTP_USER"),
		SMTPPassword:      os.Getenv("EMAIL_SMTP_PASSWORD"),
		Sender:            getEnvOrDefault("EMAIL_SENDER", defaultSender),
		SenderName:        getEnvOrDefault("EMAIL_SENDER_NAME", "Medical Association"),
		AlertRecipient:    getEnvOrDefault("EMAIL_ALERT_RECIPIENT", defaultAlertRecipient),
		SendConfirmations: getEnvOrDefault("SEND_CONFIRMATION_EMAILS", "true") == "true",
		MockMode:          host == "" || getEnvOrDefault("EMAIL_MOCK_MODE", "false") == "true",
		LogEmails:         getEnvOrDefault("EMAIL_LOG_MODE", "true") == "true",
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Message is a rendered plain text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

var (
	mockOutbox   []Message
	mockOutboxMu sync.Mutex
)

// MockOutbox returns the messages logged in mock mode since the last reset.
func MockOutbox() []Message {
	mockOutboxMu.Lock()
	defer mockOutboxMu.Unlock()
	out := make([]Message, len(mockOutbox))
	copy(out, mockOutbox)
	return out
}

func ResetMockOutbox() {
	mockOutboxMu.Lock()
	mockOutbox = nil
	mockOutboxMu.Unlock()
}

// SendMail delivers a message over SMTP, or logs it in mock mode
func SendMail(config EmailConfig, msg Message) error {
	if config.MockMode {
		mockOutboxMu.Lock()
		mockOutbox = append(mockOutbox, msg)
		if over := len(mockOutbox) - maxMockOutbox; over > 0 {
			mockOutbox = append(mockOutbox[:0], mockOutbox[over:]...)
		}
		mockOutboxMu.Unlock()

		logger.LogInfo("========== MOCK EMAIL ==========")
		logger.LogInfo("To: %s", msg.To)
		logger.LogInfo("From: %s", config.Sender)
		logger.LogInfo("Subject: %s", msg.Subject)
		for _, line := range strings.Split(msg.Body, "\n") {
			logger.LogInfo("   %s", line)
		}
		logger.LogInfo("================================")
		return nil
	}

	if config.LogEmails {
		logger.LogInfo("Sending email to %s with subject: %s", msg.To, msg.Subject)
	}

	var auth smtp.Auth
	if config.SMTPUser != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	mail := mailyak.New(config.SMTPHost+":"+config.SMTPPort, auth)
	mail.To(msg.To)
	mail.From(config.Sender)
	mail.FromName(config.SenderName)
	mail.Subject(msg.Subject)
	mail.Plain().Set(msg.Body)

	if err := mail.Send(); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	if config.LogEmails {
		logger.LogInfo("Email sent successfully to %s", msg.To)
	}
	return nil
}

// SendAlertEmail sends an alert email to administrators
func SendAlertEmail(config EmailConfig, subject, body string) error {
	if config.AlertRecipient == "" {
		return fmt.Errorf("no alert recipient configured")
	}
	return SendMail(config, Message{To: config.AlertRecipient, Subject: subject, Body: body})
}

// render executes a template whose first line is "Subject: ..." followed by a blank line.
func render(name, text string, data interface{}) (string, string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}

	lines := strings.Split(buf.String(), "\n")
	if len(lines) < 2 || !strings.HasPrefix(lines[0], "Subject: ") {
		return "", "", fmt.Errorf("invalid template format: missing subject line")
	}
	return strings.TrimPrefix(lines[0], "Subject: "), strings.Join(lines[2:], "\n"), nil
}

func sendTemplate(config EmailConfig, to, name, text string, data interface{}) error {
	if !config.SendConfirmations {
		logger.LogInfo("Confirmation emails disabled, skipping %s email for %s", name, to)
		return nil
	}

	subject, body, err := render(name, text, data)
	if err != nil {
		return err
	}

	logger.LogInfo("Sending %s email to %s", name, to)
	if err := SendMail(config, Message{To: to, Subject: subject, Body: body}); err != nil {
		logger.LogError("Failed to send %s email to %s: %v", name, to, err)
		return fmt.Errorf("failed to send %s email: %w", name, err)
	}
	return nil
}
