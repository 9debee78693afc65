package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/charmbracelet/log"
	mail "github.com/xhit/go-simple-mail/v2"

	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/staff"
)

// NotificationService sends CheckLoops notification emails over SMTP.
type NotificationService struct {
	config *config.EmailConfig
	appURL string
	send   func(to, subject, body string) error
}

// InviteEmail contains the data of an invitation email.
type InviteEmail struct {
	Email     string
	Name      string
	SiteName  string
	Role      string
	Link      string
	ExpiresAt time.Time
	AppURL    string
}

// TrainingItem is one row of a training reminder.
type TrainingItem struct {
	Training    string
	Status      string
	StatusLabel string
	ExpiresAt   time.Time
}

// TrainingReminder contains the data of a training reminder email.
type TrainingReminder struct {
	Email  string
	Name   string
	Items  []TrainingItem
	AppURL string
}

// QuizReminder contains the data of an overdue quiz email.
type QuizReminder struct {
	Email  string
	Name   string
	DueAt  time.Time
	AppURL string
}

// New creates a new email notification service.
func New(cfg *config.EmailConfig, appURL string) *NotificationService {
	n := &NotificationService{
		config: cfg,
		appURL: appURL,
	}
	n.send = n.sendEmail
	return n
}

// Enabled reports whether emails are sent at all.
func (n *NotificationService) Enabled() bool {
	return n != nil && n.config != nil && n.config.Enabled
}

// SendInvite sends the invitation email for an invite with the given sign in link.
func (n *NotificationService) SendInvite(ctx context.Context, inv *staff.SiteInvite, link string) error {
	if !n.Enabled() {
		return fmt.Errorf("email notifications are disabled")
	}
	data := InviteEmail{
		Email:     inv.Email,
		Name:      inv.FullName,
		Role:      inv.Role,
		Link:      link,
		ExpiresAt: inv.ExpiresAt,
		AppURL:    n.appURL,
	}
	body, err := n.generateEmailBody("invite.html", data)
	if err != nil {
		return fmt.Errorf("failed to generate email body: %w", err)
	}
	return n.send(inv.Email, "[CheckLoops] You have been invited", body)
}

// SendTrainingReminder sends a reminder about expired and due soon training.
func (n *NotificationService) SendTrainingReminder(ctx context.Context, r TrainingReminder) error {
	if !n.Enabled() {
		log.Debug("Email notifications are disabled, skipping training reminder")
		return nil
	}
	if r.Email == "" {
		log.Warn("User email is empty, skipping training reminder", "user", r.Name)
		return nil
	}
	if r.AppURL == "" {
		r.AppURL = n.appURL
	}

	subject := fmt.Sprintf("[CheckLoops] %d training item(s) need attention", len(r.Items))
	body, err := n.generateEmailBody("training_reminder.html", r)
	if err != nil {
		return fmt.Errorf("failed to generate email body: %w", err)
	}
	return n.send(r.Email, subject, body)
}

// SendQuizReminder sends a reminder about an overdue compliance quiz.
func (n *NotificationService) SendQuizReminder(ctx context.Context, r QuizReminder) error {
	if !n.Enabled() {
		log.Debug("Email notifications are disabled, skipping quiz reminder")
		return nil
	}
	if r.Email == "" {
		log.Warn("User email is empty, skipping quiz reminder", "user", r.Name)
		return nil
	}
	if r.AppURL == "" {
		r.AppURL = n.appURL
	}

	body, err := n.generateEmailBody("quiz_reminder.html", r)
	if err != nil {
		return fmt.Errorf("failed to generate email body: %w", err)
	}
	return n.send(r.Email, "[CheckLoops] Your compliance quiz is due", body)
}

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.New("").ParseFS(templatesFS, "templates/*.html"))

// generateEmailBody renders one of the embedded HTML templates.
func (n *NotificationService) generateEmailBody(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sendEmail sends an email using go-simple-mail library.
func (n *NotificationService) sendEmail(to, subject, body string) error {
	server := mail.NewSMTPClient()
	server.Host = n.config.SMTPHost
	server.Port = n.config.SMTPPort
	server.Username = n.config.Username
	server.Password = n.config.Password

	if n.config.UseSSL {
		server.Encryption = mail.EncryptionSSLTLS
	} else if n.config.UseTLS {
		server.Encryption = mail.EncryptionSTARTTLS
	} else {
		server.Encryption = mail.EncryptionNone
	}

	if n.config.InsecureSkipVerify {
		server.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	server.KeepAlive = false
	server.ConnectTimeout = 10 * time.Second
	server.SendTimeout = 10 * time.Second

	smtpClient, err := server.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() {
		if closeErr := smtpClient.Close(); closeErr != nil {
			log.Warn("Failed to close SMTP client", "error", closeErr)
		}
	}()

	email := mail.NewMSG()

	fromName := n.config.FromName
	if fromName == "" {
		fromName = "CheckLoops"
	}
	email.SetFrom(fmt.Sprintf("%s <%s>", fromName, n.config.FromEmail))
	email.AddTo(to)
	email.SetSubject(subject)
	email.SetBody(mail.TextHTML, body)

	if email.Error != nil {
		return fmt.Errorf("failed to build email: %w", email.Error)
	}

	if err := email.Send(smtpClient); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Info("Email notification sent successfully", "to", to, "subject", subject)
	return nil
}
