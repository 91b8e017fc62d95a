package utils

import (
	"crypto/tls"
	"errors"

	"gopkg.in/gomail.v2"
)

// EmailMessage is one outgoing email. It is also the payload stored on the queue.
type EmailMessage struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"` // team_invite, team_added, mention
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	Attempts int    `json:"attempts"`
}

// Mailer delivers a single message
type Mailer interface {
	Send(msg EmailMessage) error
}

// ErrMailerNotConfigured is returned when no SMTP host is set
var ErrMailerNotConfigured = errors.New("email configuration not initialized")

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// SMTPMailer sends mail through gomail
type SMTPMailer struct {
	config SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.TLSConfig = &tls.Config{ServerName: cfg.Host}
	if cfg.Port == 465 {
		dialer.SSL = true
	}
	return &SMTPMailer{config: cfg, dialer: dialer}
}

func (m *SMTPMailer) Send(msg EmailMessage) error {
	if m.config.Host == "" {
		return ErrMailerNotConfigured
	}

	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", m.config.FromEmail, m.config.FromName)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetHeader("X-Mailer", "FeatureForge")
	if msg.ID != "" {
		gm.SetHeader("X-FeatureForge-Message-ID", msg.ID)
	}
	gm.SetBody("text/html", msg.HTMLBody)

	return m.dialer.DialAndSend(gm)
}
