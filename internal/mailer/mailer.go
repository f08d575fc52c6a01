// Package mailer delivers account lifecycle mail over SMTP. Sends are
// best-effort from the pipeline's point of view; callers log failures and
// move on.
package mailer

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/hearthos/service-accounts-go/internal/account/entity"
)

// Config for the SMTP relay. Hostname is the public name of this instance,
// used for the From address and the login link in invitations.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Hostname string
}

// ConfigFromEnv reads mail config from environment variables.
func ConfigFromEnv() Config {
	cfg := Config{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     587,
		Username: os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASSWORD"),
		Hostname: os.Getenv("PUBLIC_HOSTNAME"),
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Port = n
		}
	}
	if cfg.Hostname == "" {
		cfg.Hostname, _ = os.Hostname()
	}
	return cfg
}

// Mailer sends mail through an SMTP relay using gomail.
type Mailer struct {
	cfg    Config
	logger *zap.SugaredLogger
	send   func(m *gomail.Message) error
}

func NewMailer(cfg Config, logger *zap.SugaredLogger) *Mailer {
	d := gomail.NewPlainDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &Mailer{
		cfg:    cfg,
		logger: logger,
		send:   func(m *gomail.Message) error { return d.DialAndSend(m) },
	}
}

// SendWelcome mails the initial credentials of a freshly created account,
// sent on behalf of the admin who created it.
func (m *Mailer) SendWelcome(ctx context.Context, admin, created *entity.Account, password string) error {
	if created.Email == "" {
		return fmt.Errorf("account %q has no email address", created.Name)
	}
	msg := m.buildWelcome(admin, created, password)
	if err := m.send(msg); err != nil {
		return fmt.Errorf("send welcome mail: %w", err)
	}
	m.logger.Infow("welcome mail sent", "account", created.Name, "to", created.Email)
	return nil
}

func (m *Mailer) buildWelcome(admin, created *entity.Account, password string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", admin.Name+"@"+m.cfg.Hostname, admin.FullName)
	msg.SetAddressHeader("To", created.Email, created.FullName)
	msg.SetHeader("Subject", "Welcome to "+m.cfg.Hostname)
	msg.SetBody("text/plain", fmt.Sprintf(
		"Hello %s,\n\n"+
			"%s created an account for you on %s.\n\n"+
			"  username: %s\n"+
			"  password: %s\n\n"+
			"Sign in at https://%s/ and change your password.\n",
		created.FullName, admin.FullName, m.cfg.Hostname,
		created.Name, password, m.cfg.Hostname))
	return msg
}
