// Package notifier sends a one-shot alert when a flow's circuit breaker
// trips. It is never on the ingestion hot path: a flow invokes it at most
// once per crossing of its error threshold.
//
// Grounded on the teacher's method-switch provider factory shape and
// pkg/replicator/shutdown.go's environment-driven configuration style. No
// example repo in the pack imports an SMTP client library, so the SMTP
// implementation below uses the standard library's net/smtp rather than
// inventing a dependency the corpus never reaches for.
package notifier

import (
	"fmt"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier is the single-operation capability a flow's circuit breaker
// invokes on tripping.
type Notifier interface {
	SendErrorNotification(flowName, errorDetails string) error
}

// New builds a Notifier from a kind string ("smtp", "noop", or "" for the
// default), mirroring auth.NewProvider's method-switch construction.
func New(kind string, cfg SMTPConfig) (Notifier, error) {
	switch kind {
	case "smtp":
		if cfg.Host == "" {
			return nil, fmt.Errorf("notifier: smtp notifier requires a host")
		}
		return &SMTPNotifier{cfg: cfg}, nil
	case "", "noop", "log":
		return &NoopNotifier{}, nil
	default:
		return nil, fmt.Errorf("notifier: unknown notifier kind %q", kind)
	}
}

// NoopNotifier only logs. It is the default when no SMTP configuration is
// present, matching the teacher's DefaultProvider pattern for an
// always-constructible fallback.
type NoopNotifier struct{}

func (NoopNotifier) SendErrorNotification(flowName, errorDetails string) error {
	log.Warn().
		Str("flow", flowName).
		Str("details", errorDetails).
		Msg("notifier: circuit breaker tripped (no notification transport configured)")
	return nil
}

// SMTPConfig configures the SMTP notifier entirely from environment
// variables, per spec.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// SMTPConfigFromEnv reads CDCSINK_SMTP_* environment variables, mirroring
// shutdown.go's pattern of deriving runtime configuration from the process
// environment rather than the static config file.
func SMTPConfigFromEnv() SMTPConfig {
	port, _ := strconv.Atoi(os.Getenv("CDCSINK_SMTP_PORT"))
	if port == 0 {
		port = 587
	}
	var to []string
	if raw := os.Getenv("CDCSINK_SMTP_TO"); raw != "" {
		for _, addr := range strings.Split(raw, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				to = append(to, addr)
			}
		}
	}
	return SMTPConfig{
		Host:     os.Getenv("CDCSINK_SMTP_HOST"),
		Port:     port,
		Username: os.Getenv("CDCSINK_SMTP_USER"),
		Password: os.Getenv("CDCSINK_SMTP_PASSWORD"),
		From:     os.Getenv("CDCSINK_SMTP_FROM"),
		To:       to,
	}
}

// SMTPNotifier sends one email per invocation through net/smtp.
type SMTPNotifier struct {
	cfg SMTPConfig
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) SendErrorNotification(flowName, errorDetails string) error {
	if len(n.cfg.To) == 0 {
		return fmt.Errorf("notifier: no recipients configured")
	}

	subject := fmt.Sprintf("cdcsink: flow %s tripped its circuit breaker", flowName)
	body := fmt.Sprintf(
		"Flow %q stopped after crossing its consecutive-error threshold at %s.\n\nLast error:\n%s\n",
		flowName, time.Now().UTC().Format(time.RFC3339), errorDetails,
	)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.cfg.From, strings.Join(n.cfg.To, ", "), subject, body))

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, n.cfg.From, n.cfg.To, msg); err != nil {
		return fmt.Errorf("notifier: send smtp notification: %w", err)
	}
	return nil
}
