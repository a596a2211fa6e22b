// Package alert notifies operators about circuit breaker transitions. The
// email alerter is wired to the resilience executor's state change hook so
// an engine going dark pages someone instead of only logging.
package alert

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/soundprediction/retrievo/pkg/config"
)

// Alerter sends operator notifications.
type Alerter interface {
	Alert(subject, message string) error
}

// EmailAlerter implements Alerter over SMTP.
type EmailAlerter struct {
	cfg config.AlertConfig
}

func NewEmailAlerter(cfg config.AlertConfig) *EmailAlerter {
	return &EmailAlerter{cfg: cfg}
}

// Alert sends an email with the given subject and message. Disabled config
// turns this into a no-op.
func (a *EmailAlerter) Alert(subject, message string) error {
	if !a.cfg.Enabled {
		return nil
	}

	auth := smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.SMTPHost)
	msg := []byte(fmt.Sprintf("To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", strings.Join(a.cfg.To, ","), subject, message))
	addr := fmt.Sprintf("%s:%d", a.cfg.SMTPHost, a.cfg.SMTPPort)

	if err := smtp.SendMail(addr, auth, a.cfg.From, a.cfg.To, msg); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

// NoOpAlerter is the alerter used when alerting is disabled.
type NoOpAlerter struct{}

func (NoOpAlerter) Alert(subject, message string) error { return nil }

// BreakerNotifier adapts an Alerter to the resilience executor's state
// change hook. Only transitions into OPEN alert; recovery is visible on the
// health endpoint and not worth a page.
type BreakerNotifier struct {
	alerter Alerter
	logger  *slog.Logger
}

func NewBreakerNotifier(alerter Alerter, logger *slog.Logger) *BreakerNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerNotifier{alerter: alerter, logger: logger}
}

// OnStateChange matches resilience.StateChangeFunc.
func (n *BreakerNotifier) OnStateChange(name string, from, to gobreaker.State) {
	if to != gobreaker.StateOpen {
		return
	}
	subject := fmt.Sprintf("circuit breaker %s opened", name)
	message := fmt.Sprintf("Breaker %q transitioned %s -> %s. Calls to this dependency are short-circuiting until recovery.",
		name, from, to)
	if err := n.alerter.Alert(subject, message); err != nil {
		n.logger.Error("breaker alert failed", "breaker", name, "error", err)
	}
}
