package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/me/qcpipe/internal/config"
	"github.com/wneessen/go-mail"
)

// MailNotifier sends notifications over SMTP with implicit TLS.
type MailNotifier struct {
	cfg    config.NotifyConfig
	logger *slog.Logger
}

// NewMailNotifier creates a MailNotifier from validated settings.
func NewMailNotifier(cfg config.NotifyConfig, logger *slog.Logger) *MailNotifier {
	return &MailNotifier{cfg: cfg, logger: logger.With("component", "notify")}
}

// Notify implements Notifier. The subject carries the severity prefix.
func (n *MailNotifier) Notify(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(n.cfg.User); err != nil {
		return fmt.Errorf("from %q: %w", n.cfg.User, err)
	}
	if err := m.To(n.cfg.Recipient); err != nil {
		return fmt.Errorf("to %q: %w", n.cfg.Recipient, err)
	}
	m.Subject(fmt.Sprintf("[%s] %s", msg.Severity, msg.Subject))
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	client, err := mail.NewClient(n.cfg.Host,
		mail.WithPort(n.cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.User),
		mail.WithPassword(n.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	n.logger.Debug("mail sent", "subject", msg.Subject, "recipient", n.cfg.Recipient)
	return nil
}

// New builds the notifier chain for cfg: mail when configured, the log
// otherwise, always behind a subject throttle.
func New(cfg config.NotifyConfig, logger *slog.Logger) Notifier {
	var base Notifier = NewLogNotifier(logger)
	if cfg.Enabled() {
		base = NewMailNotifier(cfg, logger)
	}
	return NewThrottle(base, cfg.Throttle, logger)
}
