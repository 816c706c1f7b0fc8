package connectors

import (
	"context"
	"fmt"

	mg "github.com/mailgun/mailgun-go/v5"

	"github.com/memoh-platform/convoy/internal/automation"
	"github.com/memoh-platform/convoy/internal/config"
	"github.com/memoh-platform/convoy/internal/domain"
)

// Email sends one transactional message via Mailgun, grounded on the
// teacher's mailgun adapter's Send path but collapsed from a per-tenant
// provider config down to the process-wide EmailConfig, since automation
// rules don't carry their own mailbox credentials.
type Email struct {
	client *mg.Client
	from   string
	domain string
}

func NewEmail(cfg config.EmailConfig) *Email {
	client := mg.NewMailgun(cfg.MailgunAPIKey)
	return &Email{client: client, from: cfg.FromAddress, domain: cfg.MailgunDomain}
}

func (e *Email) ActionType() domain.ActionType { return domain.ActionEmail }

func (e *Email) Execute(ctx context.Context, rule domain.AutomationRule, trigger automation.TriggerContext) (map[string]any, error) {
	to, _ := rule.ActionConfig["to"].(string)
	if to == "" {
		return nil, fmt.Errorf("email action missing to address")
	}
	subject, _ := rule.ActionConfig["subject"].(string)
	if subject == "" {
		subject = fmt.Sprintf("Automation rule %q fired", rule.Name)
	}
	body, _ := rule.ActionConfig["body"].(string)
	if body == "" {
		body = fmt.Sprintf("Event: %s\nPayload: %v", trigger.Event, trigger.Payload)
	}

	from := e.from
	if from == "" {
		from = fmt.Sprintf("noreply@%s", e.domain)
	}

	m := mg.NewMessage(e.domain, from, subject, body, to)
	resp, err := e.client.Send(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("mailgun send: %w", err)
	}
	return map[string]any{"message_id": resp.ID}, nil
}
