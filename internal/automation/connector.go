package automation

import (
	"context"

	"github.com/memoh-platform/convoy/internal/domain"
)

// TriggerContext is everything a rule's condition expression and its
// connector see about the event that fired it. Cron-triggered rules run
// with an empty Event/Payload; event-triggered rules carry whatever the
// event bus entry decoded to.
type TriggerContext struct {
	RuleName string
	Event    string
	Payload  map[string]any
}

// Connector executes one AutomationRule's action once its condition and
// throttle have both cleared.
type Connector interface {
	ActionType() domain.ActionType
	Execute(ctx context.Context, rule domain.AutomationRule, trigger TriggerContext) (map[string]any, error)
}
