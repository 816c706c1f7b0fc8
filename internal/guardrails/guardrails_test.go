package guardrails

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memoh-platform/convoy/internal/policy"
)

func TestEvaluateRedactsPII(t *testing.T) {
	e := NewEvaluator()
	v, err := e.Evaluate(policy.GuardrailConfig{RedactPII: true}, Context{
		ReplyText: "reach me at jane@example.com anytime",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeRewrite, v.Outcome)
	require.NotContains(t, v.Text, "jane@example.com")
}

func TestEvaluateEscalatesOnDeniedTopic(t *testing.T) {
	e := NewEvaluator()
	v, err := e.Evaluate(policy.GuardrailConfig{DeniedTopics: []string{"lawsuit"}}, Context{
		ReplyText: "Regarding your lawsuit, we recommend...",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeEscalate, v.Outcome)
}

func TestEvaluateRunsEscalationRule(t *testing.T) {
	e := NewEvaluator()
	cfg := policy.GuardrailConfig{
		EscalationRules: []policy.Rule{
			{Name: "many-turns", Condition: "ConversationTurn > 10"},
		},
	}
	v, err := e.Evaluate(cfg, Context{ReplyText: "ok", ConversationTurn: 11})
	require.NoError(t, err)
	require.Equal(t, OutcomeEscalate, v.Outcome)

	v, err = e.Evaluate(cfg, Context{ReplyText: "ok", ConversationTurn: 2})
	require.NoError(t, err)
	require.Equal(t, OutcomeAccept, v.Outcome)
}
