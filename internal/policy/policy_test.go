package policy

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/memoh-platform/convoy/internal/domain"
)

func TestFromVersionParsesPolicyJSON(t *testing.T) {
	brandID := uuid.New()
	v := domain.PolicyVersion{
		BrandID: brandID,
		Version: 3,
		PolicyJSON: map[string]any{
			"tone": "formal",
			"rules": []any{
				map[string]any{"name": "no-pricing", "condition": "true", "action": "refuse"},
			},
			"guardrail": map[string]any{
				"block_profanity": true,
				"redact_pii":      false,
				"denied_topics":   []any{"politics"},
			},
		},
	}

	p := fromVersion(v)

	require.Equal(t, "formal", p.Tone)
	require.Equal(t, 3, p.Version)
	require.Len(t, p.Rules, 1)
	require.Equal(t, "no-pricing", p.Rules[0].Name)
	require.True(t, p.Guardrail.BlockProfanity)
	require.False(t, p.Guardrail.RedactPII)
	require.Equal(t, []string{"politics"}, p.Guardrail.DeniedTopics)
}

func TestDefaultPolicyIsConservative(t *testing.T) {
	p := defaultPolicy(uuid.New())
	require.True(t, p.Guardrail.BlockProfanity)
	require.True(t, p.Guardrail.RedactPII)
	require.Equal(t, "conservative", p.Tone)
}
