// Package policy resolves a brand's active behavior policy, caching the
// published version for 30 seconds so the Orchestrator's hot path does not
// hit Postgres on every inbound message.
package policy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
	"github.com/memoh-platform/convoy/internal/store"
)

// cacheTTL mirrors the teacher's channel-config refresh interval
// (internal/channel/manager.go's config cache), reused here for policy
// lookups since both are read-heavy, infrequently-changing config blobs.
const cacheTTL = 30 * time.Second

// Policy is the resolved, ready-to-apply behavior document for a brand.
type Policy struct {
	BrandID      uuid.UUID
	Version      int
	Tone         string
	Greeting     string
	FallbackText string
	HistoryTurns int
	Rules        []Rule
	Guardrail    GuardrailConfig
}

// Rule is one named condition/action pair evaluated by expr-lang against the
// current conversation turn.
type Rule struct {
	Name      string `json:"name"`
	Condition string `json:"condition"`
	Action    string `json:"action"`
}

// GuardrailConfig configures the safety/escalation checks run on every
// generated reply.
type GuardrailConfig struct {
	BlockProfanity  bool     `json:"block_profanity"`
	RedactPII       bool     `json:"redact_pii"`
	EscalationRules []Rule   `json:"escalation_rules"`
	DeniedTopics    []string `json:"denied_topics"`
}

// defaultPolicy is the conservative-refusal fallback applied to any brand
// that has never published a policy: no profanity, PII redacted, no
// unprompted escalation rules beyond the built-in ones in guardrails.
func defaultPolicy(brandID uuid.UUID) Policy {
	return Policy{
		BrandID:      brandID,
		Tone:         "conservative",
		FallbackText: "I'm not able to help with that right now. A member of our team will follow up shortly.",
		HistoryTurns: defaultHistoryTurns,
		Guardrail: GuardrailConfig{
			BlockProfanity: true,
			RedactPII:      true,
		},
	}
}

// defaultHistoryTurns is the number of prior conversation turns included in
// the LLM prompt when a policy does not specify its own (spec §4.3.5).
const defaultHistoryTurns = 6

type cacheEntry struct {
	policy    Policy
	expiresAt time.Time
}

// Cache loads and caches policies per brand, invalidating its own entry
// explicitly on Invalidate rather than waiting out the TTL — Publish calls
// this so a newly published policy takes effect immediately for the brand
// that published it.
type Cache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]cacheEntry
	store   *store.PolicyStore
}

func NewCache(policyStore *store.PolicyStore) *Cache {
	return &Cache{
		entries: make(map[uuid.UUID]cacheEntry),
		store:   policyStore,
	}
}

func (c *Cache) Resolve(ctx context.Context, brandID uuid.UUID) (Policy, error) {
	c.mu.RLock()
	entry, ok := c.entries[brandID]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.policy, nil
	}

	version, err := c.store.Published(ctx, brandID)
	if err != nil {
		if apperr.OfKind(err, apperr.KindNotFound) {
			p := defaultPolicy(brandID)
			c.put(brandID, p)
			return p, nil
		}
		return Policy{}, err
	}

	p := fromVersion(version)
	c.put(brandID, p)
	return p, nil
}

func (c *Cache) put(brandID uuid.UUID, p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[brandID] = cacheEntry{policy: p, expiresAt: time.Now().Add(cacheTTL)}
}

// Invalidate drops the cached entry for a brand, forcing the next Resolve
// to re-read from Postgres.
func (c *Cache) Invalidate(brandID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, brandID)
}

func fromVersion(v domain.PolicyVersion) Policy {
	p := Policy{BrandID: v.BrandID, Version: v.Version, HistoryTurns: defaultHistoryTurns}
	if tone, ok := v.PolicyJSON["tone"].(string); ok {
		p.Tone = tone
	}
	if greeting, ok := v.PolicyJSON["greeting"].(string); ok {
		p.Greeting = greeting
	}
	if fallback, ok := v.PolicyJSON["fallback_text"].(string); ok {
		p.FallbackText = fallback
	}
	if turns, ok := v.PolicyJSON["history_turns"].(float64); ok && turns > 0 {
		p.HistoryTurns = int(turns)
	}
	if rules, ok := v.PolicyJSON["rules"].([]any); ok {
		for _, r := range rules {
			if m, ok := r.(map[string]any); ok {
				p.Rules = append(p.Rules, Rule{
					Name:      stringField(m, "name"),
					Condition: stringField(m, "condition"),
					Action:    stringField(m, "action"),
				})
			}
		}
	}
	if g, ok := v.PolicyJSON["guardrail"].(map[string]any); ok {
		p.Guardrail.BlockProfanity, _ = g["block_profanity"].(bool)
		p.Guardrail.RedactPII, _ = g["redact_pii"].(bool)
		if topics, ok := g["denied_topics"].([]any); ok {
			for _, t := range topics {
				if s, ok := t.(string); ok {
					p.Guardrail.DeniedTopics = append(p.Guardrail.DeniedTopics, s)
				}
			}
		}
		if rules, ok := g["escalation_rules"].([]any); ok {
			for _, r := range rules {
				if m, ok := r.(map[string]any); ok {
					p.Guardrail.EscalationRules = append(p.Guardrail.EscalationRules, Rule{
						Name:      stringField(m, "name"),
						Condition: stringField(m, "condition"),
						Action:    stringField(m, "action"),
					})
				}
			}
		}
	}
	return p
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
