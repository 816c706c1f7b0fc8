// Package guardrails screens generated replies for profanity and PII, and
// evaluates expr-lang safety/escalation rules drawn from the active policy.
package guardrails

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/memoh-platform/convoy/internal/policy"
)

// Outcome is the guardrail verdict on one generated reply.
type Outcome string

const (
	OutcomeAccept   Outcome = "accept"
	OutcomeRewrite  Outcome = "rewrite"
	OutcomeEscalate Outcome = "escalate"
)

// Verdict carries the outcome plus the (possibly rewritten) text and the
// reason an escalation was raised, for the EscalationRecord.
type Verdict struct {
	Outcome Outcome
	Text    string
	Reason  string
}

var profanityPattern = regexp.MustCompile(`(?i)\b(damn|hell|crap|shit|fuck)\b`)

var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                              // SSN
	regexp.MustCompile(`\b\d{13,19}\b`),                                      // card-like number
	regexp.MustCompile(`(?i)\b[\w.+-]+@[\w-]+\.[a-z]{2,}\b`),                 // email
	regexp.MustCompile(`\b(?:\+?\d{1,3}[ -]?)?\(?\d{3}\)?[ -]?\d{3}[ -]?\d{4}\b`), // phone
}

// Context is the evaluation environment handed to every expr-lang program:
// the generated text, the inbound message, and conversation metadata.
type Context struct {
	ReplyText        string
	InboundText      string
	ConversationTurn int
	Metadata         map[string]any
}

// Evaluator runs policy.GuardrailConfig checks against one generated reply.
type Evaluator struct {
	compiledEscalations map[string]*vm.Program
}

func NewEvaluator() *Evaluator {
	return &Evaluator{compiledEscalations: make(map[string]*vm.Program)}
}

// Evaluate screens text under cfg, rewriting profanity/PII in place and
// escalating if any compiled escalation rule matches.
func (e *Evaluator) Evaluate(cfg policy.GuardrailConfig, ctx Context) (Verdict, error) {
	text := ctx.ReplyText
	rewritten := false

	if cfg.BlockProfanity && profanityPattern.MatchString(text) {
		text = profanityPattern.ReplaceAllString(text, "[redacted]")
		rewritten = true
	}
	if cfg.RedactPII {
		for _, p := range piiPatterns {
			if p.MatchString(text) {
				text = p.ReplaceAllString(text, "[redacted]")
				rewritten = true
			}
		}
	}
	for _, topic := range cfg.DeniedTopics {
		if strings.Contains(strings.ToLower(text), strings.ToLower(topic)) {
			return Verdict{Outcome: OutcomeEscalate, Text: text, Reason: fmt.Sprintf("reply touches denied topic %q", topic)}, nil
		}
	}

	ctx.ReplyText = text
	for _, rule := range cfg.EscalationRules {
		matched, err := e.evalRule(rule.Name, rule.Condition, ctx)
		if err != nil {
			return Verdict{}, fmt.Errorf("evaluate escalation rule %q: %w", rule.Name, err)
		}
		if matched {
			return Verdict{Outcome: OutcomeEscalate, Text: text, Reason: fmt.Sprintf("escalation rule %q matched", rule.Name)}, nil
		}
	}

	if rewritten {
		return Verdict{Outcome: OutcomeRewrite, Text: text}, nil
	}
	return Verdict{Outcome: OutcomeAccept, Text: text}, nil
}

func (e *Evaluator) evalRule(name, condition string, ctx Context) (bool, error) {
	prog, ok := e.compiledEscalations[name+"|"+condition]
	if !ok {
		compiled, err := expr.Compile(condition, expr.Env(ruleEnv{}), expr.AsBool())
		if err != nil {
			return false, err
		}
		prog = compiled
		e.compiledEscalations[name+"|"+condition] = prog
	}

	out, err := expr.Run(prog, ruleEnv{
		ReplyText:        ctx.ReplyText,
		InboundText:      ctx.InboundText,
		ConversationTurn: ctx.ConversationTurn,
		Metadata:         ctx.Metadata,
	})
	if err != nil {
		return false, err
	}
	matched, _ := out.(bool)
	return matched, nil
}

// ruleEnv is the expr-lang environment guardrail escalation conditions
// compile against; automation rule conditions (internal/automation) use a
// separate, trigger-shaped env.
type ruleEnv struct {
	ReplyText        string
	InboundText      string
	ConversationTurn int
	Metadata         map[string]any
}
