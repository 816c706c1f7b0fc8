package automation

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ruleEnv is the expr-lang evaluation environment for automation
// ConditionExpr programs — a separate, trigger-shaped env from the one
// guardrails compiles its escalation rules against.
type ruleEnv struct {
	RuleName string
	Event    string
	Payload  map[string]any
}

// ConditionEvaluator compiles and caches ConditionExpr programs, same
// pattern as guardrails.Evaluator's escalation rule cache.
type ConditionEvaluator struct {
	compiled map[string]*vm.Program
}

func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{compiled: make(map[string]*vm.Program)}
}

// Evaluate compiles (or reuses a cached compile of) condition and runs it
// against trigger, returning whether the rule's action should fire. An
// empty condition always matches.
func (c *ConditionEvaluator) Evaluate(condition string, trigger TriggerContext) (bool, error) {
	if condition == "" {
		return true, nil
	}
	prog, ok := c.compiled[condition]
	if !ok {
		compiled, err := expr.Compile(condition, expr.Env(ruleEnv{}), expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile automation condition: %w", err)
		}
		prog = compiled
		c.compiled[condition] = prog
	}

	out, err := expr.Run(prog, ruleEnv{
		RuleName: trigger.RuleName,
		Event:    trigger.Event,
		Payload:  trigger.Payload,
	})
	if err != nil {
		return false, fmt.Errorf("run automation condition: %w", err)
	}
	matched, _ := out.(bool)
	return matched, nil
}
