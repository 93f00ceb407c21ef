// Package policy provides the CEL-Go based escalation rule engine.
// Policy rules run after model scoring and can force a result into the
// flagged state with an operator-authored reason.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates tenant-scoped escalation rules against
// scored results. Rules hot-reload via an atomic map swap; in-flight
// evaluations finish against the old rule set.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledRule
}

type compiledRule struct {
	rule    *domain.PolicyRule
	program cel.Program
}

// Input is the evaluation context a rule expression sees.
type Input struct {
	TenantID  string
	Channel   domain.Channel
	ActorID   string
	RiskScore float64
	Flagged   bool
	Features  map[string]float64
}

// Match is one rule that fired against an input.
type Match struct {
	RuleID string
	Name   string
	Reason string
}

// NewEngine creates the escalation engine with the risk evaluation
// environment.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("channel", cel.StringType),
		cel.Variable("actor_id", cel.StringType),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("flagged", cel.BoolType),
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*compiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.PolicyRule) error {
	if rule == nil {
		return fmt.Errorf("%w: policy rule is required", domain.ErrInvalidInput)
	}
	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a single rule.
func (e *Engine) LoadRule(rule *domain.PolicyRule) error {
	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.compiled[rule.ID] = compiled
	e.mu.Unlock()
	return nil
}

// ReloadRules replaces the loaded rule set. A compile failure leaves
// the current set untouched.
func (e *Engine) ReloadRules(rules []*domain.PolicyRule) error {
	next := make(map[string]*compiledRule, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}

	e.mu.Lock()
	e.compiled = next
	e.mu.Unlock()
	return nil
}

// ReloadTenantRules replaces a single tenant's rules, leaving other
// tenants' rules loaded. A compile failure leaves the current set
// untouched.
func (e *Engine) ReloadTenantRules(tenantID string, rules []*domain.PolicyRule) error {
	fresh := make(map[string]*compiledRule, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		fresh[rule.ID] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledRule, len(e.compiled)+len(fresh))
	for id, r := range e.compiled {
		if r.rule.TenantID != tenantID {
			next[id] = r
		}
	}
	for id, r := range fresh {
		next[id] = r
	}
	e.compiled = next
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Evaluate runs every loaded rule belonging to the input's tenant and
// returns the matches. Expression errors skip the offending rule rather
// than failing the whole evaluation.
func (e *Engine) Evaluate(input *Input) []Match {
	e.mu.RLock()
	rules := make([]*compiledRule, 0, len(e.compiled))
	for _, r := range e.compiled {
		if r.rule.TenantID == input.TenantID {
			rules = append(rules, r)
		}
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	features := input.Features
	if features == nil {
		features = map[string]float64{}
	}
	activation := map[string]any{
		"channel":    string(input.Channel),
		"actor_id":   input.ActorID,
		"risk_score": input.RiskScore,
		"flagged":    input.Flagged,
		"features":   features,
	}

	var matches []Match
	for _, r := range rules {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			continue
		}
		if fired, ok := out.(types.Bool); ok && bool(fired) {
			matches = append(matches, Match{
				RuleID: r.rule.ID,
				Name:   r.rule.Name,
				Reason: r.rule.Reason,
			})
		}
	}
	return matches
}

// Close clears the loaded rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*compiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.PolicyRule) (*compiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %v", domain.ErrConfig, rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %s: expression must return bool, got %s", domain.ErrConfig, rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create program for rule %s: %v", domain.ErrConfig, rule.ID, err)
	}

	return &compiledRule{rule: rule, program: program}, nil
}
