// Package eligibility provides the CEL-Go based card eligibility engine.
//
// Operators express catalog rules ("no student cards above 95 annual
// fee") and callers attach ad hoc request filters; both compile to CEL
// programs evaluated against one card at a time.
package eligibility

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates eligibility rules over catalog cards.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program for one stored rule.
type CompiledRule struct {
	Rule    *domain.EligibilityRule
	Program cel.Program
}

// Filter is a compiled request-level card predicate.
type Filter struct {
	program cel.Program
}

// NewEngine creates an eligibility engine with the card evaluation
// environment.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("card", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("card_id", cel.StringType),
		cel.Variable("card_type", cel.StringType),
		cel.Variable("annual_fee", cel.DoubleType),
		cel.Variable("base_rate", cel.DoubleType),
		cel.Variable("min_credit_score", cel.IntType),
		cel.Variable("reward_type", cel.StringType),
		cel.Variable("signup_bonus", cel.DoubleType),
		cel.Variable("owned", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without mutating the loaded set.
func (e *Engine) ValidateRule(rule *domain.EligibilityRule) error {
	if rule == nil {
		return fmt.Errorf("eligibility rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads one rule into the engine.
func (e *Engine) LoadRule(rule *domain.EligibilityRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled
	return nil
}

// LoadRules compiles and loads every enabled rule.
func (e *Engine) LoadRules(rules []*domain.EligibilityRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules atomically replaces the loaded rule set. Enables
// hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.EligibilityRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// EligibleCards returns the cards passing every loaded rule. A rule
// that errors at evaluation time fails open for that card; eligibility
// must never go empty because one stored expression went bad.
func (e *Engine) EligibleCards(cards []*domain.CreditCard, owned map[string]bool) []*domain.CreditCard {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return cards
	}

	kept := make([]*domain.CreditCard, 0, len(cards))
	for _, card := range cards {
		if card == nil {
			continue
		}
		activation := cardActivation(card, owned[card.ID])

		eligible := true
		for _, rule := range rules {
			out, _, err := rule.Program.Eval(activation)
			if err != nil {
				continue
			}
			if b, ok := out.(types.Bool); ok && !bool(b) {
				eligible = false
				break
			}
		}
		if eligible {
			kept = append(kept, card)
		}
	}
	return kept
}

// CompileFilter compiles a request-supplied expression into a card
// predicate. Rejected at the boundary, not at evaluation time.
func (e *Engine) CompileFilter(expression string) (*Filter, error) {
	if expression == "" {
		return nil, fmt.Errorf("filter expression is empty")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile filter: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter must return bool, got %s", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter program: %w", err)
	}
	return &Filter{program: program}, nil
}

// Matches evaluates the filter against one card. Evaluation errors fail
// open.
func (f *Filter) Matches(card *domain.CreditCard, owned bool) bool {
	if card == nil {
		return false
	}
	out, _, err := f.program.Eval(cardActivation(card, owned))
	if err != nil {
		return true
	}
	if b, ok := out.(types.Bool); ok {
		return bool(b)
	}
	return true
}

func cardActivation(card *domain.CreditCard, owned bool) map[string]any {
	return map[string]any{
		"card": map[string]any{
			"id":               card.ID,
			"name":             card.Name,
			"issuer":           card.Issuer,
			"card_type":        card.CardType,
			"annual_fee":       card.AnnualFee,
			"base_rate":        card.BaseRatePct,
			"min_credit_score": card.MinCreditScore,
			"reward_type":      card.RewardType,
		},
		"card_id":          card.ID,
		"card_type":        card.CardType,
		"annual_fee":       card.AnnualFee,
		"base_rate":        card.BaseRatePct,
		"min_credit_score": card.MinCreditScore,
		"reward_type":      card.RewardType,
		"signup_bonus":     card.SignupBonusValue,
		"owned":            owned,
	}
}

func (e *Engine) compileRule(rule *domain.EligibilityRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{Rule: rule, Program: program}, nil
}

// Close clears loaded rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}
