// Package policy provides the CEL-Go based guard rule engine.
//
// Guard rules are hard constraints evaluated after the statistical
// verdict: a rule that fires forces session termination even when the
// trust score alone would let the session continue. Typical rules catch
// behavior no baseline should tolerate, like scripted-speed pointer
// movement or impossible idle gaps.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-auth/kestrel/internal/domain"
	"github.com/opensource-auth/kestrel/internal/features"
)

// Engine is the CEL-based guard rule engine.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*CompiledRule
	maxWorkers int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.PolicyRule
	Program cel.Program
}

// NewEngine creates a guard rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}

	env, err := cel.NewEnv(
		cel.Variable("trust_score", cel.DoubleType),
		cel.Variable("raw_score", cel.DoubleType),
		cel.Variable("is_anomalous", cel.BoolType),
		cel.Variable("keystroke_speed", cel.DoubleType),
		cel.Variable("mouse_speed", cel.DoubleType),
		cel.Variable("idle_time", cel.DoubleType),
		cel.Variable("cursor_path_length", cel.DoubleType),
		cel.Variable("telemetry", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		compiled:   make(map[string]*CompiledRule),
		maxWorkers: maxWorkers,
	}, nil
}

// Validate compiles a rule without mutating loaded engine rules.
func (e *Engine) Validate(rule *domain.PolicyRule) error {
	if rule == nil {
		return fmt.Errorf("policy rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.PolicyRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiled[rule.ID] = compiled
	return nil
}

// LoadRules compiles and loads the enabled rules of a batch.
func (e *Engine) LoadRules(rules []*domain.PolicyRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules swaps the loaded rule set wholesale. Enables hot-reload
// from the database.
func (e *Engine) ReloadRules(rules []*domain.PolicyRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledRule)
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

	e.compiled = next
	return nil
}

// EvaluateAll evaluates every loaded guard rule against one scored
// sample. Rule evaluation errors are captured per-result, never fatal;
// an erroring rule does not fire.
func (e *Engine) EvaluateAll(ctx context.Context, verdict domain.Verdict, sample domain.TelemetrySample) []domain.PolicyResult {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiled))
	for _, r := range e.compiled {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	vec := features.Extract(sample)
	telemetry := map[string]any(sample)
	if telemetry == nil {
		telemetry = map[string]any{}
	}
	activation := map[string]any{
		"trust_score":        verdict.TrustScore,
		"raw_score":          verdict.RawScore,
		"is_anomalous":       verdict.IsAnomalous,
		"keystroke_speed":    vec[0],
		"mouse_speed":        vec[1],
		"idle_time":          vec[2],
		"cursor_path_length": vec[3],
		"telemetry":          telemetry,
	}

	results := make([]domain.PolicyResult, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()
	return results
}

// Triggered filters results down to the rules that fired.
func Triggered(results []domain.PolicyResult) []domain.PolicyResult {
	var fired []domain.PolicyResult
	for _, r := range results {
		if r.Triggered {
			fired = append(fired, r)
		}
	}
	return fired
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedRules returns the currently loaded rule configurations.
func (e *Engine) LoadedRules() []*domain.PolicyRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.PolicyRule, 0, len(e.compiled))
	for _, compiled := range e.compiled {
		rules = append(rules, compiled.Rule)
	}
	return rules
}

// Close clears the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledRule)
	return nil
}

func evaluateRule(rule *CompiledRule, activation map[string]any) domain.PolicyResult {
	result := domain.PolicyResult{
		RuleID: rule.Rule.ID,
		Name:   rule.Rule.Name,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Err = err.Error()
		return result
	}

	fired, ok := out.(types.Bool)
	if !ok {
		result.Err = fmt.Sprintf("expression returned %T, want bool", out)
		return result
	}

	if bool(fired) {
		result.Triggered = true
		result.Reason = rule.Rule.Description
		if result.Reason == "" {
			result.Reason = rule.Rule.Name
		}
	}
	return result
}

func (e *Engine) compileRule(rule *domain.PolicyRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{Rule: rule, Program: program}, nil
}
