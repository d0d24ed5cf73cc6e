package policy

import (
	"context"
	"testing"

	"github.com/opensource-auth/kestrel/internal/domain"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.PolicyRule{
		ID:         "guard-001",
		Name:       "Scripted Mouse",
		Expression: "mouse_speed > 5000.0",
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.PolicyRule{
		ID:         "invalid-rule",
		Name:       "Invalid Rule",
		Expression: "this is not valid CEL !!!",
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err == nil {
		t.Error("expected error for invalid CEL expression")
	}
}

func TestLoadNonBoolRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.PolicyRule{
		ID:         "non-bool",
		Name:       "Non Bool",
		Expression: "mouse_speed + 1.0",
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err == nil {
		t.Error("expected error for non-bool expression")
	}
}

func TestEvaluateTrigger(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.PolicyRule{
		ID:          "guard-idle",
		Name:        "Excessive Idle",
		Description: "idle gap exceeds one hour",
		Expression:  "idle_time > 3600.0",
		Enabled:     true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	sample := domain.TelemetrySample{
		domain.FeatureKeystrokeSpeed:   5.0,
		domain.FeatureMouseSpeed:       120.0,
		domain.FeatureIdleTime:         7200.0,
		domain.FeatureCursorPathLength: 840.0,
	}
	verdict := domain.Verdict{TrustScore: 85, RawScore: 0.42}

	results := engine.EvaluateAll(context.Background(), verdict, sample)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Triggered {
		t.Error("expected rule to trigger")
	}
	if results[0].Reason != "idle gap exceeds one hour" {
		t.Errorf("unexpected reason: %q", results[0].Reason)
	}

	fired := Triggered(results)
	if len(fired) != 1 {
		t.Errorf("expected 1 triggered result, got %d", len(fired))
	}
}

func TestEvaluateNoTrigger(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.PolicyRule{
		ID:         "guard-trust",
		Name:       "Low Trust",
		Expression: "is_anomalous && trust_score < 30.0",
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	sample := domain.TelemetrySample{domain.FeatureKeystrokeSpeed: 5.0}
	verdict := domain.Verdict{TrustScore: 85, RawScore: 0.42}

	results := engine.EvaluateAll(context.Background(), verdict, sample)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Triggered {
		t.Error("rule should not trigger at high trust")
	}
	if len(Triggered(results)) != 0 {
		t.Error("expected no triggered results")
	}
}

func TestEvaluateTelemetryMap(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.PolicyRule{
		ID:         "guard-location",
		Name:       "Blocked Location",
		Expression: `"location" in telemetry && telemetry.location == "unknown"`,
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	sample := domain.TelemetrySample{"location": "unknown"}
	results := engine.EvaluateAll(context.Background(), domain.Verdict{}, sample)
	if len(results) != 1 || !results[0].Triggered {
		t.Error("expected location rule to trigger")
	}

	sample = domain.TelemetrySample{"location": "office"}
	results = engine.EvaluateAll(context.Background(), domain.Verdict{}, sample)
	if results[0].Triggered {
		t.Error("location rule should not trigger for known location")
	}
}

func TestEvaluateMissingFeaturesCoerceToZero(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.PolicyRule{
		ID:         "guard-zero",
		Name:       "Zero Keystrokes",
		Expression: "keystroke_speed == 0.0",
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	results := engine.EvaluateAll(context.Background(), domain.Verdict{}, domain.TelemetrySample{})
	if len(results) != 1 || !results[0].Triggered {
		t.Error("missing feature should coerce to zero and trigger")
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	first := &domain.PolicyRule{ID: "r1", Name: "R1", Expression: "idle_time > 10.0", Enabled: true}
	if err := engine.LoadRule(first); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	next := []*domain.PolicyRule{
		{ID: "r2", Name: "R2", Expression: "mouse_speed > 100.0", Enabled: true},
		{ID: "r3", Name: "R3", Expression: "trust_score < 10.0", Enabled: true},
		{ID: "r4", Name: "R4", Expression: "raw_score > 0.9", Enabled: false},
	}
	if err := engine.ReloadRules(next); err != nil {
		t.Fatalf("failed to reload rules: %v", err)
	}

	if engine.RulesCount() != 2 {
		t.Errorf("expected 2 rules after reload (disabled skipped), got %d", engine.RulesCount())
	}

	loaded := engine.LoadedRules()
	for _, r := range loaded {
		if r.ID == "r1" {
			t.Error("reload should replace the previous rule set")
		}
		if r.ID == "r4" {
			t.Error("disabled rule should not be loaded")
		}
	}
}

func TestReloadRejectsInvalidBatch(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	good := &domain.PolicyRule{ID: "good", Name: "Good", Expression: "idle_time > 10.0", Enabled: true}
	if err := engine.LoadRule(good); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	bad := []*domain.PolicyRule{
		{ID: "bad", Name: "Bad", Expression: "not valid (((", Enabled: true},
	}
	if err := engine.ReloadRules(bad); err == nil {
		t.Fatal("expected reload to fail for invalid expression")
	}

	// A failed reload must leave the previous rule set intact.
	if engine.RulesCount() != 1 {
		t.Errorf("expected previous rules to survive failed reload, got %d", engine.RulesCount())
	}
}

func TestValidateDoesNotLoad(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.PolicyRule{ID: "v1", Name: "V1", Expression: "trust_score < 50.0"}
	if err := engine.Validate(rule); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("validate must not load rules, got %d", engine.RulesCount())
	}

	if err := engine.Validate(&domain.PolicyRule{ID: "v2", Expression: "garbage ((("}); err == nil {
		t.Error("expected validation error")
	}
}

func TestEvaluateRuleError(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	// Compiles (dyn lookup) but fails at eval time when the key is absent.
	rule := &domain.PolicyRule{
		ID:         "guard-err",
		Name:       "Missing Key",
		Expression: "telemetry.device == \"laptop\"",
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	results := engine.EvaluateAll(context.Background(), domain.Verdict{}, domain.TelemetrySample{})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Triggered {
		t.Error("erroring rule must not trigger")
	}
	if results[0].Err == "" {
		t.Error("expected evaluation error to be recorded")
	}
}
