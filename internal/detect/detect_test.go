package detect

import (
	"testing"

	"github.com/tmai/tmai/internal/model"
	"github.com/tmai/tmai/internal/scanner"
)

func TestProceedPrompt(t *testing.T) {
	lines := []string{
		"Do you want to make this edit?",
		"1. Yes",
		"2. Yes, and don't ask again",
		"3. No",
		"❯ 1",
	}
	frame := scanner.Scan("claude", lines)
	result := ForKind(model.AgentClaudeCode).Classify(frame, nil)

	if result.Status.Kind != model.StatusAwaitingApproval {
		t.Fatalf("Kind = %v, want AwaitingApproval", result.Status.Kind)
	}
	if result.Status.ApprovalKind != model.ApprovalFileEdit {
		t.Fatalf("ApprovalKind = %v, want FileEdit", result.Status.ApprovalKind)
	}
	if len(result.Status.Choices) != 3 {
		t.Fatalf("Choices = %v, want 3 entries", result.Status.Choices)
	}
	if result.Status.CursorPosition != 1 {
		t.Fatalf("CursorPosition = %d, want 1", result.Status.CursorPosition)
	}
	if result.Reason.Rule != "user_question_numbered_choices" {
		t.Fatalf("Rule = %q", result.Reason.Rule)
	}
}

func TestBrailleSpinnerTitleOnly(t *testing.T) {
	frame := scanner.Scan("⠋ Spinning… · esc to interrupt", nil)
	result := ForKind(model.AgentClaudeCode).Classify(frame, nil)

	if result.Status.Kind != model.StatusProcessing {
		t.Fatalf("Kind = %v, want Processing", result.Status.Kind)
	}
	if result.Status.Activity != "Spinning" {
		t.Fatalf("Activity = %q, want Spinning", result.Status.Activity)
	}
	if result.Reason.Rule != "braille_spinner" {
		t.Fatalf("Rule = %q, want braille_spinner", result.Reason.Rule)
	}
}

func TestContentCompactingOverridesTitleIdle(t *testing.T) {
	frame := scanner.Scan("✳ claude", []string{"✶ Compacting…"})
	result := ForKind(model.AgentClaudeCode).Classify(frame, nil)

	if result.Status.Kind != model.StatusProcessing {
		t.Fatalf("Kind = %v, want Processing", result.Status.Kind)
	}
	if result.Status.Activity != "Compacting" {
		t.Fatalf("Activity = %q, want Compacting", result.Status.Activity)
	}
}

func TestCheckboxMultiSelect(t *testing.T) {
	lines := []string{
		"Select features to enable:",
		"[x] Auth",
		"[ ] Dark mode",
	}
	frame := scanner.Scan("claude", lines)
	result := ForKind(model.AgentClaudeCode).Classify(frame, nil)

	if result.Status.Kind != model.StatusAwaitingApproval {
		t.Fatalf("Kind = %v, want AwaitingApproval", result.Status.Kind)
	}
	if !result.Status.MultiSelect {
		t.Fatal("MultiSelect = false, want true")
	}
	if len(result.Status.Choices) != 2 {
		t.Fatalf("Choices = %v, want 2 entries", result.Status.Choices)
	}
}

func TestYesNoBracketWholeTokenOnly(t *testing.T) {
	frame := scanner.Scan("claude", []string{"Proceed? [y/n]"})
	result := ForKind(model.AgentClaudeCode).Classify(frame, nil)
	if result.Status.Kind != model.StatusAwaitingApproval {
		t.Fatalf("Kind = %v, want AwaitingApproval for [y/n]", result.Status.Kind)
	}

	frame = scanner.Scan("claude", []string{"random [yn] text"})
	result = ForKind(model.AgentClaudeCode).Classify(frame, nil)
	if result.Status.Kind == model.StatusAwaitingApproval {
		t.Fatal("[yn] should not match the [y/n] pattern")
	}
}

func TestFallbackIdleLowConfidence(t *testing.T) {
	frame := scanner.Scan("claude", []string{"$ ls", "file.go"})
	result := ForKind(model.AgentClaudeCode).Classify(frame, nil)
	if result.Status.Kind != model.StatusIdle {
		t.Fatalf("Kind = %v, want Idle", result.Status.Kind)
	}
	if result.Reason.Rule != "fallback_no_indicator" {
		t.Fatalf("Rule = %q, want fallback_no_indicator", result.Reason.Rule)
	}
	if result.Reason.Confidence != model.ConfidenceLow {
		t.Fatalf("Confidence = %q, want low", result.Reason.Confidence)
	}
}

func TestErrorLineDetection(t *testing.T) {
	frame := scanner.Scan("claude", []string{"Error: connection refused"})
	result := ForKind(model.AgentClaudeCode).Classify(frame, nil)
	if result.Status.Kind != model.StatusError {
		t.Fatalf("Kind = %v, want Error", result.Status.Kind)
	}
}

func TestDefaultDetectorOnlyDetectsYesNoAndError(t *testing.T) {
	frame := scanner.Scan("unknown", []string{"1. Yes", "2. No", "❯ 1"})
	result := ForKind(model.AgentUnknown).Classify(frame, nil)
	if result.Status.Kind == model.StatusAwaitingApproval {
		t.Fatal("default detector should not parse numbered choices")
	}

	frame = scanner.Scan("unknown", []string{"continue? [y/n]"})
	result = ForKind(model.AgentUnknown).Classify(frame, nil)
	if result.Status.Kind != model.StatusAwaitingApproval {
		t.Fatalf("default detector should still catch [y/n], got %v", result.Status.Kind)
	}
}

func TestLoneCursorGlyphNeverMisreadAsPrompt(t *testing.T) {
	frame := scanner.Scan("claude", []string{"❯ "})
	result := ForKind(model.AgentClaudeCode).Classify(frame, nil)
	if result.Status.Kind == model.StatusAwaitingApproval {
		t.Fatal("a lone cursor line must not be treated as an approval prompt")
	}
}
