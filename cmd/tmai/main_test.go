package main

import (
	"testing"

	"github.com/tmai/tmai/internal/model"
	"github.com/tmai/tmai/internal/monitor"
)

func TestPanePaneIDStripsTargetPrefix(t *testing.T) {
	if got := panePaneID("local|%3"); got != "%3" {
		t.Fatalf("panePaneID = %q, want %%3", got)
	}
}

func TestInferAgentKindRecognizesKnownBinaries(t *testing.T) {
	if got := inferAgentKind("/usr/local/bin/claude"); got != model.AgentClaudeCode {
		t.Fatalf("inferAgentKind = %q, want %q", got, model.AgentClaudeCode)
	}
	if got := inferAgentKind("unknown-tool"); got != model.AgentUnknown {
		t.Fatalf("inferAgentKind = %q, want unknown", got)
	}
}

func TestAuditEventFromMonitorEventStateChanged(t *testing.T) {
	prev := model.AgentRecord{Status: model.AgentStatus{Kind: model.StatusProcessing}}
	ev := monitor.Event{
		Kind:     model.EventStateChanged,
		PaneKey:  "local|%1",
		Record:   model.AgentRecord{Status: model.AgentStatus{Kind: model.StatusIdle}},
		Previous: &prev,
	}
	out := auditEventFromMonitorEvent(ev)
	if out.PrevStatus == nil || *out.PrevStatus != model.StatusProcessing {
		t.Fatalf("PrevStatus = %v, want processing", out.PrevStatus)
	}
	if out.NewStatus == nil || *out.NewStatus != model.StatusIdle {
		t.Fatalf("NewStatus = %v, want idle", out.NewStatus)
	}
}

func TestReadBootIDIsNonEmpty(t *testing.T) {
	if readBootID() == "" {
		t.Fatal("expected a non-empty boot id")
	}
}
