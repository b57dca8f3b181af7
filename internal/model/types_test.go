package model

import "testing"

func TestAgentStatusValidate(t *testing.T) {
	cases := []struct {
		name    string
		status  AgentStatus
		wantErr bool
	}{
		{
			name:   "idle has no constraints",
			status: AgentStatus{Kind: StatusIdle},
		},
		{
			name: "user question with valid cursor",
			status: AgentStatus{
				Kind:           StatusAwaitingApproval,
				ApprovalKind:   ApprovalUserQuestion,
				Choices:        []string{"Yes", "No"},
				CursorPosition: 1,
			},
		},
		{
			name: "cursor position below range",
			status: AgentStatus{
				Kind:           StatusAwaitingApproval,
				ApprovalKind:   ApprovalUserQuestion,
				Choices:        []string{"Yes", "No"},
				CursorPosition: 0,
			},
			wantErr: true,
		},
		{
			name: "cursor position above range",
			status: AgentStatus{
				Kind:           StatusAwaitingApproval,
				ApprovalKind:   ApprovalUserQuestion,
				Choices:        []string{"Yes", "No"},
				CursorPosition: 3,
			},
			wantErr: true,
		},
		{
			name: "choices present without user question kind",
			status: AgentStatus{
				Kind:         StatusAwaitingApproval,
				ApprovalKind: ApprovalYesNo,
				Choices:      []string{"Yes", "No"},
			},
			wantErr: true,
		},
		{
			name: "multi select requires two choices",
			status: AgentStatus{
				Kind:           StatusAwaitingApproval,
				ApprovalKind:   ApprovalUserQuestion,
				MultiSelect:    true,
				Choices:        []string{"Auth"},
				CursorPosition: 1,
			},
			wantErr: true,
		},
		{
			name: "multi select with two choices ok",
			status: AgentStatus{
				Kind:           StatusAwaitingApproval,
				ApprovalKind:   ApprovalUserQuestion,
				MultiSelect:    true,
				Choices:        []string{"Auth", "Dark mode"},
				CursorPosition: 1,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.status.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestStateRecordRoundTrip(t *testing.T) {
	original := AgentStatus{
		Kind:           StatusAwaitingApproval,
		ApprovalKind:   ApprovalUserQuestion,
		Details:        "Do you want to make this edit?",
		Choices:        []string{"Yes", "No"},
		MultiSelect:    false,
		CursorPosition: 1,
	}
	rec := FromStatus(original)
	rec.PID = 4242
	rec.PaneKey = "local|%3"

	back := rec.ToStatus()
	if back.Kind != original.Kind || back.ApprovalKind != original.ApprovalKind ||
		back.Details != original.Details || back.CursorPosition != original.CursorPosition {
		t.Fatalf("round trip mismatch: got %+v, want %+v", back, original)
	}
	if len(back.Choices) != len(original.Choices) {
		t.Fatalf("choices mismatch: got %v, want %v", back.Choices, original.Choices)
	}
}

func TestNewDetectionReasonTruncates(t *testing.T) {
	long := make([]rune, 500)
	for i := range long {
		long[i] = 'x'
	}
	reason := NewDetectionReason("fallback_no_indicator", ConfidenceLow, string(long))
	if got := len([]rune(reason.MatchedText)); got != maxMatchedTextRunes {
		t.Fatalf("matched text length = %d, want %d", got, maxMatchedTextRunes)
	}
}

func TestNewPaneKey(t *testing.T) {
	if got, want := NewPaneKey("local", "%3"), PaneKey("local|%3"); got != want {
		t.Fatalf("NewPaneKey() = %q, want %q", got, want)
	}
}
