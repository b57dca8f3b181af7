package autoapprove

import (
	"context"
	"errors"
	"testing"
)

func TestParseJudgeOutputApprove(t *testing.T) {
	verdict, reasoning, err := parseJudgeOutput("approve\nread-only git command")
	if err != nil {
		t.Fatalf("parseJudgeOutput: %v", err)
	}
	if verdict != VerdictApprove || reasoning != "read-only git command" {
		t.Fatalf("got %q/%q", verdict, reasoning)
	}
}

func TestParseJudgeOutputUnrecognizedIsError(t *testing.T) {
	if _, _, err := parseJudgeOutput("maybe"); err == nil {
		t.Fatal("expected an error for an unrecognized verdict line")
	}
}

func TestParseJudgeOutputEmptyIsError(t *testing.T) {
	if _, _, err := parseJudgeOutput("   "); err == nil {
		t.Fatal("expected an error for empty judge output")
	}
}

type stubJudge struct {
	verdict   Verdict
	reasoning string
	err       error
}

func (s stubJudge) Judge(_ context.Context, _ prompt, _ []string) (Verdict, string, error) {
	return s.verdict, s.reasoning, s.err
}

func TestStubJudgeSatisfiesInterface(t *testing.T) {
	var j judge = stubJudge{verdict: VerdictReject, err: errors.New("boom")}
	verdict, _, err := j.Judge(context.Background(), prompt{}, nil)
	if verdict != VerdictReject || err == nil {
		t.Fatalf("unexpected result: %q, %v", verdict, err)
	}
}
