package target

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeRunner struct {
	calls   []runnerCall
	results []runnerResult
}

type runnerCall struct {
	name string
	args []string
}

type runnerResult struct {
	out []byte
	err error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, runnerCall{name: name, args: append([]string(nil), args...)})
	if len(f.results) == 0 {
		return []byte("ok"), nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.out, r.err
}

func TestExecutorRunsLocalCommand(t *testing.T) {
	r := &fakeRunner{}
	ex := NewExecutorWithRunner(5*time.Second, nil, r)

	result, err := ex.Run(context.Background(), []string{"tmux", "list-panes", "-a"})
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
	if strings.TrimSpace(result.Output) != "ok" {
		t.Fatalf("unexpected output: %q", result.Output)
	}
	if len(r.calls) != 1 {
		t.Fatalf("expected one runner call, got %d", len(r.calls))
	}
	if r.calls[0].name != "tmux" {
		t.Fatalf("expected binary tmux, got %s", r.calls[0].name)
	}
}

func TestExecutorRetriesReadOnlyCommand(t *testing.T) {
	r := &fakeRunner{results: []runnerResult{
		{err: errors.New("temporary")},
		{err: errors.New("temporary")},
		{out: []byte("ok"), err: nil},
	}}
	ex := NewExecutorWithRunner(5*time.Second, []time.Duration{time.Millisecond, time.Millisecond}, r)
	_, err := ex.Run(context.Background(), []string{"tmux", "list-panes", "-a"})
	if err != nil {
		t.Fatalf("expected retry success: %v", err)
	}
	if len(r.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(r.calls))
	}
}

func TestExecutorRetryWithZeroBackoffDoesNotPanic(t *testing.T) {
	r := &fakeRunner{results: []runnerResult{
		{err: errors.New("temporary")},
		{out: []byte("ok"), err: nil},
	}}
	ex := NewExecutorWithRunner(5*time.Second, []time.Duration{0}, r)
	if _, err := ex.Run(context.Background(), []string{"tmux", "list-panes"}); err != nil {
		t.Fatalf("expected retry success: %v", err)
	}
}

func TestExecutorWriteCommandDoesNotRetry(t *testing.T) {
	r := &fakeRunner{results: []runnerResult{
		{err: errors.New("write failed")},
		{out: []byte("unexpected"), err: nil},
	}}
	ex := NewExecutorWithRunner(5*time.Second, []time.Duration{time.Millisecond, time.Millisecond}, r)

	_, err := ex.Run(context.Background(), []string{"tmux", "send-keys", "hello"})
	if err == nil {
		t.Fatalf("expected write command error")
	}
	if len(r.calls) != 1 {
		t.Fatalf("write command should not retry, got %d calls", len(r.calls))
	}
}

func TestExecutorRejectsEmptyCommand(t *testing.T) {
	ex := NewExecutorWithRunner(5*time.Second, nil, &fakeRunner{})
	if _, err := ex.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecutorWrapsUnreachableError(t *testing.T) {
	r := &fakeRunner{results: []runnerResult{{err: errors.New("boom")}}}
	ex := NewExecutorWithRunner(5*time.Second, nil, r)
	_, err := ex.Run(context.Background(), []string{"tmux", "send-keys"})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("error = %v, want wrapping ErrUnreachable", err)
	}
}
