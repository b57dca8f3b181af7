package autoapprove

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/tmai/tmai/internal/target"
)

// Verdict is the AI judge's decision for one prompt.
type Verdict string

const (
	VerdictApprove   Verdict = "approve"
	VerdictReject    Verdict = "reject"
	VerdictUncertain Verdict = "uncertain"
)

// judge evaluates a parsed prompt plus recent screen context and returns
// a verdict, the backend's name (for AutoApproveJudgment.model), and a
// short reasoning string.
type judge interface {
	Judge(ctx context.Context, p prompt, screenContext []string) (Verdict, string, error)
}

// commandJudge invokes an external command per judgment, mirroring
// target.Executor's subprocess-invocation idiom: the configured command
// runs once per call (no retry — a judge's failure is not one of the
// known-safe-to-retry tmux read commands) under a bounded context
// timeout. The command receives the parsed operation/target and the
// trailing screen context as flags, and answers on stdout: a first line
// of "approve", "reject", or "uncertain", followed by an optional
// reasoning line.
type commandJudge struct {
	command  string
	executor *target.Executor
}

// newCommandJudge builds a commandJudge with its own Executor so judge
// invocations never share a retry/backoff schedule meant for tmux reads.
func newCommandJudge(command string, timeout time.Duration) *commandJudge {
	return &commandJudge{
		command:  command,
		executor: target.NewExecutor(timeout, nil),
	}
}

func (j *commandJudge) Judge(ctx context.Context, p prompt, screenContext []string) (Verdict, string, error) {
	cmd := []string{
		j.command,
		"--operation", p.Operation,
		"--target", p.Target,
		"--context", strings.Join(screenContext, "\n"),
	}
	result, err := j.executor.Run(ctx, cmd)
	if err != nil {
		return VerdictUncertain, "", fmt.Errorf("autoapprove: judge command: %w", err)
	}
	return parseJudgeOutput(result.Output)
}

// openaiJudge is the alternative AI judge backend for deployments that
// prefer a direct API call over a local command invocation. It reads its
// credentials the SDK's default way (the OPENAI_API_KEY environment
// variable), never from config.Config, so no secret ever sits in the
// typed configuration record.
type openaiJudge struct {
	client openai.Client
	model  string
}

func newOpenAIJudge(model string) *openaiJudge {
	return &openaiJudge{client: openai.NewClient(), model: model}
}

const judgeSystemPrompt = `You review one pending tool-approval request from an AI coding agent.
Reply with exactly one of "approve", "reject", or "uncertain" on the first line,
followed by a one-sentence reason on the second line.`

func (j *openaiJudge) Judge(ctx context.Context, p prompt, screenContext []string) (Verdict, string, error) {
	user := fmt.Sprintf("Operation: %s\nTarget: %s\n\nRecent screen context:\n%s",
		p.Operation, p.Target, strings.Join(screenContext, "\n"))

	resp, err := j.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: j.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(judgeSystemPrompt),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return VerdictUncertain, "", fmt.Errorf("autoapprove: openai judge: %w", err)
	}
	if len(resp.Choices) == 0 {
		return VerdictUncertain, "", fmt.Errorf("autoapprove: openai judge returned no choices")
	}
	return parseJudgeOutput(resp.Choices[0].Message.Content)
}

// hasOpenAICredentials reports whether an API key is available for the
// openaiJudge backend, so the engine can fall back to ManualRequired
// rather than failing every judgment when it isn't configured.
func hasOpenAICredentials() bool {
	return os.Getenv("OPENAI_API_KEY") != ""
}

func parseJudgeOutput(output string) (Verdict, string, error) {
	lines := strings.SplitN(strings.TrimSpace(output), "\n", 2)
	if len(lines) == 0 || lines[0] == "" {
		return VerdictUncertain, "", fmt.Errorf("autoapprove: judge produced no output")
	}
	verdict := Verdict(strings.ToLower(strings.TrimSpace(lines[0])))
	switch verdict {
	case VerdictApprove, VerdictReject, VerdictUncertain:
	default:
		return VerdictUncertain, "", fmt.Errorf("autoapprove: judge returned unrecognized verdict %q", lines[0])
	}
	reasoning := ""
	if len(lines) > 1 {
		reasoning = strings.TrimSpace(lines[1])
	}
	return verdict, reasoning, nil
}
