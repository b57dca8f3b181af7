package autoapprove

import (
	"regexp"
	"strings"

	"github.com/tmai/tmai/internal/config"
	"github.com/tmai/tmai/internal/model"
)

// prompt is the (operation, target) tuple parsed out of an
// AwaitingApproval status, the unit the rule engine and the AI judge both
// reason about.
type prompt struct {
	Operation string
	Target    string
}

// Details renders the tuple back into one line, for allow_patterns
// matching against the full phrase rather than just the bare target.
func (p prompt) Details() string {
	return p.Operation + ": " + p.Target
}

var (
	shellCommandPrefix = regexp.MustCompile(`(?i)^(run|execute)?\s*(this|the)?\s*(bash|shell)?\s*command:?\s*`)
	readToolPattern     = regexp.MustCompile(`(?i)\bread\b`)
	webFetchPattern     = regexp.MustCompile(`(?i)\bwebfetch\b`)
	webSearchPattern    = regexp.MustCompile(`(?i)\bwebsearch\b`)
)

// parsePrompt normalizes an AwaitingApproval status's ApprovalKind and
// free-text Details into an (operation, target) tuple, lowercase-tolerant
// the way pane_classifier.go's keyword scan is before matching.
func parsePrompt(status model.AgentStatus) prompt {
	details := strings.TrimSpace(status.Details)
	switch status.ApprovalKind {
	case model.ApprovalFileEdit:
		return prompt{Operation: "Edit", Target: details}
	case model.ApprovalFileCreate:
		return prompt{Operation: "Write", Target: details}
	case model.ApprovalFileDelete:
		return prompt{Operation: "Delete", Target: details}
	case model.ApprovalMcpTool:
		return prompt{Operation: "McpTool", Target: details}
	case model.ApprovalShellCommand:
		return prompt{Operation: "Bash", Target: strings.TrimSpace(shellCommandPrefix.ReplaceAllString(details, ""))}
	case model.ApprovalUserQuestion:
		return prompt{Operation: "UserQuestion", Target: details}
	default:
		return prompt{Operation: toolKeywordOperation(details), Target: details}
	}
}

func toolKeywordOperation(details string) string {
	switch {
	case readToolPattern.MatchString(details):
		return "Read"
	case webFetchPattern.MatchString(details):
		return "WebFetch"
	case webSearchPattern.MatchString(details):
		return "WebSearch"
	default:
		return "Other"
	}
}

var (
	readCommandPattern    = regexp.MustCompile(`(?i)\b(cat|head|tail|ls|find|grep|wc)\b`)
	writeFlagPattern      = regexp.MustCompile(`[>|]|--in-place|\s-i\b|\btee\b|\brm\b|\bmv\b`)
	testRunnerPattern     = regexp.MustCompile(`(?i)\b(cargo test|npm test|yarn test|pytest|go test|dotnet test|mvn test|rspec|jest)\b`)
	curlCommandPattern    = regexp.MustCompile(`(?i)\bcurl\b`)
	curlWriteFlagPattern  = regexp.MustCompile(`(?i)-X\s*(post|put|delete)|--data|-d\s`)
	gitReadonlySubcommand = regexp.MustCompile(`(?i)\bgit\s+(status|log|diff|branch|show|blame|stash list|remote -v|tag|rev-parse|ls-files|ls-tree)\b`)
	formatLintCommand     = regexp.MustCompile(`(?i)\b(cargo fmt|cargo clippy|prettier|eslint|rustfmt|black|gofmt|biome)\b`)
)

// matchRules evaluates a parsed prompt against the enabled allow
// categories. There are no deny rules — a non-match is simply uncertain,
// never a rejection. The returned rule name feeds AutoApproveJudgment's
// model field verbatim (e.g. "rules:allow_git_readonly").
func matchRules(p prompt, rules config.RuleFlags) (bool, string) {
	target := p.Target

	switch {
	case rules.AllowRead && p.Operation == "Read":
		return true, "rules:allow_read"
	case rules.AllowRead && p.Operation == "Bash" && readCommandPattern.MatchString(target) && !writeFlagPattern.MatchString(target):
		return true, "rules:allow_read"
	case rules.AllowTests && p.Operation == "Bash" && testRunnerPattern.MatchString(target):
		return true, "rules:allow_tests"
	case rules.AllowFetch && (p.Operation == "WebFetch" || p.Operation == "WebSearch"):
		return true, "rules:allow_fetch"
	case rules.AllowFetch && p.Operation == "Bash" && curlCommandPattern.MatchString(target) && !curlWriteFlagPattern.MatchString(target):
		return true, "rules:allow_fetch"
	case rules.AllowGitReadonly && p.Operation == "Bash" && gitReadonlySubcommand.MatchString(target):
		return true, "rules:allow_git_readonly"
	case rules.AllowFormatLint && p.Operation == "Bash" && formatLintCommand.MatchString(target):
		return true, "rules:allow_format_lint"
	}

	for _, pattern := range rules.AllowPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(p.Details()) {
			return true, "rules:allow_patterns"
		}
	}
	return false, ""
}
