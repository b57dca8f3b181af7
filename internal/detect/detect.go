// Package detect classifies a scanned terminal frame into an AgentStatus,
// dispatching to an agent-specific detector that walks a shared priority
// ladder: approval prompts, then error lines, then content spinners, then
// title hints, falling back to a low-confidence idle verdict.
package detect

import (
	"regexp"
	"strings"

	"github.com/tmai/tmai/internal/model"
	"github.com/tmai/tmai/internal/scanner"
)

// Detector classifies one scanned frame for a particular agent kind.
type Detector interface {
	Classify(frame scanner.ScannedFrame, prior *model.AgentRecord) model.DetectionResult
}

var cmdLinePatterns = map[model.AgentKind]*regexp.Regexp{
	model.AgentClaudeCode: regexp.MustCompile(`\bclaude\b`),
	model.AgentCodex:      regexp.MustCompile(`\bcodex\b`),
	model.AgentGemini:     regexp.MustCompile(`\bgemini\b`),
	model.AgentOpenCode:   regexp.MustCompile(`\bopencode\b`),
}

// AgentKindFromCmdLine derives an AgentKind from a pane's command line by
// word-boundary match, tolerating both a bare invocation ("claude") and
// the "tmai wrap <agent>" form.
func AgentKindFromCmdLine(cmdline string) model.AgentKind {
	for kind, pattern := range cmdLinePatterns {
		if pattern.MatchString(cmdline) {
			return kind
		}
	}
	return model.AgentUnknown
}

// ForKind returns the detector appropriate for a detected agent kind.
// Unknown kinds get defaultDetector, which only recognizes the generic
// [y/n] prompt and error lines.
func ForKind(kind model.AgentKind) Detector {
	switch kind {
	case model.AgentClaudeCode:
		return ladderDetector{profile: claudeProfile}
	case model.AgentCodex:
		return ladderDetector{profile: codexProfile}
	case model.AgentGemini:
		return ladderDetector{profile: geminiProfile}
	default:
		return ladderDetector{profile: defaultProfile, minimal: true}
	}
}

// agentProfile supplies the regular expressions a given agent's ladder
// uses for its error line and proceed/confirm variants.
type agentProfile struct {
	name          string
	errorPattern  *regexp.Regexp
	fileEditHint  *regexp.Regexp // "Do you want to make this edit?" style wording
	shellHint     *regexp.Regexp
	mcpHint       *regexp.Regexp
}

var (
	claudeProfile = agentProfile{
		name:         "claude_code",
		errorPattern: regexp.MustCompile(`(?i)(error:|exception|traceback|✗\s)`),
		fileEditHint: regexp.MustCompile(`(?i)make this edit|create (the )?file|delete (the )?file`),
		shellHint:    regexp.MustCompile(`(?i)run this command|bash command`),
		mcpHint:      regexp.MustCompile(`(?i)mcp tool|use the .* tool`),
	}
	codexProfile = agentProfile{
		name:         "codex",
		errorPattern: regexp.MustCompile(`(?i)(error:|exception|traceback)`),
		fileEditHint: regexp.MustCompile(`(?i)apply (this )?patch|edit file`),
		shellHint:    regexp.MustCompile(`(?i)run command|execute shell`),
		mcpHint:      regexp.MustCompile(`(?i)mcp tool`),
	}
	geminiProfile = agentProfile{
		name:         "gemini",
		errorPattern: regexp.MustCompile(`(?i)(error:|exception|traceback)`),
		fileEditHint: regexp.MustCompile(`(?i)write to file|modify file`),
		shellHint:    regexp.MustCompile(`(?i)run shell command`),
		mcpHint:      regexp.MustCompile(`(?i)mcp tool`),
	}
	defaultProfile = agentProfile{
		name:         "default",
		errorPattern: regexp.MustCompile(`(?i)(error|exception|traceback|panic)`),
	}
)

var (
	numberedLinePattern = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.*)$`)
	cursorMarkerPattern = regexp.MustCompile(`^\s*❯\s*(\d+)?`)
	yesNoBracketPattern = regexp.MustCompile(`(?i)\[y/n\]`)
	checkboxPattern     = regexp.MustCompile(`\[[ xX×✔]\]|\([ *]\)`)
)

type ladderDetector struct {
	profile agentProfile
	// minimal restricts the ladder to the generic y/n and error checks,
	// used for agents whose kind could not be determined.
	minimal bool
}

func (d ladderDetector) Classify(frame scanner.ScannedFrame, prior *model.AgentRecord) model.DetectionResult {
	if result, ok := detectApproval(frame, d.profile, d.minimal); ok {
		return result
	}
	if result, ok := detectError(frame, d.profile); ok {
		return result
	}
	if d.minimal {
		return fallbackIdle()
	}
	if result, ok := detectContentSpinner(frame); ok {
		return result
	}
	if result, ok := detectTitleOnly(frame); ok {
		return result
	}
	return fallbackIdle()
}

// detectApproval implements ladder step 1: numbered-choice prompts,
// proceed prompts, yes/no buttons, [y/n] text, and checkbox multi-select.
func detectApproval(frame scanner.ScannedFrame, profile agentProfile, minimal bool) (model.DetectionResult, bool) {
	if !minimal {
		if choices, cursor, details, hasCursorMarker, ok := parseNumberedChoices(frame.Lines); ok {
			kind := classifyApprovalKind(details, profile)
			status := model.AgentStatus{
				Kind:           model.StatusAwaitingApproval,
				ApprovalKind:   kind,
				Details:        details,
				Choices:        choices,
				CursorPosition: cursor,
			}
			rule := "proceed_prompt"
			if hasCursorMarker {
				rule = "user_question_numbered_choices"
			}
			return newResult(status, rule, model.ConfidenceHigh, strings.Join(choices, " / ")), true
		}
		if line, ok := findYesNoButtons(frame.Lines); ok {
			status := model.AgentStatus{
				Kind:         model.StatusAwaitingApproval,
				ApprovalKind: model.ApprovalYesNo,
			}
			return newResult(status, "yes_no_buttons", model.ConfidenceHigh, line), true
		}
		if choices, ok := parseCheckboxes(frame.Lines); ok {
			status := model.AgentStatus{
				Kind:           model.StatusAwaitingApproval,
				ApprovalKind:   model.ApprovalUserQuestion,
				Choices:        choices,
				MultiSelect:    true,
				CursorPosition: 1,
			}
			return newResult(status, "checkbox_multi_select", model.ConfidenceHigh, strings.Join(choices, " / ")), true
		}
	}
	if line, ok := findYesNoBracket(frame.Lines); ok {
		status := model.AgentStatus{
			Kind:         model.StatusAwaitingApproval,
			ApprovalKind: model.ApprovalYesNo,
		}
		return newResult(status, "yes_no_text_pattern", model.ConfidenceHigh, line), true
	}
	return model.DetectionResult{}, false
}

func classifyApprovalKind(details string, profile agentProfile) model.ApprovalKind {
	switch {
	case profile.fileEditHint != nil && profile.fileEditHint.MatchString(details):
		return model.ApprovalFileEdit
	case profile.shellHint != nil && profile.shellHint.MatchString(details):
		return model.ApprovalShellCommand
	case profile.mcpHint != nil && profile.mcpHint.MatchString(details):
		return model.ApprovalMcpTool
	default:
		return model.ApprovalOther
	}
}

// parseNumberedChoices scans for a contiguous run of numbered lines (>= 2
// entries), locates the cursor-marked row if present — either embedded in
// a choice line ("❯ 2. Yes") or as a standalone trailing selection line
// ("❯ 1") — and extracts the nearest non-empty, non-choice line above the
// list as the prompt detail.
func parseNumberedChoices(lines []string) (choices []string, cursor int, details string, hasCursorMarker bool, ok bool) {
	start, end := -1, -1
	for i, line := range lines {
		body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "❯"))
		if numberedLinePattern.MatchString(body) {
			if start == -1 {
				start = i
			}
			end = i
			continue
		}
		if start != -1 {
			break
		}
	}
	if start == -1 || end-start+1 < 2 {
		return nil, 0, "", false, false
	}

	cursor = 1
	for i := start; i <= end; i++ {
		trimmed := strings.TrimSpace(lines[i])
		lineHasCursor := strings.HasPrefix(trimmed, "❯")
		body := strings.TrimSpace(strings.TrimPrefix(trimmed, "❯"))
		m := numberedLinePattern.FindStringSubmatch(body)
		choices = append(choices, strings.TrimSpace(m[2]))
		if lineHasCursor {
			cursor = len(choices)
			hasCursorMarker = true
		}
	}

	// A standalone "❯ <n>" selection line immediately after the list also
	// sets the cursor, when no choice line itself carried the marker.
	if !hasCursorMarker && end+1 < len(lines) {
		if m := cursorMarkerPattern.FindStringSubmatch(strings.TrimSpace(lines[end+1])); m != nil && m[1] != "" {
			if n := atoiOrZero(m[1]); n >= 1 && n <= len(choices) {
				cursor = n
				hasCursorMarker = true
			}
		}
	}

	for i := start - 1; i >= 0; i-- {
		t := strings.TrimSpace(lines[i])
		if t == "" {
			continue
		}
		details = t
		break
	}
	return choices, cursor, details, hasCursorMarker, true
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// findYesNoButtons matches "Yes"/"No" tokens on dedicated rows within 4
// lines of each other.
func findYesNoButtons(lines []string) (string, bool) {
	yesIdx, noIdx := -1, -1
	for i, line := range lines {
		t := strings.TrimSpace(line)
		switch {
		case strings.EqualFold(t, "Yes"):
			yesIdx = i
		case strings.EqualFold(t, "No"):
			noIdx = i
		}
	}
	if yesIdx == -1 || noIdx == -1 {
		return "", false
	}
	diff := yesIdx - noIdx
	if diff < 0 {
		diff = -diff
	}
	if diff > 4 {
		return "", false
	}
	return "Yes / No", true
}

func findYesNoBracket(lines []string) (string, bool) {
	for _, line := range lines {
		if yesNoBracketPattern.MatchString(line) {
			return line, true
		}
	}
	return "", false
}

func parseCheckboxes(lines []string) ([]string, bool) {
	var choices []string
	for _, line := range lines {
		if checkboxPattern.MatchString(line) {
			label := checkboxPattern.ReplaceAllString(line, "")
			choices = append(choices, strings.TrimSpace(label))
		}
	}
	if len(choices) < 2 {
		return nil, false
	}
	return choices, true
}

func detectError(frame scanner.ScannedFrame, profile agentProfile) (model.DetectionResult, bool) {
	for _, line := range frame.Lines {
		if profile.errorPattern.MatchString(line) {
			status := model.AgentStatus{Kind: model.StatusError, Message: strings.TrimSpace(line)}
			return newResult(status, "agent_error_line", model.ConfidenceHigh, line), true
		}
	}
	return model.DetectionResult{}, false
}

// detectContentSpinner implements ladder step 3: a content-area spinner
// with a recognized verb becomes Processing, unless the verb is a
// past-tense completion word, in which case it downgrades to Idle.
func detectContentSpinner(frame scanner.ScannedFrame) (model.DetectionResult, bool) {
	hit := frame.SpinnerHit
	if hit == nil || hit.Title {
		return model.DetectionResult{}, false
	}
	if isPastTenseCompletion(hit.Verb) {
		status := model.AgentStatus{Kind: model.StatusIdle}
		return newResult(status, "content_spinner_past_tense", model.ConfidenceHigh, hit.Line), true
	}
	status := model.AgentStatus{Kind: model.StatusProcessing, Activity: hit.Verb}
	return newResult(status, "content_spinner", model.ConfidenceMedium, hit.Line), true
}

// detectTitleOnly implements ladder step 4: the title's idle glyph only
// applies when there was no content-area spinner (already excluded by the
// time this runs), and a braille spinner in the title means Processing.
func detectTitleOnly(frame scanner.ScannedFrame) (model.DetectionResult, bool) {
	hit := frame.SpinnerHit
	if hit != nil && hit.Title {
		if hit.Verb != "" && isPastTenseCompletion(hit.Verb) {
			status := model.AgentStatus{Kind: model.StatusIdle}
			return newResult(status, "title_spinner_past_tense", model.ConfidenceHigh, hit.Line), true
		}
		status := model.AgentStatus{Kind: model.StatusProcessing, Activity: hit.Verb}
		return newResult(status, "braille_spinner", model.ConfidenceHigh, hit.Line), true
	}
	if strings.Contains(frame.Title, "✳") {
		status := model.AgentStatus{Kind: model.StatusIdle}
		return newResult(status, "title_idle_glyph", model.ConfidenceHigh, frame.Title), true
	}
	return model.DetectionResult{}, false
}

func fallbackIdle() model.DetectionResult {
	status := model.AgentStatus{Kind: model.StatusIdle}
	return newResult(status, "fallback_no_indicator", model.ConfidenceLow, "")
}

func newResult(status model.AgentStatus, rule string, confidence model.Confidence, matched string) model.DetectionResult {
	return model.DetectionResult{
		Status: status,
		Reason: model.NewDetectionReason(rule, confidence, matched),
		Source: model.SourceCapturePane,
	}
}

func normalizeVerb(verb string) string {
	return strings.ToLower(strings.TrimSpace(verb))
}
