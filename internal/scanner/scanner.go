// Package scanner tokenizes captured or streamed terminal text into a
// ScannedFrame that the per-agent detectors (internal/detect) classify.
//
// Grounded on cmd/agtmuxd/pane_classifier.go's line-oriented, lower-cased
// substring matching idiom (classifyPollerEventFromOutput, isPromptLine,
// looksPromptLike), generalized from a single-verdict keyword scan into a
// structured, agent-agnostic frame.
package scanner

import (
	"regexp"
	"strings"
)

// ModeIcon is the agent's self-reported operating mode, parsed from its
// title bar.
type ModeIcon string

const (
	ModePlan        ModeIcon = "plan"
	ModeDelegate    ModeIcon = "delegate"
	ModeAutoApprove ModeIcon = "auto_approve"
	ModeNone        ModeIcon = "none"
)

// SpinnerHit records a spinner glyph found adjacent to a verb and ellipsis.
type SpinnerHit struct {
	Glyph string
	Verb  string
	Line  string // the full line (or title) the spinner was found on
	Title bool   // true if found in the title rather than content
}

// ScannedFrame is the tokenized view of one capture/stream slab of
// terminal text that the detectors operate on.
type ScannedFrame struct {
	Title       string
	Lines       []string
	CursorLine  int // -1 when unknown
	ModeIcon    ModeIcon
	SpinnerHit  *SpinnerHit
}

var (
	brailleSpinnerGlyphs = []rune("⠂⠐⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")
	asteriskSpinnerGlyphs = []rune("✶✻✽✳*")

	// verbEllipsisPattern matches "<Verb...>" immediately followed by an
	// ellipsis (either the single-rune glyph or three literal dots), the
	// shape every spinner line in both Claude Code and Codex shares.
	verbEllipsisPattern = regexp.MustCompile(`([A-Z][A-Za-z]+)(?:\xE2\x80\xA6|\.\.\.)`)

	modeTitlePlan        = regexp.MustCompile(`⏸`)
	modeTitleDelegate     = regexp.MustCompile(`⇢`)
	modeTitleAutoApprove  = regexp.MustCompile(`⏵⏵`)
)

// Scan trims trailing blank lines (left behind by terminal clear
// sequences) and extracts the title's mode icon and any spinner hit. A
// spinner found in the visible content always takes priority over one
// found only in the title.
func Scan(title string, rawLines []string) ScannedFrame {
	lines := trimTrailingBlank(rawLines)
	frame := ScannedFrame{
		Title:      title,
		Lines:      lines,
		CursorLine: findCursorLine(lines),
		ModeIcon:   parseModeIcon(title),
	}
	if hit := findContentSpinner(lines); hit != nil {
		frame.SpinnerHit = hit
	} else if hit := findTitleSpinner(title); hit != nil {
		frame.SpinnerHit = hit
	}
	return frame
}

// trimTrailingBlank removes trailing empty (or whitespace-only) lines so
// a clear-then-redraw sequence never leaves a dangling blank tail.
func trimTrailingBlank(lines []string) []string {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	out := make([]string, end)
	copy(out, lines[:end])
	return out
}

func findCursorLine(lines []string) int {
	for i, l := range lines {
		if strings.Contains(l, "❯") {
			return i
		}
	}
	return -1
}

func parseModeIcon(title string) ModeIcon {
	switch {
	case modeTitleAutoApprove.MatchString(title):
		return ModeAutoApprove
	case modeTitleDelegate.MatchString(title):
		return ModeDelegate
	case modeTitlePlan.MatchString(title):
		return ModePlan
	default:
		return ModeNone
	}
}

func findContentSpinner(lines []string) *SpinnerHit {
	for _, line := range lines {
		if glyph, ok := leadingSpinnerGlyph(line); ok {
			if verb, ok := extractVerb(line); ok {
				return &SpinnerHit{Glyph: glyph, Verb: verb, Line: line, Title: false}
			}
		}
	}
	return nil
}

func findTitleSpinner(title string) *SpinnerHit {
	if glyph, ok := leadingSpinnerGlyph(title); ok {
		if verb, ok := extractVerb(title); ok {
			return &SpinnerHit{Glyph: glyph, Verb: verb, Line: title, Title: true}
		}
		// A bare braille glyph in the title with no extractable verb still
		// counts as a spinner signal.
		if containsAny(title, brailleSpinnerGlyphs) {
			return &SpinnerHit{Glyph: glyph, Verb: "", Line: title, Title: true}
		}
	}
	return nil
}

func leadingSpinnerGlyph(s string) (string, bool) {
	for _, r := range s {
		if containsRune(brailleSpinnerGlyphs, r) || containsRune(asteriskSpinnerGlyphs, r) {
			return string(r), true
		}
		// Only scan until the first non-space, non-spinner rune so a
		// spinner must be adjacent to (at the start of) the line/title,
		// not buried anywhere in unrelated text.
		if r != ' ' && r != '\t' {
			break
		}
	}
	return "", false
}

func extractVerb(s string) (string, bool) {
	m := verbEllipsisPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func containsRune(set []rune, r rune) bool {
	for _, c := range set {
		if c == r {
			return true
		}
	}
	return false
}

func containsAny(s string, runes []rune) bool {
	for _, r := range s {
		if containsRune(runes, r) {
			return true
		}
	}
	return false
}
