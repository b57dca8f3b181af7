// Package exfil watches the bytes a user types into a wrapped agent and
// flags lines that look like they hand data to an external system, or
// that carry a recognizable secret. It never blocks the input stream; it
// only classifies and reports.
//
// Grounded on internal/security/redaction.go's regex library, repurposed
// from redact-in-place (the library's original use) to detect-and-flag:
// the same secret shapes drive a verdict instead of a substitution.
package exfil

import (
	"regexp"
	"strings"
)

// Verdict is the severity of one inspected line.
type Verdict string

const (
	VerdictClean               Verdict = "clean"
	VerdictExternalTransmission Verdict = "external_transmission"
	VerdictSensitiveTransmission Verdict = "sensitive_transmission"
)

// Finding is the result of inspecting one completed input line.
type Finding struct {
	Line       string
	Verdict    Verdict
	Command    string // head token, when Verdict != Clean
	SecretRule string // name of the matched secret pattern, when Sensitive
}

// transferCommands is the built-in set of command heads that move data to
// an external destination unconditionally.
var transferCommands = map[string]bool{
	"curl": true, "wget": true, "http": true, "httpie": true,
	"nc": true, "ncat": true, "socat": true,
	"scp": true, "rsync": true, "sftp": true, "ftp": true,
	"ssh": true,
	"aws": true, "gcloud": true, "az": true, "doctl": true,
}

// subcommandGated are command heads that only count as a transmission
// when invoked with a specific publish/push subcommand.
var subcommandGated = map[string][]string{
	"git":   {"push"},
	"npm":   {"publish"},
	"yarn":  {"publish"},
	"cargo": {"publish"},
	"pip":   {"upload"},
	"twine": {"upload"},
}

var secretPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"openai_key", regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`)},
	{"anthropic_key", regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}\b`)},
	{"github_token", regexp.MustCompile(`\bgh[pos]_[A-Za-z0-9]{30,}\b`)},
	{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"google_api_key", regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{20,}\b`)},
	{"slack_token", regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z-]{10,}\b`)},
	{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)},
	{"private_key_block", regexp.MustCompile(`(?s)-----BEGIN [^-]+ PRIVATE KEY-----.*?-----END [^-]+ PRIVATE KEY-----`)},
	{"api_key_assignment", regexp.MustCompile(`(?i)api[_-]?key\s*=\s*\S+`)},
}

// Inspector is a stateful stream scanner: bytes accumulate in a line
// buffer until a completed line (LF, or a carriage-return prompt redraw)
// is available to classify.
type Inspector struct {
	additional map[string]bool
	buf        []byte
}

// New builds an Inspector with the built-in command set unioned with the
// caller's configured extra commands.
func New(additionalCommands []string) *Inspector {
	extra := make(map[string]bool, len(additionalCommands))
	for _, c := range additionalCommands {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			extra[c] = true
		}
	}
	return &Inspector{additional: extra}
}

// Feed appends a chunk of input-to-agent bytes and returns the findings
// for every line that became complete as a result.
func (insp *Inspector) Feed(chunk []byte) []Finding {
	var findings []Finding
	insp.buf = append(insp.buf, chunk...)
	for {
		idx := indexAny(insp.buf, '\n', '\r')
		if idx < 0 {
			break
		}
		line := string(insp.buf[:idx])
		insp.buf = insp.buf[idx+1:]
		if strings.TrimSpace(line) == "" {
			continue
		}
		findings = append(findings, InspectLine(line, insp.additional))
	}
	return findings
}

func indexAny(b []byte, targets ...byte) int {
	for i, c := range b {
		for _, t := range targets {
			if c == t {
				return i
			}
		}
	}
	return -1
}

// InspectLine classifies a single completed line, given the caller's
// additional command set (may be nil).
func InspectLine(line string, additional map[string]bool) Finding {
	finding := Finding{Line: line, Verdict: VerdictClean}

	if head, rest := headToken(line); head != "" {
		if transferCommands[head] || additional[head] {
			finding.Verdict = VerdictExternalTransmission
			finding.Command = head
		} else if subs, gated := subcommandGated[head]; gated {
			sub := firstToken(rest)
			for _, s := range subs {
				if sub == s {
					finding.Verdict = VerdictExternalTransmission
					finding.Command = head + " " + sub
					break
				}
			}
		}
	}

	for _, sp := range secretPatterns {
		if sp.pattern.MatchString(line) {
			finding.Verdict = VerdictSensitiveTransmission
			finding.SecretRule = sp.name
			break
		}
	}

	return finding
}

func headToken(line string) (head string, rest string) {
	trimmed := strings.TrimLeft(line, " \t")
	idx := strings.IndexAny(trimmed, " \t")
	if idx < 0 {
		return strings.ToLower(trimmed), ""
	}
	return strings.ToLower(trimmed[:idx]), trimmed[idx+1:]
}

func firstToken(s string) string {
	s = strings.TrimLeft(s, " \t")
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return strings.ToLower(s)
	}
	return strings.ToLower(s[:idx])
}
