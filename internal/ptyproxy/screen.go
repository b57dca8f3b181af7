package ptyproxy

import (
	"regexp"
	"strings"
)

// ansiCSI matches a CSI escape sequence (cursor movement, color, clear)
// so the scanner sees plain text rather than control codes.
var ansiCSI = regexp.MustCompile("\x1b\\[[0-9;?]*[A-Za-z]")

// oscTitle matches an OSC 0/2 "set title" sequence, terminated by BEL or
// ST (ESC \\).
var oscTitle = regexp.MustCompile("\x1b\\](?:0|2);([^\x07]*)(?:\x07|\x1b\\\\)")

// screen accumulates the child's raw output into a bounded ring of plain
// text lines plus the most recently announced window title, standing in
// for a full terminal emulator: good enough for the line-oriented prompt
// shapes the detectors look for, without tracking cursor addressing.
type screen struct {
	maxLines int
	lines    []string
	partial  string
	title    string
}

func newScreen(maxLines int) *screen {
	if maxLines <= 0 {
		maxLines = 200
	}
	return &screen{maxLines: maxLines}
}

// feed appends a raw output chunk, extracting any title escape sequences
// and folding completed lines into the ring buffer.
func (s *screen) feed(chunk []byte) {
	text := string(chunk)
	if m := oscTitle.FindAllStringSubmatch(text, -1); len(m) > 0 {
		s.title = m[len(m)-1][1]
	}
	text = oscTitle.ReplaceAllString(text, "")
	text = ansiCSI.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r", "")

	s.partial += text
	for {
		idx := strings.IndexByte(s.partial, '\n')
		if idx < 0 {
			break
		}
		s.appendLine(s.partial[:idx])
		s.partial = s.partial[idx+1:]
	}
}

func (s *screen) appendLine(line string) {
	s.lines = append(s.lines, line)
	if len(s.lines) > s.maxLines {
		s.lines = s.lines[len(s.lines)-s.maxLines:]
	}
}

// snapshot returns the current title and the completed lines plus any
// in-progress partial line (so a classifier can see a prompt that hasn't
// been newline-terminated yet, e.g. "Proceed? [y/n] ").
func (s *screen) snapshot() (string, []string) {
	lines := s.lines
	if s.partial != "" {
		lines = append(append([]string(nil), lines...), s.partial)
	}
	return s.title, lines
}
