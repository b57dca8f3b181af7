package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tmai/tmai/internal/target"
	"github.com/tmai/tmai/internal/tmuxfmt"
)

// paneInfo is one row of a "tmux list-panes" enumeration.
type paneInfo struct {
	PaneID  string
	PID     int
	Command string
	Cwd     string
	Title   string
}

var listPanesFormat = tmuxfmt.Join("#{pane_id}", "#{pane_pid}", "#{pane_current_command}", "#{pane_current_path}", "#{pane_title}")

// enumeratePanes runs "tmux list-panes -a" across every session and parses
// its output into paneInfo rows, tolerating the column-count drift that
// different tmux versions and custom format strings can introduce.
func enumeratePanes(ctx context.Context, exec *target.Executor) ([]paneInfo, error) {
	cmd := target.BuildTmuxCommand("list-panes", "-a", "-F", listPanesFormat)
	result, err := exec.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("monitor: enumerate panes: %w", err)
	}
	return parseListPanesOutput(result.Output), nil
}

func parseListPanesOutput(output string) []paneInfo {
	var panes []paneInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts := tmuxfmt.SplitLine(line, 5)
		if len(parts) < 2 {
			continue
		}
		pane := paneInfo{PaneID: parts[0]}
		if pid, err := strconv.Atoi(parts[1]); err == nil {
			pane.PID = pid
		}
		if len(parts) > 2 {
			pane.Command = parts[2]
		}
		if len(parts) > 3 {
			pane.Cwd = parts[3]
		}
		if len(parts) > 4 {
			pane.Title = parts[4]
		}
		panes = append(panes, pane)
	}
	return panes
}

// capturePane runs "tmux capture-pane" for one pane, returning up to
// captureLines of visible scrollback.
func capturePane(ctx context.Context, exec *target.Executor, paneID string, captureLines int) (string, error) {
	cmd := target.BuildTmuxCommand("capture-pane", "-p", "-t", paneID, "-S", fmt.Sprintf("-%d", captureLines))
	result, err := exec.Run(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("monitor: capture pane %s: %w", paneID, err)
	}
	return result.Output, nil
}
