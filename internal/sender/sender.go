// Package sender implements the command sender: send(pane_key, bytes)
// and send_key(pane_key, logical_key), routed through the IPC control
// plane when a live connection exists and falling back to the
// multiplexer's own key-send primitive otherwise.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmai/tmai/internal/model"
	"github.com/tmai/tmai/internal/target"
)

// Dispatcher is the subset of ipc.Server the sender needs, kept as an
// interface so tests (and a caller with no live control socket) can
// substitute a fake without a real connection.
type Dispatcher interface {
	SendKeys(paneKey string, raw []byte) error
}

// Sender routes keystrokes to a pane: IPC first, per-keystroke fallback
// to "tmux send-keys" the moment a send fails (an IPC disconnect
// mid-sequence transparently flips to the fallback on the very next
// keystroke).
type Sender struct {
	ipc      Dispatcher
	executor *target.Executor
	log      *slog.Logger
}

// New builds a Sender. executor runs the "tmux send-keys" fallback.
func New(ipc Dispatcher, executor *target.Executor, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{ipc: ipc, executor: executor, log: log}
}

// Send delivers raw bytes to paneKey.
func (s *Sender) Send(ctx context.Context, paneKey model.PaneKey, raw []byte) error {
	if err := s.ipc.SendKeys(string(paneKey), raw); err == nil {
		return nil
	}
	s.log.Debug("sender: ipc send failed, falling back to multiplexer", "pane_key", paneKey)
	return s.sendViaTmux(ctx, paneKey, raw)
}

// SendKey translates a logical key name and delivers it to paneKey.
func (s *Sender) SendKey(ctx context.Context, paneKey model.PaneKey, logical string) error {
	raw, err := translateLogicalKey(logical)
	if err != nil {
		return err
	}
	return s.Send(ctx, paneKey, raw)
}

// SendApprovalKey satisfies autoapprove.Sender: it synthesizes Enter,
// the approval key every detected prompt shape in this system expects.
func (s *Sender) SendApprovalKey(ctx context.Context, paneKey model.PaneKey) error {
	return s.SendKey(ctx, paneKey, "Enter")
}

// sendViaTmux shells out to "tmux send-keys -H", encoding raw bytes as
// hex so control bytes and non-UTF8 sequences survive the subprocess
// boundary intact (tmux's literal "-l" mode cannot carry arbitrary
// control bytes).
func (s *Sender) sendViaTmux(ctx context.Context, paneKey model.PaneKey, raw []byte) error {
	hexArgs := make([]string, len(raw))
	for i, b := range raw {
		hexArgs[i] = fmt.Sprintf("%02x", b)
	}
	cmd := target.BuildTmuxCommand(append([]string{"send-keys", "-t", panePaneID(paneKey), "-H"}, hexArgs...)...)
	if _, err := s.executor.Run(ctx, cmd); err != nil {
		return fmt.Errorf("sender: tmux send-keys fallback: %w", err)
	}
	return nil
}

// panePaneID strips the "<target>|" prefix a PaneKey carries, since tmux
// wants the bare pane id.
func panePaneID(paneKey model.PaneKey) string {
	_, id, found := strings.Cut(string(paneKey), "|")
	if !found {
		return string(paneKey)
	}
	return id
}
