// Package ptyproxy implements the "tmai wrap <argv…>" runner: it spawns
// the given command under a PTY, duplexes I/O with the user's controlling
// terminal, classifies the child's output through the scanner/detect
// pipeline, flags exfiltration-shaped commands, and streams the resulting
// state to the parent monitor over the IPC control socket.
package ptyproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/tmai/tmai/internal/config"
	"github.com/tmai/tmai/internal/detect"
	"github.com/tmai/tmai/internal/exfil"
	"github.com/tmai/tmai/internal/ipc"
	"github.com/tmai/tmai/internal/model"
	"github.com/tmai/tmai/internal/scanner"
)

// Runner wraps one child process under a PTY for the lifetime of Run.
type Runner struct {
	Config    config.Config
	PaneKey   model.PaneKey
	AgentKind model.AgentKind
	Log       *slog.Logger

	// OnExfilFinding, if set, is invoked (from the output-copy goroutine)
	// for every line the exfil inspector flags as non-clean.
	OnExfilFinding func(exfil.Finding)
	// OnStateChange, if set, is invoked every time the published state
	// changes, after it has been pushed over IPC and to the state file.
	OnStateChange func(model.StateRecord)
}

// NewRunner builds a Runner with a default logger if log is nil.
func NewRunner(cfg config.Config, paneKey model.PaneKey, agentKind model.AgentKind, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{Config: cfg, PaneKey: paneKey, AgentKind: agentKind, Log: log}
}

// Run spawns argv under a PTY and blocks until it exits or ctx is
// canceled, returning the child's exit code.
func (r *Runner) Run(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("ptyproxy: argv must not be empty")
	}
	if err := EnsureStateDir(r.Config.StateDir); err != nil {
		return 0, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = os.Environ()

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return 0, fmt.Errorf("ptyproxy: spawn %s under pty: %w", argv[0], err)
	}
	defer ptmx.Close()

	stdinFd := int(os.Stdin.Fd())
	interactive := isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())

	var oldState *term.State
	if interactive {
		oldState, err = term.MakeRaw(stdinFd)
		if err == nil {
			defer term.Restore(stdinFd, oldState)
		}
		_ = pty.InheritSize(os.Stdin, ptmx)
	}

	winch := make(chan os.Signal, 1)
	if interactive {
		signal.Notify(winch, syscall.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for range winch {
				_ = pty.InheritSize(os.Stdin, ptmx)
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := &session{
		runner:    r,
		screen:    newScreen(r.Config.CaptureLines),
		detector:  detect.ForKind(r.AgentKind),
		insp:      exfil.New(r.Config.ExfilAdditionalCommands),
		pid:       cmd.Process.Pid,
		statePath: filepath.Join(r.Config.StateDir, string(r.PaneKey)+".json"),
	}
	sess.lastOutputAt = time.Now()
	sess.lastInputAt = time.Now()

	socketPath := filepath.Join(r.Config.StateDir, "control.sock")
	client := ipc.NewClient(socketPath, r.Config.IPCReconnectBackoffMax)
	client.OnSendKeys = func(raw []byte) {
		_, _ = ptmx.Write(raw)
	}
	reg := ipc.RegisterPayload{
		PaneKey:   string(r.PaneKey),
		PID:       cmd.Process.Pid,
		AgentKind: string(r.AgentKind),
		CmdLine:   strings.Join(argv, " "),
	}
	sess.client = client
	go func() {
		if err := client.Connect(runCtx, reg); err != nil {
			r.Log.Debug("ptyproxy: ipc connect ended", "error", err)
		}
	}()

	go copyInput(runCtx, os.Stdin, ptmx, sess)
	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		copyOutput(ptmx, os.Stdout, sess)
	}()

	reconcileDone := make(chan struct{})
	go func() {
		defer close(reconcileDone)
		sess.reconcileLoop(runCtx)
	}()

	waitErr := cmd.Wait()
	cancel()
	<-outputDone
	<-reconcileDone

	if err := client.Unregister(string(r.PaneKey)); err != nil {
		r.Log.Debug("ptyproxy: unregister failed", "error", err)
	}
	_ = client.Close()
	_ = os.Remove(sess.statePath)

	return exitCode(cmd, waitErr), nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return 1
}

// session holds the classification/echo/debounce state shared between the
// I/O goroutines and the reconciliation ticker.
type session struct {
	runner    *Runner
	client    *ipc.Client
	screen    *screen
	detector  detect.Detector
	insp      *exfil.Inspector
	pid       int
	statePath string

	mu           sync.Mutex
	lastOutputAt time.Time
	lastInputAt  time.Time
	rawResult    model.DetectionResult
	committed    model.StateRecord
	published    bool
}

func copyInput(ctx context.Context, in io.Reader, out io.Writer, sess *session) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := in.Read(buf)
		if n > 0 {
			sess.mu.Lock()
			sess.lastInputAt = time.Now()
			sess.mu.Unlock()
			if _, werr := out.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// copyOutput reads the PTY master, rewrites bare LF to CR+LF for the user
// TTY (the "staircase" fix), and feeds the unmodified raw chunk to the
// screen buffer and exfil inspector.
func copyOutput(in io.Reader, out io.Writer, sess *session) {
	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			sess.handleOutput(chunk)
			if _, werr := out.Write(staircase(chunk)); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// staircase rewrites a bare LF (not preceded by CR) to CR+LF so raw mode
// output doesn't walk down the screen diagonally on a real terminal.
func staircase(chunk []byte) []byte {
	if bytes.IndexByte(chunk, '\n') < 0 {
		return chunk
	}
	var out bytes.Buffer
	out.Grow(len(chunk) + 16)
	for i := 0; i < len(chunk); i++ {
		b := chunk[i]
		if b == '\n' && (i == 0 || chunk[i-1] != '\r') {
			out.WriteByte('\r')
		}
		out.WriteByte(b)
	}
	return out.Bytes()
}

func (sess *session) handleOutput(chunk []byte) {
	for _, finding := range sess.insp.Feed(chunk) {
		if sess.runner.OnExfilFinding != nil {
			sess.runner.OnExfilFinding(finding)
		} else {
			sess.runner.Log.Warn("ptyproxy: exfil finding",
				"verdict", finding.Verdict, "command", finding.Command, "rule", finding.SecretRule)
		}
	}

	sess.screen.feed(chunk)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	now := time.Now()
	withinEchoGrace := now.Sub(sess.lastInputAt) < sess.runner.Config.EchoGracePeriod
	sess.lastOutputAt = now
	if withinEchoGrace && sess.rawResult.Status.Kind != model.StatusProcessing {
		// Suppress reclassifying a keystroke's own echo into Processing.
		return
	}
	title, lines := sess.screen.snapshot()
	frame := scanner.Scan(title, lines)
	sess.rawResult = sess.detector.Classify(frame, nil)
}

// reconcileLoop periodically applies the output-silence-to-idle and
// approval-publish-debounce rules and publishes the result when it
// changes.
func (sess *session) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess.reconcileOnce()
		}
	}
}

func (sess *session) reconcileOnce() {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.rawResult.Status.Kind == "" {
		return // nothing classified yet
	}

	now := time.Now()
	cfg := sess.runner.Config
	effective := sess.rawResult.Status

	switch {
	case effective.Kind == model.StatusProcessing && now.Sub(sess.lastOutputAt) >= cfg.OutputSilenceToIdle:
		effective = model.AgentStatus{Kind: model.StatusIdle}
	case effective.Kind == model.StatusAwaitingApproval && now.Sub(sess.lastOutputAt) < cfg.ApprovalDebounce:
		if sess.published {
			effective = sess.committed.ToStatus()
		} else {
			return
		}
	}

	if sess.published && reflect.DeepEqual(effective, sess.committed.ToStatus()) {
		return
	}

	rec := model.FromStatus(effective)
	rec.LastOutputMs = sess.lastOutputAt.UnixMilli()
	rec.LastInputMs = sess.lastInputAt.UnixMilli()
	rec.PID = sess.pid
	rec.PaneKey = string(sess.runner.PaneKey)
	sess.committed = rec
	sess.published = true

	if err := sess.client.PushState(rec); err != nil {
		sess.runner.Log.Debug("ptyproxy: push state failed", "error", err)
	}
	if err := sess.writeStateFile(rec); err != nil {
		sess.runner.Log.Warn("ptyproxy: write state file failed", "error", err)
	}
	if sess.runner.OnStateChange != nil {
		sess.runner.OnStateChange(rec)
	}
}

func (sess *session) writeStateFile(rec model.StateRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := sess.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, sess.statePath)
}
