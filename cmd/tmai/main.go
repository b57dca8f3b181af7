// Command tmai monitors AI-agent CLIs running inside a terminal
// multiplexer's panes and offers unified approval of their interactive
// prompts. Its two entry points are "monitor" (the default) and
// "wrap <argv…>", the PTY-proxy runner invoked once per wrapped agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/tmai/tmai/internal/api"
	"github.com/tmai/tmai/internal/audit"
	"github.com/tmai/tmai/internal/autoapprove"
	"github.com/tmai/tmai/internal/config"
	"github.com/tmai/tmai/internal/detect"
	"github.com/tmai/tmai/internal/ipc"
	"github.com/tmai/tmai/internal/logging"
	"github.com/tmai/tmai/internal/model"
	"github.com/tmai/tmai/internal/monitor"
	"github.com/tmai/tmai/internal/ptyproxy"
	"github.com/tmai/tmai/internal/sender"
	"github.com/tmai/tmai/internal/target"
)

// localTargetID is the fixed target identity: cross-host monitoring is an
// explicit non-goal, so there is only ever one target.
const localTargetID = "local"

func main() {
	app := &cli.App{
		Name:  "tmai",
		Usage: "monitor and approve AI-agent CLIs running in multiplexer panes",
		Flags: configFlags(),
		Action: func(c *cli.Context) error {
			return runMonitor(c)
		},
		Commands: []*cli.Command{
			{
				Name:      "wrap",
				Usage:     "spawn argv under a PTY and report its state to the monitor",
				ArgsUsage: "<argv…>",
				Flags:     configFlags(),
				Action:    runWrap,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "tmai: ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "poll-interval-ms"},
		&cli.IntFlag{Name: "capture-lines"},
		&cli.StringFlag{Name: "auto-approve-mode", Usage: "off|rules|ai|hybrid"},
		&cli.BoolFlag{Name: "allow-read"},
		&cli.BoolFlag{Name: "allow-tests"},
		&cli.BoolFlag{Name: "allow-fetch"},
		&cli.BoolFlag{Name: "allow-git-readonly"},
		&cli.BoolFlag{Name: "allow-format-lint"},
		&cli.StringSliceFlag{Name: "allow-pattern"},
		&cli.StringFlag{Name: "ai-model"},
		&cli.IntFlag{Name: "ai-timeout-secs"},
		&cli.IntFlag{Name: "ai-cooldown-secs"},
		&cli.IntFlag{Name: "ai-max-concurrent"},
		&cli.StringFlag{Name: "ai-custom-command"},
		&cli.BoolFlag{Name: "audit-enabled", Value: true},
		&cli.BoolFlag{Name: "audit-log-source-disagreement"},
		&cli.StringFlag{Name: "api-addr", EnvVars: []string{"TMAI_API_ADDR"}},
		&cli.StringFlag{Name: "api-bearer-token", EnvVars: []string{"TMAI_API_TOKEN"}},
	}
}

func buildConfig(c *cli.Context) (config.Config, error) {
	opts := config.Options{
		PollIntervalMs:             c.Int("poll-interval-ms"),
		CaptureLines:               c.Int("capture-lines"),
		AutoApproveMode:            c.String("auto-approve-mode"),
		AllowRead:                  boolFlag(c, "allow-read"),
		AllowTests:                 boolFlag(c, "allow-tests"),
		AllowFetch:                 boolFlag(c, "allow-fetch"),
		AllowGitReadonly:           boolFlag(c, "allow-git-readonly"),
		AllowFormatLint:            boolFlag(c, "allow-format-lint"),
		AllowPatterns:              c.StringSlice("allow-pattern"),
		AIModel:                    c.String("ai-model"),
		AITimeoutSecs:              c.Int("ai-timeout-secs"),
		AICooldownSecs:             c.Int("ai-cooldown-secs"),
		AIMaxConcurrent:            c.Int("ai-max-concurrent"),
		AICustomCommand:            c.String("ai-custom-command"),
		AuditEnabled:               boolFlag(c, "audit-enabled"),
		AuditLogSourceDisagreement: boolFlag(c, "audit-log-source-disagreement"),
		APIAddr:                    c.String("api-addr"),
		APIBearerToken:             c.String("api-bearer-token"),
	}
	return config.FromOptions(opts)
}

func boolFlag(c *cli.Context, name string) *bool {
	if !c.IsSet(name) {
		return nil
	}
	v := c.Bool(name)
	return &v
}

// runMonitor wires every component together: the polling monitor, the IPC
// control plane, the auto-approve engine, the audit logger, the command
// sender, and the HTTP/SSE presentation surface.
func runMonitor(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logging.New(logging.Options{})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ptyproxy.EnsureStateDir(cfg.StateDir); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.StateDir, "audit"), 0o700); err != nil {
		return fmt.Errorf("audit dir: %w", err)
	}

	executor := target.NewExecutor(cfg.CommandTimeout, cfg.RetryBackoff)
	bootID := readBootID()
	mon := monitor.NewMonitor(cfg, executor, localTargetID, bootID, log)

	socketPath := filepath.Join(cfg.StateDir, "control.sock")
	ipcServer, err := ipc.Listen(socketPath, mon.Handlers(), log)
	var dispatcher sender.Dispatcher = noopDispatcher{}
	if err != nil {
		log.Warn("monitor: ipc control socket unavailable, continuing in capture-only mode", "error", err)
	} else {
		dispatcher = ipcServer
		go func() {
			if err := ipcServer.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("monitor: ipc server stopped", "error", err)
			}
		}()
		defer ipcServer.Close()
	}

	snd := sender.New(dispatcher, executor, log)

	auditPath := filepath.Join(cfg.StateDir, "audit", "detection.ndjson")
	auditLogger, err := audit.NewLogger(cfg, auditPath, log)
	if err != nil {
		return fmt.Errorf("audit logger: %w", err)
	}
	go auditLogger.Run(ctx)
	defer auditLogger.Close()

	engine := autoapprove.NewEngine(cfg, snd, log)
	apiServer := api.New(cfg, snd, log)
	go func() {
		if err := apiServer.Serve(ctx); err != nil {
			log.Warn("monitor: api server stopped", "error", err)
		}
	}()

	publish := func(snap monitor.Snapshot, events []monitor.Event) {
		apiServer.Publish(snap, events)
		for _, ev := range events {
			auditLogger.Emit(auditEventFromMonitorEvent(ev))
		}
		for _, rec := range snap.Panes {
			if rec.Status.Kind != model.StatusAwaitingApproval {
				continue
			}
			frame, err := mon.CaptureFrame(ctx, panePaneID(rec.PaneKey), rec.Title)
			if err != nil {
				log.Debug("monitor: re-capture for auto-approve failed", "pane_key", rec.PaneKey, "error", err)
				continue
			}
			if _, auditEv := engine.Evaluate(ctx, rec, frame); auditEv != nil {
				auditLogger.Emit(*auditEv)
			}
		}
	}

	color.New(color.FgGreen).Fprintf(os.Stderr, "tmai: monitoring %s every %s\n", cfg.StateDir, cfg.PollInterval)
	return mon.Run(ctx, publish)
}

// runWrap enters the PTY-proxy runner for the given argv.
func runWrap(c *cli.Context) error {
	argv := c.Args().Slice()
	if len(argv) == 0 {
		return fmt.Errorf("wrap: missing argv")
	}

	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logging.New(logging.Options{})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paneID := os.Getenv("TMUX_PANE")
	if paneID == "" {
		paneID = fmt.Sprintf("pid-%d", os.Getpid())
	}
	paneKey := model.NewPaneKey(localTargetID, paneID)
	kind := inferAgentKind(argv[0])

	runner := ptyproxy.NewRunner(cfg, paneKey, kind, log)
	code, err := runner.Run(ctx, argv)
	if err != nil {
		return err
	}
	os.Exit(code)
	return nil
}

func inferAgentKind(argv0 string) model.AgentKind {
	return detect.AgentKindFromCmdLine(filepath.Base(argv0))
}

// panePaneID strips the "<target>|" prefix a PaneKey carries.
func panePaneID(paneKey model.PaneKey) string {
	_, id, found := strings.Cut(string(paneKey), "|")
	if !found {
		return string(paneKey)
	}
	return id
}

func auditEventFromMonitorEvent(ev monitor.Event) model.AuditEvent {
	out := model.AuditEvent{
		Event:     ev.Kind,
		Timestamp: time.Now(),
		PaneKey:   string(ev.PaneKey),
		AgentKind: ev.Record.Kind,
	}
	switch ev.Kind {
	case model.EventStateChanged:
		if ev.Previous != nil {
			prev := ev.Previous.Status.Kind
			out.PrevStatus = &prev
		}
		next := ev.Record.Status.Kind
		out.NewStatus = &next
	case model.EventSourceDisagreement:
		status := ev.Record.Status.Kind
		out.CaptureStatus = &status
	}
	return out
}

// readBootID derives a stable per-boot identity, falling back to a
// freshly generated id (breaking churn detection across the identity
// they'd otherwise share) when the kernel doesn't expose one.
func readBootID() string {
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return uuid.NewString()
	}
	return strings.TrimSpace(string(data))
}

// noopDispatcher is used when the IPC control socket could not be
// opened: every send reports failure so the sender falls back to its
// multiplexer path immediately.
type noopDispatcher struct{}

func (noopDispatcher) SendKeys(string, []byte) error {
	return errors.New("ipc: control socket unavailable")
}
