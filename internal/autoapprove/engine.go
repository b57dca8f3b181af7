// Package autoapprove implements the auto-approve engine: a rule engine,
// an optional AI judge, and a dispatch matrix between them that decides
// whether an AwaitingApproval pane gets its approval key synthesized
// automatically or left for the user.
package autoapprove

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tmai/tmai/internal/config"
	"github.com/tmai/tmai/internal/model"
	"github.com/tmai/tmai/internal/scanner"
)

// Phase is the UI-facing lifecycle tag of an in-flight auto-approval
// decision, published alongside the monitor's snapshot and cleared once
// the pane leaves AwaitingApproval.
type Phase string

const (
	PhaseJudging         Phase = "judging"
	PhaseApprovedByRule  Phase = "approved_by_rule"
	PhaseApprovedByAI    Phase = "approved_by_ai"
	PhaseManualRequired  Phase = "manual_required"
)

// Sender synthesizes the approval keystroke (typically Enter) for a pane,
// satisfied by internal/sender's command sender.
type Sender interface {
	SendApprovalKey(ctx context.Context, paneKey model.PaneKey) error
}

// Engine dispatches AwaitingApproval panes to the rule engine and/or AI
// judge per config.Config.AutoApproveMode, and tracks each pane's UI phase
// and AI-judge cooldown across cycles.
type Engine struct {
	cfg    config.Config
	sender Sender
	judge  judge
	log    *slog.Logger

	sem chan struct{}

	mu       sync.Mutex
	phase    map[model.PaneKey]Phase
	lastEval map[model.PaneKey]time.Time
}

// NewEngine builds an Engine. If cfg.AIJudge.CustomCommand is empty, the
// AI path always returns ManualRequired rather than invoking a judge.
func NewEngine(cfg config.Config, sender Sender, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	var j judge
	switch {
	case cfg.AIJudge.CustomCommand != "":
		j = newCommandJudge(cfg.AIJudge.CustomCommand, time.Duration(cfg.AIJudge.TimeoutSecs)*time.Second)
	case hasOpenAICredentials():
		j = newOpenAIJudge(cfg.AIJudge.Model)
	}
	concurrency := cfg.AIJudge.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Engine{
		cfg:      cfg,
		sender:   sender,
		judge:    j,
		log:      log,
		sem:      make(chan struct{}, concurrency),
		phase:    make(map[model.PaneKey]Phase),
		lastEval: make(map[model.PaneKey]time.Time),
	}
}

// Evaluate decides what to do with one pane's current AwaitingApproval
// status. It returns the resulting phase (empty once the pane is no
// longer awaiting approval or auto-approve is off) and, when a decision
// was actually made this call, an AutoApproveJudgment audit event.
func (e *Engine) Evaluate(ctx context.Context, rec model.AgentRecord, frame scanner.ScannedFrame) (Phase, *model.AuditEvent) {
	if rec.Status.Kind != model.StatusAwaitingApproval || e.cfg.AutoApproveMode == config.AutoApproveOff {
		e.clearPhase(rec.PaneKey)
		return "", nil
	}

	if rec.Status.ApprovalKind == model.ApprovalUserQuestion && rec.Status.MultiSelect && len(rec.Status.Choices) >= 2 {
		return e.setPhase(rec.PaneKey, PhaseManualRequired), nil
	}
	if frame.ModeIcon == scanner.ModeAutoApprove {
		return e.setPhase(rec.PaneKey, PhaseManualRequired), nil
	}
	if len(e.cfg.AIJudge.AllowedTypes) > 0 && !containsString(e.cfg.AIJudge.AllowedTypes, string(rec.Status.ApprovalKind)) {
		return e.setPhase(rec.PaneKey, PhaseManualRequired), nil
	}

	p := parsePrompt(rec.Status)

	switch e.cfg.AutoApproveMode {
	case config.AutoApproveRules:
		if ok, rule := matchRules(p, e.cfg.Rules); ok {
			return e.approve(ctx, rec.PaneKey, PhaseApprovedByRule, rule, "", 0)
		}
		return e.setPhase(rec.PaneKey, PhaseManualRequired), nil

	case config.AutoApproveAI:
		return e.askJudge(ctx, rec.PaneKey, p, frame.Lines)

	case config.AutoApproveHybrid:
		if ok, rule := matchRules(p, e.cfg.Rules); ok {
			return e.approve(ctx, rec.PaneKey, PhaseApprovedByRule, rule, "", 0)
		}
		return e.askJudge(ctx, rec.PaneKey, p, frame.Lines)
	}
	return e.setPhase(rec.PaneKey, PhaseManualRequired), nil
}

// askJudge enforces the per-pane cooldown and global concurrency bound
// before invoking the configured judge backend.
func (e *Engine) askJudge(ctx context.Context, paneKey model.PaneKey, p prompt, screenContext []string) (Phase, *model.AuditEvent) {
	if e.judge == nil {
		return e.setPhase(paneKey, PhaseManualRequired), nil
	}

	e.mu.Lock()
	if last, ok := e.lastEval[paneKey]; ok && time.Since(last) < time.Duration(e.cfg.AIJudge.CooldownSecs)*time.Second {
		phase := e.phase[paneKey]
		e.mu.Unlock()
		return phase, nil
	}
	e.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return e.setPhase(paneKey, PhaseManualRequired), nil
	}
	defer func() { <-e.sem }()

	e.setPhase(paneKey, PhaseJudging)

	start := time.Now()
	verdict, reasoning, err := e.judge.Judge(ctx, p, screenContext)
	elapsed := time.Since(start)

	e.mu.Lock()
	e.lastEval[paneKey] = time.Now()
	e.mu.Unlock()

	if err != nil {
		e.log.Warn("autoapprove: judge call failed", "pane_key", paneKey, "error", err)
		return e.setPhase(paneKey, PhaseManualRequired), nil
	}

	switch verdict {
	case VerdictApprove:
		return e.approve(ctx, paneKey, PhaseApprovedByAI, e.cfg.AIJudge.Model, reasoning, elapsed)
	default:
		phase := e.setPhase(paneKey, PhaseManualRequired)
		event := &model.AuditEvent{
			Event:     model.EventAutoApproveJudgment,
			PaneKey:   string(paneKey),
			Decision:  string(verdict),
			Model:     e.cfg.AIJudge.Model,
			ElapsedMs: elapsed.Milliseconds(),
			Reasoning: reasoning,
		}
		return phase, event
	}
}

func (e *Engine) approve(ctx context.Context, paneKey model.PaneKey, phase Phase, ruleOrModel, reasoning string, elapsed time.Duration) (Phase, *model.AuditEvent) {
	sent := true
	if err := e.sender.SendApprovalKey(ctx, paneKey); err != nil {
		e.log.Warn("autoapprove: failed to send approval key", "pane_key", paneKey, "error", err)
		sent = false
	}
	event := &model.AuditEvent{
		Event:        model.EventAutoApproveJudgment,
		PaneKey:      string(paneKey),
		Decision:     "approve",
		Model:        ruleOrModel,
		ElapsedMs:    elapsed.Milliseconds(),
		ApprovalSent: sent,
		Reasoning:    reasoning,
	}
	return e.setPhase(paneKey, phase), event
}

func (e *Engine) setPhase(paneKey model.PaneKey, phase Phase) Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase[paneKey] = phase
	return phase
}

func (e *Engine) clearPhase(paneKey model.PaneKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.phase, paneKey)
	delete(e.lastEval, paneKey)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
