// Package monitor runs the fixed-period polling loop: it enumerates
// multiplexer panes, classifies each one (from its IPC-registered state if
// the PTY proxy is attached, else from a capture-pane scan), reconciles
// disagreements between the two sources, and publishes a diffed,
// monotonically revisioned snapshot.
package monitor

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tmai/tmai/internal/config"
	"github.com/tmai/tmai/internal/detect"
	"github.com/tmai/tmai/internal/ipc"
	"github.com/tmai/tmai/internal/model"
	"github.com/tmai/tmai/internal/runtime"
	"github.com/tmai/tmai/internal/scanner"
	"github.com/tmai/tmai/internal/target"
)

// Snapshot is one immutable, internally-consistent cycle's worth of pane
// state, published to subscribers in revision order.
type Snapshot struct {
	Revision    int64
	GeneratedAt time.Time
	Panes       []model.AgentRecord
}

// Event is one lifecycle or state transition detected by a cycle's diff
// against the previous snapshot.
type Event struct {
	Kind     model.AuditEventType
	PaneKey  model.PaneKey
	Record   model.AgentRecord
	Previous *model.AgentRecord
}

// Monitor owns the poll loop's mutable cycle-to-cycle state: the last
// published snapshot, per-pane occupancy (for churn detection), and the
// IPC-reported state fed in by the control socket's handlers.
type Monitor struct {
	Config   config.Config
	Executor *target.Executor
	TargetID string
	BootID   string
	Log      *slog.Logger

	mu        sync.Mutex
	ipcStatus map[model.PaneKey]model.StateRecord
	ipcLive   map[model.PaneKey]bool
	occupancy map[model.PaneKey]runtime.Occupancy
	prev      map[model.PaneKey]model.AgentRecord
	revision  int64
}

// NewMonitor builds a Monitor. log defaults to slog.Default() if nil.
func NewMonitor(cfg config.Config, executor *target.Executor, targetID, bootID string, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		Config:    cfg,
		Executor:  executor,
		TargetID:  targetID,
		BootID:    bootID,
		Log:       log,
		ipcStatus: make(map[model.PaneKey]model.StateRecord),
		ipcLive:   make(map[model.PaneKey]bool),
		occupancy: make(map[model.PaneKey]runtime.Occupancy),
		prev:      make(map[model.PaneKey]model.AgentRecord),
	}
}

// Handlers wires the Monitor into an ipc.Server: every registered child's
// pushed state feeds directly into the next poll cycle's evidence.
func (m *Monitor) Handlers() ipc.Handlers {
	return ipc.Handlers{
		OnRegister: func(paneKey string, _ ipc.RegisterPayload) {
			m.mu.Lock()
			m.ipcLive[model.PaneKey(paneKey)] = true
			m.mu.Unlock()
		},
		OnState: func(paneKey string, rec model.StateRecord) {
			m.mu.Lock()
			m.ipcStatus[model.PaneKey(paneKey)] = rec
			m.mu.Unlock()
		},
		OnUnregister: func(paneKey string) {
			m.mu.Lock()
			delete(m.ipcLive, model.PaneKey(paneKey))
			delete(m.ipcStatus, model.PaneKey(paneKey))
			m.mu.Unlock()
		},
	}
}

// CaptureFrame re-captures and re-scans paneID's current screen, for
// callers (the auto-approve engine) that need a ScannedFrame outside of
// a poll cycle's own internal capture.
func (m *Monitor) CaptureFrame(ctx context.Context, paneID, title string) (scanner.ScannedFrame, error) {
	content, err := capturePane(ctx, m.Executor, paneID, m.Config.CaptureLines)
	if err != nil {
		return scanner.ScannedFrame{}, err
	}
	return scanner.Scan(title, strings.Split(content, "\n")), nil
}

// Run executes RunCycle on Config.PollInterval until ctx is canceled,
// invoking publish with each cycle's snapshot and events.
func (m *Monitor) Run(ctx context.Context, publish func(Snapshot, []Event)) error {
	ticker := time.NewTicker(m.Config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snapshot, events, err := m.RunCycle(ctx)
			if err != nil {
				m.Log.Warn("monitor: cycle failed", "error", err)
				continue
			}
			publish(snapshot, events)
		}
	}
}

// RunCycle enumerates panes, classifies each, reconciles sources, diffs
// against the previous cycle, and returns the new snapshot plus events.
func (m *Monitor) RunCycle(ctx context.Context) (Snapshot, []Event, error) {
	panes, err := enumeratePanes(ctx, m.Executor)
	if err != nil {
		return Snapshot{}, nil, err
	}
	now := time.Now()

	m.mu.Lock()
	ipcLive := make(map[model.PaneKey]bool, len(m.ipcLive))
	for k, v := range m.ipcLive {
		ipcLive[k] = v
	}
	ipcStatus := make(map[model.PaneKey]model.StateRecord, len(m.ipcStatus))
	for k, v := range m.ipcStatus {
		ipcStatus[k] = v
	}
	prev := m.prev
	m.mu.Unlock()

	current := make(map[model.PaneKey]model.AgentRecord, len(panes))
	var events []Event

	for _, p := range panes {
		paneKey := model.NewPaneKey(m.TargetID, p.PaneID)
		kind := detect.AgentKindFromCmdLine(p.Command + " " + p.Title)
		if kind == model.AgentUnknown {
			continue
		}

		pid := int64(p.PID)
		prevRecord, hadPrev := prev[paneKey]
		var priorOccupancy *runtime.Occupancy
		if occ, ok := m.occupancy[paneKey]; ok {
			priorOccupancy = &occ
		}
		epoch := runtime.NextEpoch(priorOccupancy, &pid)
		m.occupancy[paneKey] = runtime.Occupancy{PaneEpoch: epoch, PID: &pid}

		ev := evidence{}
		content, capErr := capturePane(ctx, m.Executor, p.PaneID, m.Config.CaptureLines)
		if capErr != nil {
			m.Log.Debug("monitor: capture failed", "pane_key", paneKey, "error", capErr)
		} else {
			frame := scanner.Scan(p.Title, strings.Split(content, "\n"))
			var priorRecord *model.AgentRecord
			if hadPrev {
				priorRecord = &prevRecord
			}
			result := detect.ForKind(kind).Classify(frame, priorRecord)
			ev.captureStatus = result.Status
			ev.captureAt = now
			ev.captureValid = true
		}
		if ipcLive[paneKey] {
			if rec, ok := ipcStatus[paneKey]; ok {
				ev.ipcStatus = rec.ToStatus()
				ev.ipcAt = now
				ev.ipcValid = true
			}
		}

		status, _, disagree := resolveStatus(ev, m.Config.PollInterval, now)
		if disagree && m.Config.AuditLogSourceDisagreement {
			events = append(events, Event{
				Kind:    model.EventSourceDisagreement,
				PaneKey: paneKey,
				Record:  model.AgentRecord{PaneKey: paneKey, Kind: kind, PID: p.PID, Status: status, UpdatedAt: now},
			})
		}

		rec := model.AgentRecord{
			PaneKey:   paneKey,
			Kind:      kind,
			PID:       p.PID,
			CmdLine:   p.Command,
			Cwd:       p.Cwd,
			Title:     p.Title,
			Status:    status,
			UpdatedAt: now,
		}
		current[paneKey] = rec

		switch {
		case !hadPrev:
			events = append(events, Event{Kind: model.EventAgentAppeared, PaneKey: paneKey, Record: rec})
		case !reflect.DeepEqual(prevRecord.Status, rec.Status):
			events = append(events, Event{Kind: model.EventStateChanged, PaneKey: paneKey, Record: rec, Previous: &prevRecord})
		}
	}

	for paneKey, rec := range prev {
		if _, ok := current[paneKey]; !ok {
			events = append(events, Event{Kind: model.EventAgentDisappeared, PaneKey: paneKey, Record: rec})
			delete(m.occupancy, paneKey)
		}
	}

	m.mu.Lock()
	m.prev = current
	m.revision++
	revision := m.revision
	m.mu.Unlock()

	return Snapshot{Revision: revision, GeneratedAt: now, Panes: recordSlice(current)}, events, nil
}

func recordSlice(m map[model.PaneKey]model.AgentRecord) []model.AgentRecord {
	out := make([]model.AgentRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaneKey < out[j].PaneKey })
	return out
}
