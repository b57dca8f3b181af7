// Package audit implements the append-only, line-delimited JSON audit
// log: one object per event, rotated to a single ".1" generation once a
// configured size threshold is crossed, fed by a bounded, drop-oldest
// channel so a stalled writer never blocks the monitor's hot path.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tmai/tmai/internal/config"
	"github.com/tmai/tmai/internal/model"
)

// channelCapacity bounds the producer-to-writer queue; once full, Emit
// drops the oldest queued event rather than blocking its caller.
const channelCapacity = 1024

// Logger owns one rotating NDJSON file and the single goroutine that
// drains events into it, serializing writes from the monitor, the
// auto-approve workers, and the command sender behind one channel.
type Logger struct {
	cfg  config.Config
	log  *slog.Logger
	path string

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	size   int64

	debounceMu sync.Mutex
	debounce   map[model.PaneKey]time.Time

	ch chan model.AuditEvent
}

// NewLogger opens (creating if absent) the audit log file at path and
// returns a Logger ready to have Run started on it.
func NewLogger(cfg config.Config, path string, log *slog.Logger) (*Logger, error) {
	if log == nil {
		log = slog.Default()
	}
	l := &Logger{
		cfg:      cfg,
		log:      log,
		path:     path,
		debounce: make(map[model.PaneKey]time.Time),
		ch:       make(chan model.AuditEvent, channelCapacity),
	}
	if err := l.openCurrent(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) openCurrent() error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", l.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("audit: stat %s: %w", l.path, err)
	}
	l.file = f
	l.writer = bufio.NewWriter(f)
	l.size = info.Size()
	return nil
}

// Run drains the event channel into the log file until ctx is canceled.
// It is meant to run on its own goroutine, the single consumer that
// serializes every writer into file-append order.
func (l *Logger) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.writer.Flush()
			l.mu.Unlock()
			return
		case ev := <-l.ch:
			if err := l.write(ev); err != nil {
				l.log.Warn("audit: write failed", "error", err)
			}
		}
	}
}

// Emit queues an event for the writer goroutine. If the queue is full,
// the oldest queued event is dropped to make room — losing an audit line
// under backpressure is acceptable, losing the monitor's hot path is not.
func (l *Logger) Emit(ev model.AuditEvent) {
	if !l.cfg.AuditEnabled {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case l.ch <- ev:
		return
	default:
	}
	select {
	case <-l.ch:
	default:
	}
	select {
	case l.ch <- ev:
	default:
		l.log.Warn("audit: dropped event, queue still full after eviction", "event", ev.Event)
	}
}

// UserInputDuringProcessing emits the high-signal "user typed while the
// detector thought the pane was Processing or Idle" event, subject to a
// per-pane debounce so passthrough typing doesn't flood the log.
func (l *Logger) UserInputDuringProcessing(paneKey model.PaneKey, agentKind model.AgentKind, observed model.AgentStatusKind) {
	if observed != model.StatusProcessing && observed != model.StatusIdle {
		return
	}
	l.debounceMu.Lock()
	now := time.Now()
	if last, ok := l.debounce[paneKey]; ok && now.Sub(last) < l.cfg.UserInputDebounce {
		l.debounceMu.Unlock()
		return
	}
	l.debounce[paneKey] = now
	l.debounceMu.Unlock()

	l.Emit(model.AuditEvent{
		Event:          model.EventUserInputDuringProcessing,
		PaneKey:        string(paneKey),
		AgentKind:      agentKind,
		ObservedStatus: &observed,
	})
}

func (l *Logger) write(ev model.AuditEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.AuditMaxSizeBytes > 0 && l.size+int64(len(data)) > l.cfg.AuditMaxSizeBytes {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := l.writer.Write(data)
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return l.writer.Flush()
}

// rotateLocked renames the current file to ".1" (replacing any prior
// generation) and opens a fresh one. Callers must hold l.mu.
func (l *Logger) rotateLocked() error {
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("audit: flush before rotate: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("audit: close before rotate: %w", err)
	}
	rotated := l.path + ".1"
	if err := os.Rename(l.path, rotated); err != nil {
		return fmt.Errorf("audit: rotate %s -> %s: %w", l.path, rotated, err)
	}
	l.log.Info("audit: rotated log", "path", l.path, "size", humanize.Bytes(uint64(l.size)))

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: reopen %s after rotate: %w", l.path, err)
	}
	l.file = f
	l.writer = bufio.NewWriter(f)
	l.size = 0
	return nil
}

// Close flushes and closes the underlying file. It does not stop Run;
// cancel the context passed to Run first.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}
