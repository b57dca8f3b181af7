// Package api exposes the HTTP/SSE presentation surface: a snapshot of
// current pane state, a streaming feed of state-change events, a route to
// send keystrokes into a pane, and a list of the agent adapters this
// build recognizes. A loopback bearer token gates every route but health.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tmai/tmai/internal/config"
	"github.com/tmai/tmai/internal/model"
	"github.com/tmai/tmai/internal/monitor"
)

// Sender is the subset of *sender.Sender the send route needs.
type Sender interface {
	Send(ctx context.Context, paneKey model.PaneKey, raw []byte) error
	SendKey(ctx context.Context, paneKey model.PaneKey, logical string) error
}

// AdapterInfo describes one recognized agent kind for /v1/adapters.
type AdapterInfo struct {
	Kind         model.AgentKind `json:"kind"`
	RulesEnabled bool            `json:"rules_enabled"`
}

// AdaptersEnvelope is the body of GET /v1/adapters.
type AdaptersEnvelope struct {
	Adapters []AdapterInfo `json:"adapters"`
}

var registeredKinds = []model.AgentKind{
	model.AgentClaudeCode,
	model.AgentCodex,
	model.AgentGemini,
	model.AgentOpenCode,
}

// Server holds the latest published snapshot and fans out events to any
// number of SSE subscribers.
type Server struct {
	cfg    config.Config
	sender Sender
	log    *slog.Logger

	mu       sync.RWMutex
	latest   monitor.Snapshot
	subs     map[chan monitor.Event]struct{}
}

// New builds a Server. sender may be nil, in which case the send route
// always responds 503.
func New(cfg config.Config, sender Sender, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		sender: sender,
		log:    log,
		subs:   make(map[chan monitor.Event]struct{}),
	}
}

// Publish records the latest snapshot and fans its events out to every
// live subscriber, dropping the event for any subscriber too slow to
// keep up rather than blocking the monitor's poll loop.
func (s *Server) Publish(snap monitor.Snapshot, events []monitor.Event) {
	s.mu.Lock()
	s.latest = snap
	subs := make([]chan monitor.Event, 0, len(s.subs))
	for ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ev := range events {
		if ev.Kind != model.EventStateChanged {
			continue
		}
		for _, ch := range subs {
			select {
			case ch <- ev:
			default:
				s.log.Warn("api: dropping stream event for a slow subscriber")
			}
		}
	}
}

// Handler builds the mux this server answers on.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.Handle("/v1/panes", s.auth(http.HandlerFunc(s.handlePanes)))
	mux.Handle("/v1/panes/stream", s.auth(http.HandlerFunc(s.handleStream)))
	mux.Handle("/v1/panes/", s.auth(http.HandlerFunc(s.handleSend)))
	mux.Handle("/v1/adapters", s.auth(http.HandlerFunc(s.handleAdapters)))
	return mux
}

// Serve runs an *http.Server on cfg.API.Addr until ctx is canceled, then
// shuts it down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s.cfg.API.Addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              s.cfg.API.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.API.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// auth gates a handler behind the configured loopback bearer token. An
// empty configured token means the route is left open — the caller is
// expected to only bind this server to a loopback address in that case.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.API.BearerToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		want := "Bearer " + s.cfg.API.BearerToken
		if got != want {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePanes(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap := s.latest
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAdapters(w http.ResponseWriter, r *http.Request) {
	rulesEnabled := s.cfg.AutoApproveMode == config.AutoApproveRules || s.cfg.AutoApproveMode == config.AutoApproveHybrid
	env := AdaptersEnvelope{Adapters: make([]AdapterInfo, 0, len(registeredKinds))}
	for _, k := range registeredKinds {
		env.Adapters = append(env.Adapters, AdapterInfo{Kind: k, RulesEnabled: rulesEnabled})
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan monitor.Event, 32)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

type sendRequest struct {
	Text string `json:"text,omitempty"`
	Key  string `json:"key,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	paneKey, ok := parseSendPath(r.URL.Path)
	if !ok || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if s.sender == nil {
		http.Error(w, "sender unavailable", http.StatusServiceUnavailable)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch {
	case req.Key != "":
		err = s.sender.SendKey(r.Context(), model.PaneKey(paneKey), req.Key)
	case req.Text != "":
		err = s.sender.Send(r.Context(), model.PaneKey(paneKey), []byte(req.Text))
	default:
		http.Error(w, "request must set either \"text\" or \"key\"", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// parseSendPath extracts pane_key from "/v1/panes/{pane_key}/send".
func parseSendPath(path string) (string, bool) {
	const prefix = "/v1/panes/"
	const suffix = "/send"
	if len(path) <= len(prefix)+len(suffix) {
		return "", false
	}
	if path[:len(prefix)] != prefix {
		return "", false
	}
	rest := path[len(prefix):]
	if len(rest) <= len(suffix) || rest[len(rest)-len(suffix):] != suffix {
		return "", false
	}
	return rest[:len(rest)-len(suffix)], true
}
