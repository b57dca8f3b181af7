package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tmai/tmai/internal/config"
	"github.com/tmai/tmai/internal/model"
	"github.com/tmai/tmai/internal/monitor"
)

type fakeSender struct {
	lastPane model.PaneKey
	lastKey  string
	lastText string
	err      error
}

func (f *fakeSender) Send(_ context.Context, paneKey model.PaneKey, raw []byte) error {
	f.lastPane = paneKey
	f.lastText = string(raw)
	return f.err
}

func (f *fakeSender) SendKey(_ context.Context, paneKey model.PaneKey, logical string) error {
	f.lastPane = paneKey
	f.lastKey = logical
	return f.err
}

func TestHealthRequiresNoToken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API.BearerToken = "secret"
	s := New(cfg, nil, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rr.Code)
	}
}

func TestPanesRejectsMissingToken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API.BearerToken = "secret"
	s := New(cfg, nil, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/panes", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestPanesReturnsPublishedSnapshot(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API.BearerToken = "secret"
	s := New(cfg, nil, nil)

	snap := monitor.Snapshot{Revision: 3, Panes: []model.AgentRecord{{PaneKey: "local|%1"}}}
	s.Publish(snap, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/panes", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got monitor.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Revision != 3 || len(got.Panes) != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestAdaptersListsRegisteredKinds(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AutoApproveMode = config.AutoApproveRules
	s := New(cfg, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/adapters", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var env AdaptersEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(env.Adapters) != len(registeredKinds) {
		t.Fatalf("got %d adapters, want %d", len(env.Adapters), len(registeredKinds))
	}
	for _, a := range env.Adapters {
		if !a.RulesEnabled {
			t.Fatalf("expected rules_enabled for %s in rules mode", a.Kind)
		}
	}
}

func TestSendRoutesTextToSender(t *testing.T) {
	sender := &fakeSender{}
	s := New(config.DefaultConfig(), sender, nil)

	body := strings.NewReader(`{"text":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/panes/local%7C%251/send", body)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if sender.lastText != "hello" {
		t.Fatalf("lastText = %q, want hello", sender.lastText)
	}
}

func TestSendRoutesKeyToSender(t *testing.T) {
	sender := &fakeSender{}
	s := New(config.DefaultConfig(), sender, nil)

	body := strings.NewReader(`{"key":"Enter"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/panes/local|%251/send", body)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if sender.lastKey != "Enter" {
		t.Fatalf("lastKey = %q, want Enter", sender.lastKey)
	}
}

func TestSendWithoutSenderReturns503(t *testing.T) {
	s := New(config.DefaultConfig(), nil, nil)

	body := strings.NewReader(`{"key":"Enter"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/panes/local|%251/send", body)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestStreamDeliversStateChangedEvent(t *testing.T) {
	s := New(config.DefaultConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/panes/stream", nil).WithContext(ctx)
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.Handler().ServeHTTP(rr, req)
		close(done)
	}()

	// give the handler a moment to register its subscriber channel
	time.Sleep(20 * time.Millisecond)
	s.Publish(monitor.Snapshot{}, []monitor.Event{{Kind: model.EventStateChanged, PaneKey: "local|%1"}})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if !strings.Contains(rr.Body.String(), "state_changed") {
		t.Fatalf("expected a state_changed SSE frame, got %q", rr.Body.String())
	}
}

func TestParseSendPath(t *testing.T) {
	cases := map[string]string{
		"/v1/panes/local|%251/send": "local|%251",
		"/v1/panes/send":            "",
		"/v1/health":                "",
	}
	for path, want := range cases {
		got, ok := parseSendPath(path)
		if want == "" {
			if ok {
				t.Fatalf("%s: expected no match, got %q", path, got)
			}
			continue
		}
		if !ok || got != want {
			t.Fatalf("%s: got %q ok=%v, want %q", path, got, ok, want)
		}
	}
}
