package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewAttachesStreamID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Writer: &buf, StreamID: "fixed-id"})
	log.Info("hello")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["stream_id"] != "fixed-id" {
		t.Fatalf("stream_id = %v, want fixed-id", line["stream_id"])
	}
	if line["msg"] != "hello" {
		t.Fatalf("msg = %v, want hello", line["msg"])
	}
}

func TestNewGeneratesStreamIDWhenEmpty(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	New(Options{Writer: &buf1}).Info("a")
	New(Options{Writer: &buf2}).Info("b")

	var l1, l2 map[string]any
	json.Unmarshal(bytes.TrimSpace(buf1.Bytes()), &l1)
	json.Unmarshal(bytes.TrimSpace(buf2.Bytes()), &l2)

	id1, _ := l1["stream_id"].(string)
	id2, _ := l2["stream_id"].(string)
	if id1 == "" || id2 == "" {
		t.Fatalf("expected non-empty generated stream ids, got %q and %q", id1, id2)
	}
	if id1 == id2 {
		t.Fatalf("expected distinct stream ids across two New() calls, got the same %q twice", id1)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Writer: &buf, Level: slog.LevelWarn})
	log.Info("suppressed")
	log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Fatalf("expected info line to be suppressed below Warn level, got %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("expected warn line to be written, got %q", out)
	}
}
