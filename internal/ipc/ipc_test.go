package ipc

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/tmai/tmai/internal/model"
)

func TestFrameRoundTripState(t *testing.T) {
	rec := model.StateRecord{Status: model.StatusIdle, PID: 123, PaneKey: "local|%1"}
	frame, err := NewFrame(FrameState, rec)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := WriteFrame(w, frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	r := bufio.NewReader(&buf)
	got, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Kind != FrameState {
		t.Fatalf("Kind = %q, want state", got.Kind)
	}
	decoded, err := got.DecodeState()
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if decoded.PID != 123 || decoded.PaneKey != "local|%1" {
		t.Fatalf("decoded mismatch: %+v", decoded)
	}
}

func TestSendKeysPayloadRoundTrip(t *testing.T) {
	raw := []byte{0x1b, '[', 'A', 0x00, 0x7f}
	payload := EncodeSendKeys(raw)
	back, err := payload.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(back, raw) {
		t.Fatalf("round trip mismatch: got %v, want %v", back, raw)
	}
}

func TestWriteFrameWritesOneLinePerFrame(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	f1, _ := NewFrame(FramePing, nil)
	f2, _ := NewFrame(FramePong, nil)
	_ = WriteFrame(w, f1)
	_ = WriteFrame(w, f2)

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestRegistryReplacesStaleConnection(t *testing.T) {
	reg := newRegistry()
	c1 := &connection{paneKey: "local|%1", done: make(chan struct{})}
	c2 := &connection{paneKey: "local|%1", done: make(chan struct{})}

	if old := reg.register("local|%1", c1); old != nil {
		t.Fatalf("expected no prior connection, got %v", old)
	}
	old := reg.register("local|%1", c2)
	if old != c1 {
		t.Fatal("expected c1 to be returned as replaced connection")
	}
	current, ok := reg.get("local|%1")
	if !ok || current != c2 {
		t.Fatal("expected registry to hold c2 as current connection")
	}

	// Unregistering the stale (already-replaced) connection must not
	// remove the live one.
	reg.unregister("local|%1", c1)
	current, ok = reg.get("local|%1")
	if !ok || current != c2 {
		t.Fatal("unregistering a stale connection must not evict the live one")
	}

	reg.unregister("local|%1", c2)
	if _, ok := reg.get("local|%1"); ok {
		t.Fatal("expected pane to be gone after unregistering the live connection")
	}
}
