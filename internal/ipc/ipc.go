// Package ipc implements the parent-side control socket that wrapped
// agent processes (internal/ptyproxy) register with and stream their
// state to. Frames are newline-delimited JSON, one frame per line.
package ipc

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tmai/tmai/internal/model"
)

// FrameKind discriminates the IPC wire message.
type FrameKind string

const (
	FrameRegister   FrameKind = "register"
	FrameState      FrameKind = "state"
	FrameUnregister FrameKind = "unregister"
	FrameSendKeys   FrameKind = "send_keys"
	FramePing       FrameKind = "ping"
	FramePong       FrameKind = "pong"
)

// Frame is the envelope every NDJSON line decodes into; Payload is kept
// raw until the kind is known, then decoded into the typed payload.
type Frame struct {
	Kind    FrameKind       `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterPayload announces a wrapped child to the parent.
type RegisterPayload struct {
	PaneKey   string `json:"pane_key"`
	PID       int    `json:"pid"`
	AgentKind string `json:"agent_kind"`
	CmdLine   string `json:"cmdline"`
}

// UnregisterPayload announces a wrapped child's clean exit.
type UnregisterPayload struct {
	PaneKey string `json:"pane_key"`
}

// SendKeysPayload carries raw bytes the parent wants written to the PTY
// master, base64-encoded so arbitrary control bytes survive NDJSON.
type SendKeysPayload struct {
	Bytes string `json:"bytes"`
}

// EncodeSendKeys base64-encodes raw bytes for a SendKeys frame.
func EncodeSendKeys(raw []byte) SendKeysPayload {
	return SendKeysPayload{Bytes: base64.StdEncoding.EncodeToString(raw)}
}

// Decode returns the raw bytes carried by a SendKeysPayload.
func (p SendKeysPayload) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Bytes)
}

// NewFrame marshals payload and wraps it in a Frame of the given kind.
func NewFrame(kind FrameKind, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Kind: kind}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("ipc: marshal %s payload: %w", kind, err)
	}
	return Frame{Kind: kind, Payload: raw}, nil
}

// DecodeRegister unmarshals a Register frame's payload.
func (f Frame) DecodeRegister() (RegisterPayload, error) {
	var p RegisterPayload
	err := json.Unmarshal(f.Payload, &p)
	return p, err
}

// DecodeState unmarshals a State frame's payload.
func (f Frame) DecodeState() (model.StateRecord, error) {
	var p model.StateRecord
	err := json.Unmarshal(f.Payload, &p)
	return p, err
}

// DecodeUnregister unmarshals an Unregister frame's payload.
func (f Frame) DecodeUnregister() (UnregisterPayload, error) {
	var p UnregisterPayload
	err := json.Unmarshal(f.Payload, &p)
	return p, err
}

// DecodeSendKeys unmarshals a SendKeys frame's payload.
func (f Frame) DecodeSendKeys() (SendKeysPayload, error) {
	var p SendKeysPayload
	err := json.Unmarshal(f.Payload, &p)
	return p, err
}

// WriteFrame writes one frame as a single NDJSON line.
func WriteFrame(w *bufio.Writer, frame Frame) error {
	line, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("ipc: marshal frame: %w", err)
	}
	if _, err := w.Write(line); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// ReadFrame reads and decodes one NDJSON line into a Frame.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return Frame{}, err
	}
	var frame Frame
	if jsonErr := json.Unmarshal(line, &frame); jsonErr != nil {
		return Frame{}, fmt.Errorf("ipc: decode frame: %w", jsonErr)
	}
	return frame, err
}
