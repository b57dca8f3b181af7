package ipc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tmai/tmai/internal/model"
)

// Client is the child-side half of the protocol: it registers a pane
// with the parent, streams StateRecords, and reconnects with backoff
// capped at maxBackoff when the connection drops.
type Client struct {
	socketPath string
	maxBackoff time.Duration

	mu     sync.Mutex
	conn   net.Conn
	writer *bufio.Writer
	lastRegister RegisterPayload

	// OnSendKeys is invoked (from the read loop) whenever the parent
	// dispatches raw bytes for this pane.
	OnSendKeys func(raw []byte)
}

// NewClient builds a Client for the control socket at socketPath.
func NewClient(socketPath string, maxBackoff time.Duration) *Client {
	return &Client{socketPath: socketPath, maxBackoff: maxBackoff}
}

// Connect dials the socket and registers the pane, retrying with
// exponential backoff capped at maxBackoff until ctx is canceled.
func (c *Client) Connect(ctx context.Context, reg RegisterPayload) error {
	c.mu.Lock()
	c.lastRegister = reg
	c.mu.Unlock()
	backoff := 50 * time.Millisecond
	for {
		if err := c.dialAndRegister(reg); err == nil {
			go c.readLoop(ctx, reg.PaneKey)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *Client) dialAndRegister(reg RegisterPayload) error {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("ipc: dial %s: %w", c.socketPath, err)
	}
	w := bufio.NewWriter(conn)
	frame, err := NewFrame(FrameRegister, reg)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := WriteFrame(w, frame); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.writer = w
	c.mu.Unlock()
	return nil
}

// PushState sends the latest StateRecord to the parent.
func (c *Client) PushState(rec model.StateRecord) error {
	frame, err := NewFrame(FrameState, rec)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

// Unregister tells the parent this pane is going away.
func (c *Client) Unregister(paneKey string) error {
	frame, err := NewFrame(FrameUnregister, UnregisterPayload{PaneKey: paneKey})
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *Client) writeFrame(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writer == nil {
		return fmt.Errorf("ipc: client not connected")
	}
	return WriteFrame(c.writer, frame)
}

// Close shuts down the client's connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.writer = nil
	return err
}

func (c *Client) readLoop(ctx context.Context, paneKey string) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		reader := bufio.NewReader(conn)
		for {
			frame, err := ReadFrame(reader)
			if err != nil {
				break
			}
			switch frame.Kind {
			case FrameSendKeys:
				payload, err := frame.DecodeSendKeys()
				if err != nil {
					continue
				}
				raw, err := payload.Decode()
				if err != nil {
					continue
				}
				if c.OnSendKeys != nil {
					c.OnSendKeys(raw)
				}
			case FramePing:
				pong, _ := NewFrame(FramePong, nil)
				_ = c.writeFrame(pong)
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := c.reconnect(ctx, paneKey); err != nil {
			return
		}
	}
}

func (c *Client) reconnect(ctx context.Context, paneKey string) error {
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.mu.Lock()
		reg := c.lastRegister
		c.mu.Unlock()
		if err := c.dialAndRegister(reg); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}
