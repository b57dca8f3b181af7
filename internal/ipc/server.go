package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/tmai/tmai/internal/model"
)

// connection is one accepted socket, with its own reader and writer
// goroutine. writes is a bounded channel so SendKeys dispatch never
// blocks on a slow or wedged child.
type connection struct {
	paneKey string
	conn    net.Conn
	writes  chan Frame
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

func (c *connection) close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	_ = c.conn.Close()
}

// registry is the shared pane_key -> connection map: exclusive-write,
// many-readers.
type registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*connection)}
}

// register installs c as the live connection for paneKey, closing and
// returning any connection it replaces so the caller can drain it.
func (r *registry) register(paneKey string, c *connection) *connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.conns[paneKey]
	r.conns[paneKey] = c
	return old
}

// unregister removes c only if it is still the current connection for
// paneKey (a reconnect may already have replaced it).
func (r *registry) unregister(paneKey string, c *connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[paneKey] == c {
		delete(r.conns, paneKey)
	}
}

func (r *registry) get(paneKey string) (*connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[paneKey]
	return c, ok
}

// Handlers are invoked by the server as frames arrive; nil handlers are
// skipped. Implementations must not block for long since they run
// inline on the connection's reader goroutine.
type Handlers struct {
	OnRegister   func(paneKey string, reg RegisterPayload)
	OnState      func(paneKey string, rec model.StateRecord)
	OnUnregister func(paneKey string)
}

// Server is the single parent-side listener on the control socket.
type Server struct {
	listener net.Listener
	registry *registry
	handlers Handlers
	log      *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// Listen opens the Unix-domain control socket at socketPath, removing
// any stale socket file left by a prior process first.
func Listen(socketPath string, handlers Handlers, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %s: %w", socketPath, err)
	}
	return &Server{
		listener: ln,
		registry: newRegistry(),
		handlers: handlers,
		log:      log,
		done:     make(chan struct{}),
	}, nil
}

// Serve runs the accept loop until ctx is canceled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("ipc: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Close stops the accept loop and closes every live connection;
// in-flight frames are dropped.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.listener.Close()
		s.registry.mu.Lock()
		conns := make([]*connection, 0, len(s.registry.conns))
		for _, c := range s.registry.conns {
			conns = append(conns, c)
		}
		s.registry.mu.Unlock()
		for _, c := range conns {
			c.close()
		}
	})
	return err
}

// SendKeys dispatches raw bytes to the live connection for paneKey, if
// one exists. A lock-free snapshot of the registry is taken; the actual
// write happens on the connection's own writer goroutine.
func (s *Server) SendKeys(paneKey string, raw []byte) error {
	c, ok := s.registry.get(paneKey)
	if !ok {
		return fmt.Errorf("ipc: no live connection for pane %s", paneKey)
	}
	frame, err := NewFrame(FrameSendKeys, EncodeSendKeys(raw))
	if err != nil {
		return err
	}
	select {
	case c.writes <- frame:
		return nil
	case <-c.done:
		return fmt.Errorf("ipc: connection for pane %s closed", paneKey)
	default:
		return fmt.Errorf("ipc: write queue full for pane %s", paneKey)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()

	c := &connection{conn: netConn, writes: make(chan Frame, 16), done: make(chan struct{})}
	defer c.close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		w := bufio.NewWriter(netConn)
		for {
			select {
			case frame := <-c.writes:
				if err := WriteFrame(w, frame); err != nil {
					return
				}
			case <-c.done:
				return
			}
		}
	}()

	reader := bufio.NewReader(netConn)
	for {
		frame, err := ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("ipc connection read error", "error", err)
			}
			break
		}
		s.dispatch(c, frame)
	}

	if c.paneKey != "" {
		s.registry.unregister(c.paneKey, c)
		if s.handlers.OnUnregister != nil {
			s.handlers.OnUnregister(c.paneKey)
		}
	}
	<-writerDone
}

func (s *Server) dispatch(c *connection, frame Frame) {
	switch frame.Kind {
	case FrameRegister:
		reg, err := frame.DecodeRegister()
		if err != nil {
			s.log.Warn("ipc: malformed register frame", "error", err)
			return
		}
		c.paneKey = reg.PaneKey
		if old := s.registry.register(reg.PaneKey, c); old != nil {
			old.close()
		}
		if s.handlers.OnRegister != nil {
			s.handlers.OnRegister(reg.PaneKey, reg)
		}
	case FrameState:
		rec, err := frame.DecodeState()
		if err != nil {
			s.log.Warn("ipc: malformed state frame", "error", err)
			return
		}
		if c.paneKey != "" && s.handlers.OnState != nil {
			s.handlers.OnState(c.paneKey, rec)
		}
	case FrameUnregister:
		_, _ = frame.DecodeUnregister()
		if c.paneKey != "" {
			s.registry.unregister(c.paneKey, c)
			if s.handlers.OnUnregister != nil {
				s.handlers.OnUnregister(c.paneKey)
			}
		}
	case FramePing:
		pong, _ := NewFrame(FramePong, nil)
		select {
		case c.writes <- pong:
		case <-c.done:
		default:
		}
	case FramePong:
		// no action needed
	}
}
