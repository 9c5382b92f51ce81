// Package frame implements the secondary identity source bridge: a small
// JSON command protocol spoken over a websocket to the embedding platform.
// The Reconciler consumes it through the auth.FrameBridge interface; this is
// the shipped implementation.
package frame

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	auth "github.com/merkos-302/chabaduniverse-auth-sub000"
)

// Bridge is a websocket-backed auth.FrameBridge. The platform pushes a
// handshake frame on connect and state frames whenever readiness or
// navigation changes; api/command requests are correlated by id.
type Bridge struct {
	conn   *websocket.Conn
	logger auth.Logger

	mu      sync.Mutex
	state   auth.ConnectionState
	pending map[string]chan response

	closed    chan struct{}
	closeOnce sync.Once
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithLogger overrides the default silent logger.
func WithLogger(logger auth.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

type frameMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	API     string          `json:"api,omitempty"`
	Method  string          `json:"method,omitempty"`
	Command string          `json:"command,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`

	// handshake / state fields
	Embedded   bool `json:"embedded,omitempty"`
	Ready      bool `json:"ready,omitempty"`
	Navigating bool `json:"navigating,omitempty"`
}

type response struct {
	result json.RawMessage
	err    string
}

// Dial connects to the platform bridge endpoint and waits for the handshake
// frame, which reports whether the host is actually embedded. The connection
// state starts from the handshake and is updated by subsequent state frames.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Bridge, error) {
	conn, resp, err := websocket.Dial(ctx, toWebSocketURL(rawURL), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("frame: failed to connect to bridge: %w", err)
	}

	b := &Bridge{
		conn:    conn,
		logger:  silentLogger{},
		pending: map[string]chan response{},
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("frame: failed to read handshake: %w", err)
	}
	var handshake frameMessage
	if err := json.Unmarshal(data, &handshake); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("frame: malformed handshake: %w", err)
	}
	if handshake.Type != "handshake" {
		_ = b.Close()
		return nil, fmt.Errorf("frame: unexpected message type %q (expected handshake)", handshake.Type)
	}

	b.mu.Lock()
	b.state = auth.ConnectionState{
		IsConnected: true,
		IsInIframe:  handshake.Embedded,
		IsReady:     handshake.Ready,
	}
	b.mu.Unlock()

	go b.readLoop()

	return b, nil
}

var _ auth.FrameBridge = (*Bridge)(nil)

// ConnectionState returns the last state the platform reported.
func (b *Bridge) ConnectionState(ctx context.Context) (auth.ConnectionState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, nil
}

// API returns a handle for one named platform API surface.
func (b *Bridge) API(name string) (auth.FrameAPI, error) {
	if name == "" {
		return nil, fmt.Errorf("frame: api name is required")
	}
	return &apiHandle{bridge: b, name: name}, nil
}

// ExecuteCommand runs a free-form command on the platform.
func (b *Bridge) ExecuteCommand(ctx context.Context, command string) (any, error) {
	return b.call(ctx, frameMessage{Type: "command", Command: command})
}

// Close tears the connection down. Idempotent; pending calls fail with a
// closed-bridge error.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		b.mu.Lock()
		b.state.IsConnected = false
		b.state.IsReady = false
		b.mu.Unlock()
		err = b.conn.Close(websocket.StatusNormalClosure, "done")
	})
	return err
}

type apiHandle struct {
	bridge *Bridge
	name   string
}

func (h *apiHandle) Run(ctx context.Context, method string) (any, error) {
	return h.bridge.call(ctx, frameMessage{Type: "api", API: h.name, Method: method})
}

func (b *Bridge) call(ctx context.Context, msg frameMessage) (any, error) {
	msg.ID = uuid.NewString()
	ch := make(chan response, 1)

	b.mu.Lock()
	b.pending[msg.ID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
	}()

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("frame: request encode failed: %w", err)
	}
	if err := b.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return nil, fmt.Errorf("frame: request write failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.closed:
		return nil, fmt.Errorf("frame: bridge closed")
	case resp := <-ch:
		if resp.err != "" {
			return nil, fmt.Errorf("frame: platform error: %s", resp.err)
		}
		var out any
		if len(resp.result) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(resp.result, &out); err != nil {
			return nil, fmt.Errorf("frame: response decode failed: %w", err)
		}
		return out, nil
	}
}

func (b *Bridge) readLoop() {
	ctx := context.Background()
	for {
		_, data, err := b.conn.Read(ctx)
		if err != nil {
			select {
			case <-b.closed:
			default:
				b.logger.Debug("frame: read loop ended: %v", err)
				_ = b.Close()
			}
			return
		}

		var msg frameMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Debug("frame: dropping malformed message: %v", err)
			continue
		}

		switch msg.Type {
		case "state":
			b.mu.Lock()
			b.state.IsReady = msg.Ready
			b.state.IsNavigatingApp = msg.Navigating
			b.mu.Unlock()
		case "response":
			b.mu.Lock()
			ch, ok := b.pending[msg.ID]
			b.mu.Unlock()
			if ok {
				ch <- response{result: msg.Result, err: msg.Error}
			}
		default:
			b.logger.Debug("frame: ignoring message type %q", msg.Type)
		}
	}
}

func toWebSocketURL(raw string) string {
	if strings.HasPrefix(raw, "https://") {
		return "wss://" + strings.TrimPrefix(raw, "https://")
	}
	if strings.HasPrefix(raw, "http://") {
		return "ws://" + strings.TrimPrefix(raw, "http://")
	}
	return raw
}

type silentLogger struct{}

func (silentLogger) Debug(string, ...any) {}
func (silentLogger) Info(string, ...any)  {}
func (silentLogger) Warn(string, ...any)  {}
func (silentLogger) Error(string, ...any) {}
