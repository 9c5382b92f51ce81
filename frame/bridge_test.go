package frame_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merkos-302/chabaduniverse-auth-sub000/frame"
)

type wireMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	API     string `json:"api,omitempty"`
	Method  string `json:"method,omitempty"`
	Command string `json:"command,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`

	Embedded   bool `json:"embedded,omitempty"`
	Ready      bool `json:"ready,omitempty"`
	Navigating bool `json:"navigating,omitempty"`
}

// fakePlatform is a websocket server that speaks the frame protocol.
type fakePlatform struct {
	handshake wireMessage
	handle    func(msg wireMessage) *wireMessage
	pushes    chan wireMessage
}

func newFakePlatform(embedded, ready bool) *fakePlatform {
	return &fakePlatform{
		handshake: wireMessage{Type: "handshake", Embedded: embedded, Ready: ready},
		pushes:    make(chan wireMessage, 8),
	}
}

func (p *fakePlatform) serve(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx := r.Context()

		write := func(msg wireMessage) bool {
			data, err := json.Marshal(msg)
			if err != nil {
				return false
			}
			return conn.Write(ctx, websocket.MessageText, data) == nil
		}

		if !write(p.handshake) {
			return
		}

		requests := make(chan wireMessage)
		go func() {
			defer close(requests)
			for {
				_, data, err := conn.Read(ctx)
				if err != nil {
					return
				}
				var msg wireMessage
				if json.Unmarshal(data, &msg) == nil {
					requests <- msg
				}
			}
		}()

		for {
			select {
			case push := <-p.pushes:
				if !write(push) {
					return
				}
			case msg, ok := <-requests:
				if !ok {
					return
				}
				if p.handle == nil {
					continue
				}
				if reply := p.handle(msg); reply != nil {
					reply.ID = msg.ID
					reply.Type = "response"
					if !write(*reply) {
						return
					}
				}
			}
		}
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func dialPlatform(t *testing.T, p *fakePlatform) *frame.Bridge {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bridge, err := frame.Dial(ctx, p.serve(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bridge.Close() })
	return bridge
}

func TestDialHandshake(t *testing.T) {
	bridge := dialPlatform(t, newFakePlatform(true, true))

	state, err := bridge.ConnectionState(context.Background())
	require.NoError(t, err)
	assert.True(t, state.IsConnected)
	assert.True(t, state.IsInIframe)
	assert.True(t, state.IsReady)
	assert.False(t, state.IsNavigatingApp)
}

func TestDialTopLevelHost(t *testing.T) {
	bridge := dialPlatform(t, newFakePlatform(false, true))

	state, err := bridge.ConnectionState(context.Background())
	require.NoError(t, err)
	assert.True(t, state.IsConnected)
	assert.False(t, state.IsInIframe)
}

func TestDialRejectsNonHandshake(t *testing.T) {
	platform := newFakePlatform(true, true)
	platform.handshake = wireMessage{Type: "state", Ready: true}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := frame.Dial(ctx, platform.serve(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake")
}

func TestAPIRun(t *testing.T) {
	platform := newFakePlatform(true, true)
	platform.handle = func(msg wireMessage) *wireMessage {
		if msg.Type == "api" && msg.API == "user" && msg.Method == "getCurrentUser" {
			return &wireMessage{Result: map[string]any{"id": "cdu:42", "displayName": "Sarah"}}
		}
		return &wireMessage{Error: "unknown api"}
	}
	bridge := dialPlatform(t, platform)

	api, err := bridge.API("user")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := api.Run(ctx, "getCurrentUser")
	require.NoError(t, err)

	obj, ok := raw.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cdu:42", obj["id"])
	assert.Equal(t, "Sarah", obj["displayName"])
}

func TestAPIRequiresName(t *testing.T) {
	bridge := dialPlatform(t, newFakePlatform(true, true))
	_, err := bridge.API("")
	assert.Error(t, err)
}

func TestExecuteCommand(t *testing.T) {
	platform := newFakePlatform(true, true)
	platform.handle = func(msg wireMessage) *wireMessage {
		if msg.Type == "command" && msg.Command == "universe.user.current" {
			return &wireMessage{Result: map[string]any{"user": map[string]any{"id": "cdu:7"}}}
		}
		return &wireMessage{Error: "unknown command"}
	}
	bridge := dialPlatform(t, platform)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := bridge.ExecuteCommand(ctx, "universe.user.current")
	require.NoError(t, err)
	obj, ok := raw.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, obj, "user")
}

func TestPlatformErrorPropagates(t *testing.T) {
	platform := newFakePlatform(true, true)
	platform.handle = func(msg wireMessage) *wireMessage {
		return &wireMessage{Error: "not signed in"}
	}
	bridge := dialPlatform(t, platform)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := bridge.ExecuteCommand(ctx, "universe.user.current")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not signed in")
}

func TestStateFramesUpdateConnectionState(t *testing.T) {
	platform := newFakePlatform(true, false)
	bridge := dialPlatform(t, platform)

	state, err := bridge.ConnectionState(context.Background())
	require.NoError(t, err)
	require.False(t, state.IsReady)

	platform.pushes <- wireMessage{Type: "state", Ready: true, Navigating: true}

	require.Eventually(t, func() bool {
		state, err := bridge.ConnectionState(context.Background())
		return err == nil && state.IsReady && state.IsNavigatingApp
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	bridge := dialPlatform(t, newFakePlatform(true, true))

	require.NoError(t, bridge.Close())
	_ = bridge.Close()

	state, err := bridge.ConnectionState(context.Background())
	require.NoError(t, err)
	assert.False(t, state.IsConnected)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = bridge.ExecuteCommand(ctx, "anything")
	assert.Error(t, err)
}
