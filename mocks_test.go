package auth_test

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	auth "github.com/merkos-302/chabaduniverse-auth-sub000"
)

var errUnknownCall = errors.New("no scripted response")

// MockAdapter implements auth.TransportAdapter
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) LoginWithBearerToken(ctx context.Context, token string) (*auth.AuthResponse, error) {
	args := m.Called(ctx, token)
	resp, _ := args.Get(0).(*auth.AuthResponse)
	return resp, args.Error(1)
}

func (m *MockAdapter) LoginWithCredentials(ctx context.Context, username, password string) (*auth.AuthResponse, error) {
	args := m.Called(ctx, username, password)
	resp, _ := args.Get(0).(*auth.AuthResponse)
	return resp, args.Error(1)
}

func (m *MockAdapter) LoginWithGoogle(ctx context.Context, code string) (*auth.AuthResponse, error) {
	args := m.Called(ctx, code)
	resp, _ := args.Get(0).(*auth.AuthResponse)
	return resp, args.Error(1)
}

func (m *MockAdapter) LoginWithChabadOrg(ctx context.Context, key string) (*auth.AuthResponse, error) {
	args := m.Called(ctx, key)
	resp, _ := args.Get(0).(*auth.AuthResponse)
	return resp, args.Error(1)
}

func (m *MockAdapter) LoginWithCDSSO(ctx context.Context) (*auth.AuthResponse, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(*auth.AuthResponse)
	return resp, args.Error(1)
}

func (m *MockAdapter) GetCurrentUser(ctx context.Context) (*auth.UserRecord, error) {
	args := m.Called(ctx)
	user, _ := args.Get(0).(*auth.UserRecord)
	return user, args.Error(1)
}

func (m *MockAdapter) RefreshToken(ctx context.Context, refreshToken string) (*auth.AuthResponse, error) {
	args := m.Called(ctx, refreshToken)
	resp, _ := args.Get(0).(*auth.AuthResponse)
	return resp, args.Error(1)
}

func (m *MockAdapter) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAdapter) VerifyToken(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

// eventRecorder counts emissions per event name and keeps the last snapshot.
type eventRecorder struct {
	mu     sync.Mutex
	counts map[string]int
	last   map[string]auth.AuthState
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		counts: map[string]int{},
		last:   map[string]auth.AuthState{},
	}
}

func (r *eventRecorder) subscribe(m *auth.Manager, events ...string) {
	for _, event := range events {
		event := event
		m.On(event, func(state auth.AuthState) {
			r.mu.Lock()
			r.counts[event]++
			r.last[event] = state
			r.mu.Unlock()
		})
	}
}

func (r *eventRecorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[event]
}

func (r *eventRecorder) lastState(event string) auth.AuthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[event]
}

// scriptBridge is a scriptable auth.FrameBridge for reconciler tests.
type scriptBridge struct {
	mu       sync.Mutex
	state    auth.ConnectionState
	stateErr error
	apis     map[string]map[string]any
	commands map[string]any
	probes   int
}

func newScriptBridge(state auth.ConnectionState) *scriptBridge {
	return &scriptBridge{
		state:    state,
		apis:     map[string]map[string]any{},
		commands: map[string]any{},
	}
}

func (b *scriptBridge) setState(state auth.ConnectionState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
}

func (b *scriptBridge) setAPIResult(api, method string, result any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.apis[api] == nil {
		b.apis[api] = map[string]any{}
	}
	b.apis[api][method] = result
}

func (b *scriptBridge) setCommandResult(command string, result any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands[command] = result
}

func (b *scriptBridge) probeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.probes
}

func (b *scriptBridge) ConnectionState(ctx context.Context) (auth.ConnectionState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.stateErr
}

func (b *scriptBridge) API(name string) (auth.FrameAPI, error) {
	return &scriptAPI{bridge: b, name: name}, nil
}

func (b *scriptBridge) ExecuteCommand(ctx context.Context, command string) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probes++
	if result, ok := b.commands[command]; ok {
		return result, nil
	}
	return nil, errUnknownCall
}

type scriptAPI struct {
	bridge *scriptBridge
	name   string
}

func (a *scriptAPI) Run(ctx context.Context, method string) (any, error) {
	a.bridge.mu.Lock()
	defer a.bridge.mu.Unlock()
	a.bridge.probes++
	if methods, ok := a.bridge.apis[a.name]; ok {
		if result, ok := methods[method]; ok {
			return result, nil
		}
	}
	return nil, errUnknownCall
}

// captureSink records activity events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *captureSink) Record(ctx context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.EventType)
	}
	return out
}
