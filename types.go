package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// UserRecord is the profile carried in AuthState. It may be a merge of the
// primary provider's identity and display fields layered in from the
// secondary source; identity fields (ID, Email) are always owned by whichever
// source established them first.
type UserRecord struct {
	ID          string
	Email       string
	Username    string
	DisplayName string
	AvatarURL   string
	Roles       []string
	Metadata    map[string]any
}

// Clone returns a deep copy safe to hand to callers.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	out := *u
	if u.Roles != nil {
		out.Roles = append([]string(nil), u.Roles...)
	}
	if u.Metadata != nil {
		out.Metadata = make(map[string]any, len(u.Metadata))
		for k, v := range u.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// AuthResponse is the normalized result of every transport login operation.
type AuthResponse struct {
	User         *UserRecord
	Token        string
	RefreshToken string
	// ExpiresIn is the token lifetime in seconds, zero when the backend does
	// not report one.
	ExpiresIn int64
}

// TokenStore persists the access and refresh tokens across manager restarts.
// Implementations return empty strings (never an error) when a value is
// absent, and must be safe for concurrent use. An implementation with no
// usable storage medium should no-op rather than fail.
type TokenStore interface {
	GetToken(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	RemoveToken(ctx context.Context) error
	GetRefreshToken(ctx context.Context) (string, error)
	SetRefreshToken(ctx context.Context, token string) error
	RemoveRefreshToken(ctx context.Context) error
}

// TransportAdapter performs the network round trips against a concrete
// backend. One call is one round trip; the adapter maps backend-specific
// error payloads onto the taxonomy in errors.go and never leaks wire details
// to the manager.
type TransportAdapter interface {
	LoginWithBearerToken(ctx context.Context, token string) (*AuthResponse, error)
	LoginWithCredentials(ctx context.Context, username, password string) (*AuthResponse, error)
	LoginWithGoogle(ctx context.Context, code string) (*AuthResponse, error)
	LoginWithChabadOrg(ctx context.Context, key string) (*AuthResponse, error)
	LoginWithCDSSO(ctx context.Context) (*AuthResponse, error)
	GetCurrentUser(ctx context.Context) (*UserRecord, error)
	RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error)
	Logout(ctx context.Context) error
	VerifyToken(ctx context.Context, token string) (bool, error)
}

// ConnectionState describes the secondary source's readiness handshake.
type ConnectionState struct {
	IsConnected     bool
	IsReady         bool
	IsInIframe      bool
	IsNavigatingApp bool
}

// FrameAPI is a handle to one named API surface exposed by the embedding
// platform. Run invokes a method by name; the response shape is not
// guaranteed, callers probe it through the strategies in strategies.go.
type FrameAPI interface {
	Run(ctx context.Context, method string) (any, error)
}

// FrameBridge is the secondary identity source adapter consumed by the
// Reconciler. frame.Bridge is the shipped websocket implementation.
type FrameBridge interface {
	ConnectionState(ctx context.Context) (ConnectionState, error)
	API(name string) (FrameAPI, error)
	ExecuteCommand(ctx context.Context, command string) (any, error)
}

// SecondaryIdentity is the display identity the secondary source
// contributes. It never carries tokens.
type SecondaryIdentity struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	Roles       []string
	FetchedAt   time.Time
}

// IdentityCache stores a short-lived copy of the secondary identity so an
// embedded session can be seeded without waiting for the frame handshake.
// Get returns (nil, nil) for absent, expired, or structurally invalid
// entries; corruption is dropped, never surfaced.
type IdentityCache interface {
	Get(ctx context.Context, key string) (*SecondaryIdentity, error)
	Put(ctx context.Context, key string, identity SecondaryIdentity) error
	Remove(ctx context.Context, key string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(format string) string {
	if strings.HasSuffix(format, "\n") {
		return format
	}
	return format + "\n"
}
