package auth

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Manager is the authentication state manager: the single source of truth
// for AuthState. It mediates every login variant, logout, token refresh, and
// the startup session restore, persists credentials through the TokenStore,
// and notifies subscribers after every mutation.
//
// Concurrent mutating calls are legal and deliberately not mutually
// exclusive: each call takes a sequence number at entry and its completion is
// only applied while it is still the most recent call. A superseded call
// still resolves or fails to its own caller but leaves shared state alone.
type Manager struct {
	mu          sync.Mutex
	state       AuthState
	primaryUser *UserRecord
	secondary   *SecondaryIdentity
	seq         uint64

	tokens   TokenStore
	adapter  TransportAdapter
	events   *dispatcher
	logger   Logger
	activity ActivitySink
	now      func() time.Time

	initDone chan struct{}
}

// ManagerOption customizes Manager construction.
type ManagerOption func(*Manager)

// WithLogger overrides the default logger.
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithActivitySink configures an ActivitySink for auth outcome events.
func WithActivitySink(sink ActivitySink) ManagerOption {
	return func(m *Manager) {
		m.activity = normalizeActivitySink(sink)
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// NewManager constructs a manager and immediately begins the startup restore
// sequence in the background: read the stored token, verify it, fetch the
// current user, or degrade to unauthenticated. Restore never fails loudly;
// use WaitForInit to observe completion.
func NewManager(tokens TokenStore, adapter TransportAdapter, opts ...ManagerOption) *Manager {
	m := &Manager{
		tokens:   tokens,
		adapter:  adapter,
		logger:   defLogger{},
		activity: noopActivitySink{},
		now:      time.Now,
		initDone: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.events = newDispatcher(m.logger)

	go m.initialize(context.Background())

	return m
}

// On registers a handler for one of the Event* names and returns a
// subscription id for Off.
func (m *Manager) On(event string, handler EventHandler) string {
	return m.events.on(event, handler)
}

// Off removes a previously registered handler.
func (m *Manager) Off(event, id string) {
	m.events.off(event, id)
}

// GetState returns an immutable snapshot of the current state.
func (m *Manager) GetState() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// WaitForInit blocks until the startup restore sequence has completed.
func (m *Manager) WaitForInit(ctx context.Context) error {
	select {
	case <-m.initDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoginWithBearerToken exchanges a bearer token for a session.
func (m *Manager) LoginWithBearerToken(ctx context.Context, token string) error {
	return m.runLogin(ctx, "bearer", func(ctx context.Context) (*AuthResponse, error) {
		return m.adapter.LoginWithBearerToken(ctx, token)
	})
}

// LoginWithCredentials authenticates with a username and password.
func (m *Manager) LoginWithCredentials(ctx context.Context, username, password string) error {
	return m.runLogin(ctx, "credentials", func(ctx context.Context) (*AuthResponse, error) {
		return m.adapter.LoginWithCredentials(ctx, username, password)
	})
}

// LoginWithGoogle authenticates with a Google OAuth authorization code.
func (m *Manager) LoginWithGoogle(ctx context.Context, code string) error {
	return m.runLogin(ctx, "google", func(ctx context.Context) (*AuthResponse, error) {
		return m.adapter.LoginWithGoogle(ctx, code)
	})
}

// LoginWithChabadOrg authenticates with a Chabad.org SSO key.
func (m *Manager) LoginWithChabadOrg(ctx context.Context, key string) error {
	return m.runLogin(ctx, "chabadorg", func(ctx context.Context) (*AuthResponse, error) {
		return m.adapter.LoginWithChabadOrg(ctx, key)
	})
}

// LoginWithCDSSO authenticates through the cross-domain SSO cookie exchange.
func (m *Manager) LoginWithCDSSO(ctx context.Context) error {
	return m.runLogin(ctx, "cdsso", func(ctx context.Context) (*AuthResponse, error) {
		return m.adapter.LoginWithCDSSO(ctx)
	})
}

// Refresh rotates the session using the stored refresh token. Failures are
// treated like failed logins: state is cleared, the error recorded, emitted,
// and returned.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	refreshToken := m.state.RefreshToken
	m.mu.Unlock()

	if refreshToken == "" {
		if stored, err := m.tokens.GetRefreshToken(ctx); err == nil {
			refreshToken = stored
		}
	}
	if refreshToken == "" {
		return ErrTokenInvalid
	}

	return m.runLogin(ctx, "refresh", func(ctx context.Context) (*AuthResponse, error) {
		return m.adapter.RefreshToken(ctx, refreshToken)
	})
}

// Logout ends the primary session. The adapter round trip is best effort:
// its failure is recorded and emitted but never prevents local cleanup, so
// the caller always ends up logged out. Calling Logout with no primary
// session is a no-op.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Token == "" && m.primaryUser == nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	seq := m.beginMutation()

	if err := m.adapter.Logout(ctx); err != nil {
		richErr := normalizeAuthError(err)
		m.logger.Warn("logout round trip failed, clearing local session anyway: %v", err)
		m.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventLogoutFailure,
			Metadata:  map[string]any{"error": richErr.Message},
		})
		m.emitWhenCurrent(seq, EventError, func(state *AuthState) {
			state.Error = richErr
		})
	}

	// A logout superseded by a newer login must not wipe that login's
	// persisted tokens; the store follows the same most-recent-wins rule as
	// the state.
	m.mu.Lock()
	superseded := seq != m.seq
	m.mu.Unlock()
	if superseded {
		return nil
	}

	if err := m.tokens.RemoveToken(ctx); err != nil {
		m.logger.Warn("token store remove error: %v", err)
	}
	if err := m.tokens.RemoveRefreshToken(ctx); err != nil {
		m.logger.Warn("token store remove refresh error: %v", err)
	}

	m.mu.Lock()
	if seq == m.seq {
		userID := ""
		if m.primaryUser != nil {
			userID = m.primaryUser.ID
		}
		m.primaryUser = nil
		m.state.Token = ""
		m.state.RefreshToken = ""
		m.state.ExpiresAt = nil
		m.state.Error = nil
		// Secondary auth is an independent axis: it survives primary logout
		// and keeps IsAuthenticated true on its own.
		m.state.IsAuthenticated = m.secondary != nil
		m.rebuildUserLocked()
		snap := m.state.clone()
		m.mu.Unlock()

		m.events.emit(EventLogout, snap)
		m.events.emit(EventStateChange, snap)
		m.recordActivity(ctx, ActivityEvent{EventType: ActivityEventLogout, UserID: userID})
	} else {
		m.mu.Unlock()
	}

	m.endMutation(seq)
	return nil
}

// MergeSecondaryIdentity is the designated entry point through which the
// Reconciler (or an embedding host) contributes a secondary identity. The
// write is additive: it never clears the token, refresh token, or the primary
// user's identity fields. With no primary token present, a secondary identity
// alone is sufficient for IsAuthenticated.
func (m *Manager) MergeSecondaryIdentity(identity SecondaryIdentity) {
	m.mu.Lock()
	id := identity
	m.secondary = &id
	m.state.SecondaryAuthenticated = true
	m.state.SecondaryUserID = identity.UserID
	if m.state.Token == "" && m.primaryUser == nil {
		m.state.IsAuthenticated = true
	}
	m.rebuildUserLocked()
	snap := m.state.clone()
	m.mu.Unlock()

	m.events.emit(EventStateChange, snap)
	m.recordActivity(context.Background(), ActivityEvent{
		EventType: ActivityEventSecondaryMerged,
		UserID:    identity.UserID,
	})
}

// ClearSecondaryIdentity removes the secondary identity and every field it
// contributed; the primary session, if any, is untouched. A later secondary
// login re-merges fresh fields rather than inheriting stale ones.
func (m *Manager) ClearSecondaryIdentity() {
	m.mu.Lock()
	if m.secondary == nil {
		m.mu.Unlock()
		return
	}
	userID := m.secondary.UserID
	m.secondary = nil
	m.state.SecondaryAuthenticated = false
	m.state.SecondaryUserID = ""
	if m.state.Token == "" {
		m.state.IsAuthenticated = false
	}
	m.rebuildUserLocked()
	snap := m.state.clone()
	m.mu.Unlock()

	m.events.emit(EventStateChange, snap)
	m.recordActivity(context.Background(), ActivityEvent{
		EventType: ActivityEventSecondaryCleared,
		UserID:    userID,
	})
}

func (m *Manager) primaryAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Token != ""
}

type adapterCall func(ctx context.Context) (*AuthResponse, error)

// runLogin is the shared pre/post protocol for every login variant and for
// refresh: mark loading and clear the previous error, call the adapter,
// persist tokens before touching state on success, clear everything and
// re-return the error on failure, and always emit one final state change
// once loading drops.
func (m *Manager) runLogin(ctx context.Context, method string, call adapterCall) error {
	seq := m.beginMutation()

	resp, err := call(ctx)
	if err == nil && (resp == nil || resp.Token == "") {
		err = goerrors.New("adapter returned an empty auth response", goerrors.CategoryInternal).
			WithTextCode(TextCodeUnknown).
			WithCode(goerrors.CodeInternal)
	}

	if err != nil {
		richErr := normalizeAuthError(err)
		m.failLogin(ctx, seq, method, richErr)
		m.endMutation(seq)
		return richErr
	}

	// A superseded call must not overwrite the newer call's persisted
	// tokens either; the store follows the same most-recent-wins rule.
	m.mu.Lock()
	superseded := seq != m.seq
	m.mu.Unlock()
	if superseded {
		return nil
	}

	// Persist before the state write so a crash between the two leaves the
	// durable session ahead of the in-memory one, never behind it.
	if storeErr := m.tokens.SetToken(ctx, resp.Token); storeErr != nil {
		m.logger.Warn("token store write error: %v", storeErr)
	}
	if resp.RefreshToken != "" {
		if storeErr := m.tokens.SetRefreshToken(ctx, resp.RefreshToken); storeErr != nil {
			m.logger.Warn("refresh token store write error: %v", storeErr)
		}
	}

	m.completeLogin(ctx, seq, method, resp)
	m.endMutation(seq)
	return nil
}

// beginMutation issues a new call sequence number, marks the state loading,
// clears the previous error, and emits a state change.
func (m *Manager) beginMutation() uint64 {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.state.IsLoading = true
	m.state.Error = nil
	snap := m.state.clone()
	m.mu.Unlock()

	m.events.emit(EventStateChange, snap)
	return seq
}

// endMutation drops the loading flag and emits, unless a newer call owns the
// state now.
func (m *Manager) endMutation(seq uint64) {
	m.mu.Lock()
	if seq != m.seq {
		m.mu.Unlock()
		return
	}
	m.state.IsLoading = false
	snap := m.state.clone()
	m.mu.Unlock()

	m.events.emit(EventStateChange, snap)
}

func (m *Manager) completeLogin(ctx context.Context, seq uint64, method string, resp *AuthResponse) {
	m.mu.Lock()
	if seq != m.seq {
		m.mu.Unlock()
		m.logger.Debug("%s login superseded by a newer call, dropping its state write", method)
		return
	}

	m.primaryUser = resp.User.Clone()
	m.state.IsAuthenticated = true
	m.state.Token = resp.Token
	if resp.RefreshToken != "" {
		m.state.RefreshToken = resp.RefreshToken
	}
	m.state.ExpiresAt = nil
	if resp.ExpiresIn > 0 {
		expiresAt := m.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
		m.state.ExpiresAt = &expiresAt
	}
	m.state.Error = nil
	m.rebuildUserLocked()
	snap := m.state.clone()
	m.mu.Unlock()

	m.events.emit(EventLogin, snap)
	m.events.emit(EventStateChange, snap)

	userID := ""
	if resp.User != nil {
		userID = resp.User.ID
	}
	eventType := ActivityEventLoginSuccess
	if method == "refresh" {
		eventType = ActivityEventTokenRefreshed
	}
	m.recordActivity(ctx, ActivityEvent{EventType: eventType, UserID: userID, Method: method})
}

func (m *Manager) failLogin(ctx context.Context, seq uint64, method string, richErr *goerrors.Error) {
	m.mu.Lock()
	if seq != m.seq {
		m.mu.Unlock()
		m.logger.Debug("%s login superseded by a newer call, dropping its state write", method)
		return
	}

	m.primaryUser = nil
	m.state.IsAuthenticated = m.secondary != nil
	m.state.Token = ""
	m.state.RefreshToken = ""
	m.state.ExpiresAt = nil
	m.state.Error = richErr
	m.rebuildUserLocked()
	snap := m.state.clone()
	m.mu.Unlock()

	m.events.emit(EventError, snap)
	m.events.emit(EventStateChange, snap)
	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Method:    method,
		Metadata:  map[string]any{"error": richErr.Message, "code": richErr.TextCode},
	})
}

// initialize restores a persisted session: a stored token is verified with
// the backend and exchanged for the current user. Any failure degrades to
// "unauthenticated, initialized" — an unverifiable stored token is
// indistinguishable from never having logged in, so nothing here ever lands
// in AuthState.Error or escapes to a caller.
func (m *Manager) initialize(ctx context.Context) {
	defer m.finishInit()

	token, err := m.tokens.GetToken(ctx)
	if err != nil {
		m.logger.Warn("session restore: token store read error: %v", err)
		return
	}
	if token == "" {
		return
	}

	// JWT-shaped tokens whose exp already passed are discarded without a
	// network round trip.
	if expiresAt, ok := tokenExpiry(token); ok && !expiresAt.After(m.now()) {
		m.logger.Info("session restore: stored token expired, discarding")
		m.discardStoredToken(ctx, "expired")
		return
	}

	valid, err := m.adapter.VerifyToken(ctx, token)
	if err != nil {
		m.logger.Warn("session restore: token verification error: %v", err)
		m.discardStoredToken(ctx, "verify_error")
		return
	}
	if !valid {
		m.logger.Info("session restore: stored token rejected")
		m.discardStoredToken(ctx, "rejected")
		return
	}

	user, err := m.adapter.GetCurrentUser(ctx)
	if err != nil {
		m.logger.Warn("session restore: current user fetch error: %v", err)
		m.discardStoredToken(ctx, "user_fetch_error")
		return
	}

	refreshToken, err := m.tokens.GetRefreshToken(ctx)
	if err != nil {
		m.logger.Warn("session restore: refresh token read error: %v", err)
	}

	m.mu.Lock()
	// A login issued while restore was in flight owns the state now.
	if m.seq != 0 {
		m.mu.Unlock()
		m.logger.Debug("session restore superseded by an explicit login")
		return
	}
	m.primaryUser = user.Clone()
	m.state.IsAuthenticated = true
	m.state.Token = token
	m.state.RefreshToken = refreshToken
	if expiresAt, ok := tokenExpiry(token); ok {
		m.state.ExpiresAt = &expiresAt
	}
	m.rebuildUserLocked()
	snap := m.state.clone()
	m.mu.Unlock()

	m.events.emit(EventStateChange, snap)

	userID := ""
	if user != nil {
		userID = user.ID
	}
	m.recordActivity(ctx, ActivityEvent{EventType: ActivityEventSessionRestored, UserID: userID})
}

func (m *Manager) discardStoredToken(ctx context.Context, reason string) {
	if err := m.tokens.RemoveToken(ctx); err != nil {
		m.logger.Warn("session restore: token store remove error: %v", err)
	}
	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventSessionRejected,
		Metadata:  map[string]any{"reason": reason},
	})
}

func (m *Manager) finishInit() {
	m.mu.Lock()
	m.state.IsInitialized = true
	snap := m.state.clone()
	m.mu.Unlock()

	m.events.emit(EventStateChange, snap)
	close(m.initDone)
}

// emitWhenCurrent emits event with a mutated copy of the current snapshot
// without committing the mutation, used to surface observability-only errors.
func (m *Manager) emitWhenCurrent(seq uint64, event string, mutate func(*AuthState)) {
	m.mu.Lock()
	if seq != m.seq {
		m.mu.Unlock()
		return
	}
	snap := m.state.clone()
	m.mu.Unlock()

	if mutate != nil {
		mutate(&snap)
	}
	m.events.emit(event, snap)
}

// rebuildUserLocked recomputes the presented user from the primary record
// plus the secondary overlay. Callers hold m.mu.
func (m *Manager) rebuildUserLocked() {
	var user *UserRecord
	if m.primaryUser != nil {
		user = m.primaryUser.Clone()
	}
	if m.secondary != nil {
		if user == nil {
			user = &UserRecord{}
		}
		mergeSecondaryFields(user, *m.secondary)
	}
	m.state.User = user
}

func (m *Manager) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}
	if err := m.activity.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink record error: %v", err)
	}
}
