package auth

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
)

// ReconcilerState names the phases of one reconciliation cycle.
type ReconcilerState string

const (
	// StateIdle: not in an embeddable context, or retries were stopped
	// because the primary source satisfied the requirement first.
	StateIdle ReconcilerState = "idle"
	// StateAwaitingReady: embedded, waiting for the bridge handshake.
	StateAwaitingReady ReconcilerState = "awaiting_ready"
	// StateAuthenticating: probing the secondary source's identity API.
	StateAuthenticating ReconcilerState = "authenticating"
	// StateRetryPending: last attempt failed, waiting out the retry interval.
	StateRetryPending ReconcilerState = "retry_pending"
	// StateAuthenticated: identity merged; terminal for this cycle.
	StateAuthenticated ReconcilerState = "authenticated"
)

// reconcilerTransitions is the allowed transition graph; anything else is a
// programming error and is logged rather than applied.
var reconcilerTransitions = map[ReconcilerState]map[ReconcilerState]struct{}{
	StateIdle: {
		StateAwaitingReady: {},
	},
	StateAwaitingReady: {
		StateAuthenticating: {},
		StateIdle:           {},
	},
	StateAuthenticating: {
		StateAuthenticated: {},
		StateRetryPending:  {},
		StateIdle:          {},
	},
	StateRetryPending: {
		StateAuthenticating: {},
		StateIdle:           {},
	},
	StateAuthenticated: {},
}

// Reconciler independently authenticates against the secondary identity
// source and merges its result into the Manager's state through the
// designated merge entry point. It retries on a fixed schedule until it
// succeeds, is stopped, or the primary source becomes authenticated on its
// own. Attempt failures are logged, never surfaced: consumers only observe
// "still trying" or "succeeded".
type Reconciler struct {
	manager    *Manager
	bridge     FrameBridge
	cache      IdentityCache
	strategies []ProbeStrategy
	cfg        Config
	logger     Logger
	now        func() time.Time

	mu      sync.Mutex
	state   ReconcilerState
	started bool

	stopCh   chan struct{}
	stopOnce sync.Once
	kick     chan struct{}
	doneCh   chan struct{}
}

// ReconcilerOption customizes Reconciler construction.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger overrides the default logger.
func WithReconcilerLogger(logger Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIdentityCache enables the cached-identity fast path.
func WithIdentityCache(cache IdentityCache) ReconcilerOption {
	return func(r *Reconciler) {
		r.cache = cache
	}
}

// WithStrategies replaces the default probe order.
func WithStrategies(strategies ...ProbeStrategy) ReconcilerOption {
	return func(r *Reconciler) {
		filtered := make([]ProbeStrategy, 0, len(strategies))
		for _, s := range strategies {
			if s != nil {
				filtered = append(filtered, s)
			}
		}
		if len(filtered) > 0 {
			r.strategies = filtered
		}
	}
}

// WithReconcilerClock injects a custom clock (useful for tests).
func WithReconcilerClock(clock func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewReconciler wires a reconciler to a manager and a bridge. cfg is
// normalized before use; call cfg.Validate first if the values come from
// outside. Start begins the cycle; Stop ends it.
func NewReconciler(manager *Manager, bridge FrameBridge, cfg Config, opts ...ReconcilerOption) *Reconciler {
	cfg = cfg.Normalize()
	r := &Reconciler{
		manager: manager,
		bridge:  bridge,
		cfg:     cfg,
		logger:  defLogger{},
		now:     time.Now,
		state:   StateIdle,
		stopCh:  make(chan struct{}),
		kick:    make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
	}
	r.strategies = DefaultStrategies(cfg.IdentityPrefix)

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// State returns the current reconciliation phase.
func (r *Reconciler) State() ReconcilerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start launches the reconciliation loop. Calling Start more than once is a
// no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.run(ctx)
}

// Stop cancels any pending retry timer and ends the loop. Idempotent: a
// second Stop is safe, and no attempt fires after Stop returns has been
// observed through Done.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

// Done is closed once the loop has fully exited.
func (r *Reconciler) Done() <-chan struct{} {
	return r.doneCh
}

// RefreshNow cancels the pending retry wait and re-attempts immediately. If
// the attempt fails and retry conditions still hold, the periodic retry
// re-arms on its own. Outside of a retry wait this is a no-op.
func (r *Reconciler) RefreshNow() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	cs, err := r.bridge.ConnectionState(ctx)
	if err != nil {
		r.logger.Debug("reconciler: connection state unavailable, staying idle: %v", err)
		return
	}
	if !cs.IsInIframe {
		r.logger.Debug("reconciler: not embedded, staying idle")
		return
	}

	// Fast path: seed state from a cached identity while the live probe
	// keeps running and overwrites with fresher data on success.
	if cached := r.cachedIdentity(ctx); cached != nil {
		r.logger.Debug("reconciler: seeding state from cached identity %s", cached.UserID)
		r.manager.MergeSecondaryIdentity(*cached)
	}

	r.transition(StateAwaitingReady)
	if !r.awaitReady(ctx) {
		return
	}

	for {
		r.transition(StateAuthenticating)
		identity, ok := r.attempt(ctx)
		if ok {
			r.manager.MergeSecondaryIdentity(identity)
			r.storeIdentity(ctx, identity)
			r.transition(StateAuthenticated)
			return
		}

		r.transition(StateRetryPending)
		if !r.awaitRetry(ctx) {
			return
		}
	}
}

// awaitReady polls the bridge until the readiness handshake completes.
func (r *Reconciler) awaitReady(ctx context.Context) bool {
	ticker := time.NewTicker(r.cfg.ReadyPollInterval)
	defer ticker.Stop()

	for {
		cs, err := r.bridge.ConnectionState(ctx)
		if err == nil && cs.IsConnected && cs.IsReady {
			return true
		}
		if err != nil {
			r.logger.Debug("reconciler: connection state error while awaiting ready: %v", err)
		}

		select {
		case <-r.stopCh:
			r.transition(StateIdle)
			return false
		case <-ctx.Done():
			r.transition(StateIdle)
			return false
		case <-ticker.C:
		}
	}
}

// awaitRetry waits out the retry interval. It returns false when the loop
// should end: stop/teardown, or the primary source authenticated in the
// interim. While the embedding app reports navigation in progress the wait
// re-arms without consuming an attempt.
func (r *Reconciler) awaitRetry(ctx context.Context) bool {
	timer := time.NewTimer(r.cfg.RetryInterval)
	defer timer.Stop()

	for {
		select {
		case <-r.stopCh:
			return false
		case <-ctx.Done():
			return false
		case <-r.kick:
			return true
		case <-timer.C:
			if r.manager.primaryAuthenticated() {
				r.logger.Debug("reconciler: primary source authenticated, stopping retries")
				r.transition(StateIdle)
				return false
			}
			cs, err := r.bridge.ConnectionState(ctx)
			if err == nil && cs.IsNavigatingApp {
				// The app may be unmounting; re-check later instead of
				// spending the retry budget.
				timer.Reset(r.cfg.NavigationRecheck)
				continue
			}
			return true
		}
	}
}

// attempt runs the probe strategies in order; the first valid identity wins.
func (r *Reconciler) attempt(ctx context.Context) (SecondaryIdentity, bool) {
	for _, strategy := range r.strategies {
		select {
		case <-r.stopCh:
			return SecondaryIdentity{}, false
		default:
		}

		result, err := strategy.Probe(ctx, r.bridge)
		if err != nil {
			r.logger.Debug("reconciler: probe %s failed: %v", strategy.Name(), err)
			continue
		}
		if result.Found {
			result.Identity.FetchedAt = r.now()
			return result.Identity, true
		}
		r.logger.Debug("reconciler: probe %s returned no identity", strategy.Name())
	}
	return SecondaryIdentity{}, false
}

func (r *Reconciler) cachedIdentity(ctx context.Context) *SecondaryIdentity {
	if r.cache == nil {
		return nil
	}
	identity, err := r.cache.Get(ctx, r.cacheKey())
	if err != nil {
		r.logger.Debug("reconciler: identity cache read error: %v", err)
		return nil
	}
	if identity == nil {
		return nil
	}
	// Cache entries are validated the same way live responses are; a
	// corrupted entry is dropped, not surfaced.
	if !validSecondaryID(identity.UserID, r.cfg.IdentityPrefix) {
		_ = r.cache.Remove(ctx, r.cacheKey())
		return nil
	}
	return identity
}

func (r *Reconciler) storeIdentity(ctx context.Context, identity SecondaryIdentity) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Put(ctx, r.cacheKey(), identity); err != nil {
		r.logger.Debug("reconciler: identity cache write error: %v", err)
	}
}

// cacheKey derives a stable key from the app id so embedding apps sharing a
// storage medium stay isolated.
func (r *Reconciler) cacheKey() string {
	if id, err := hashid.NewUUID("secondary-identity:" + r.cfg.AppID); err == nil {
		return id.String()
	}
	return "secondary-identity:" + r.cfg.AppID
}

func (r *Reconciler) transition(to ReconcilerState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == to {
		return
	}
	if _, ok := reconcilerTransitions[r.state][to]; !ok {
		r.logger.Warn("reconciler: invalid transition %s -> %s", r.state, to)
		return
	}
	r.logger.Debug("reconciler: %s -> %s", r.state, to)
	r.state = to
}
