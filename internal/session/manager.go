// Package session owns the operator's session lifecycle: boot-time
// restoration and verification, login/logout transitions, forced password
// change, token expiration handling, and the durable store + cookie mirror
// that every other layer reads through.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"dw-console-gateway/internal/event"
	"dw-console-gateway/internal/model"
	"dw-console-gateway/internal/store"
	"dw-console-gateway/internal/upstream"
)

// Backend is the slice of the upstream API the manager needs. The concrete
// client lives in internal/upstream.
type Backend interface {
	Login(ctx context.Context, username, password, recaptchaToken string) (upstream.LoginResult, error)
	VerifyToken(ctx context.Context, token string) (bool, error)
	LicenseStatus(ctx context.Context) (model.LicenseStatus, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) (string, error)
	ChangePassword(ctx context.Context, token, newPassword string) (string, error)
}

type Options struct {
	// VerifyMaxTries bounds boot-time verification attempts; only transport
	// failures are retried, a definitive rejection stops immediately.
	VerifyMaxTries      uint
	VerifyRetryInterval time.Duration
	// LicensePollInterval refreshes the cached license status while
	// authenticated. Zero disables polling.
	LicensePollInterval time.Duration
	// IdleTimeout expires a session with no guarded activity. Zero disables.
	IdleTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.VerifyMaxTries == 0 {
		o.VerifyMaxTries = 3
	}
	if o.VerifyRetryInterval <= 0 {
		o.VerifyRetryInterval = 500 * time.Millisecond
	}
}

const licenseCheckFailedMessage = "Failed to check license status"

var errTokenRejected = errors.New("token rejected by backend")

// Manager is the session state machine. All state transitions happen under
// one mutex, and every transition bumps a generation counter so async
// completions (license checks, profile persists) started against an earlier
// session are discarded instead of resurrecting cleared state.
type Manager struct {
	backend Backend
	store   store.SessionStore
	bus     event.Bus
	opts    Options

	mu           sync.Mutex
	phase        model.Phase
	token        string
	user         *model.User
	license      *model.LicenseStatus
	generation   uint64
	lastActivity time.Time
}

func NewManager(backend Backend, sessions store.SessionStore, bus event.Bus, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		backend: backend,
		store:   sessions,
		bus:     bus,
		opts:    opts,
		phase:   model.PhaseUninitialized,
	}
}

// Initialize restores a persisted session, verifying its token with the
// backend before trusting it. Loading stays true for the entire call and
// flips false exactly once, whichever way the boot resolves. Safe to call
// once; later calls are no-ops.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.phase != model.PhaseUninitialized {
		m.mu.Unlock()
		return
	}
	m.phase = model.PhaseInitializing
	m.mu.Unlock()

	rec, ok, err := m.store.Load(ctx)
	if err != nil {
		slog.Warn("session state unreadable at boot", "error", err)
		ok = false
	}

	if !ok {
		m.clear(ctx, "")
		slog.Info("no persisted session, starting anonymous")
		return
	}

	if tokenExpired(rec.Token) {
		m.clear(ctx, event.TypeSessionExpired)
		slog.Info("persisted token expired, starting anonymous")
		return
	}

	if !m.verifyWithRetry(ctx, rec.Token) {
		m.clear(ctx, event.TypeSessionExpired)
		slog.Info("persisted token rejected, starting anonymous")
		return
	}

	m.mu.Lock()
	m.generation++
	m.phase = model.PhaseAuthenticated
	m.token = rec.Token
	m.user = rec.User.Clone()
	m.license = rec.License
	m.lastActivity = time.Now()
	m.mu.Unlock()

	m.publish(event.TypeSessionRestored, rec.User.Clone())
	slog.Info("session restored", "username", rec.User.Username)
}

// Loading reports whether boot has not yet resolved. Consumers must not make
// guard decisions on user state while this is true.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == model.PhaseUninitialized || m.phase == model.PhaseInitializing
}

func (m *Manager) Phase() model.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Token returns the current bearer token, empty when anonymous.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *Manager) Snapshot() model.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := model.Snapshot{
		Phase:   m.phase,
		Loading: m.phase == model.PhaseUninitialized || m.phase == model.PhaseInitializing,
		User:    m.user.Clone(),
	}
	if m.license != nil {
		lic := *m.license
		snap.License = &lic
	}
	snap.NeedsPasswordChange = m.user != nil && m.user.ChangePassword
	return snap
}

func (m *Manager) NeedsPasswordChange() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user != nil && m.user.ChangePassword
}

// License returns the cached license status, nil when none has been fetched.
func (m *Manager) License() *model.LicenseStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.license == nil {
		return nil
	}
	lic := *m.license
	return &lic
}

// Login authenticates against the backend. On success the session is
// persisted before this returns, so an immediately following navigation
// observes a consistent store. On failure nothing is touched.
func (m *Manager) Login(ctx context.Context, username, password, recaptchaToken string) model.Result {
	res, err := m.backend.Login(ctx, username, password, recaptchaToken)
	if err != nil {
		return model.Fail(messageOf(err))
	}

	m.mu.Lock()
	rec := store.Record{Token: res.Token, User: res.User.Clone(), SavedAt: time.Now().UTC()}
	if err := m.store.Save(ctx, rec); err != nil {
		m.mu.Unlock()
		slog.Error("failed to persist session after login", "error", err)
		return model.Fail("failed to persist session")
	}
	m.generation++
	gen := m.generation
	m.phase = model.PhaseAuthenticated
	m.token = res.Token
	m.user = res.User.Clone()
	m.license = nil
	m.lastActivity = time.Now()
	m.mu.Unlock()

	m.publish(event.TypeSessionAuthenticated, res.User.Clone())
	slog.Info("login succeeded", "username", res.User.Username)

	// License outcome never affects the login result; the check runs behind
	// it and its completion is generation-guarded.
	go m.refreshLicense(context.WithoutCancel(ctx), gen)

	return model.OK("")
}

// Logout clears the persisted and in-memory session. Idempotent.
func (m *Manager) Logout(ctx context.Context) {
	m.clear(ctx, event.TypeSessionCleared)
}

// HandleTokenExpiration is the single funnel for involuntary logout: failed
// boot verification, a 401 surfaced by the proxy, a locally expired token,
// or idle timeout. Safe to call concurrently and repeatedly.
func (m *Manager) HandleTokenExpiration(ctx context.Context) {
	m.clear(ctx, event.TypeSessionExpired)
}

// ForgotPassword relays a reset request. The backend answers uniformly for
// known and unknown addresses; nothing here may distinguish the two.
func (m *Manager) ForgotPassword(ctx context.Context, email string) model.Result {
	msg, err := m.backend.ForgotPassword(ctx, email)
	if err != nil {
		return model.Fail(messageOf(err))
	}
	return model.OK(msg)
}

// ResetPassword completes an emailed reset; the server's verdict is relayed
// verbatim.
func (m *Manager) ResetPassword(ctx context.Context, token, newPassword string) model.Result {
	msg, err := m.backend.ResetPassword(ctx, token, newPassword)
	if err != nil {
		return model.Fail(messageOf(err))
	}
	return model.OK(msg)
}

// ChangePasswordAfterLogin sets a new password for the current user and, on
// success, exits the forced-change state locally and in the store. On
// failure nothing changes.
func (m *Manager) ChangePasswordAfterLogin(ctx context.Context, newPassword string) model.Result {
	m.mu.Lock()
	if m.phase != model.PhaseAuthenticated || m.user == nil {
		m.mu.Unlock()
		return model.Fail(model.ErrNotAuthenticated.Error())
	}
	token := m.token
	gen := m.generation
	m.mu.Unlock()

	msg, err := m.backend.ChangePassword(ctx, token, newPassword)
	if err != nil {
		return model.Fail(messageOf(err))
	}

	m.mu.Lock()
	applied := m.generation == gen && m.user != nil
	if applied {
		m.user.ChangePassword = false
		if err := m.persistLocked(ctx); err != nil {
			slog.Error("failed to persist password-change state", "error", err)
		}
	}
	m.mu.Unlock()

	if applied {
		m.publish(event.TypePasswordChanged, nil)
	}
	return model.OK(msg)
}

// UpdateUserProfile merges a partial update into the cached user and
// persists it. This is an optimistic cache update: the authoritative server
// write happens through the proxied profile endpoint, not here.
func (m *Manager) UpdateUserProfile(ctx context.Context, update model.ProfileUpdate) model.Result {
	m.mu.Lock()
	if m.phase != model.PhaseAuthenticated || m.user == nil {
		m.mu.Unlock()
		return model.Fail(model.ErrNotAuthenticated.Error())
	}
	// Merge onto a clone first; memory takes the update only once the store
	// has it, so the two can never diverge on a failed save.
	merged := m.user.Clone()
	update.Apply(merged)
	rec := store.Record{
		Token:   m.token,
		User:    merged.Clone(),
		License: m.license,
		SavedAt: time.Now().UTC(),
	}
	err := m.store.Save(ctx, rec)
	var updated *model.User
	if err == nil {
		m.user = merged
		updated = merged.Clone()
	}
	m.mu.Unlock()

	if err != nil {
		slog.Error("failed to persist profile update", "error", err)
		return model.Fail("failed to persist profile")
	}

	m.publish(event.TypeProfileUpdated, updated)
	return model.OK("")
}

// RefreshLicense fetches license status now and caches it. Failures degrade
// to an informational invalid status; they never propagate.
func (m *Manager) RefreshLicense(ctx context.Context) model.LicenseStatus {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()
	return m.refreshLicense(ctx, gen)
}

// Touch records guarded activity for the idle timeout.
func (m *Manager) Touch() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

// ExpireIfStale drops the session when its token's deadline has passed or
// the idle limit was exceeded, without a backend round-trip. Returns whether
// the session was dropped.
func (m *Manager) ExpireIfStale(ctx context.Context) bool {
	m.mu.Lock()
	stale := false
	if m.phase == model.PhaseAuthenticated {
		switch {
		case tokenExpired(m.token):
			stale = true
		case m.opts.IdleTimeout > 0 && time.Since(m.lastActivity) > m.opts.IdleTimeout:
			stale = true
		}
	}
	m.mu.Unlock()

	if stale {
		m.HandleTokenExpiration(ctx)
	}
	return stale
}

// Run drives the background license poll and idle sweep until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	pollInterval := m.opts.LicensePollInterval
	if pollInterval <= 0 {
		pollInterval = time.Hour * 24 * 365 // effectively disabled
	}
	sweepInterval := m.opts.IdleTimeout / 2
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	poll := time.NewTicker(pollInterval)
	sweep := time.NewTicker(sweepInterval)
	defer poll.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if m.opts.LicensePollInterval <= 0 {
				continue
			}
			m.mu.Lock()
			authenticated := m.phase == model.PhaseAuthenticated
			gen := m.generation
			m.mu.Unlock()
			if authenticated {
				m.refreshLicense(ctx, gen)
			}
		case <-sweep.C:
			m.ExpireIfStale(ctx)
		}
	}
}

// clear is the only code path that drops session state, voluntary or not.
// The store and memory are cleared together under the lock so no caller can
// observe one without the other.
func (m *Manager) clear(ctx context.Context, evt event.Type) {
	m.mu.Lock()
	wasAuthenticated := m.phase == model.PhaseAuthenticated
	m.generation++
	m.phase = model.PhaseAnonymous
	m.token = ""
	m.user = nil
	m.license = nil
	if err := m.store.Clear(ctx); err != nil {
		slog.Error("failed to clear session store", "error", err)
	}
	m.mu.Unlock()

	if wasAuthenticated && evt != "" {
		m.publish(evt, nil)
	}
}

func (m *Manager) refreshLicense(ctx context.Context, gen uint64) model.LicenseStatus {
	status, err := m.backend.LicenseStatus(ctx)
	if err != nil {
		slog.Warn("license check failed", "error", err)
		status = model.LicenseStatus{Valid: false, Message: licenseCheckFailedMessage, CheckedAt: time.Now().UTC()}
	}

	m.mu.Lock()
	if m.generation != gen || m.phase != model.PhaseAuthenticated {
		// The session this check was started for is gone; drop the result.
		m.mu.Unlock()
		return status
	}
	changed := m.license == nil || m.license.Valid != status.Valid || m.license.Message != status.Message
	m.license = &status
	if err := m.persistLocked(context.WithoutCancel(ctx)); err != nil {
		slog.Error("failed to persist license status", "error", err)
	}
	m.mu.Unlock()

	if changed {
		m.publish(event.TypeLicenseUpdated, status)
	}
	return status
}

// persistLocked writes the current in-memory session to the store. Caller
// holds m.mu and has already confirmed the session is authenticated.
func (m *Manager) persistLocked(ctx context.Context) error {
	rec := store.Record{
		Token:   m.token,
		User:    m.user.Clone(),
		License: m.license,
		SavedAt: time.Now().UTC(),
	}
	return m.store.Save(ctx, rec)
}

func (m *Manager) verifyWithRetry(ctx context.Context, token string) bool {
	operation := func() (bool, error) {
		valid, err := m.backend.VerifyToken(ctx, token)
		if err != nil {
			return false, err // transport failure, worth retrying
		}
		if !valid {
			return false, backoff.Permanent(errTokenRejected)
		}
		return true, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = m.opts.VerifyRetryInterval

	valid, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(m.opts.VerifyMaxTries))
	if err != nil {
		return false
	}
	return valid
}

func (m *Manager) publish(t event.Type, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(event.Event{
		ID:         uuid.NewString(),
		Type:       t,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	})
}

// tokenExpired inspects the token's exp claim without verifying the
// signature; the gateway has no signing secret, so trust decisions stay with
// the backend and this is only a cheap local shortcut.
func tokenExpired(token string) bool {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().After(exp.Time)
}

func messageOf(err error) string {
	var ue *upstream.Error
	if errors.As(err, &ue) {
		return ue.Message
	}
	return "unable to reach the server"
}
