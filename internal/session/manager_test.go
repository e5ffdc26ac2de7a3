package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"dw-console-gateway/internal/event"
	"dw-console-gateway/internal/model"
	"dw-console-gateway/internal/store"
	"dw-console-gateway/internal/upstream"
)

type fakeBackend struct {
	mu          sync.Mutex
	loginFn     func(username, password string) (upstream.LoginResult, error)
	verifyFn    func(token string) (bool, error)
	licenseFn   func() (model.LicenseStatus, error)
	forgotFn    func(email string) (string, error)
	resetFn     func(token, newPassword string) (string, error)
	changeFn    func(token, newPassword string) (string, error)
	verifyCalls int
}

func (f *fakeBackend) Login(_ context.Context, username, password, _ string) (upstream.LoginResult, error) {
	if f.loginFn == nil {
		return upstream.LoginResult{}, errors.New("login not stubbed")
	}
	return f.loginFn(username, password)
}

func (f *fakeBackend) VerifyToken(_ context.Context, token string) (bool, error) {
	f.mu.Lock()
	f.verifyCalls++
	f.mu.Unlock()
	if f.verifyFn == nil {
		return false, errors.New("verify not stubbed")
	}
	return f.verifyFn(token)
}

func (f *fakeBackend) LicenseStatus(_ context.Context) (model.LicenseStatus, error) {
	if f.licenseFn == nil {
		return model.LicenseStatus{Valid: true, CheckedAt: time.Now()}, nil
	}
	return f.licenseFn()
}

func (f *fakeBackend) ForgotPassword(_ context.Context, email string) (string, error) {
	return f.forgotFn(email)
}

func (f *fakeBackend) ResetPassword(_ context.Context, token, newPassword string) (string, error) {
	return f.resetFn(token, newPassword)
}

func (f *fakeBackend) ChangePassword(_ context.Context, token, newPassword string) (string, error) {
	return f.changeFn(token, newPassword)
}

func (f *fakeBackend) verifyCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls
}

type memStore struct {
	mu      sync.Mutex
	rec     store.Record
	present bool
	saveErr error
	saves   int
	clears  int
}

func (s *memStore) Save(_ context.Context, rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rec = rec
	s.present = true
	s.saves++
	return nil
}

func (s *memStore) Load(_ context.Context) (store.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, s.present, nil
}

func (s *memStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = store.Record{}
	s.present = false
	s.clears++
	return nil
}

func (s *memStore) failSaves(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

func (s *memStore) saved() (store.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, s.present
}

type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *eventRecorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) Subscribe() (<-chan event.Event, func()) {
	ch := make(chan event.Event)
	close(ch)
	return ch, func() {}
}

func (r *eventRecorder) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func testUser() *model.User {
	return &model.User{ID: 1, Username: "alice", Email: "alice@example.com", Role: "admin"}
}

func newTestManager(backend Backend, sessions store.SessionStore, bus event.Bus) *Manager {
	return NewManager(backend, sessions, bus, Options{
		VerifyMaxTries:      3,
		VerifyRetryInterval: time.Millisecond,
	})
}

func TestInitialize(t *testing.T) {
	t.Parallel()

	t.Run("empty store boots anonymous without contacting the backend", func(t *testing.T) {
		backend := &fakeBackend{}
		mem := &memStore{}
		m := newTestManager(backend, mem, nil)

		require.True(t, m.Loading())
		m.Initialize(context.Background())

		require.False(t, m.Loading())
		require.Equal(t, model.PhaseAnonymous, m.Phase())
		require.Empty(t, m.Token())
		require.Zero(t, backend.verifyCallCount())
	})

	t.Run("verified persisted session is restored", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		backend := &fakeBackend{verifyFn: func(got string) (bool, error) {
			require.Equal(t, token, got)
			return true, nil
		}}
		mem := &memStore{
			rec:     store.Record{Token: token, User: testUser(), SavedAt: time.Now()},
			present: true,
		}
		rec := &eventRecorder{}
		m := newTestManager(backend, mem, rec)

		m.Initialize(context.Background())

		require.Equal(t, model.PhaseAuthenticated, m.Phase())
		require.Equal(t, token, m.Token())
		snap := m.Snapshot()
		require.Equal(t, "alice", snap.User.Username)
		require.Equal(t, []event.Type{event.TypeSessionRestored}, rec.types())
	})

	t.Run("rejected token boots anonymous and clears the store", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		backend := &fakeBackend{verifyFn: func(string) (bool, error) { return false, nil }}
		mem := &memStore{
			rec:     store.Record{Token: token, User: testUser()},
			present: true,
		}
		m := newTestManager(backend, mem, nil)

		m.Initialize(context.Background())

		require.Equal(t, model.PhaseAnonymous, m.Phase())
		_, present := mem.saved()
		require.False(t, present)
		// A definitive rejection is not retried.
		require.Equal(t, 1, backend.verifyCallCount())
	})

	t.Run("transport failures are retried then fail closed", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		backend := &fakeBackend{verifyFn: func(string) (bool, error) {
			return false, errors.New("connection refused")
		}}
		mem := &memStore{
			rec:     store.Record{Token: token, User: testUser()},
			present: true,
		}
		m := newTestManager(backend, mem, nil)

		m.Initialize(context.Background())

		require.Equal(t, model.PhaseAnonymous, m.Phase())
		require.Equal(t, 3, backend.verifyCallCount())
	})

	t.Run("transient failure then success still restores", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		calls := 0
		backend := &fakeBackend{verifyFn: func(string) (bool, error) {
			calls++
			if calls == 1 {
				return false, errors.New("connection refused")
			}
			return true, nil
		}}
		mem := &memStore{
			rec:     store.Record{Token: token, User: testUser()},
			present: true,
		}
		m := newTestManager(backend, mem, nil)

		m.Initialize(context.Background())

		require.Equal(t, model.PhaseAuthenticated, m.Phase())
	})

	t.Run("locally expired token skips verification entirely", func(t *testing.T) {
		stale := signedToken(t, time.Now().Add(-time.Hour))
		backend := &fakeBackend{}
		mem := &memStore{
			rec:     store.Record{Token: stale, User: testUser()},
			present: true,
		}
		m := newTestManager(backend, mem, nil)

		m.Initialize(context.Background())

		require.Equal(t, model.PhaseAnonymous, m.Phase())
		require.Zero(t, backend.verifyCallCount())
	})

	t.Run("second initialize is a no-op", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		backend := &fakeBackend{verifyFn: func(string) (bool, error) { return true, nil }}
		mem := &memStore{
			rec:     store.Record{Token: token, User: testUser()},
			present: true,
		}
		m := newTestManager(backend, mem, nil)

		m.Initialize(context.Background())
		m.Initialize(context.Background())

		require.Equal(t, 1, backend.verifyCallCount())
	})
}

func TestLogin(t *testing.T) {
	t.Parallel()

	t.Run("success persists before returning and publishes", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		backend := &fakeBackend{
			loginFn: func(username, password string) (upstream.LoginResult, error) {
				require.Equal(t, "alice", username)
				require.Equal(t, "s3cret", password)
				return upstream.LoginResult{Token: token, User: *testUser()}, nil
			},
		}
		mem := &memStore{}
		rec := &eventRecorder{}
		m := newTestManager(backend, mem, rec)
		m.Initialize(context.Background())

		result := m.Login(context.Background(), "alice", "s3cret", "")

		require.True(t, result.Success)
		require.Equal(t, model.PhaseAuthenticated, m.Phase())
		saved, present := mem.saved()
		require.True(t, present)
		require.Equal(t, token, saved.Token)
		require.Equal(t, "alice", saved.User.Username)
		require.Contains(t, rec.types(), event.TypeSessionAuthenticated)

		// License resolution runs behind the login and lands in the cache.
		require.Eventually(t, func() bool {
			lic := m.License()
			return lic != nil && lic.Valid
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("backend rejection leaves state untouched", func(t *testing.T) {
		backend := &fakeBackend{
			loginFn: func(string, string) (upstream.LoginResult, error) {
				return upstream.LoginResult{}, &upstream.Error{Status: 401, Message: "Invalid credentials"}
			},
		}
		mem := &memStore{}
		m := newTestManager(backend, mem, nil)
		m.Initialize(context.Background())

		result := m.Login(context.Background(), "alice", "wrong", "")

		require.False(t, result.Success)
		require.Equal(t, "Invalid credentials", result.Error)
		require.Equal(t, model.PhaseAnonymous, m.Phase())
		_, present := mem.saved()
		require.False(t, present)
	})

	t.Run("failed re-login keeps the existing session", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		fail := false
		backend := &fakeBackend{
			loginFn: func(string, string) (upstream.LoginResult, error) {
				if fail {
					return upstream.LoginResult{}, &upstream.Error{Status: 401, Message: "Invalid credentials"}
				}
				return upstream.LoginResult{Token: token, User: *testUser()}, nil
			},
		}
		mem := &memStore{}
		m := newTestManager(backend, mem, nil)
		m.Initialize(context.Background())
		require.True(t, m.Login(context.Background(), "alice", "s3cret", "").Success)

		fail = true
		result := m.Login(context.Background(), "alice", "typo", "")

		require.False(t, result.Success)
		require.Equal(t, model.PhaseAuthenticated, m.Phase())
		require.Equal(t, token, m.Token())
	})

	t.Run("persist failure fails the login", func(t *testing.T) {
		backend := &fakeBackend{
			loginFn: func(string, string) (upstream.LoginResult, error) {
				return upstream.LoginResult{Token: signedToken(t, time.Now().Add(time.Hour)), User: *testUser()}, nil
			},
		}
		mem := &memStore{saveErr: errors.New("disk full")}
		m := newTestManager(backend, mem, nil)
		m.Initialize(context.Background())

		result := m.Login(context.Background(), "alice", "s3cret", "")

		require.False(t, result.Success)
		require.Equal(t, model.PhaseAnonymous, m.Phase())
	})
}

func TestLogout(t *testing.T) {
	t.Parallel()

	t.Run("clears memory and store, idempotent", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		backend := &fakeBackend{
			loginFn: func(string, string) (upstream.LoginResult, error) {
				return upstream.LoginResult{Token: token, User: *testUser()}, nil
			},
		}
		mem := &memStore{}
		rec := &eventRecorder{}
		m := newTestManager(backend, mem, rec)
		m.Initialize(context.Background())
		require.True(t, m.Login(context.Background(), "alice", "s3cret", "").Success)

		m.Logout(context.Background())
		m.Logout(context.Background())

		require.Equal(t, model.PhaseAnonymous, m.Phase())
		require.Empty(t, m.Token())
		_, present := mem.saved()
		require.False(t, present)

		cleared := 0
		for _, typ := range rec.types() {
			if typ == event.TypeSessionCleared {
				cleared++
			}
		}
		require.Equal(t, 1, cleared, "only the first logout announces itself")
	})

	t.Run("expiration uses the same funnel", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		backend := &fakeBackend{
			loginFn: func(string, string) (upstream.LoginResult, error) {
				return upstream.LoginResult{Token: token, User: *testUser()}, nil
			},
		}
		mem := &memStore{}
		rec := &eventRecorder{}
		m := newTestManager(backend, mem, rec)
		m.Initialize(context.Background())
		require.True(t, m.Login(context.Background(), "alice", "s3cret", "").Success)

		m.HandleTokenExpiration(context.Background())

		require.Equal(t, model.PhaseAnonymous, m.Phase())
		require.Contains(t, rec.types(), event.TypeSessionExpired)
	})
}

func TestChangePasswordAfterLogin(t *testing.T) {
	t.Parallel()

	login := func(t *testing.T, backend *fakeBackend, mem *memStore) *Manager {
		t.Helper()
		token := signedToken(t, time.Now().Add(time.Hour))
		user := testUser()
		user.ChangePassword = true
		backend.loginFn = func(string, string) (upstream.LoginResult, error) {
			return upstream.LoginResult{Token: token, User: *user}, nil
		}
		m := newTestManager(backend, mem, nil)
		m.Initialize(context.Background())
		require.True(t, m.Login(context.Background(), "alice", "s3cret", "").Success)
		require.True(t, m.NeedsPasswordChange())
		return m
	}

	t.Run("success exits the forced-change state and persists it", func(t *testing.T) {
		backend := &fakeBackend{changeFn: func(string, string) (string, error) {
			return "Password changed", nil
		}}
		mem := &memStore{}
		m := login(t, backend, mem)

		result := m.ChangePasswordAfterLogin(context.Background(), "n3w-pass")

		require.True(t, result.Success)
		require.False(t, m.NeedsPasswordChange())
		saved, present := mem.saved()
		require.True(t, present)
		require.False(t, saved.User.ChangePassword)
	})

	t.Run("failure keeps the gate up", func(t *testing.T) {
		backend := &fakeBackend{changeFn: func(string, string) (string, error) {
			return "", &upstream.Error{Status: 400, Message: "Password too weak"}
		}}
		mem := &memStore{}
		m := login(t, backend, mem)

		result := m.ChangePasswordAfterLogin(context.Background(), "weak")

		require.False(t, result.Success)
		require.Equal(t, "Password too weak", result.Error)
		require.True(t, m.NeedsPasswordChange())
	})

	t.Run("completion after logout does not resurrect state", func(t *testing.T) {
		release := make(chan struct{})
		var m *Manager
		backend := &fakeBackend{changeFn: func(string, string) (string, error) {
			// Session is torn down while the backend call is in flight.
			m.Logout(context.Background())
			close(release)
			return "Password changed", nil
		}}
		mem := &memStore{}
		m = login(t, backend, mem)

		m.ChangePasswordAfterLogin(context.Background(), "n3w-pass")
		<-release

		require.Equal(t, model.PhaseAnonymous, m.Phase())
		_, present := mem.saved()
		require.False(t, present, "stale completion must not write the store")
	})

	t.Run("rejected while anonymous", func(t *testing.T) {
		m := newTestManager(&fakeBackend{}, &memStore{}, nil)
		m.Initialize(context.Background())

		result := m.ChangePasswordAfterLogin(context.Background(), "whatever")

		require.False(t, result.Success)
	})

	t.Run("completion after logout publishes nothing", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		user := testUser()
		user.ChangePassword = true

		var m *Manager
		backend := &fakeBackend{
			loginFn: func(string, string) (upstream.LoginResult, error) {
				return upstream.LoginResult{Token: token, User: *user}, nil
			},
			changeFn: func(string, string) (string, error) {
				m.Logout(context.Background())
				return "Password changed", nil
			},
		}
		rec := &eventRecorder{}
		m = newTestManager(backend, &memStore{}, rec)
		m.Initialize(context.Background())
		require.True(t, m.Login(context.Background(), "alice", "s3cret", "").Success)

		m.ChangePasswordAfterLogin(context.Background(), "n3w-pass")

		require.NotContains(t, rec.types(), event.TypePasswordChanged,
			"a dead session must not announce a password change")
	})
}

func TestForgotPassword(t *testing.T) {
	t.Parallel()

	t.Run("relays the backend's uniform message", func(t *testing.T) {
		const uniform = "If the email exists, a reset link was sent"
		backend := &fakeBackend{forgotFn: func(string) (string, error) { return uniform, nil }}
		m := newTestManager(backend, &memStore{}, nil)

		known := m.ForgotPassword(context.Background(), "alice@example.com")
		unknown := m.ForgotPassword(context.Background(), "nobody@example.com")

		require.True(t, known.Success)
		require.True(t, unknown.Success)
		require.Equal(t, known.Message, unknown.Message)
	})

	t.Run("transport failure gets a generic message", func(t *testing.T) {
		backend := &fakeBackend{forgotFn: func(string) (string, error) {
			return "", errors.New("connection refused")
		}}
		m := newTestManager(backend, &memStore{}, nil)

		result := m.ForgotPassword(context.Background(), "alice@example.com")

		require.False(t, result.Success)
		require.Equal(t, "unable to reach the server", result.Error)
	})
}

func TestLicense(t *testing.T) {
	t.Parallel()

	authed := func(t *testing.T, backend *fakeBackend) *Manager {
		t.Helper()
		token := signedToken(t, time.Now().Add(time.Hour))
		backend.loginFn = func(string, string) (upstream.LoginResult, error) {
			return upstream.LoginResult{Token: token, User: *testUser()}, nil
		}
		m := newTestManager(backend, &memStore{}, nil)
		m.Initialize(context.Background())
		require.True(t, m.Login(context.Background(), "alice", "s3cret", "").Success)
		return m
	}

	t.Run("check failure degrades to an invalid status", func(t *testing.T) {
		backend := &fakeBackend{licenseFn: func() (model.LicenseStatus, error) {
			return model.LicenseStatus{}, errors.New("connection refused")
		}}
		m := authed(t, backend)

		status := m.RefreshLicense(context.Background())

		require.False(t, status.Valid)
		require.Equal(t, "Failed to check license status", status.Message)
		require.Equal(t, model.PhaseAuthenticated, m.Phase(), "session survives license failures")
	})

	t.Run("stale completion is discarded after logout", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		backend := &fakeBackend{licenseFn: func() (model.LicenseStatus, error) {
			close(started)
			<-release
			return model.LicenseStatus{Valid: true, Message: "Licensed"}, nil
		}}
		m := authed(t, backend)

		done := make(chan struct{})
		go func() {
			m.RefreshLicense(context.Background())
			close(done)
		}()

		<-started
		m.Logout(context.Background())
		close(release)
		<-done

		require.Nil(t, m.License(), "result for a dead session must not be cached")
	})
}

func TestUpdateUserProfile(t *testing.T) {
	t.Parallel()

	t.Run("merges fields and persists", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		backend := &fakeBackend{
			loginFn: func(string, string) (upstream.LoginResult, error) {
				return upstream.LoginResult{Token: token, User: *testUser()}, nil
			},
		}
		mem := &memStore{}
		m := newTestManager(backend, mem, nil)
		m.Initialize(context.Background())
		require.True(t, m.Login(context.Background(), "alice", "s3cret", "").Success)

		phone := "555-0100"
		result := m.UpdateUserProfile(context.Background(), model.ProfileUpdate{Phone: &phone})

		require.True(t, result.Success)
		snap := m.Snapshot()
		require.Equal(t, "555-0100", snap.User.Phone)
		require.Equal(t, "alice@example.com", snap.User.Email, "absent fields stay put")
		saved, _ := mem.saved()
		require.Equal(t, "555-0100", saved.User.Phone)
	})

	t.Run("rejected while anonymous", func(t *testing.T) {
		m := newTestManager(&fakeBackend{}, &memStore{}, nil)
		m.Initialize(context.Background())

		result := m.UpdateUserProfile(context.Background(), model.ProfileUpdate{})

		require.False(t, result.Success)
	})

	t.Run("persist failure leaves the cached user untouched", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		backend := &fakeBackend{
			loginFn: func(string, string) (upstream.LoginResult, error) {
				return upstream.LoginResult{Token: token, User: *testUser()}, nil
			},
		}
		mem := &memStore{}
		m := newTestManager(backend, mem, nil)
		m.Initialize(context.Background())
		require.True(t, m.Login(context.Background(), "alice", "s3cret", "").Success)

		mem.failSaves(errors.New("disk full"))

		phone := "555-0100"
		result := m.UpdateUserProfile(context.Background(), model.ProfileUpdate{Phone: &phone})

		require.False(t, result.Success)
		snap := m.Snapshot()
		require.Empty(t, snap.User.Phone, "memory must not run ahead of the store")
	})
}

func TestExpireIfStale(t *testing.T) {
	t.Parallel()

	t.Run("expired token drops the session without a round-trip", func(t *testing.T) {
		// Token valid at login, expired by the time of the check.
		token := signedToken(t, time.Now().Add(50*time.Millisecond))
		backend := &fakeBackend{
			loginFn: func(string, string) (upstream.LoginResult, error) {
				return upstream.LoginResult{Token: token, User: *testUser()}, nil
			},
		}
		rec := &eventRecorder{}
		m := newTestManager(backend, &memStore{}, rec)
		m.Initialize(context.Background())
		require.True(t, m.Login(context.Background(), "alice", "s3cret", "").Success)

		time.Sleep(60 * time.Millisecond)

		require.True(t, m.ExpireIfStale(context.Background()))
		require.Equal(t, model.PhaseAnonymous, m.Phase())
		require.Contains(t, rec.types(), event.TypeSessionExpired)
		require.False(t, m.ExpireIfStale(context.Background()), "already anonymous")
	})

	t.Run("idle timeout expires an inactive session", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		backend := &fakeBackend{
			loginFn: func(string, string) (upstream.LoginResult, error) {
				return upstream.LoginResult{Token: token, User: *testUser()}, nil
			},
		}
		m := NewManager(backend, &memStore{}, nil, Options{
			VerifyRetryInterval: time.Millisecond,
			IdleTimeout:         30 * time.Millisecond,
		})
		m.Initialize(context.Background())
		require.True(t, m.Login(context.Background(), "alice", "s3cret", "").Success)

		// Activity holds the session open.
		time.Sleep(20 * time.Millisecond)
		m.Touch()
		require.False(t, m.ExpireIfStale(context.Background()))

		time.Sleep(40 * time.Millisecond)
		require.True(t, m.ExpireIfStale(context.Background()))
		require.Equal(t, model.PhaseAnonymous, m.Phase())
	})
}

func TestTokenExpired(t *testing.T) {
	t.Parallel()

	t.Run("opaque tokens never expire locally", func(t *testing.T) {
		require.False(t, tokenExpired("not-a-jwt"))
		require.False(t, tokenExpired(""))
	})

	t.Run("exp claim decides for JWTs", func(t *testing.T) {
		live := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
		liveStr, err := live.SignedString([]byte("k"))
		require.NoError(t, err)
		require.False(t, tokenExpired(liveStr))

		dead := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
		deadStr, err := dead.SignedString([]byte("k"))
		require.NoError(t, err)
		require.True(t, tokenExpired(deadStr))
	})
}
