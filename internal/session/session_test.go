package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/reqlayer/internal/metrics"
	"github.com/blueberrycongee/reqlayer/internal/storage"
	reqerrors "github.com/blueberrycongee/reqlayer/pkg/errors"
	"github.com/blueberrycongee/reqlayer/pkg/types"
)

type fakeAuth struct {
	mu        sync.Mutex
	login     func(types.Credentials) (*types.LoginResult, error)
	verify    func() (*types.VerifyResult, error)
	refresh   func() (*types.RefreshResult, error)
	logoutErr error
	logouts   int
	verifies  int
}

func (f *fakeAuth) Login(_ context.Context, c types.Credentials) (*types.LoginResult, error) {
	return f.login(c)
}

func (f *fakeAuth) Verify(context.Context) (*types.VerifyResult, error) {
	f.mu.Lock()
	f.verifies++
	f.mu.Unlock()
	return f.verify()
}

func (f *fakeAuth) Refresh(context.Context) (*types.RefreshResult, error) {
	return f.refresh()
}

func (f *fakeAuth) Logout(context.Context) error {
	f.mu.Lock()
	f.logouts++
	f.mu.Unlock()
	return f.logoutErr
}

type fakeTokens struct {
	mu    sync.Mutex
	token string
}

func (f *fakeTokens) SetAuthToken(t string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = t
}

func (f *fakeTokens) ClearAuthToken() { f.SetAuthToken("") }

func (f *fakeTokens) get() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func okAuth() *fakeAuth {
	return &fakeAuth{
		login: func(c types.Credentials) (*types.LoginResult, error) {
			if c.Password != "secret" {
				return nil, errors.New("invalid credentials")
			}
			return &types.LoginResult{
				User:        &types.User{ID: "1", Username: c.Username},
				Token:       "tok-1",
				Permissions: []string{"items:read"},
			}, nil
		},
		verify: func() (*types.VerifyResult, error) {
			return &types.VerifyResult{Valid: true}, nil
		},
		refresh: func() (*types.RefreshResult, error) {
			return &types.RefreshResult{Token: "tok-2"}, nil
		},
	}
}

func newStore(t *testing.T, auth Authenticator, st storage.Storage, opts ...Option) (*Store, *fakeTokens) {
	t.Helper()
	tokens := &fakeTokens{}
	s := New(auth, tokens, st, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, tokens
}

func TestLogin_Success(t *testing.T) {
	mem := storage.NewMemory()
	s, tokens := newStore(t, okAuth(), mem)

	assert.Equal(t, Anonymous, s.State())
	require.True(t, s.Login(context.Background(), types.Credentials{Username: "ada", Password: "secret"}))

	snap := s.Snapshot()
	assert.Equal(t, Authenticated, snap.State)
	assert.Equal(t, "tok-1", snap.Token)
	assert.Equal(t, "ada", snap.User.Username)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, "tok-1", tokens.get())
	assert.True(t, s.IsAuthenticated())
	assert.True(t, s.HasPermission("items:read"))
	assert.False(t, s.HasPermission("items:write"))

	for _, key := range []string{KeyUser, KeyToken, KeyPermissions} {
		_, ok, err := mem.Get(context.Background(), key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
}

func TestLogin_HydrationReproducesState(t *testing.T) {
	mem := storage.NewMemory()
	first, _ := newStore(t, okAuth(), mem)
	require.True(t, first.Login(context.Background(), types.Credentials{Username: "ada", Password: "secret"}))
	want := first.Snapshot()

	fresh, tokens := newStore(t, okAuth(), mem)
	require.NoError(t, fresh.Hydrate(context.Background()))

	assert.Equal(t, want, fresh.Snapshot())
	assert.Equal(t, "tok-1", tokens.get())
}

func TestLogin_FailureStaysAnonymous(t *testing.T) {
	mem := storage.NewMemory()
	s, tokens := newStore(t, okAuth(), mem)

	assert.False(t, s.Login(context.Background(), types.Credentials{Username: "ada", Password: "nope"}))

	snap := s.Snapshot()
	assert.Equal(t, Anonymous, snap.State)
	assert.Equal(t, "invalid credentials", snap.LastError)
	assert.Empty(t, tokens.get())
	_, ok, _ := mem.Get(context.Background(), KeyToken)
	assert.False(t, ok)
}

func TestLogin_KeepsServerMessage(t *testing.T) {
	auth := okAuth()
	auth.login = func(types.Credentials) (*types.LoginResult, error) {
		return nil, reqerrors.FromStatus(403, "account locked", nil).WithRequest("POST", "/api/auth/login", 1)
	}
	s, _ := newStore(t, auth, nil)

	assert.False(t, s.Login(context.Background(), types.Credentials{}))
	assert.Equal(t, "account locked", s.Snapshot().LastError)
}

func TestLogin_EmptyTokenIsFailure(t *testing.T) {
	auth := okAuth()
	auth.login = func(types.Credentials) (*types.LoginResult, error) {
		return &types.LoginResult{User: &types.User{ID: "1"}}, nil
	}
	s, _ := newStore(t, auth, nil)

	assert.False(t, s.Login(context.Background(), types.Credentials{}))
	assert.Equal(t, Anonymous, s.State())
	assert.NotEmpty(t, s.Snapshot().LastError)
}

func TestLogin_ClearsPreviousError(t *testing.T) {
	s, _ := newStore(t, okAuth(), nil)
	s.Login(context.Background(), types.Credentials{Password: "bad"})
	require.NotEmpty(t, s.Snapshot().LastError)

	require.True(t, s.Login(context.Background(), types.Credentials{Password: "secret"}))
	assert.Empty(t, s.Snapshot().LastError)
}

func TestVerifyToken_ValidKeepsSession(t *testing.T) {
	auth := okAuth()
	auth.verify = func() (*types.VerifyResult, error) {
		return &types.VerifyResult{Valid: true, Permissions: []string{"items:read", "items:write"}}, nil
	}
	mem := storage.NewMemory()
	s, _ := newStore(t, auth, mem)
	require.True(t, s.Login(context.Background(), types.Credentials{Username: "ada", Password: "secret"}))

	assert.True(t, s.VerifyToken(context.Background()))
	assert.Equal(t, Authenticated, s.State())
	assert.True(t, s.HasPermission("items:write"))
}

func TestVerifyToken_InvalidForcesLogout(t *testing.T) {
	auth := okAuth()
	auth.verify = func() (*types.VerifyResult, error) {
		return &types.VerifyResult{Valid: false}, nil
	}
	mem := storage.NewMemory()
	s, tokens := newStore(t, auth, mem)
	require.True(t, s.Login(context.Background(), types.Credentials{Username: "ada", Password: "secret"}))

	assert.False(t, s.VerifyToken(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, Anonymous, snap.State)
	assert.Nil(t, snap.User)
	assert.Empty(t, snap.Token)
	assert.Empty(t, snap.Permissions)
	assert.Empty(t, tokens.get())
	for _, key := range []string{KeyUser, KeyToken, KeyPermissions} {
		_, ok, err := mem.Get(context.Background(), key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
}

func TestVerifyToken_ErrorForcesLogout(t *testing.T) {
	auth := okAuth()
	auth.verify = func() (*types.VerifyResult, error) {
		return nil, errors.New("connection refused")
	}
	s, _ := newStore(t, auth, storage.NewMemory())
	require.True(t, s.Login(context.Background(), types.Credentials{Password: "secret"}))

	assert.False(t, s.VerifyToken(context.Background()))
	assert.Equal(t, Anonymous, s.State())
	assert.Equal(t, "connection refused", s.Snapshot().LastError)
}

func TestVerifyToken_NoTokenSkipsServer(t *testing.T) {
	auth := okAuth()
	s, _ := newStore(t, auth, nil)

	assert.False(t, s.VerifyToken(context.Background()))
	assert.Equal(t, 0, auth.verifies)
}

func TestRefreshToken(t *testing.T) {
	mem := storage.NewMemory()
	s, tokens := newStore(t, okAuth(), mem)
	require.True(t, s.Login(context.Background(), types.Credentials{Password: "secret"}))

	require.True(t, s.RefreshToken(context.Background()))
	assert.Equal(t, "tok-2", s.Snapshot().Token)
	assert.Equal(t, "tok-2", tokens.get())

	b, ok, err := mem.Get(context.Background(), KeyToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"tok-2"`, string(b))
}

func TestRefreshToken_FailureLeavesState(t *testing.T) {
	auth := okAuth()
	auth.refresh = func() (*types.RefreshResult, error) {
		return nil, errors.New("refresh endpoint down")
	}
	s, tokens := newStore(t, auth, nil)
	require.True(t, s.Login(context.Background(), types.Credentials{Password: "secret"}))

	assert.False(t, s.RefreshToken(context.Background()))
	assert.Equal(t, Authenticated, s.State())
	assert.Equal(t, "tok-1", tokens.get())
}

func TestLogout(t *testing.T) {
	auth := okAuth()
	auth.logoutErr = errors.New("server gone")
	mem := storage.NewMemory()
	s, tokens := newStore(t, auth, mem)
	require.True(t, s.Login(context.Background(), types.Credentials{Password: "secret"}))

	s.Logout(context.Background())

	assert.Equal(t, 1, auth.logouts)
	assert.Equal(t, Anonymous, s.State())
	assert.Empty(t, tokens.get())
	_, ok, _ := mem.Get(context.Background(), KeyUser)
	assert.False(t, ok)
}

func TestLogout_AnonymousSkipsServer(t *testing.T) {
	auth := okAuth()
	s, _ := newStore(t, auth, nil)
	s.Logout(context.Background())
	assert.Equal(t, 0, auth.logouts)
}

func TestHydrate_Partial(t *testing.T) {
	ctx := context.Background()

	t.Run("token only", func(t *testing.T) {
		mem := storage.NewMemory()
		require.NoError(t, mem.Set(ctx, KeyToken, []byte(`"tok-9"`)))
		s, _ := newStore(t, okAuth(), mem)

		require.NoError(t, s.Hydrate(ctx))
		snap := s.Snapshot()
		assert.Equal(t, Authenticated, snap.State)
		assert.Equal(t, "tok-9", snap.Token)
		assert.Nil(t, snap.User)
	})

	t.Run("identity only", func(t *testing.T) {
		mem := storage.NewMemory()
		require.NoError(t, mem.Set(ctx, KeyUser, []byte(`{"id":"7","username":"lin"}`)))
		s, _ := newStore(t, okAuth(), mem)

		require.NoError(t, s.Hydrate(ctx))
		snap := s.Snapshot()
		assert.Equal(t, Anonymous, snap.State)
		require.NotNil(t, snap.User)
		assert.Equal(t, "lin", snap.User.Username)
	})

	t.Run("empty", func(t *testing.T) {
		s, _ := newStore(t, okAuth(), storage.NewMemory())
		require.NoError(t, s.Hydrate(ctx))
		assert.Equal(t, Anonymous, s.State())
	})

	t.Run("corrupt key is skipped", func(t *testing.T) {
		mem := storage.NewMemory()
		require.NoError(t, mem.Set(ctx, KeyToken, []byte(`"tok-3"`)))
		require.NoError(t, mem.Set(ctx, KeyPermissions, []byte(`{not json`)))
		s, _ := newStore(t, okAuth(), mem)

		err := s.Hydrate(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), KeyPermissions)
		assert.Equal(t, Authenticated, s.State())
	})
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "1",
		"exp": now.Add(3 * time.Minute).Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	auth := okAuth()
	auth.login = func(types.Credentials) (*types.LoginResult, error) {
		return &types.LoginResult{Token: signed}, nil
	}
	s, _ := newStore(t, auth, nil, WithClock(func() time.Time { return now }))
	require.True(t, s.Login(context.Background(), types.Credentials{}))

	exp, ok := s.TokenExpiry()
	require.True(t, ok)
	assert.Equal(t, now.Add(3*time.Minute).Unix(), exp.Unix())
	assert.True(t, s.NeedsRefresh(5*time.Minute))
	assert.False(t, s.NeedsRefresh(time.Minute))
	assert.False(t, s.NeedsRefresh(0))
}

func TestNeedsRefresh_OpaqueToken(t *testing.T) {
	s, _ := newStore(t, okAuth(), nil)
	require.True(t, s.Login(context.Background(), types.Credentials{Password: "secret"}))

	_, ok := s.TokenExpiry()
	assert.False(t, ok)
	assert.False(t, s.NeedsRefresh(time.Hour))
}

func TestTransitionsRecorded(t *testing.T) {
	s, _ := newStore(t, okAuth(), nil, WithMetrics(metrics.NewCollector()))
	before := testutil.ToFloat64(metrics.SessionTransitions.WithLabelValues("authenticating", "authenticated"))

	require.True(t, s.Login(context.Background(), types.Credentials{Password: "secret"}))

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SessionTransitions.WithLabelValues("authenticating", "authenticated")))
}

func TestConcurrentAccess(t *testing.T) {
	s, _ := newStore(t, okAuth(), storage.NewMemory())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0:
				s.Login(ctx, types.Credentials{Password: "secret"})
			case 1:
				s.VerifyToken(ctx)
			case 2:
				_ = s.Snapshot()
			default:
				s.RefreshToken(ctx)
			}
		}(i)
	}
	wg.Wait()

	st := s.State()
	assert.Contains(t, []State{Anonymous, Authenticated}, st)
}

func TestClose(t *testing.T) {
	s, _ := newStore(t, okAuth(), nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.False(t, s.Login(context.Background(), types.Credentials{Password: "secret"}))
	assert.Equal(t, ErrClosed.Error(), s.Snapshot().LastError)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "anonymous", Anonymous.String())
	assert.Equal(t, "verifying", Verifying.String())
	assert.Equal(t, "unknown", State(42).String())
}
