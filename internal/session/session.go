// Package session owns the authentication state of one client: identity,
// token and permissions, mirrored to durable storage.
//
// All state lives in a single goroutine. Public methods submit closures to
// it and wait, so callers on any goroutine observe a consistent snapshot
// without sharing locks.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/reqlayer/internal/metrics"
	"github.com/blueberrycongee/reqlayer/internal/observability"
	"github.com/blueberrycongee/reqlayer/internal/storage"
	reqerrors "github.com/blueberrycongee/reqlayer/pkg/errors"
	"github.com/blueberrycongee/reqlayer/pkg/types"
)

// Durable keys. Each is read and written independently.
const (
	KeyUser        = "user"
	KeyToken       = "token"
	KeyPermissions = "permissions"
)

// ErrClosed is reported by LastError after Close.
var ErrClosed = errors.New("session: store closed")

// Authenticator performs the auth calls against the server.
type Authenticator interface {
	Login(ctx context.Context, creds types.Credentials) (*types.LoginResult, error)
	Verify(ctx context.Context) (*types.VerifyResult, error)
	Refresh(ctx context.Context) (*types.RefreshResult, error)
	Logout(ctx context.Context) error
}

// TokenSink receives the bearer token attached to outgoing requests.
type TokenSink interface {
	SetAuthToken(token string)
	ClearAuthToken()
}

// Snapshot is a copy of the store's state.
type Snapshot struct {
	State       State
	User        *types.User
	Token       string
	Permissions []string
	LastError   string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = observability.Wrap(l, observability.NewRedactor())
		}
	}
}

// WithMetrics records state transitions.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type state struct {
	state       State
	user        *types.User
	token       string
	permissions []string
	lastError   string
}

// Store is the session state machine.
type Store struct {
	auth    Authenticator
	tokens  TokenSink
	storage storage.Storage
	logger  *observability.Logger
	metrics *metrics.Collector
	now     func() time.Time

	ops       chan func(*state)
	done      chan struct{}
	closeOnce sync.Once
}

// New starts a store in the Anonymous state. store may be nil, in which
// case nothing is persisted.
func New(auth Authenticator, tokens TokenSink, store storage.Storage, opts ...Option) *Store {
	s := &Store{
		auth:    auth,
		tokens:  tokens,
		storage: store,
		logger:  observability.Wrap(slog.Default(), observability.NewRedactor()),
		now:     time.Now,
		ops:     make(chan func(*state)),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

func (s *Store) run() {
	st := &state{state: Anonymous}
	for {
		select {
		case op := <-s.ops:
			op(st)
		case <-s.done:
			return
		}
	}
}

// do runs fn on the owning goroutine and waits for it. It reports false once
// the store is closed.
func (s *Store) do(fn func(*state)) bool {
	finished := make(chan struct{})
	select {
	case s.ops <- func(st *state) {
		defer close(finished)
		fn(st)
	}:
	case <-s.done:
		return false
	}
	<-finished
	return true
}

// Close stops the owning goroutine. Methods called afterwards are no-ops.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Store) transition(st *state, to State) {
	if st.state == to {
		return
	}
	s.logger.Debug("session state changed", "from", st.state.String(), "to", to.String())
	s.metrics.RecordSessionTransition(st.state.String(), to.String())
	st.state = to
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	var snap Snapshot
	if !s.do(func(st *state) {
		snap = Snapshot{
			State:       st.state,
			User:        cloneUser(st.user),
			Token:       st.token,
			Permissions: slices.Clone(st.permissions),
			LastError:   st.lastError,
		}
	}) {
		snap.LastError = ErrClosed.Error()
	}
	return snap
}

// State returns the current state.
func (s *Store) State() State {
	return s.Snapshot().State
}

// IsAuthenticated reports whether the store holds a token.
func (s *Store) IsAuthenticated() bool {
	snap := s.Snapshot()
	return snap.State == Authenticated && snap.Token != ""
}

// HasPermission reports whether p was granted.
func (s *Store) HasPermission(p string) bool {
	return slices.Contains(s.Snapshot().Permissions, p)
}

// TokenExpiry returns the exp claim of the current token when it is a JWT.
func (s *Store) TokenExpiry() (time.Time, bool) {
	return tokenExpiry(s.Snapshot().Token)
}

// NeedsRefresh reports whether the token expires within window. Tokens
// without a readable expiry never need refreshing.
func (s *Store) NeedsRefresh(window time.Duration) bool {
	exp, ok := s.TokenExpiry()
	if !ok || window <= 0 {
		return false
	}
	return exp.Sub(s.now()) <= window
}

// Login authenticates with creds. On failure the store returns to the state
// it was in (Anonymous for a fresh session) and keeps the error message for
// display; Login itself never fails.
func (s *Store) Login(ctx context.Context, creds types.Credentials) bool {
	prev := Anonymous
	if !s.do(func(st *state) {
		prev = st.state
		st.lastError = ""
		s.transition(st, Authenticating)
	}) {
		return false
	}

	res, err := s.auth.Login(ctx, creds)
	if err == nil && (res == nil || res.Token == "") {
		err = fmt.Errorf("login response has no token")
	}

	ok := false
	s.do(func(st *state) {
		if err != nil {
			st.lastError = displayMessage(err)
			if st.token == "" {
				prev = Anonymous
			}
			s.transition(st, prev)
			return
		}
		st.user = cloneUser(res.User)
		st.token = res.Token
		st.permissions = slices.Clone(res.Permissions)
		s.tokens.SetAuthToken(res.Token)
		s.persistAll(ctx, st)
		s.transition(st, Authenticated)
		ok = true
	})

	if err != nil {
		s.logger.RedactedWarn("login failed", "username", creds.Username, "error", err)
	} else if ok {
		s.logger.Info("login succeeded", "username", creds.Username)
	}
	return ok
}

// Logout tells the server (best effort) and clears identity, token,
// permissions and all durable keys.
func (s *Store) Logout(ctx context.Context) {
	authenticated := s.Snapshot().Token != ""
	if authenticated {
		if err := s.auth.Logout(ctx); err != nil {
			s.logger.RedactedWarn("server logout failed", "error", err)
		}
	}
	s.do(func(st *state) { s.clear(ctx, st) })
}

func (s *Store) clear(ctx context.Context, st *state) {
	st.user = nil
	st.token = ""
	st.permissions = nil
	s.tokens.ClearAuthToken()
	if s.storage != nil {
		for _, key := range []string{KeyUser, KeyToken, KeyPermissions} {
			if err := s.storage.Delete(ctx, key); err != nil {
				s.logger.Warn("failed to clear session key", "key", key, "error", err)
			}
		}
	}
	s.transition(st, Anonymous)
}

// VerifyToken asks the server whether the token is still valid. An invalid
// token or a failed call logs the session out and returns false.
func (s *Store) VerifyToken(ctx context.Context) bool {
	hasToken := false
	s.do(func(st *state) {
		if st.token == "" {
			return
		}
		hasToken = true
		s.transition(st, Verifying)
	})
	if !hasToken {
		return false
	}

	res, err := s.auth.Verify(ctx)
	if err == nil && (res == nil || !res.Valid) {
		err = fmt.Errorf("token is no longer valid")
	}

	if err != nil {
		s.logger.RedactedWarn("token verification failed", "error", err)
		s.do(func(st *state) {
			st.lastError = displayMessage(err)
			s.clear(ctx, st)
		})
		return false
	}

	s.do(func(st *state) {
		if res.User != nil {
			st.user = cloneUser(res.User)
			s.persist(ctx, KeyUser, st.user)
		}
		if res.Permissions != nil {
			st.permissions = slices.Clone(res.Permissions)
			s.persist(ctx, KeyPermissions, st.permissions)
		}
		s.transition(st, Authenticated)
	})
	return true
}

// RefreshToken rotates the token. Failures are logged and leave the state
// untouched.
func (s *Store) RefreshToken(ctx context.Context) bool {
	if s.Snapshot().Token == "" {
		return false
	}
	res, err := s.auth.Refresh(ctx)
	if err == nil && (res == nil || res.Token == "") {
		err = fmt.Errorf("refresh response has no token")
	}
	if err != nil {
		s.logger.RedactedWarn("token refresh failed", "error", err)
		return false
	}

	ok := false
	s.do(func(st *state) {
		if st.token == "" {
			return
		}
		st.token = res.Token
		s.tokens.SetAuthToken(res.Token)
		s.persist(ctx, KeyToken, st.token)
		ok = true
	})
	return ok
}

// Hydrate restores whichever durable keys are present. A token alone is
// enough to become Authenticated; identity without a token stays Anonymous.
// Keys that cannot be read are skipped and reported in the returned error.
func (s *Store) Hydrate(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}

	var (
		user  *types.User
		token string
		perms []string
	)
	errs := []error{
		s.load(ctx, KeyUser, &user),
		s.load(ctx, KeyToken, &token),
		s.load(ctx, KeyPermissions, &perms),
	}

	s.do(func(st *state) {
		if user != nil {
			st.user = user
		}
		if perms != nil {
			st.permissions = perms
		}
		if token != "" {
			st.token = token
			s.tokens.SetAuthToken(token)
			s.transition(st, Authenticated)
		}
	})

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Warn("session hydration incomplete", "error", err)
	}
	return err
}

func (s *Store) load(ctx context.Context, key string, v any) error {
	b, ok, err := s.storage.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) persistAll(ctx context.Context, st *state) {
	s.persist(ctx, KeyUser, st.user)
	s.persist(ctx, KeyToken, st.token)
	s.persist(ctx, KeyPermissions, st.permissions)
}

func (s *Store) persist(ctx context.Context, key string, v any) {
	if s.storage == nil {
		return
	}
	b, err := json.Marshal(v)
	if err == nil {
		err = s.storage.Set(ctx, key, b)
	}
	if err != nil {
		s.logger.Warn("failed to persist session key", "key", key, "error", err)
	}
}

// displayMessage prefers the server-provided message over the full error.
func displayMessage(err error) string {
	if e, ok := reqerrors.As(err); ok && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

func cloneUser(u *types.User) *types.User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = slices.Clone(u.Roles)
	return &c
}
