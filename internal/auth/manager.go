// Package auth keeps a usable mailbox access token for the duration of a run.
//
// Manager walks a small state machine: a cached credential that has not
// expired is used as is, an expired one is refreshed with its refresh token,
// and anything else falls back to an interactive authorization. Every newly
// acquired credential is written back to the cache before it is handed out.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lu-zhengda/quotemail/internal/domain"
	"github.com/lu-zhengda/quotemail/internal/store"
)

var (
	// ErrMissingCredentials is returned when no OAuth client ID or secret
	// has been configured.
	ErrMissingCredentials = errors.New("oauth client credentials not configured")
	// ErrAuthorization wraps a failed interactive authorization.
	ErrAuthorization = errors.New("authorization failed")
)

// State is the step of the token lifecycle the manager last passed through.
type State int

const (
	StateNoCache State = iota
	StateCachedValid
	StateCachedExpired
	StateRefreshing
	StateAuthorizing
)

func (s State) String() string {
	switch s {
	case StateNoCache:
		return "no_cache"
	case StateCachedValid:
		return "cached_valid"
	case StateCachedExpired:
		return "cached_expired"
	case StateRefreshing:
		return "refreshing"
	case StateAuthorizing:
		return "authorizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Authority talks to the identity provider.
type Authority interface {
	Refresh(ctx context.Context, refreshToken string) (*domain.Credential, error)
	Authorize(ctx context.Context) (*domain.Credential, error)
}

// Manager hands out a valid access token, refreshing or re-authorizing
// as needed. It is safe for concurrent use; at most one refresh or
// authorization runs at a time.
type Manager struct {
	cache     store.CredentialStore
	authority Authority
	log       zerolog.Logger
	now       func() time.Time

	mu     sync.Mutex
	loaded bool
	cred   *domain.Credential
	state  State
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func NewManager(cache store.CredentialStore, authority Authority, opts ...Option) *Manager {
	m := &Manager{
		cache:     cache,
		authority: authority,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the last lifecycle state the manager passed through.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GetValidAccessToken returns an access token that has not expired at the
// time of the call.
func (m *Manager) GetValidAccessToken(ctx context.Context) (string, error) {
	cred, err := m.credential(ctx)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

func (m *Manager) credential(ctx context.Context) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		cred, err := m.cache.Load()
		if err != nil {
			m.log.Warn().Err(err).Msg("credential cache unreadable, starting without it")
			cred = nil
		}
		m.cred = cred
		m.loaded = true
	}

	if m.cred == nil {
		m.setState(StateNoCache)
		return m.authorize(ctx)
	}

	if m.cred.Valid(m.now()) {
		m.setState(StateCachedValid)
		return m.cred, nil
	}

	m.setState(StateCachedExpired)
	if m.cred.RefreshToken != "" {
		m.setState(StateRefreshing)
		fresh, err := m.authority.Refresh(ctx, m.cred.RefreshToken)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.log.Warn().Err(err).Msg("token refresh failed, falling back to authorization")
		case fresh == nil || fresh.AccessToken == "":
			m.log.Warn().Msg("token refresh returned no access token, falling back to authorization")
		default:
			if fresh.RefreshToken == "" {
				fresh.RefreshToken = m.cred.RefreshToken
			}
			return m.persist(fresh)
		}
	}

	return m.authorize(ctx)
}

func (m *Manager) authorize(ctx context.Context) (*domain.Credential, error) {
	m.setState(StateAuthorizing)
	cred, err := m.authority.Authorize(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthorization, err)
	}
	if cred == nil || cred.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access token returned", ErrAuthorization)
	}
	return m.persist(cred)
}

func (m *Manager) persist(cred *domain.Credential) (*domain.Credential, error) {
	m.cred = cred
	if err := m.cache.Save(cred); err != nil {
		return nil, fmt.Errorf("failed to persist credential: %w", err)
	}
	m.log.Debug().Time("expires_on", cred.ExpiresOn).Msg("credential cached")
	return cred, nil
}

func (m *Manager) setState(s State) {
	m.state = s
	m.log.Debug().Stringer("state", s).Msg("token state")
}
