// Package auth is the token lifecycle coordinator. It drives an identity provider client
// through startup reconciliation, interactive login, logout and silent credential
// retrieval, and publishes the outcome through a sessions.Store.
package auth

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/logging"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultLoginTimeout bounds an interactive login when the configuration does not.
const DefaultLoginTimeout = 30 * time.Second

// Credential is an access token handed to API callers. Its String form is masked.
type Credential struct {
	AccessToken string
	ExpiresOn   *time.Time
	Scopes      []string
	Account     sessions.Account
}

func (c Credential) String() string {
	return fmt.Sprintf("Credential{account=%s token=%s}", c.Account.ID, logging.MaskToken(c.AccessToken))
}

// Coordinator owns the session lifecycle. It is safe for concurrent use.
type Coordinator struct {
	provider     provider.Provider
	cfg          config.SessionConfig
	store        *sessions.Store
	logger       zerolog.Logger
	loginTimeout time.Duration

	startOnce     sync.Once
	reconciling   atomic.Bool
	loginInFlight atomic.Bool
}

// CoordinatorOption modifies a Coordinator.
type CoordinatorOption func(*Coordinator)

func WithLogger(l zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithLoginTimeout overrides the configured login timeout
func WithLoginTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.loginTimeout = d
	}
}

// WithStore publishes session state into store instead of a private one.
func WithStore(store *sessions.Store) CoordinatorOption {
	return func(c *Coordinator) {
		c.store = store
	}
}

// NewCoordinator creates a coordinator in the Unauthenticated state. Call Start once
// to reconcile with the provider's cache.
func NewCoordinator(p provider.Provider, cfg config.SessionConfig, opts ...CoordinatorOption) (*Coordinator, error) {
	if p == nil {
		return nil, errors.New("[NewCoordinator] provider is required")
	}
	if cfg == nil {
		return nil, errors.New("[NewCoordinator] session config is required")
	}

	c := &Coordinator{
		provider:     p,
		cfg:          cfg,
		logger:       log.Logger,
		loginTimeout: cfg.GetLoginTimeout(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = sessions.NewStore()
	}
	if c.loginTimeout <= 0 {
		c.loginTimeout = DefaultLoginTimeout
	}
	c.logger = c.logger.With().Str("component", "coordinator").Logger()
	return c, nil
}

// Start reconciles the session with whatever the provider has cached. Only the first call
// does anything.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.reconciling.Store(true)
		defer c.reconciling.Store(false)
		c.reconcile(ctx)
	})
}

func (c *Coordinator) reconcile(ctx context.Context) {
	gen := c.store.Generation()
	c.store.SetLoading(true)
	defer c.store.SetLoading(false)

	if err := c.provider.Initialize(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Identity provider initialization failed")
		c.store.TransitionAt(gen, sessions.Unauthenticated())
		c.store.SetErrorAt(gen, &sessions.Error{Kind: Classify(err), Message: MsgAuthCheckFailed, Err: err})
		return
	}

	accounts := c.provider.GetCachedAccounts()
	if len(accounts) == 0 {
		c.logger.Debug().Msg("No cached accounts")
		c.store.TransitionAt(gen, sessions.Unauthenticated())
		return
	}

	account := accounts[0]
	logger := c.logger.With().Str("account", account.ID).Logger()
	req := provider.SilentRequest{Scopes: c.cfg.GetAPIScopes(), Account: account}

	res, err := c.acquireSilently(ctx, req)
	if err == nil {
		c.store.TransitionAt(gen, sessions.Authenticated(resultAccount(res, account)))
		logger.Info().Msg("Session restored from cache")
		return
	}

	logger.Debug().Err(err).Msg("Silent token check failed, attempting refresh")
	if !c.store.TransitionAt(gen, sessions.Refreshing(account)) {
		return
	}

	res, err = c.acquireSilently(ctx, req)
	if err == nil {
		c.store.TransitionAt(gen, sessions.Authenticated(resultAccount(res, account)))
		logger.Info().Msg("Session refreshed")
		return
	}

	logger.Warn().Err(err).Msg("Session refresh failed")
	if c.store.TransitionAt(gen, sessions.Expired(account, expiryReason(err))) {
		c.store.SetErrorAt(gen, expiredError(account, err))
	}
}

// Login runs an interactive login. It returns immediately, with a nil error, when a login is
// already running, the provider is busy with another interaction, startup reconciliation is
// still running, or the session is already authenticated. A failed login returns the
// *sessions.Error that was also recorded as the last error.
func (c *Coordinator) Login(ctx context.Context) error {
	if c.reconciling.Load() {
		c.logger.Debug().Msg("Login ignored during startup reconciliation")
		return nil
	}
	if status := c.provider.InProgress(); status != provider.InteractionNone {
		c.logger.Debug().Stringer("interaction", status).Msg("Login ignored, provider interaction in progress")
		return nil
	}
	if c.store.Observe().IsAuthenticated() {
		return nil
	}
	if !c.loginInFlight.CompareAndSwap(false, true) {
		c.logger.Debug().Msg("Login ignored, another login is in flight")
		return nil
	}
	defer c.loginInFlight.Store(false)

	gen := c.store.Generation()
	if !c.store.TransitionAt(gen, sessions.Authenticating()) {
		c.logger.Debug().Stringer("state", c.store.Observe().State).Msg("Login not possible from current state")
		return nil
	}
	c.store.ClearError()
	c.store.SetLoading(true)
	defer c.store.SetLoading(false)

	logger := c.logger.With().Str("login_attempt", uuid.NewString()).Logger()
	logger.Info().Dur("timeout", c.loginTimeout).Msg("Starting interactive login")

	outcome := c.raceLogin(ctx, logger, provider.LoginRequest{
		Scopes: c.cfg.GetAPIScopes(),
		Prompt: c.cfg.GetLoginPrompt(),
		PopupSize: provider.PopupSize{
			Width:  c.cfg.GetPopupWidth(),
			Height: c.cfg.GetPopupHeight(),
		},
	})

	if outcome.err == nil && (outcome.result == nil || outcome.result.Account == nil || outcome.result.Account.ID == "") {
		outcome.err = ErrNoAccount
	}

	if outcome.err != nil {
		sessErr := loginError(outcome.err)
		logger.Warn().Err(outcome.err).Str("kind", string(sessErr.Kind)).Msg("Login failed")
		if c.store.TransitionAt(gen, sessions.Unauthenticated()) {
			c.store.SetErrorAt(gen, sessErr)
		}
		return sessErr
	}

	account := *outcome.result.Account
	if !c.store.TransitionAt(gen, sessions.Authenticated(account)) {
		logger.Info().Msg("Login result discarded, the session changed while signing in")
		return nil
	}
	logger.Info().Str("account", account.ID).Msg("Login complete")
	return nil
}

// raceLogin runs the provider login against the login timeout and ctx. Whichever finishes
// first settles the outcome; the provider's context is cancelled once it is settled.
func (c *Coordinator) raceLogin(ctx context.Context, logger zerolog.Logger, req provider.LoginRequest) loginOutcome {
	slot := newLoginSlot()
	providerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.AfterFunc(c.loginTimeout, func() {
		slot.settle(loginOutcome{err: provider.NewError(provider.CodeTimedOut, "login timed out", context.DeadlineExceeded)})
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() {
		slot.settle(loginOutcome{err: ctx.Err()})
	})
	defer stop()

	go func() {
		res, err := c.provider.LoginInteractively(providerCtx, req)
		if !slot.settle(loginOutcome{result: res, err: err}) {
			logger.Debug().Err(err).Msg("Discarding login completion that arrived after the race was settled")
		}
	}()

	return slot.wait()
}

// Logout signs the user out. Local state always ends Unauthenticated with no error; a
// failure of the provider's remote logout is logged and returned as a warning.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.store.SetLoading(true)
	defer c.store.SetLoading(false)

	// Anything started before this point must not land afterwards
	c.store.Invalidate()

	account := c.store.Observe().State.Account
	err := c.provider.LogoutInteractively(ctx, provider.LogoutRequest{
		Account:               account,
		PostLogoutRedirectURI: c.cfg.GetPostLogoutRedirectURI(),
	})

	c.store.Transition(sessions.Unauthenticated())
	c.store.ClearError()

	if err != nil {
		c.logger.Warn().Err(err).Msg("Remote logout failed, local session cleared")
		return errors.Wrap(err, "[Coordinator Logout] remote logout failed")
	}
	c.logger.Info().Msg("Logged out")
	return nil
}

// AccessToken returns an access token for the configured API scope, or false when none can
// be had without user interaction. It never fails loudly.
func (c *Coordinator) AccessToken(ctx context.Context) (string, bool) {
	cred, ok := c.Credential(ctx)
	if !ok {
		return "", false
	}
	return cred.AccessToken, true
}

// Credential is AccessToken with the token's metadata.
func (c *Coordinator) Credential(ctx context.Context) (*Credential, bool) {
	gen := c.store.Generation()
	account := c.store.Observe().Account()
	if account == nil {
		return nil, false
	}

	res, err := c.acquireSilently(ctx, provider.SilentRequest{
		Scopes:  c.cfg.GetAPIScopes(),
		Account: *account,
	})
	if err != nil {
		if Classify(err) == sessions.ErrorInteractionRequired {
			c.logger.Info().Str("account", account.ID).Err(err).Msg("Session expired")
			if c.store.TransitionAt(gen, sessions.Expired(*account, ReasonSessionExpired)) {
				c.store.SetErrorAt(gen, expiredError(*account, err))
			}
		} else {
			c.logger.Warn().Str("account", account.ID).Err(err).Msg("Failed to acquire access token")
		}
		return nil, false
	}

	// The session may have moved on while the request was out
	current := c.store.Observe().Account()
	if current == nil || current.ID != account.ID || c.store.Generation() != gen {
		return nil, false
	}

	return &Credential{
		AccessToken: res.AccessToken,
		ExpiresOn:   res.ExpiresOn,
		Scopes:      slices.Clone(res.Scopes),
		Account:     *current,
	}, true
}

// ClearCache wipes the provider's token cache, where it has one, and resets the session.
func (c *Coordinator) ClearCache(ctx context.Context) error {
	c.store.Invalidate()

	var err error
	if clearer, ok := c.provider.(provider.CacheClearer); ok {
		err = clearer.ClearCache(ctx)
	}
	c.store.Reset()

	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to clear provider cache")
		return errors.Wrap(err, "[Coordinator ClearCache]")
	}
	c.logger.Info().Msg("Token cache cleared")
	return nil
}

func (c *Coordinator) IsAuthenticated() bool {
	return c.store.Observe().IsAuthenticated()
}

// Account returns the signed-in account, or nil.
func (c *Coordinator) Account() *sessions.Account {
	return c.store.Observe().Account()
}

func (c *Coordinator) IsLoading() bool {
	return c.store.Observe().IsLoading
}

func (c *Coordinator) LastError() *sessions.Error {
	return c.store.Observe().LastError
}

// Observe returns a snapshot of the whole session.
func (c *Coordinator) Observe() sessions.Snapshot {
	return c.store.Observe()
}

// Subscribe registers fn for every session change. fn runs on the goroutine that made the
// change.
func (c *Coordinator) Subscribe(fn sessions.Subscriber) (unsubscribe func()) {
	return c.store.Subscribe(fn)
}

// acquireSilently treats an answer without an access token as a failure.
func (c *Coordinator) acquireSilently(ctx context.Context, req provider.SilentRequest) (*provider.Result, error) {
	res, err := c.provider.AcquireTokenSilently(ctx, req)
	if err != nil {
		return nil, err
	}
	if res == nil || res.AccessToken == "" {
		return nil, ErrEmptyToken
	}
	return res, nil
}

func resultAccount(res *provider.Result, fallback sessions.Account) sessions.Account {
	if res.Account != nil && res.Account.ID != "" {
		return *res.Account
	}
	return fallback
}
