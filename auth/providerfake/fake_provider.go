// Package providerfake is a scriptable provider.Provider for coordinator tests.
package providerfake

import (
	"context"
	"slices"
	"sync"

	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
)

// SilentResponse is one scripted answer to AcquireTokenSilently.
type SilentResponse struct {
	Result *provider.Result
	Err    error
}

// Provider records every call and answers from its script. Configure it before handing it
// to the code under test; use the setters for anything changed while calls are running.
type Provider struct {
	mu sync.Mutex

	initErr       error
	accounts      []sessions.Account
	silentQueue   []SilentResponse
	silentDefault SilentResponse
	loginResult   *provider.Result
	loginErr      error
	loginBlock    chan struct{}
	ignoreCancel  bool
	logoutErr     error
	clearErr      error
	status        provider.InteractionStatus

	initCalls       int
	silentRequests  []provider.SilentRequest
	loginRequests   []provider.LoginRequest
	loginReturns    int
	loginCancelled  bool
	logoutRequests  []provider.LogoutRequest
	clearCacheCalls int
}

var (
	_ provider.Provider     = (*Provider)(nil)
	_ provider.CacheClearer = (*Provider)(nil)
)

// New returns a fake with no cached accounts whose silent requests fail with
// interaction_required and whose logins fail with user_cancelled.
func New() *Provider {
	return &Provider{
		silentDefault: SilentResponse{Err: provider.NewError(provider.CodeInteractionRequired, "no script", nil)},
		loginErr:      provider.NewError(provider.CodeUserCancelled, "no script", nil),
	}
}

func (p *Provider) SetInitError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initErr = err
}

func (p *Provider) SetAccounts(accounts ...sessions.Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = slices.Clone(accounts)
}

// QueueSilent appends answers consumed in order by AcquireTokenSilently. Once the queue is
// empty the default answer is used.
func (p *Provider) QueueSilent(responses ...SilentResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silentQueue = append(p.silentQueue, responses...)
}

func (p *Provider) SetSilentDefault(r SilentResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silentDefault = r
}

// SetLogin sets what LoginInteractively returns.
func (p *Provider) SetLogin(res *provider.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loginResult, p.loginErr = res, err
}

// BlockLogin makes LoginInteractively wait until the returned function is called. With
// ignoreCancel the wait also outlives the call's context, like an identity provider that
// cannot be aborted.
func (p *Provider) BlockLogin(ignoreCancel bool) (release func()) {
	block := make(chan struct{})
	p.mu.Lock()
	p.loginBlock = block
	p.ignoreCancel = ignoreCancel
	p.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(block) }) }
}

func (p *Provider) SetLogoutError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logoutErr = err
}

func (p *Provider) SetClearCacheError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearErr = err
}

// SetInProgress sets what InProgress reports.
func (p *Provider) SetInProgress(status provider.InteractionStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initCalls++
	return p.initErr
}

func (p *Provider) InProgress() provider.InteractionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Provider) GetCachedAccounts() []sessions.Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.accounts)
}

func (p *Provider) AcquireTokenSilently(ctx context.Context, req provider.SilentRequest) (*provider.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silentRequests = append(p.silentRequests, req)

	resp := p.silentDefault
	if len(p.silentQueue) > 0 {
		resp = p.silentQueue[0]
		p.silentQueue = p.silentQueue[1:]
	}
	return resp.Result, resp.Err
}

func (p *Provider) LoginInteractively(ctx context.Context, req provider.LoginRequest) (*provider.Result, error) {
	p.mu.Lock()
	p.loginRequests = append(p.loginRequests, req)
	block, ignoreCancel := p.loginBlock, p.ignoreCancel
	p.mu.Unlock()

	if block != nil {
		if ignoreCancel {
			<-block
		} else {
			select {
			case <-block:
			case <-ctx.Done():
				p.mu.Lock()
				p.loginCancelled = true
				p.loginReturns++
				p.mu.Unlock()
				return nil, ctx.Err()
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loginReturns++
	return p.loginResult, p.loginErr
}

func (p *Provider) LogoutInteractively(ctx context.Context, req provider.LogoutRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logoutRequests = append(p.logoutRequests, req)
	p.accounts = nil
	return p.logoutErr
}

func (p *Provider) ClearCache(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearCacheCalls++
	if p.clearErr != nil {
		return p.clearErr
	}
	p.accounts = nil
	return nil
}

func (p *Provider) InitCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initCalls
}

func (p *Provider) SilentRequests() []provider.SilentRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.silentRequests)
}

func (p *Provider) LoginRequests() []provider.LoginRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.loginRequests)
}

// LoginReturns counts LoginInteractively calls that have returned.
func (p *Provider) LoginReturns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loginReturns
}

// LoginCancelled reports whether a blocked login saw its context end.
func (p *Provider) LoginCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loginCancelled
}

func (p *Provider) LogoutRequests() []provider.LogoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.logoutRequests)
}

func (p *Provider) ClearCacheCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clearCacheCalls
}
