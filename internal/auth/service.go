// Package auth owns the authentication state machine: unauthenticated,
// device-code pending, authenticated. It drives the federation chain in
// internal/api and is the only writer of the persisted account.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quasar/cleanlaunch/internal/api"
	"github.com/quasar/cleanlaunch/internal/core"
)

// ErrNoPendingSession is returned when CompleteDeviceAuth is called
// without a prior StartDeviceAuth.
var ErrNoPendingSession = errors.New("no pending device authorization session")

// Client is the identity API surface the service drives. *api.AuthClient
// implements it.
type Client interface {
	RequestDeviceCode(ctx context.Context) (*api.DeviceCodeResponse, error)
	PollToken(ctx context.Context, dc *api.DeviceCodeResponse) (*api.IdentityToken, error)
	RefreshIdentity(ctx context.Context, refreshToken string) (*api.IdentityToken, error)
	AuthenticateXbox(ctx context.Context, identityToken string) (*api.FederationToken, error)
	AuthenticateXSTS(ctx context.Context, xboxToken string) (*api.FederationToken, error)
	LoginWithXbox(ctx context.Context, userHash, xstsToken string) (*api.GameToken, error)
	FetchProfile(ctx context.Context, accessToken string) (*api.ProfileResponse, error)
}

// Session is the ephemeral pending-login state handed to the caller so it
// can show the verification code. It is never persisted.
type Session struct {
	VerificationURI string
	UserCode        string
	Message         string
	Interval        int
	ExpiresAt       time.Time

	deviceCode *api.DeviceCodeResponse
}

// Service sequences the device-code flow and keeps the stored account
// fresh. The pending session is a single slot: starting a new login
// overwrites any previous pending one, there is no queueing.
type Service struct {
	client Client
	store  SecretStore
	log    *slog.Logger

	mu      sync.Mutex
	pending *Session
}

// NewService wires the auth service. A nil logger discards.
func NewService(client Client, store SecretStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{client: client, store: store, log: log}
}

// StartDeviceAuth requests a device code and installs it as the pending
// session, replacing any prior one.
func (s *Service) StartDeviceAuth(ctx context.Context) (*Session, error) {
	dc, err := s.client.RequestDeviceCode(ctx)
	if err != nil {
		return nil, err
	}

	session := &Session{
		VerificationURI: dc.VerificationURI,
		UserCode:        dc.UserCode,
		Message:         dc.Message,
		Interval:        dc.Interval,
		ExpiresAt:       time.Now().Add(time.Duration(dc.ExpiresIn) * time.Second),
		deviceCode:      dc,
	}

	s.mu.Lock()
	s.pending = session
	s.mu.Unlock()

	return session, nil
}

// CompleteDeviceAuth consumes the pending session: polls until the user
// approves, walks the federation chain, persists the account and clears
// the slot. The slot is kept on failure so the user can retry the same
// code until it expires.
func (s *Service) CompleteDeviceAuth(ctx context.Context) (*core.Account, error) {
	s.mu.Lock()
	session := s.pending
	s.mu.Unlock()
	if session == nil {
		return nil, ErrNoPendingSession
	}

	identity, err := s.client.PollToken(ctx, session.deviceCode)
	if err != nil {
		return nil, err
	}

	account, err := s.exchangeIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(account); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.pending == session {
		s.pending = nil
	}
	s.mu.Unlock()

	s.log.Info("signed in", "gamertag", account.Gamertag)
	return account, nil
}

// GetStoredAccount returns the persisted account with a live token. A
// token within the expiry lookahead is refreshed transparently; if the
// refresh fails for any reason the account is deleted and nil is returned,
// indistinguishable from never having logged in.
func (s *Service) GetStoredAccount(ctx context.Context) (*core.Account, error) {
	stored, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}
	if !stored.NeedsRefresh(time.Now()) {
		return stored, nil
	}

	refreshed, err := s.refresh(ctx, stored)
	if err != nil {
		s.log.Warn("token refresh failed, clearing stored account", "error", err)
		_ = s.store.Delete()
		return nil, nil
	}
	return refreshed, nil
}

// Logout deletes the persisted account unconditionally.
func (s *Service) Logout() error {
	return s.store.Delete()
}

func (s *Service) refresh(ctx context.Context, account *core.Account) (*core.Account, error) {
	identity, err := s.client.RefreshIdentity(ctx, account.RefreshToken)
	if err != nil {
		return nil, err
	}

	refreshed, err := s.exchangeIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(refreshed); err != nil {
		return nil, err
	}
	return refreshed, nil
}

// exchangeIdentity walks the three federation hops and the profile fetch.
// Each hop needs the previous hop's token, so the chain is inherently
// sequential.
func (s *Service) exchangeIdentity(ctx context.Context, identity *api.IdentityToken) (*core.Account, error) {
	xbox, err := s.client.AuthenticateXbox(ctx, identity.AccessToken)
	if err != nil {
		return nil, err
	}

	xsts, err := s.client.AuthenticateXSTS(ctx, xbox.Token)
	if err != nil {
		return nil, err
	}

	game, err := s.client.LoginWithXbox(ctx, xsts.UserHash(), xsts.Token)
	if err != nil {
		return nil, err
	}

	profile, err := s.client.FetchProfile(ctx, game.AccessToken)
	if err != nil {
		return nil, err
	}

	account := &core.Account{
		Gamertag:     profile.Name,
		UUID:         profile.ID,
		AccessToken:  game.AccessToken,
		RefreshToken: identity.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(game.ExpiresIn) * time.Second),
		Profile:      toProfile(profile),
	}
	return account, nil
}

func toProfile(p *api.ProfileResponse) core.Profile {
	profile := core.Profile{ID: p.ID, Name: p.Name}
	for _, skin := range p.Skins {
		profile.Skins = append(profile.Skins, core.ProfileSkin{
			ID: skin.ID, State: skin.State, URL: skin.URL, Variant: skin.Variant,
		})
	}
	for _, cape := range p.Capes {
		profile.Capes = append(profile.Capes, core.ProfileSkin{
			ID: cape.ID, State: cape.State, URL: cape.URL,
		})
	}
	return profile
}
