// Package api contains the HTTP clients for the launcher's external
// services: the identity federation chain and the version metadata API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	deviceCodeURL  = "https://login.microsoftonline.com/consumers/oauth2/v2.0/devicecode"
	tokenURL       = "https://login.microsoftonline.com/consumers/oauth2/v2.0/token"
	xboxAuthURL    = "https://user.auth.xboxlive.com/user/authenticate"
	xstsAuthURL    = "https://xsts.auth.xboxlive.com/xsts/authorize"
	gameAuthURL    = "https://api.minecraftservices.com/authentication/login_with_xbox"
	gameProfileURL = "https://api.minecraftservices.com/minecraft/profile"
)

const oauthScope = "XboxLive.signin offline_access"

// AuthClient performs the device-code grant and the federated exchanges
// that turn it into a game-service token. Every hop is strictly
// sequential; none of these calls are safe to retry blindly, so the client
// uses a plain HTTP client rather than the retrying one the downloader has.
type AuthClient struct {
	httpClient *http.Client
	clientID   string
}

// NewAuthClient creates a client for the given OAuth application id.
func NewAuthClient(clientID string) *AuthClient {
	return &AuthClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		clientID:   clientID,
	}
}

// DeviceCodeResponse is the identity provider's reply to a device-code
// request.
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	Message         string `json:"message"`
}

// IdentityToken is a platform identity token with its refresh token.
type IdentityToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type federationRequest struct {
	Properties   federationProperties `json:"Properties"`
	RelyingParty string               `json:"RelyingParty"`
	TokenType    string               `json:"TokenType"`
}

type federationProperties struct {
	AuthMethod string   `json:"AuthMethod,omitempty"`
	SiteName   string   `json:"SiteName,omitempty"`
	RpsTicket  string   `json:"RpsTicket,omitempty"`
	SandboxID  string   `json:"SandboxId,omitempty"`
	UserTokens []string `json:"UserTokens,omitempty"`
}

// FederationToken is a token issued by one of the Xbox federation hops.
type FederationToken struct {
	Token         string `json:"Token"`
	DisplayClaims struct {
		XUI []struct {
			UHS string `json:"uhs"`
		} `json:"xui"`
	} `json:"DisplayClaims"`
}

// UserHash returns the user hash claim required by the game login hop.
func (t *FederationToken) UserHash() string {
	if len(t.DisplayClaims.XUI) == 0 {
		return ""
	}
	return t.DisplayClaims.XUI[0].UHS
}

// GameToken is the game service's bearer token.
type GameToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// ProfileResponse is the player's public profile document.
type ProfileResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Skins []struct {
		ID      string `json:"id"`
		State   string `json:"state"`
		URL     string `json:"url"`
		Variant string `json:"variant"`
	} `json:"skins"`
	Capes []struct {
		ID    string `json:"id"`
		State string `json:"state"`
		URL   string `json:"url"`
	} `json:"capes"`
}

// RequestDeviceCode starts the device-code grant.
func (c *AuthClient) RequestDeviceCode(ctx context.Context) (*DeviceCodeResponse, error) {
	form := url.Values{
		"client_id": {c.clientID},
		"scope":     {oauthScope},
	}

	resp, err := c.postForm(ctx, deviceCodeURL, form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &AuthError{Hop: "device code", StatusCode: resp.StatusCode, Detail: string(body)}
	}

	var result DeviceCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding device code response: %w", err)
	}
	return &result, nil
}

// PollToken polls the token endpoint until the user approves the login.
// "authorization_pending" keeps polling at the provider's interval,
// "slow_down" widens it, and reaching the session deadline fails with
// ErrSessionExpired rather than polling forever.
func (c *AuthClient) PollToken(ctx context.Context, dc *DeviceCodeResponse) (*IdentityToken, error) {
	form := url.Values{
		"client_id":   {c.clientID},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {dc.DeviceCode},
	}

	interval := time.Duration(dc.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(dc.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		resp, err := c.postForm(ctx, tokenURL, form)
		if err != nil {
			// Transient transport error; the next tick retries.
			continue
		}

		var result struct {
			IdentityToken
			Error string `json:"error"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if decodeErr != nil {
			continue
		}

		switch result.Error {
		case "":
			return &result.IdentityToken, nil
		case "authorization_pending":
			continue
		case "slow_down":
			interval += 5 * time.Second
			continue
		case "expired_token":
			return nil, ErrSessionExpired
		default:
			return nil, &AuthError{Hop: "device token", StatusCode: resp.StatusCode, Detail: result.Error}
		}
	}

	return nil, ErrSessionExpired
}

// RefreshIdentity redeems a refresh token for a fresh identity token.
func (c *AuthClient) RefreshIdentity(ctx context.Context, refreshToken string) (*IdentityToken, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"scope":         {oauthScope},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	resp, err := c.postForm(ctx, tokenURL, form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{Hop: "token refresh", StatusCode: resp.StatusCode}
	}

	var result IdentityToken
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding refresh response: %w", err)
	}
	return &result, nil
}

// AuthenticateXbox exchanges the identity token for an Xbox user token.
func (c *AuthClient) AuthenticateXbox(ctx context.Context, identityToken string) (*FederationToken, error) {
	req := federationRequest{
		Properties: federationProperties{
			AuthMethod: "RPS",
			SiteName:   "user.auth.xboxlive.com",
			RpsTicket:  "d=" + identityToken,
		},
		RelyingParty: "http://auth.xboxlive.com",
		TokenType:    "JWT",
	}
	return c.doFederation(ctx, "xbox", xboxAuthURL, req)
}

// AuthenticateXSTS exchanges the Xbox user token for a realm authorization
// token.
func (c *AuthClient) AuthenticateXSTS(ctx context.Context, xboxToken string) (*FederationToken, error) {
	req := federationRequest{
		Properties: federationProperties{
			SandboxID:  "RETAIL",
			UserTokens: []string{xboxToken},
		},
		RelyingParty: "rp://api.minecraftservices.com/",
		TokenType:    "JWT",
	}
	return c.doFederation(ctx, "xsts", xstsAuthURL, req)
}

func (c *AuthClient) doFederation(ctx context.Context, hop, endpoint string, body federationRequest) (*FederationToken, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		return nil, &AuthError{Hop: hop, StatusCode: resp.StatusCode, Detail: string(detail)}
	}

	var result FederationToken
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", hop, err)
	}
	return &result, nil
}

// LoginWithXbox exchanges the realm token and user hash for a game-service
// bearer token.
func (c *AuthClient) LoginWithXbox(ctx context.Context, userHash, xstsToken string) (*GameToken, error) {
	payload, err := json.Marshal(map[string]string{
		"identityToken": fmt.Sprintf("XBL3.0 x=%s;%s", userHash, xstsToken),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gameAuthURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		return nil, &AuthError{Hop: "game login", StatusCode: resp.StatusCode, Detail: string(detail)}
	}

	var result GameToken
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding game login response: %w", err)
	}
	return &result, nil
}

// FetchProfile loads the player's public profile. A 404 is the distinct
// "authenticated but unentitled" condition, not an auth failure.
func (c *AuthClient) FetchProfile(ctx context.Context, accessToken string) (*ProfileResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gameProfileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrProfileNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{Hop: "profile", StatusCode: resp.StatusCode}
	}

	var result ProfileResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	return &result, nil
}

func (c *AuthClient) postForm(ctx context.Context, endpoint string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.httpClient.Do(req)
}
