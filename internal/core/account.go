package core

import (
	"time"
)

// expiryLookahead is how early a token is treated as already expired.
// A token that lapses mid-launch is worse than an extra refresh round trip.
const expiryLookahead = 60 * time.Second

// Profile is the player's public game profile.
type Profile struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Skins []ProfileSkin `json:"skins,omitempty"`
	Capes []ProfileSkin `json:"capes,omitempty"`
}

// ProfileSkin describes a skin or cape reference attached to a profile.
type ProfileSkin struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	URL     string `json:"url"`
	Variant string `json:"variant,omitempty"`
}

// Account is an authenticated identity. The auth service owns it: created
// or replaced on successful login/refresh, deleted on refresh failure or
// logout, never mutated in place anywhere else.
type Account struct {
	Gamertag     string    `json:"gamertag"`
	UUID         string    `json:"uuid"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Profile      Profile   `json:"profile"`
}

// NeedsRefresh reports whether the access token must be refreshed before
// use. Tokens inside the lookahead window count as already expired.
func (a *Account) NeedsRefresh(now time.Time) bool {
	return !a.ExpiresAt.After(now.Add(expiryLookahead))
}
