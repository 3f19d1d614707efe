package api

import (
	"errors"
	"fmt"
)

var (
	// ErrProfileNotFound marks a 404 from the profile endpoint: the
	// identity authenticated fine but owns no game entitlement.
	ErrProfileNotFound = errors.New("game profile not found for this account")

	// ErrSessionExpired marks a device-code session whose user never
	// approved the login before the provider's deadline.
	ErrSessionExpired = errors.New("device authorization session expired")
)

// AuthError is a terminal failure in the authentication chain. Hop names
// the exchange that failed.
type AuthError struct {
	Hop        string
	StatusCode int
	Detail     string
}

func (e *AuthError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s authentication failed (status %d): %s", e.Hop, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s authentication failed (status %d)", e.Hop, e.StatusCode)
}

// ManifestFetchError is a non-success status from the version manifest
// endpoint.
type ManifestFetchError struct {
	StatusCode int
}

func (e *ManifestFetchError) Error() string {
	return fmt.Sprintf("fetching version manifest: unexpected status %d", e.StatusCode)
}

// VersionFetchError is a non-success status fetching one version's details.
type VersionFetchError struct {
	VersionID  string
	StatusCode int
}

func (e *VersionFetchError) Error() string {
	return fmt.Sprintf("fetching version details for %s: unexpected status %d", e.VersionID, e.StatusCode)
}
