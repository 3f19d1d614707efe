package auth

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/quasar/cleanlaunch/internal/core"
)

const (
	keychainService = "cleanlaunch-ms-auth"

	appName    = "cleanlaunch"
	appVersion = "0.1.0"
)

// SecretStore persists the single Account blob in some credential backend.
type SecretStore interface {
	Save(account *core.Account) error
	Load() (*core.Account, error)
	Delete() error
}

// KeyringStore stores the account in the OS credential store, keyed by a
// deterministic derivation of the application identity so that different
// launcher versions do not clobber each other's entries.
type KeyringStore struct{}

// NewKeyringStore returns the OS-backed secret store.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func storageKey() string {
	return keychainService + "-" + hex.EncodeToString([]byte(appName+"-"+appVersion))
}

// Save serializes and stores the account.
func (s *KeyringStore) Save(account *core.Account) error {
	blob, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encoding account: %w", err)
	}
	return keyring.Set(keychainService, storageKey(), string(blob))
}

// Load returns the stored account, or nil when none is stored. A blob that
// no longer parses is deleted and treated as absent.
func (s *KeyringStore) Load() (*core.Account, error) {
	raw, err := keyring.Get(keychainService, storageKey())
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var account core.Account
	if err := json.Unmarshal([]byte(raw), &account); err != nil {
		_ = s.Delete()
		return nil, nil
	}
	return &account, nil
}

// Delete removes the stored account. Deleting an absent entry is a no-op.
func (s *KeyringStore) Delete() error {
	err := keyring.Delete(keychainService, storageKey())
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
