package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/lu-zhengda/quotemail/internal/domain"
)

const serviceName = "quotemail"

// KeyringCredentialStore persists the credential in the OS keyring
// (macOS Keychain, Windows Credential Manager, or Linux Secret Service).
type KeyringCredentialStore struct {
	account string
}

// NewKeyringCredentialStore returns a store keyed by account, usually the
// OAuth client ID so two apps on one machine never share a token.
func NewKeyringCredentialStore(account string) *KeyringCredentialStore {
	return &KeyringCredentialStore{account: account}
}

func (k *KeyringCredentialStore) Load() (*domain.Credential, error) {
	data, err := keyring.Get(serviceName, k.account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential from keyring: %w", err)
	}
	var cred domain.Credential
	if err := json.Unmarshal([]byte(data), &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

func (k *KeyringCredentialStore) Save(cred *domain.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	if err := keyring.Set(serviceName, k.account, string(data)); err != nil {
		return fmt.Errorf("failed to save credential to keyring: %w", err)
	}
	return nil
}

// Delete removes the credential. A missing entry is not an error.
func (k *KeyringCredentialStore) Delete() error {
	if err := keyring.Delete(serviceName, k.account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete credential from keyring: %w", err)
	}
	return nil
}

var _ CredentialStore = (*KeyringCredentialStore)(nil)
