// Package secretstore persists account refresh tokens in the operating
// system's credential store (Windows Credential Manager, macOS
// Keychain, or the Secret Service/libsecret on Linux) rather than in
// plaintext alongside the account catalog.
package secretstore

import (
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/embercore/launcher-core/src/config"
)

// service is the keyring service name under which every secret is
// stored; items are keyed per-account within it.
const service = config.ProductName

// key builds the keyring item name for an account's refresh token.
func key(accountID string) string {
	return fmt.Sprintf("account:%s", accountID)
}

// Store saves the refresh token for accountID, overwriting any
// previous value.
func Store(accountID, refreshToken string) error {
	if err := keyring.Set(service, key(accountID), refreshToken); err != nil {
		return fmt.Errorf("secretstore: store %s: %w", accountID, err)
	}
	return nil
}

// Load returns the refresh token for accountID. It returns
// keyring.ErrNotFound (unwrapped, so callers can errors.Is(err,
// keyring.ErrNotFound)) when no secret has been stored.
func Load(accountID string) (string, error) {
	token, err := keyring.Get(service, key(accountID))
	if err != nil {
		return "", err
	}
	return token, nil
}

// Delete removes the refresh token for accountID. Deleting an absent
// entry is not an error.
func Delete(accountID string) error {
	err := keyring.Delete(service, key(accountID))
	if err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("secretstore: delete %s: %w", accountID, err)
	}
	return nil
}
