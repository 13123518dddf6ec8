package auth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "fanvault"
	keyringPrefix  = "session_"
	keyringIndex   = "session_index"
)

// KeyringStore implements BundleStore using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a new keyring-based bundle store
func NewKeyringStore() (*KeyringStore, error) {
	// Test if keyring is available
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Store saves the bundle to the system keychain
func (k *KeyringStore) Store(bundle *SessionBundle) error {
	if bundle == nil || bundle.Profile == "" {
		return ErrInvalidBundle
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle: %w", err)
	}

	key := keyringPrefix + bundle.Profile
	if err := keyring.Set(keyringService, key, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	return k.addToIndex(bundle.Profile)
}

// Retrieve gets the bundle from the system keychain
func (k *KeyringStore) Retrieve(profile string) (*SessionBundle, error) {
	if profile == "" {
		return nil, ErrInvalidBundle
	}

	data, err := keyring.Get(keyringService, keyringPrefix+profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, profile)
	}

	var bundle SessionBundle
	if err := json.Unmarshal([]byte(data), &bundle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bundle: %w", err)
	}
	return &bundle, nil
}

// List returns the stored profile names. The keychain has no enumeration
// API, so an index entry tracks them.
func (k *KeyringStore) List() ([]string, error) {
	index, err := keyring.Get(keyringService, keyringIndex)
	if err != nil {
		return nil, nil
	}
	var profiles []string
	for _, name := range strings.Split(index, "\n") {
		if name != "" {
			profiles = append(profiles, name)
		}
	}
	return profiles, nil
}

// Delete removes the bundle from the system keychain
func (k *KeyringStore) Delete(profile string) error {
	if profile == "" {
		return ErrInvalidBundle
	}
	if err := keyring.Delete(keyringService, keyringPrefix+profile); err != nil {
		return fmt.Errorf("%w: %s", ErrBundleNotFound, profile)
	}
	k.removeFromIndex(profile)
	return nil
}

func (k *KeyringStore) addToIndex(profile string) error {
	existing, _ := k.List()
	for _, name := range existing {
		if name == profile {
			return nil
		}
	}
	existing = append(existing, profile)
	return keyring.Set(keyringService, keyringIndex, strings.Join(existing, "\n"))
}

func (k *KeyringStore) removeFromIndex(profile string) {
	existing, _ := k.List()
	var kept []string
	for _, name := range existing {
		if name != profile {
			kept = append(kept, name)
		}
	}
	_ = keyring.Set(keyringService, keyringIndex, strings.Join(kept, "\n"))
}
