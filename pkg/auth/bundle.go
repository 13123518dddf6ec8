// Package auth persists exported browser session cookie bundles between
// archive runs. Storage prefers the system keychain, falling back to an
// encrypted file, then environment variables.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fanvault/pkg/models"
)

// ErrInvalidBundle indicates a bundle missing its profile name or cookies.
var ErrInvalidBundle = errors.New("invalid session bundle")

// ErrBundleNotFound indicates no stored bundle for the requested profile.
var ErrBundleNotFound = errors.New("session bundle not found")

// SessionBundle is the cookie set exported from one authenticated browser
// profile, plus the user agent the session was established with.
type SessionBundle struct {
	Profile      string          `json:"profile"`
	Cookies      []models.Cookie `json:"cookies"`
	UserAgent    string          `json:"user_agent,omitempty"`
	LastModified time.Time       `json:"last_modified"`
}

// BundleStore is the interface for storing and retrieving session bundles
type BundleStore interface {
	Store(bundle *SessionBundle) error
	Retrieve(profile string) (*SessionBundle, error)
	List() ([]string, error)
	Delete(profile string) error
}

// Manager handles bundle storage with fallback mechanisms
type Manager struct {
	stores []BundleStore
}

// NewManager creates a manager with the available storage backends, most
// secure first.
func NewManager() (*Manager, error) {
	var stores []BundleStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "sessions.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// Store saves the bundle using the first store that accepts it.
func (m *Manager) Store(bundle *SessionBundle) error {
	if bundle == nil || bundle.Profile == "" || len(bundle.Cookies) == 0 {
		return ErrInvalidBundle
	}
	bundle.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(bundle); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("failed to store session bundle: %w", lastErr)
	}
	return errors.New("no available bundle stores")
}

// Retrieve gets the bundle from the first store that has it.
func (m *Manager) Retrieve(profile string) (*SessionBundle, error) {
	for _, store := range m.stores {
		if bundle, err := store.Retrieve(profile); err == nil && bundle != nil {
			return bundle, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, profile)
}

// List returns the union of profiles across all stores.
func (m *Manager) List() ([]string, error) {
	seen := make(map[string]struct{})
	var profiles []string
	for _, store := range m.stores {
		names, err := store.List()
		if err != nil {
			continue
		}
		for _, name := range names {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			profiles = append(profiles, name)
		}
	}
	return profiles, nil
}

// Delete removes the profile from every store that has it.
func (m *Manager) Delete(profile string) error {
	var deleted bool
	for _, store := range m.stores {
		if err := store.Delete(profile); err == nil {
			deleted = true
		}
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrBundleNotFound, profile)
	}
	return nil
}

func getConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "fanvault")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
