package auth

import (
	"fmt"
	"os"
	"strings"

	"fanvault/pkg/models"
)

// EnvironmentStore implements BundleStore over environment variables, as a
// last-resort read-only source for CI and headless runs.
//
//	FANVAULT_COOKIES       "name=value; name2=value2"
//	FANVAULT_COOKIE_DOMAIN  domain the cookies belong to
//	FANVAULT_USER_AGENT     optional user agent override
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based bundle store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is unsupported; the environment is read-only.
func (s *EnvironmentStore) Store(*SessionBundle) error {
	return fmt.Errorf("environment store is read-only")
}

// Retrieve builds a bundle from environment variables. Any profile name
// matches; the environment holds at most one session.
func (s *EnvironmentStore) Retrieve(profile string) (*SessionBundle, error) {
	raw := os.Getenv("FANVAULT_COOKIES")
	domain := os.Getenv("FANVAULT_COOKIE_DOMAIN")
	if raw == "" || domain == "" {
		return nil, fmt.Errorf("%w: environment not configured", ErrBundleNotFound)
	}

	var cookies []models.Cookie
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("malformed FANVAULT_COOKIES entry %q", pair)
		}
		cookies = append(cookies, models.Cookie{
			Name:   strings.TrimSpace(name),
			Value:  strings.TrimSpace(value),
			Domain: domain,
			Path:   "/",
		})
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("%w: FANVAULT_COOKIES is empty", ErrBundleNotFound)
	}

	return &SessionBundle{
		Profile:   profile,
		Cookies:   cookies,
		UserAgent: os.Getenv("FANVAULT_USER_AGENT"),
	}, nil
}

// List reports a single synthetic profile when the environment is configured.
func (s *EnvironmentStore) List() ([]string, error) {
	if os.Getenv("FANVAULT_COOKIES") != "" {
		return []string{"environment"}, nil
	}
	return nil, nil
}

// Delete is unsupported; the environment is read-only.
func (s *EnvironmentStore) Delete(string) error {
	return fmt.Errorf("environment store is read-only")
}
