// Package session bridges authentication state from the interactive browser
// context into the bulk HTTP client. The browser is the sole source of truth
// for login state; this package only copies cookie values across, never
// drives navigation.
package session

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"fanvault/pkg/logger"
	"fanvault/pkg/models"
)

// Bridge copies browser cookies into an HTTP client's jar. It must run once
// per authenticated batch before any download is attempted.
type Bridge struct {
	jar    http.CookieJar
	logger logger.Logger
}

// NewBridge creates a bridge targeting the given cookie jar.
func NewBridge(jar http.CookieJar, log logger.Logger) *Bridge {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Bridge{jar: jar, logger: log}
}

// SyncCookies inserts or overwrites each cookie record in the target jar,
// keyed by name+domain+path. Values are copied; no reference to the browser's
// own cookie objects is retained.
func (b *Bridge) SyncCookies(browserCookies []models.Cookie) error {
	if len(browserCookies) == 0 {
		return fmt.Errorf("session: no cookies to sync")
	}

	// The jar API scopes SetCookies by URL, so group records per domain+path.
	grouped := make(map[string][]*http.Cookie)
	order := make([]string, 0, len(browserCookies))
	for _, c := range browserCookies {
		if c.Name == "" || c.Domain == "" {
			return fmt.Errorf("session: cookie record missing name or domain")
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		scope := cookieScopeURL(c.Domain, path)
		if _, ok := grouped[scope]; !ok {
			order = append(order, scope)
		}
		grouped[scope] = append(grouped[scope], &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: strings.TrimPrefix(c.Domain, "."),
			Path:   path,
		})
	}

	for _, scope := range order {
		u, err := url.Parse(scope)
		if err != nil {
			return fmt.Errorf("session: bad cookie scope %q: %w", scope, err)
		}
		b.jar.SetCookies(u, grouped[scope])
	}

	b.logger.InfoWithFields("browser session bridged", map[string]interface{}{
		"cookies": len(browserCookies),
		"scopes":  len(order),
	})
	return nil
}

func cookieScopeURL(domain, path string) string {
	host := strings.TrimPrefix(domain, ".")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "https://" + host + path
}
