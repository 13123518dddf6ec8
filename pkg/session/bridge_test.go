package session

import (
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanvault/pkg/logger"
	"fanvault/pkg/models"
)

func TestSyncCookiesSendsThemOnRequests(t *testing.T) {
	var gotCookies []*http.Cookie
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookies = r.Cookies()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	serverURL, err := url.Parse(server.URL)
	require.NoError(t, err)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	bridge := NewBridge(jar, logger.NopLogger{})
	err = bridge.SyncCookies([]models.Cookie{
		{Name: "sess", Value: "tok123", Domain: serverURL.Hostname(), Path: "/"},
		{Name: "csrf", Value: "xyz", Domain: serverURL.Hostname(), Path: "/"},
	})
	require.NoError(t, err)

	client := &http.Client{Jar: jar}
	resp, err := client.Get(server.URL + "/feed")
	require.NoError(t, err)
	resp.Body.Close()

	names := make(map[string]string)
	for _, c := range gotCookies {
		names[c.Name] = c.Value
	}
	assert.Equal(t, "tok123", names["sess"])
	assert.Equal(t, "xyz", names["csrf"])
}

func TestSyncCookiesOverwritesByNameDomainPath(t *testing.T) {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	bridge := NewBridge(jar, logger.NopLogger{})

	require.NoError(t, bridge.SyncCookies([]models.Cookie{
		{Name: "sess", Value: "old", Domain: "example.com", Path: "/"},
	}))
	require.NoError(t, bridge.SyncCookies([]models.Cookie{
		{Name: "sess", Value: "new", Domain: "example.com", Path: "/"},
	}))

	u, _ := url.Parse("https://example.com/")
	cookies := jar.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, "new", cookies[0].Value)
}

func TestSyncCookiesRejectsEmptySet(t *testing.T) {
	jar, _ := cookiejar.New(nil)
	bridge := NewBridge(jar, logger.NopLogger{})
	assert.Error(t, bridge.SyncCookies(nil))
}

func TestSyncCookiesRejectsMissingDomain(t *testing.T) {
	jar, _ := cookiejar.New(nil)
	bridge := NewBridge(jar, logger.NopLogger{})
	err := bridge.SyncCookies([]models.Cookie{{Name: "sess", Value: "v"}})
	assert.Error(t, err)
}

func TestSyncCookiesCopiesValues(t *testing.T) {
	jar, _ := cookiejar.New(nil)
	bridge := NewBridge(jar, logger.NopLogger{})

	browser := []models.Cookie{{Name: "sess", Value: "v1", Domain: "example.com", Path: "/"}}
	require.NoError(t, bridge.SyncCookies(browser))

	// Mutating the browser's records afterwards must not affect the jar.
	browser[0].Value = "mutated"

	u, _ := url.Parse("https://example.com/")
	cookies := jar.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, "v1", cookies[0].Value)
}
