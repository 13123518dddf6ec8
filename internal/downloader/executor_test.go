package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "fanvault/pkg/errors"
	"fanvault/pkg/httpx"
	"fanvault/pkg/logger"
	"fanvault/pkg/models"
	"fanvault/pkg/retry"
)

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	client, err := httpx.NewClient(5*time.Second, logger.NopLogger{})
	require.NoError(t, err)
	if cfg.Backoff == nil {
		cfg.Backoff = &retry.ConstantBackoff{Delay: time.Millisecond}
	}
	return NewExecutor(client, cfg, logger.NopLogger{})
}

func candidates(urls ...string) []models.CandidateURL {
	out := make([]models.CandidateURL, len(urls))
	for i, u := range urls {
		out[i] = models.NewCandidateURL(u)
	}
	return out
}

func TestFetchFirstCandidateWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("video-bytes"))
	}))
	defer server.Close()

	exec := newTestExecutor(t, Config{RetryAttempts: 2})
	dest := filepath.Join(t.TempDir(), "out.mp4")

	res, err := exec.Fetch(context.Background(), candidates(server.URL+"/v/medium.mp4"), dest)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(len("video-bytes")), res.Bytes)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))
}

func TestFetchAdvancesPastPermanentFailures(t *testing.T) {
	var hits [3]int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.mp4":
			atomic.AddInt32(&hits[0], 1)
			http.NotFound(w, r)
		case "/b.mp4":
			atomic.AddInt32(&hits[1], 1)
			w.WriteHeader(http.StatusForbidden)
		case "/c.mp4":
			atomic.AddInt32(&hits[2], 1)
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer server.Close()

	exec := newTestExecutor(t, Config{RetryAttempts: 3})
	dest := filepath.Join(t.TempDir(), "out.mp4")

	res, err := exec.Fetch(context.Background(),
		candidates(server.URL+"/a.mp4", server.URL+"/b.mp4", server.URL+"/c.mp4"), dest)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/c.mp4", res.URL)

	// Permanent failures must not be retried: exactly one hit each.
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits[0]))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits[1]))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits[2]))
}

func TestFetchRetriesTransientOnSameCandidate(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("img"))
	}))
	defer server.Close()

	exec := newTestExecutor(t, Config{RetryAttempts: 3})
	dest := filepath.Join(t.TempDir(), "out.jpg")

	_, err := exec.Fetch(context.Background(), candidates(server.URL+"/img.jpg"), dest)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestFetchExhaustedWhenAllFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	exec := newTestExecutor(t, Config{RetryAttempts: 2})
	dest := filepath.Join(t.TempDir(), "out.mp4")

	_, err := exec.Fetch(context.Background(),
		candidates(server.URL+"/a.mp4", server.URL+"/b.mp4"), dest)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeDownloadExhausted))

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no file must exist after exhaustion")
}

func TestFetchAuthExpiredAbortsImmediately(t *testing.T) {
	var secondHit int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/b.mp4" {
			atomic.AddInt32(&secondHit, 1)
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	exec := newTestExecutor(t, Config{RetryAttempts: 3})
	dest := filepath.Join(t.TempDir(), "out.mp4")

	_, err := exec.Fetch(context.Background(),
		candidates(server.URL+"/a.mp4", server.URL+"/b.mp4"), dest)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeAuthExpired))
	assert.Equal(t, int32(0), atomic.LoadInt32(&secondHit), "must not advance past auth failure")
}

func TestFetchSkipsExistingFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(dest, []byte("already here"), 0o644))

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	exec := newTestExecutor(t, Config{SkipExisting: true, RetryAttempts: 1})
	res, err := exec.Fetch(context.Background(), candidates(server.URL+"/a.mp4"), dest)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestFetchRejectsHTMLBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>please log in</html>"))
	}))
	defer server.Close()

	exec := newTestExecutor(t, Config{RetryAttempts: 2})
	dest := filepath.Join(t.TempDir(), "out.mp4")

	_, err := exec.Fetch(context.Background(), candidates(server.URL+"/a.mp4"), dest)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeDownloadExhausted))
}

func TestFetchNoCandidates(t *testing.T) {
	exec := newTestExecutor(t, Config{})
	_, err := exec.Fetch(context.Background(), nil, filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeDownloadExhausted))
}

func TestGroupDownloadsAllAssets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer server.Close()

	exec := newTestExecutor(t, Config{RetryAttempts: 1})
	dir := t.TempDir()
	sem := make(chan struct{}, 2)
	group := NewGroup(exec, 2, sem)

	assets := []Asset{
		{Kind: models.MediaImage, Candidates: candidates(server.URL + "/1"), Dest: filepath.Join(dir, "1.jpg")},
		{Kind: models.MediaImage, Candidates: candidates(server.URL + "/2"), Dest: filepath.Join(dir, "2.jpg")},
		{Kind: models.MediaVideo, Candidates: candidates(server.URL + "/3"), Dest: filepath.Join(dir, "3.mp4")},
	}
	results, err := group.Download(context.Background(), assets)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.NoError(t, res.Err)
		assert.FileExists(t, res.Fetch.Path)
	}
}

func TestGroupHaltsOnAuthExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	exec := newTestExecutor(t, Config{RetryAttempts: 1})
	dir := t.TempDir()
	group := NewGroup(exec, 1, nil)

	assets := []Asset{
		{Candidates: candidates(server.URL + "/1"), Dest: filepath.Join(dir, "1")},
		{Candidates: candidates(server.URL + "/2"), Dest: filepath.Join(dir, "2")},
	}
	_, err := group.Download(context.Background(), assets)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeAuthExpired))
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	in := candidates(
		"https://cdn/a.mp4?token=1",
		"https://cdn/a.mp4?token=2",
		"https://cdn/b.mp4",
	)
	out := dedupe(in)
	require.Len(t, out, 2)
	assert.Equal(t, "https://cdn/a.mp4?token=1", out[0].Raw)
	assert.Equal(t, "https://cdn/b.mp4", out[1].Raw)
}
