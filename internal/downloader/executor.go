// Package downloader fetches media assets through ordered candidate URL
// lists. Candidate order encodes quality preference, so candidates are tried
// strictly in sequence and never reordered or raced.
package downloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	errs "fanvault/pkg/errors"
	"fanvault/pkg/httpx"
	"fanvault/pkg/logger"
	"fanvault/pkg/models"
	"fanvault/pkg/retry"
)

// Config controls per-asset fetch behavior.
type Config struct {
	// SkipExisting treats a non-empty file at the destination as already
	// archived.
	SkipExisting bool
	// RetryAttempts bounds transient retries per candidate URL.
	RetryAttempts int
	// Backoff spaces transient retries. Nil selects the default exponential
	// strategy.
	Backoff retry.BackoffStrategy
}

// Executor downloads one asset at a time from its candidate URL list.
type Executor struct {
	client *httpx.Client
	cfg    Config
	logger logger.Logger
}

// NewExecutor creates an executor over the shared HTTP client.
func NewExecutor(client *httpx.Client, cfg Config, log logger.Logger) *Executor {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 3
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.DefaultExponentialBackoff()
	}
	return &Executor{client: client, cfg: cfg, logger: log}
}

// FetchResult reports one asset download.
type FetchResult struct {
	Path    string
	URL     string
	Bytes   int64
	Skipped bool
}

// Fetch tries each candidate in order until one succeeds. Transient failures
// (connection, rate limit, server error) are retried on the same candidate
// with backoff; permanent failures advance to the next candidate immediately.
// An expired session aborts at once because it can only be fixed upstream.
// The file is written before any caller records success, so a crash between
// the two leaves a re-downloadable file, never a phantom status.
func (e *Executor) Fetch(ctx context.Context, candidates []models.CandidateURL, dest string) (*FetchResult, error) {
	if len(candidates) == 0 {
		return nil, errs.New(errs.ErrorTypeDownloadExhausted, "no candidate URLs")
	}

	if e.cfg.SkipExisting {
		if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
			e.logger.DebugWithFields("asset already archived, skipping", map[string]interface{}{
				"path": dest,
				"size": info.Size(),
			})
			return &FetchResult{Path: dest, Bytes: info.Size(), Skipped: true}, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}

	var lastErr error
	for _, candidate := range dedupe(candidates) {
		written, err := e.fetchCandidate(ctx, candidate.Raw, dest)
		if err == nil {
			return &FetchResult{Path: dest, URL: candidate.Raw, Bytes: written}, nil
		}
		if errs.Is(err, errs.ErrorTypeAuthExpired) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.WarnWithFields("candidate failed, advancing", map[string]interface{}{
			"url":   candidate.Raw,
			"error": err.Error(),
		})
		lastErr = err
	}
	return nil, errs.Newf(errs.ErrorTypeDownloadExhausted,
		"all %d candidates failed for %s: last error: %v", len(candidates), filepath.Base(dest), lastErr)
}

// fetchCandidate downloads one URL with transient retries.
func (e *Executor) fetchCandidate(ctx context.Context, url, dest string) (int64, error) {
	return retry.DoWithResult(func() (int64, error) {
		return e.download(ctx, url, dest)
	}, &retry.Config{
		MaxAttempts: e.cfg.RetryAttempts,
		Backoff:     e.cfg.Backoff,
		Context:     ctx,
		Logger:      e.logger,
		RetryIf: func(err error) bool {
			return errs.IsRetryable(errs.TypeOf(err))
		},
	})
}

func (e *Executor) download(ctx context.Context, url, dest string) (int64, error) {
	resp, err := e.client.Get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := httpx.CheckStatus(resp); err != nil {
		return 0, err
	}
	// A login wall serves HTML with a 200; treat it as a dead candidate.
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/html") {
		return 0, errs.Newf(errs.ErrorTypeForbidden, "candidate served HTML instead of media: %s", url)
	}

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	written, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(part)
		return 0, errs.Newf(errs.ErrorTypeConnection, "stream body: %v", err)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		_ = os.Remove(part)
		return 0, errs.Newf(errs.ErrorTypeConnection,
			"truncated download: got %d of %d bytes", written, resp.ContentLength)
	}

	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("finalize download: %w", err)
	}
	return written, nil
}

// dedupe drops candidates whose normalized key was already seen, keeping the
// first occurrence so quality order is preserved.
func dedupe(candidates []models.CandidateURL) []models.CandidateURL {
	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0:0]
	for _, c := range candidates {
		if _, ok := seen[c.Key]; ok {
			continue
		}
		seen[c.Key] = struct{}{}
		out = append(out, c)
	}
	return out
}
