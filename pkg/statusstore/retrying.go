package statusstore

import (
	"context"

	errs "fanvault/pkg/errors"
	"fanvault/pkg/logger"
	"fanvault/pkg/models"
	"fanvault/pkg/retry"
)

// Retrying wraps a Store and retries operations that fail with connection
// errors, with exponential backoff up to a bounded attempt count. Conflicting
// writes are also retried: because Upsert and MarkPhaseResult are expressed
// as merge-patches, re-issuing the same call is exactly the "fresh
// merge-patch" the conflict contract requires.
type Retrying struct {
	inner       Store
	maxAttempts int
	backoff     retry.BackoffStrategy
	logger      logger.Logger
}

// WithRetry wraps the store. maxAttempts bounds tries per operation.
func WithRetry(inner Store, maxAttempts int, log logger.Logger) *Retrying {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Retrying{
		inner:       inner,
		maxAttempts: maxAttempts,
		backoff:     retry.DefaultExponentialBackoff(),
		logger:      log,
	}
}

// SetBackoff overrides the retry spacing.
func (r *Retrying) SetBackoff(b retry.BackoffStrategy) {
	r.backoff = b
}

func (r *Retrying) config(ctx context.Context, retryConflicts bool) *retry.Config {
	return &retry.Config{
		MaxAttempts: r.maxAttempts,
		Backoff:     r.backoff,
		Context:     ctx,
		Logger:      r.logger,
		RetryIf: func(err error) bool {
			if errs.Is(err, errs.ErrorTypeConnection) {
				return true
			}
			return retryConflicts && errs.Is(err, errs.ErrorTypeConflict)
		},
	}
}

func (r *Retrying) Get(ctx context.Context, id string) (*models.ContentItem, error) {
	return retry.DoWithResult(func() (*models.ContentItem, error) {
		return r.inner.Get(ctx, id)
	}, r.config(ctx, false))
}

func (r *Retrying) Scan(ctx context.Context, filter ScanFilter, fn ScanFunc) error {
	// The sequence is restartable, so a connection failure mid-scan simply
	// reruns it from the top.
	return retry.Do(func() error {
		return r.inner.Scan(ctx, filter, fn)
	}, r.config(ctx, false))
}

func (r *Retrying) Upsert(ctx context.Context, id string, patch Patch) (*models.ContentItem, error) {
	return retry.DoWithResult(func() (*models.ContentItem, error) {
		return r.inner.Upsert(ctx, id, patch)
	}, r.config(ctx, true))
}

func (r *Retrying) MarkPhaseResult(ctx context.Context, id string, phase Phase, success bool, errText string) (*models.ContentItem, error) {
	return retry.DoWithResult(func() (*models.ContentItem, error) {
		return r.inner.MarkPhaseResult(ctx, id, phase, success, errText)
	}, r.config(ctx, true))
}

func (r *Retrying) SoftDelete(ctx context.Context, id string) error {
	return retry.Do(func() error {
		return r.inner.SoftDelete(ctx, id)
	}, r.config(ctx, true))
}

func (r *Retrying) Close() error {
	return r.inner.Close()
}
