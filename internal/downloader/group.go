package downloader

import (
	"context"
	"sync"

	errs "fanvault/pkg/errors"
	"fanvault/pkg/models"
)

// Asset is one downloadable file: an ordered candidate list and where the
// winning bytes land.
type Asset struct {
	Kind       models.MediaKind
	Candidates []models.CandidateURL
	Dest       string
}

// AssetResult pairs an asset with its fetch outcome.
type AssetResult struct {
	Asset Asset
	Fetch *FetchResult
	Err   error
}

// Group runs the assets of a single content item concurrently, bounded by a
// per-item worker count and a process-wide semaphore shared across items.
type Group struct {
	exec      *Executor
	perItem   int
	globalSem chan struct{}
}

// NewGroup creates a group. globalSem may be shared across many groups; nil
// means no global cap.
func NewGroup(exec *Executor, perItem int, globalSem chan struct{}) *Group {
	if perItem < 1 {
		perItem = 1
	}
	return &Group{exec: exec, perItem: perItem, globalSem: globalSem}
}

// Download fetches every asset. An expired session cancels the remaining
// assets and is returned as the group error; individual asset failures are
// reported per result, not as a group error, so the caller can decide whether
// a partial item is a failure.
func (g *Group) Download(ctx context.Context, assets []Asset) ([]AssetResult, error) {
	results := make([]AssetResult, len(assets))
	if len(assets) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	var wg sync.WaitGroup

	var authMu sync.Mutex
	var authErr error

	workers := g.perItem
	if workers > len(assets) {
		workers = len(assets)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				res, err := g.fetchOne(ctx, assets[idx])
				results[idx] = AssetResult{Asset: assets[idx], Fetch: res, Err: err}
				if errs.Is(err, errs.ErrorTypeAuthExpired) {
					authMu.Lock()
					if authErr == nil {
						authErr = err
					}
					authMu.Unlock()
					cancel()
				}
			}
		}()
	}

	for idx := range assets {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			results[idx] = AssetResult{Asset: assets[idx], Err: ctx.Err()}
		}
	}
	close(jobs)
	wg.Wait()

	return results, authErr
}

func (g *Group) fetchOne(ctx context.Context, asset Asset) (*FetchResult, error) {
	if g.globalSem != nil {
		select {
		case g.globalSem <- struct{}{}:
			defer func() { <-g.globalSem }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.exec.Fetch(ctx, asset.Candidates, asset.Dest)
}
