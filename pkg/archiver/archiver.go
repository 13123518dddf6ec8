// Package archiver orchestrates the two-phase pipeline: discovery enumerates
// content item IDs, extraction pulls item detail and downloads media. The
// interactive browser collaborators sit behind small interfaces so the
// pipeline never depends on how pages are actually driven.
package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fanvault/internal/downloader"
	"fanvault/pkg/cdnvariants"
	"fanvault/pkg/config"
	errs "fanvault/pkg/errors"
	"fanvault/pkg/httpx"
	"fanvault/pkg/logger"
	"fanvault/pkg/mediaref"
	"fanvault/pkg/models"
	"fanvault/pkg/pipeline"
	"fanvault/pkg/ratelimit"
	"fanvault/pkg/session"
	"fanvault/pkg/statusstore"
)

// Discoverer enumerates the content item IDs visible for a creator. It is
// implemented by the interactive browser layer.
type Discoverer interface {
	DiscoverItemIDs(ctx context.Context, creatorID string) ([]string, error)
}

// Details is what extraction yields for one item.
type Details struct {
	ContentBlocks json.RawMessage
	MediaRefs     models.MediaRefs
}

// DetailExtractor pulls full detail for one discovered item. It is implemented
// by the interactive browser layer, or by a stored-refs reader for re-runs.
type DetailExtractor interface {
	ExtractDetails(ctx context.Context, item *models.ContentItem) (*Details, error)
}

// Archiver wires the store, state machine, session bridge, and downloader
// into batch runs.
type Archiver struct {
	store    statusstore.Store
	machine  *pipeline.Machine
	bridge   *session.Bridge
	executor *downloader.Executor
	expander *cdnvariants.Expander
	limiter  ratelimit.Limiter
	cfg      *config.Config
	logger   logger.Logger

	globalSem chan struct{}
}

// New assembles an archiver from its collaborators. The HTTP client's cookie
// jar is the bridge target; the same client performs all downloads.
func New(store statusstore.Store, client *httpx.Client, cfg *config.Config, log logger.Logger) *Archiver {
	if log == nil {
		log = logger.GetLogger()
	}
	var sem chan struct{}
	if cfg.Download.GlobalDownloads > 0 {
		sem = make(chan struct{}, cfg.Download.GlobalDownloads)
	}
	return &Archiver{
		store:   store,
		machine: pipeline.New(store, cfg.Pipeline.MaxAttempts, log),
		bridge:  session.NewBridge(client.Jar(), log),
		executor: downloader.NewExecutor(client, downloader.Config{
			SkipExisting:  cfg.Download.SkipExisting,
			RetryAttempts: cfg.Download.RetryAttempts,
		}, log),
		expander:  cdnvariants.Default(),
		limiter:   ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, time.Minute),
		cfg:       cfg,
		logger:    log,
		globalSem: sem,
	}
}

// Machine exposes the state machine for operator tooling (reset).
func (a *Archiver) Machine() *pipeline.Machine { return a.machine }

// DiscoveryReport summarizes one discovery run.
type DiscoveryReport struct {
	CreatorID  string `json:"creator_id"`
	Found      int    `json:"found"`
	New        int    `json:"new"`
	Discovered int    `json:"discovered"`
}

// RunDiscovery enumerates item IDs and records each as discovered. Re-running
// discovery over already known items is a no-op per item.
func (a *Archiver) RunDiscovery(ctx context.Context, creatorID string, disc Discoverer) (*DiscoveryReport, error) {
	a.limiter.Wait()
	ids, err := disc.DiscoverItemIDs(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("discover items for %s: %w", creatorID, err)
	}

	report := &DiscoveryReport{CreatorID: creatorID, Found: len(ids)}
	for _, id := range ids {
		_, getErr := a.store.Get(ctx, id)
		if errs.Is(getErr, errs.ErrorTypeNotFound) {
			report.New++
		} else if getErr != nil {
			return report, getErr
		}
		if _, err := a.store.Upsert(ctx, id, statusstore.Patch{
			CreatorID: statusstore.Ptr(creatorID),
		}); err != nil {
			return report, err
		}
		if _, err := a.machine.MarkDiscovered(ctx, id); err != nil {
			return report, err
		}
		report.Discovered++
	}

	a.logger.InfoWithFields("discovery run complete", map[string]interface{}{
		"creator_id": creatorID,
		"found":      report.Found,
		"new":        report.New,
	})
	return report, nil
}

// ItemReport is one item's outcome within a batch.
type ItemReport struct {
	ItemID string `json:"item_id"`
	Status string `json:"status"`
	Assets int    `json:"assets,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BatchReport summarizes one extraction batch.
type BatchReport struct {
	BatchID    string       `json:"batch_id"`
	CreatorID  string       `json:"creator_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Items      []ItemReport `json:"items"`
}

// RunBatch processes every runnable item for the creator: bridge the session
// once, then fan items out to workers. An expired session halts the whole
// batch because every further download would fail the same way.
func (a *Archiver) RunBatch(ctx context.Context, creatorID string, cookies []models.Cookie, extractor DetailExtractor) (*BatchReport, error) {
	report := &BatchReport{
		BatchID:   uuid.NewString(),
		CreatorID: creatorID,
		StartedAt: time.Now().UTC(),
	}
	log := a.logger.WithFields(map[string]interface{}{
		"batch_id":   report.BatchID,
		"creator_id": creatorID,
	})

	if err := a.bridge.SyncCookies(cookies); err != nil {
		return report, err
	}

	var items []*models.ContentItem
	err := a.store.Scan(ctx, statusstore.ScanFilter{
		CreatorID:      creatorID,
		Phase2Statuses: []models.Phase2Status{models.Phase2Pending, models.Phase2Failed},
		OrderByCreated: true,
	}, func(item *models.ContentItem) error {
		if pipeline.Runnable(item) {
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	log.InfoWithFields("batch started", map[string]interface{}{"items": len(items)})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan *models.ContentItem)
	outcomes := make(chan ItemReport, len(items))

	var authMu sync.Mutex
	var authErr error
	halt := func(err error) {
		authMu.Lock()
		if authErr == nil {
			authErr = err
		}
		authMu.Unlock()
		cancel()
	}

	var wg sync.WaitGroup
	workers := a.cfg.Download.ConcurrentItems
	if workers > len(items) {
		workers = len(items)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				outcome := a.processItem(ctx, item, extractor)
				if outcome.Status == "halted" {
					halt(errs.New(errs.ErrorTypeAuthExpired, outcome.Error))
				}
				outcomes <- outcome
			}
		}()
	}

	dispatched := 0
dispatch:
	for _, item := range items {
		select {
		case jobs <- item:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	for outcome := range outcomes {
		report.Items = append(report.Items, outcome)
		switch outcome.Status {
		case "completed":
			report.Succeeded++
		case "skipped":
			report.Skipped++
		default:
			report.Failed++
		}
	}
	// Items selected for the batch but never dispatched (the halt landed
	// first) still get an outcome so the report accounts for every item.
	for _, item := range items[dispatched:] {
		report.Items = append(report.Items, ItemReport{
			ItemID: item.ID,
			Status: "skipped",
			Error:  "batch halted before item started",
		})
		report.Skipped++
	}
	report.FinishedAt = time.Now().UTC()

	log.InfoWithFields("batch finished", map[string]interface{}{
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
	})
	return report, authErr
}

// processItem runs one item through extraction and download. Status writes
// always happen after the corresponding file operation so a crash can only
// under-report progress, never invent it.
func (a *Archiver) processItem(ctx context.Context, item *models.ContentItem, extractor DetailExtractor) ItemReport {
	rep := ItemReport{ItemID: item.ID}

	if _, err := a.machine.BeginExtraction(ctx, item.ID); err != nil {
		var invalid *pipeline.ErrInvalidTransition
		if errors.As(err, &invalid) {
			rep.Status = "skipped"
			rep.Error = err.Error()
			return rep
		}
		rep.Status = "failed"
		rep.Error = err.Error()
		return rep
	}

	a.limiter.Wait()
	details, err := extractor.ExtractDetails(ctx, item)
	if err != nil {
		return a.failItem(ctx, rep, err)
	}

	// Persist what extraction learned before any download, so a crash while
	// downloading keeps the extracted detail.
	if _, err := a.store.Upsert(ctx, item.ID, statusstore.Patch{
		DetailsExtracted: statusstore.Ptr(true),
		ContentBlocks:    details.ContentBlocks,
		MediaRemoteRefs:  details.MediaRefs,
	}); err != nil {
		return a.failItem(ctx, rep, err)
	}

	assets := a.buildAssets(item, details.MediaRefs)
	rep.Assets = len(assets)

	group := downloader.NewGroup(a.executor, a.cfg.Download.PerItemDownloads, a.globalSem)
	results, authErr := group.Download(ctx, assets)
	if authErr != nil {
		// Expired session is batch-fatal, so the item stays retryable and the
		// worker pool drains.
		_, _ = a.machine.FailExtraction(ctx, item.ID, authErr)
		rep.Status = "halted"
		rep.Error = authErr.Error()
		return rep
	}

	paths := make(models.MediaPaths)
	var firstErr error
	for _, res := range results {
		if res.Err != nil {
			if firstErr == nil {
				firstErr = res.Err
			}
			continue
		}
		paths[res.Asset.Kind] = append(paths[res.Asset.Kind], res.Fetch.Path)
	}
	if firstErr != nil {
		return a.failItem(ctx, rep, firstErr)
	}

	if len(paths) > 0 {
		if _, err := a.store.Upsert(ctx, item.ID, statusstore.Patch{
			MediaLocalPaths: paths,
		}); err != nil {
			return a.failItem(ctx, rep, err)
		}
	}
	if _, err := a.machine.CompleteExtraction(ctx, item.ID); err != nil {
		rep.Status = "failed"
		rep.Error = err.Error()
		return rep
	}

	rep.Status = "completed"
	return rep
}

func (a *Archiver) failItem(ctx context.Context, rep ItemReport, cause error) ItemReport {
	if _, err := a.machine.FailExtraction(ctx, rep.ItemID, cause); err != nil {
		a.logger.ErrorWithFields("failed to record item failure", map[string]interface{}{
			"item_id": rep.ItemID,
			"error":   err.Error(),
		})
	}
	rep.Status = "failed"
	rep.Error = cause.Error()
	return rep
}

// buildAssets flattens each kind's reference tree and expands every canonical
// URL into its ordered candidate list.
func (a *Archiver) buildAssets(item *models.ContentItem, refs models.MediaRefs) []downloader.Asset {
	var assets []downloader.Asset
	for _, kind := range []models.MediaKind{models.MediaImage, models.MediaVideo, models.MediaAudio} {
		ref, ok := refs[kind]
		if !ok {
			continue
		}
		for i, canonical := range mediaref.Flatten(ref) {
			expanded := a.expander.Expand(canonical)
			candidates := make([]models.CandidateURL, 0, len(expanded))
			for _, u := range expanded {
				candidates = append(candidates, models.NewCandidateURL(u))
			}
			assets = append(assets, downloader.Asset{
				Kind:       kind,
				Candidates: candidates,
				Dest:       a.assetPath(item, kind, i, canonical),
			})
		}
	}
	return assets
}

// assetPath places files under the output directory, optionally grouped by
// creator, always grouped by item.
func (a *Archiver) assetPath(item *models.ContentItem, kind models.MediaKind, index int, canonical string) string {
	dir := a.cfg.Output.BaseDirectory
	if a.cfg.Output.CreateCreatorFolders && item.CreatorID != "" {
		dir = filepath.Join(dir, sanitize(item.CreatorID))
	}
	dir = filepath.Join(dir, sanitize(item.ID))
	name := fmt.Sprintf("%s_%02d%s", kind, index+1, extensionFor(kind, canonical))
	return filepath.Join(dir, name)
}

func extensionFor(kind models.MediaKind, rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 6 {
			return ext
		}
	}
	switch kind {
	case models.MediaVideo:
		return ".mp4"
	case models.MediaAudio:
		return ".m4a"
	default:
		return ".jpg"
	}
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}
