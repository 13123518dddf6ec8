// Package stats recomputes per-creator progress counts from the live item
// set. Counts are never cached: maintenance tooling edits items directly, so
// a stored counter could drift.
package stats

import (
	"context"

	"fanvault/pkg/models"
	"fanvault/pkg/statusstore"
)

// Aggregator projects creator statistics out of a status store.
type Aggregator struct {
	store statusstore.Store
}

// New creates an aggregator over the store.
func New(store statusstore.Store) *Aggregator {
	return &Aggregator{store: store}
}

// Recompute scans every non-deleted item for the creator and tallies it into
// exactly one bucket. Completed counts phase-2 completions, Failed counts
// failed and abandoned items, Pending counts everything else still in flight.
func (a *Aggregator) Recompute(ctx context.Context, creatorID string) (*models.CreatorStats, error) {
	stats := &models.CreatorStats{CreatorID: creatorID}

	err := a.store.Scan(ctx, statusstore.ScanFilter{CreatorID: creatorID}, func(item *models.ContentItem) error {
		stats.Total++
		switch item.Phase2Status {
		case models.Phase2Completed:
			stats.Completed++
		case models.Phase2Failed, models.Phase2Abandoned:
			stats.Failed++
		default:
			stats.Pending++
		}
		if item.UpdatedAt.After(stats.LastUpdated) {
			stats.LastUpdated = item.UpdatedAt
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
