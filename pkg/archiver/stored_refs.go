package archiver

import (
	"context"

	errs "fanvault/pkg/errors"
	"fanvault/pkg/models"
)

// StoredRefsExtractor replays extraction from references already persisted on
// the item. It lets a batch re-run downloads (after a failure or a cleared
// output directory) without driving the browser again.
type StoredRefsExtractor struct{}

// ExtractDetails returns the item's persisted detail. Items that never
// completed a live extraction have nothing to replay.
func (StoredRefsExtractor) ExtractDetails(_ context.Context, item *models.ContentItem) (*Details, error) {
	if !item.DetailsExtracted || len(item.MediaRemoteRefs) == 0 {
		return nil, errs.Newf(errs.ErrorTypeNotFound,
			"item %s has no stored media references to replay", item.ID)
	}
	return &Details{
		ContentBlocks: item.ContentBlocks,
		MediaRefs:     item.MediaRemoteRefs,
	}, nil
}
