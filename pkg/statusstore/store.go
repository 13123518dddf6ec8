// Package statusstore defines the durable record store for content items.
// Two interchangeable backends implement it: a relational one (sqlite
// subpackage) and a realtime-tree one (firetree subpackage). Callers never
// branch on backend identity.
package statusstore

import (
	"context"
	"encoding/json"

	"fanvault/pkg/models"
)

// Phase selects which pipeline sub-machine an operation addresses.
type Phase string

const (
	// PhaseDiscovery is phase 1: enumeration of content item identifiers.
	PhaseDiscovery Phase = "phase1"
	// PhaseExtraction is phase 2: detail extraction and media download.
	PhaseExtraction Phase = "phase2"
)

// Patch carries merge-patch semantics for Upsert: only non-nil fields are
// written; absent fields keep their prior values. Phase-1 and phase-2 workers
// touch disjoint field sets on the same item concurrently, so a write must
// never clobber fields it does not name.
type Patch struct {
	CreatorID        *string
	Phase1Status     *models.Phase1Status
	Phase2Status     *models.Phase2Status
	DetailsExtracted *bool
	AttemptCount     *int
	LastError        *string
	ContentBlocks    json.RawMessage
	MediaRemoteRefs  models.MediaRefs
	MediaLocalPaths  models.MediaPaths
}

// IsEmpty reports whether the patch names no fields.
func (p Patch) IsEmpty() bool {
	return p.CreatorID == nil &&
		p.Phase1Status == nil &&
		p.Phase2Status == nil &&
		p.DetailsExtracted == nil &&
		p.AttemptCount == nil &&
		p.LastError == nil &&
		p.ContentBlocks == nil &&
		p.MediaRemoteRefs == nil &&
		p.MediaLocalPaths == nil
}

// ScanFilter narrows a Scan. The zero value matches all non-deleted items.
type ScanFilter struct {
	CreatorID      string
	IncludeDeleted bool
	Phase2Statuses []models.Phase2Status
	// OrderByCreated requests creation-time order; otherwise order is
	// unspecified.
	OrderByCreated bool
}

func (f ScanFilter) matchesPhase2(status models.Phase2Status) bool {
	if len(f.Phase2Statuses) == 0 {
		return true
	}
	for _, s := range f.Phase2Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Matches reports whether the item passes the filter. Backends without
// server-side filtering use it client-side.
func (f ScanFilter) Matches(item *models.ContentItem) bool {
	if !f.IncludeDeleted && item.Deleted() {
		return false
	}
	if f.CreatorID != "" && item.CreatorID != f.CreatorID {
		return false
	}
	return f.matchesPhase2(item.Phase2Status)
}

// ScanFunc receives one item per call; returning an error stops the scan.
type ScanFunc func(item *models.ContentItem) error

// Store is the capability set both backends honor.
//
// Failure semantics: an unreachable backend fails with a connection error
// (callers retry with backoff, see Retrying); an unknown id fails with
// not_found; a write collision fails with conflict and must be retried as a
// fresh merge-patch, never a blind overwrite.
type Store interface {
	// Get returns the item or a not_found error.
	Get(ctx context.Context, id string) (*models.ContentItem, error)

	// Scan produces a lazy, restartable sequence of items matching the
	// filter.
	Scan(ctx context.Context, filter ScanFilter, fn ScanFunc) error

	// Upsert creates the item if absent and applies the merge-patch,
	// returning the resulting record.
	Upsert(ctx context.Context, id string, patch Patch) (*models.ContentItem, error)

	// MarkPhaseResult records a phase outcome. Success sets the phase's
	// terminal status and is idempotent: marking an already-succeeded phase
	// is a no-op, not an error. Failure sets the phase to failed, increments
	// attempt_count by exactly one, and records the error text.
	MarkPhaseResult(ctx context.Context, id string, phase Phase, success bool, errText string) (*models.ContentItem, error)

	// SoftDelete sets deleted_at. The record is never physically removed.
	SoftDelete(ctx context.Context, id string) error

	Close() error
}

// Ptr is a convenience for building patches from literals.
func Ptr[T any](v T) *T { return &v }
