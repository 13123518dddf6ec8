package models

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"fanvault/pkg/mediaref"
)

// Phase1Status tracks discovery of a content item's identifier.
type Phase1Status string

const (
	Phase1Pending    Phase1Status = "pending"
	Phase1Discovered Phase1Status = "discovered"
	Phase1Failed     Phase1Status = "failed"
)

// Phase2Status tracks detail extraction and media download for one item.
type Phase2Status string

const (
	Phase2Pending    Phase2Status = "pending"
	Phase2Processing Phase2Status = "processing"
	Phase2Completed  Phase2Status = "completed"
	Phase2Failed     Phase2Status = "failed"
	// Phase2Abandoned flags a poison item whose attempt count reached the
	// configured ceiling. A status, not a deletion: pipeline runs stop
	// retrying it until an operator resets it.
	Phase2Abandoned Phase2Status = "abandoned"
)

// MediaKind groups downloaded files by media type.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// MediaPaths maps a media kind to the local files archived for it.
type MediaPaths map[MediaKind][]string

// MediaRefs holds the raw nested reference structure scraped per media kind.
type MediaRefs map[MediaKind]mediaref.Ref

// ContentItem is one platform content item moving through the two-phase
// pipeline. Identity is the platform-assigned ID. Records are never
// physically removed; DeletedAt marks soft deletion for audit.
type ContentItem struct {
	ID               string          `json:"id"`
	CreatorID        string          `json:"creator_id"`
	Phase1Status     Phase1Status    `json:"phase1_status"`
	Phase2Status     Phase2Status    `json:"phase2_status"`
	DetailsExtracted bool            `json:"details_extracted"`
	AttemptCount     int             `json:"attempt_count"`
	LastError        string          `json:"last_error,omitempty"`
	ContentBlocks    json.RawMessage `json:"content_blocks,omitempty"`
	MediaRemoteRefs  MediaRefs       `json:"media_remote_refs,omitempty"`
	MediaLocalPaths  MediaPaths      `json:"media_local_paths,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        *time.Time      `json:"deleted_at,omitempty"`
}

// Deleted reports whether the item is soft-deleted.
func (c *ContentItem) Deleted() bool {
	return c.DeletedAt != nil
}

// CreatorStats is a pure projection over the live ContentItem set, recomputed
// on every request. Nothing caches these counts: out-of-band edits by
// maintenance tooling can mutate items directly, so no stored counter is
// trusted.
type CreatorStats struct {
	CreatorID   string    `json:"creator_id"`
	Total       int       `json:"total_items"`
	Completed   int       `json:"completed_count"`
	Pending     int       `json:"pending_count"`
	Failed      int       `json:"failed_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Cookie is an authentication cookie copied by value out of the interactive
// browser context. The pipeline never retains a reference back to the
// browser's own cookie objects.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// CandidateURL is one of several possible network locations believed to serve
// the same logical asset. Key strips volatile query parameters for equality
// comparison only; the fetch always uses Raw.
type CandidateURL struct {
	Raw string
	Key string
}

// NewCandidateURL builds a candidate with its normalized dedup key.
func NewCandidateURL(raw string) CandidateURL {
	return CandidateURL{Raw: raw, Key: candidateKey(raw)}
}

func candidateKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	key := u.String()
	// Scheme and host compare case-insensitively.
	if i := strings.Index(key, "://"); i > 0 {
		rest := key[i+3:]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			slash = len(rest)
		}
		key = strings.ToLower(key[:i+3]+rest[:slash]) + rest[slash:]
	}
	return key
}
