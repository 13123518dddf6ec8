// Package firetree is the realtime-tree StatusStore backend: a
// path-addressed JSON document namespace (posts/{id}) spoken over REST.
// PATCH merges partial writes at the addressed path; conditional PUT with an
// entity tag guards read-modify-write cycles, surfacing lost updates as
// conflict errors for the caller to retry as a fresh merge-patch.
package firetree

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	errs "fanvault/pkg/errors"
	"fanvault/pkg/httpx"
	"fanvault/pkg/logger"
	"fanvault/pkg/models"
	"fanvault/pkg/statusstore"
)

// Store talks to the realtime-tree document store.
type Store struct {
	baseURL   string
	authToken string
	client    *httpx.Client
	logger    logger.Logger
}

// Open creates a store rooted at baseURL. authToken, when non-empty, is
// appended to every request.
func Open(baseURL, authToken string, client *httpx.Client, log logger.Logger) *Store {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		client:    client,
		logger:    log,
	}
}

// Close implements statusstore.Store; the REST transport holds no resources.
func (s *Store) Close() error { return nil }

// doc is the wire shape of one posts/{id} document.
type doc struct {
	CreatorID        string            `json:"creator_id"`
	Phase1Status     string            `json:"phase1_status"`
	Phase2Status     string            `json:"phase2_status"`
	DetailsExtracted bool              `json:"details_extracted"`
	AttemptCount     int               `json:"attempt_count"`
	LastError        string            `json:"last_error,omitempty"`
	ContentBlocks    json.RawMessage   `json:"content_blocks,omitempty"`
	MediaRemoteRefs  models.MediaRefs  `json:"media_remote_refs,omitempty"`
	MediaLocalPaths  models.MediaPaths `json:"media_local_paths,omitempty"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at"`
	DeletedAt        string            `json:"deleted_at,omitempty"`
}

func (s *Store) nodeURL(path string) string {
	u := s.baseURL + "/" + path + ".json"
	if s.authToken != "" {
		u += "?auth=" + s.authToken
	}
	return u
}

func postPath(id string) string { return "posts/" + id }

// Get returns the item or a not_found error.
func (s *Store) Get(ctx context.Context, id string) (*models.ContentItem, error) {
	d, _, err := s.fetch(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errs.Newf(errs.ErrorTypeNotFound, "no item with id %s", id)
	}
	return d.toItem(id)
}

// Scan fetches the posts node and streams matching items. Each call re-reads
// the tree, so the sequence is restartable by construction.
func (s *Store) Scan(ctx context.Context, filter statusstore.ScanFilter, fn statusstore.ScanFunc) error {
	resp, err := s.client.Get(ctx, s.nodeURL("posts"))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := httpx.CheckStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Newf(errs.ErrorTypeConnection, "read posts node: %v", err)
	}
	if isNullBody(body) {
		return nil
	}

	var docs map[string]doc
	if err := json.Unmarshal(body, &docs); err != nil {
		return errs.Newf(errs.ErrorTypeParsing, "decode posts node: %v", err)
	}

	items := make([]*models.ContentItem, 0, len(docs))
	for id := range docs {
		d := docs[id]
		item, err := d.toItem(id)
		if err != nil {
			return err
		}
		if filter.Matches(item) {
			items = append(items, item)
		}
	}
	if filter.OrderByCreated {
		sort.Slice(items, func(i, j int) bool {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		})
	} else {
		// Tree iteration order is unspecified; make it deterministic anyway.
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	}

	for _, item := range items {
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

// Upsert merges the patch at posts/{id}. Fields absent from the patch are
// untouched by the server-side merge, so concurrent writers touching disjoint
// fields never clobber each other.
func (s *Store) Upsert(ctx context.Context, id string, patch statusstore.Patch) (*models.ContentItem, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	existing, _, err := s.fetch(ctx, id, false)
	if err != nil {
		return nil, err
	}

	fields := patchFields(patch)
	if existing == nil {
		// First write: seed the document defaults alongside the patch.
		if _, ok := fields["creator_id"]; !ok {
			fields["creator_id"] = ""
		}
		if _, ok := fields["phase1_status"]; !ok {
			fields["phase1_status"] = string(models.Phase1Pending)
		}
		if _, ok := fields["phase2_status"]; !ok {
			fields["phase2_status"] = string(models.Phase2Pending)
		}
		if _, ok := fields["attempt_count"]; !ok {
			fields["attempt_count"] = 0
		}
		if _, ok := fields["details_extracted"]; !ok {
			fields["details_extracted"] = false
		}
		fields["created_at"] = now
	}
	fields["updated_at"] = now

	if err := s.patch(ctx, postPath(id), fields); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// MarkPhaseResult runs a guarded read-modify-write: the write carries the
// entity tag observed at read time, and a mismatch comes back as a conflict
// error for the caller to retry.
func (s *Store) MarkPhaseResult(ctx context.Context, id string, phase statusstore.Phase, success bool, errText string) (*models.ContentItem, error) {
	d, etag, err := s.fetch(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errs.Newf(errs.ErrorTypeNotFound, "no item with id %s", id)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	switch phase {
	case statusstore.PhaseDiscovery:
		if success {
			if d.Phase1Status == string(models.Phase1Discovered) {
				return d.toItem(id) // already terminal, no-op
			}
			d.Phase1Status = string(models.Phase1Discovered)
			d.LastError = ""
		} else {
			d.Phase1Status = string(models.Phase1Failed)
			d.AttemptCount++
			d.LastError = errText
		}
	case statusstore.PhaseExtraction:
		if success {
			if d.Phase2Status == string(models.Phase2Completed) {
				return d.toItem(id)
			}
			d.Phase2Status = string(models.Phase2Completed)
			d.DetailsExtracted = true
			d.LastError = ""
		} else {
			d.Phase2Status = string(models.Phase2Failed)
			d.AttemptCount++
			d.LastError = errText
		}
	default:
		return nil, fmt.Errorf("unknown phase %q", phase)
	}
	d.UpdatedAt = now

	if err := s.putConditional(ctx, postPath(id), d, etag); err != nil {
		return nil, err
	}
	return d.toItem(id)
}

// SoftDelete merges deleted_at into the document.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	existing, _, err := s.fetch(ctx, id, false)
	if err != nil {
		return err
	}
	if existing == nil {
		return errs.Newf(errs.ErrorTypeNotFound, "no item with id %s", id)
	}
	if existing.DeletedAt != "" {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.patch(ctx, postPath(id), map[string]interface{}{
		"deleted_at": now,
		"updated_at": now,
	})
}

// fetch reads posts/{id}, returning nil when the node is absent. When
// withETag is set the response's entity tag is captured for conditional
// writes.
func (s *Store) fetch(ctx context.Context, id string, withETag bool) (*doc, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.nodeURL(postPath(id)), nil)
	if err != nil {
		return nil, "", errs.Newf(errs.ErrorTypeUnknown, "create request: %v", err)
	}
	if withETag {
		req.Header.Set("X-Firebase-ETag", "true")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if err := httpx.CheckStatus(resp); err != nil {
		return nil, "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errs.Newf(errs.ErrorTypeConnection, "read document: %v", err)
	}
	etag := resp.Header.Get("ETag")
	if isNullBody(body) {
		return nil, etag, nil
	}

	var d doc
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, "", errs.Newf(errs.ErrorTypeParsing, "decode document: %v", err)
	}
	return &d, etag, nil
}

func (s *Store) patch(ctx context.Context, path string, fields map[string]interface{}) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return errs.Newf(errs.ErrorTypeParsing, "encode patch: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, s.nodeURL(path), bytes.NewReader(payload))
	if err != nil {
		return errs.Newf(errs.ErrorTypeUnknown, "create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return httpx.CheckStatus(resp)
}

func (s *Store) putConditional(ctx context.Context, path string, d *doc, etag string) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return errs.Newf(errs.ErrorTypeParsing, "encode document: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.nodeURL(path), bytes.NewReader(payload))
	if err != nil {
		return errs.Newf(errs.ErrorTypeUnknown, "create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if etag != "" {
		req.Header.Set("if-match", etag)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return httpx.CheckStatus(resp)
}

func patchFields(patch statusstore.Patch) map[string]interface{} {
	fields := make(map[string]interface{})
	if patch.CreatorID != nil {
		fields["creator_id"] = *patch.CreatorID
	}
	if patch.Phase1Status != nil {
		fields["phase1_status"] = string(*patch.Phase1Status)
	}
	if patch.Phase2Status != nil {
		fields["phase2_status"] = string(*patch.Phase2Status)
	}
	if patch.DetailsExtracted != nil {
		fields["details_extracted"] = *patch.DetailsExtracted
	}
	if patch.AttemptCount != nil {
		fields["attempt_count"] = *patch.AttemptCount
	}
	if patch.LastError != nil {
		fields["last_error"] = *patch.LastError
	}
	if patch.ContentBlocks != nil {
		fields["content_blocks"] = json.RawMessage(patch.ContentBlocks)
	}
	if patch.MediaRemoteRefs != nil {
		fields["media_remote_refs"] = patch.MediaRemoteRefs
	}
	if patch.MediaLocalPaths != nil {
		fields["media_local_paths"] = patch.MediaLocalPaths
	}
	return fields
}

func isNullBody(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	return trimmed == "" || trimmed == "null"
}

func (d *doc) toItem(id string) (*models.ContentItem, error) {
	item := &models.ContentItem{
		ID:               id,
		CreatorID:        d.CreatorID,
		Phase1Status:     models.Phase1Status(d.Phase1Status),
		Phase2Status:     models.Phase2Status(d.Phase2Status),
		DetailsExtracted: d.DetailsExtracted,
		AttemptCount:     d.AttemptCount,
		LastError:        d.LastError,
		ContentBlocks:    d.ContentBlocks,
		MediaRemoteRefs:  d.MediaRemoteRefs,
		MediaLocalPaths:  d.MediaLocalPaths,
	}
	var err error
	if d.CreatedAt != "" {
		if item.CreatedAt, err = time.Parse(time.RFC3339Nano, d.CreatedAt); err != nil {
			return nil, errs.Newf(errs.ErrorTypeParsing, "parse created_at: %v", err)
		}
	}
	if d.UpdatedAt != "" {
		if item.UpdatedAt, err = time.Parse(time.RFC3339Nano, d.UpdatedAt); err != nil {
			return nil, errs.Newf(errs.ErrorTypeParsing, "parse updated_at: %v", err)
		}
	}
	if d.DeletedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, d.DeletedAt)
		if err != nil {
			return nil, errs.Newf(errs.ErrorTypeParsing, "parse deleted_at: %v", err)
		}
		item.DeletedAt = &t
	}
	return item, nil
}
