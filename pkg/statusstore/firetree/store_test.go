package firetree

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "fanvault/pkg/errors"
	"fanvault/pkg/httpx"
	"fanvault/pkg/logger"
	"fanvault/pkg/models"
	"fanvault/pkg/statusstore"
)

// fakeTree emulates the realtime-tree REST surface: GET returns the node or
// literal null, PATCH merges fields, PUT replaces and honors if-match against
// a per-node revision tag.
type fakeTree struct {
	mu    sync.Mutex
	docs  map[string]map[string]interface{}
	revs  map[string]int
	gets  int
	auths []string
}

func newFakeTree() *fakeTree {
	return &fakeTree{
		docs: make(map[string]map[string]interface{}),
		revs: make(map[string]int),
	}
}

func (f *fakeTree) etag(id string) string {
	return fmt.Sprintf("rev-%d", f.revs[id])
}

func (f *fakeTree) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auths = append(f.auths, r.URL.Query().Get("auth"))

		path := strings.TrimSuffix(r.URL.Path, ".json")
		switch {
		case path == "/posts":
			f.gets++
			if len(f.docs) == 0 {
				fmt.Fprint(w, "null")
				return
			}
			_ = json.NewEncoder(w).Encode(f.docs)

		case strings.HasPrefix(path, "/posts/"):
			id := strings.TrimPrefix(path, "/posts/")
			switch r.Method {
			case http.MethodGet:
				f.gets++
				if r.Header.Get("X-Firebase-ETag") == "true" {
					w.Header().Set("ETag", f.etag(id))
				}
				doc, ok := f.docs[id]
				if !ok {
					fmt.Fprint(w, "null")
					return
				}
				_ = json.NewEncoder(w).Encode(doc)

			case http.MethodPatch:
				body, _ := io.ReadAll(r.Body)
				var fields map[string]interface{}
				if err := json.Unmarshal(body, &fields); err != nil {
					http.Error(w, "bad json", http.StatusBadRequest)
					return
				}
				doc, ok := f.docs[id]
				if !ok {
					doc = make(map[string]interface{})
					f.docs[id] = doc
				}
				for k, v := range fields {
					doc[k] = v
				}
				f.revs[id]++
				_ = json.NewEncoder(w).Encode(fields)

			case http.MethodPut:
				if match := r.Header.Get("if-match"); match != "" && match != f.etag(id) {
					w.WriteHeader(http.StatusPreconditionFailed)
					return
				}
				body, _ := io.ReadAll(r.Body)
				var doc map[string]interface{}
				if err := json.Unmarshal(body, &doc); err != nil {
					http.Error(w, "bad json", http.StatusBadRequest)
					return
				}
				f.docs[id] = doc
				f.revs[id]++
				_, _ = w.Write(body)

			default:
				http.Error(w, "method", http.StatusMethodNotAllowed)
			}

		default:
			http.Error(w, "path", http.StatusNotFound)
		}
	})
}

func openTestStore(t *testing.T) (*Store, *fakeTree) {
	t.Helper()
	tree := newFakeTree()
	server := httptest.NewServer(tree.handler())
	t.Cleanup(server.Close)

	client, err := httpx.NewClient(5*time.Second, logger.NopLogger{})
	require.NoError(t, err)
	return Open(server.URL, "testtoken", client, logger.NopLogger{}), tree
}

func TestGetMissingIsNotFound(t *testing.T) {
	store, _ := openTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeNotFound))
}

func TestUpsertCreatesThenMerges(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	item, err := store.Upsert(ctx, "post1", statusstore.Patch{
		CreatorID: statusstore.Ptr("creatorA"),
	})
	require.NoError(t, err)
	assert.Equal(t, "creatorA", item.CreatorID)
	assert.Equal(t, models.Phase1Pending, item.Phase1Status)
	assert.Equal(t, models.Phase2Pending, item.Phase2Status)
	assert.False(t, item.CreatedAt.IsZero())

	// A later patch naming only phase2 must not clobber creator_id.
	item, err = store.Upsert(ctx, "post1", statusstore.Patch{
		Phase2Status: statusstore.Ptr(models.Phase2Processing),
	})
	require.NoError(t, err)
	assert.Equal(t, "creatorA", item.CreatorID)
	assert.Equal(t, models.Phase2Processing, item.Phase2Status)
}

func TestMarkPhaseResultLifecycle(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, "post1", statusstore.Patch{})
	require.NoError(t, err)

	item, err := store.MarkPhaseResult(ctx, "post1", statusstore.PhaseExtraction, false, "timeout")
	require.NoError(t, err)
	assert.Equal(t, models.Phase2Failed, item.Phase2Status)
	assert.Equal(t, 1, item.AttemptCount)
	assert.Equal(t, "timeout", item.LastError)

	item, err = store.MarkPhaseResult(ctx, "post1", statusstore.PhaseExtraction, true, "")
	require.NoError(t, err)
	assert.Equal(t, models.Phase2Completed, item.Phase2Status)
	assert.True(t, item.DetailsExtracted)
	assert.Empty(t, item.LastError)

	// Second success is a no-op, not a double increment.
	item, err = store.MarkPhaseResult(ctx, "post1", statusstore.PhaseExtraction, true, "")
	require.NoError(t, err)
	assert.Equal(t, 1, item.AttemptCount)
}

func TestMarkPhaseResultStaleWriteIsConflict(t *testing.T) {
	store, tree := openTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, "post1", statusstore.Patch{})
	require.NoError(t, err)

	// Bump the revision behind the store's back so every if-match PUT
	// carries a stale tag.
	orig := tree.handler()
	bump := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/posts/") {
			orig.ServeHTTP(w, r)
			tree.mu.Lock()
			tree.revs["post1"]++
			tree.mu.Unlock()
			return
		}
		orig.ServeHTTP(w, r)
	})
	server := httptest.NewServer(bump)
	defer server.Close()

	client, err := httpx.NewClient(5*time.Second, logger.NopLogger{})
	require.NoError(t, err)
	racy := Open(server.URL, "", client, logger.NopLogger{})

	_, err = racy.MarkPhaseResult(ctx, "post1", statusstore.PhaseExtraction, false, "x")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeConflict))
}

func TestScanFiltersClientSide(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, "a", statusstore.Patch{
		CreatorID:    statusstore.Ptr("c1"),
		Phase2Status: statusstore.Ptr(models.Phase2Completed),
	})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "b", statusstore.Patch{CreatorID: statusstore.Ptr("c1")})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "c", statusstore.Patch{CreatorID: statusstore.Ptr("c2")})
	require.NoError(t, err)

	var ids []string
	err = store.Scan(ctx, statusstore.ScanFilter{
		CreatorID:      "c1",
		Phase2Statuses: []models.Phase2Status{models.Phase2Pending},
	}, func(item *models.ContentItem) error {
		ids = append(ids, item.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestScanEmptyTree(t *testing.T) {
	store, _ := openTestStore(t)
	err := store.Scan(context.Background(), statusstore.ScanFilter{}, func(*models.ContentItem) error {
		t.Fatal("no items expected")
		return nil
	})
	require.NoError(t, err)
}

func TestSoftDelete(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, "post1", statusstore.Patch{})
	require.NoError(t, err)
	require.NoError(t, store.SoftDelete(ctx, "post1"))

	item, err := store.Get(ctx, "post1")
	require.NoError(t, err)
	assert.True(t, item.Deleted())

	// Second delete is a no-op.
	require.NoError(t, store.SoftDelete(ctx, "post1"))

	err = store.SoftDelete(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeNotFound))
}

func TestAuthTokenOnEveryRequest(t *testing.T) {
	store, tree := openTestStore(t)
	_, _ = store.Get(context.Background(), "x")

	tree.mu.Lock()
	defer tree.mu.Unlock()
	require.NotEmpty(t, tree.auths)
	for _, got := range tree.auths {
		assert.Equal(t, "testtoken", got)
	}
}
