package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	errs "fanvault/pkg/errors"
	"fanvault/pkg/models"
	"fanvault/pkg/statusstore"
)

const itemColumns = `post_id, creator_id, phase1_status, phase2_status, details_extracted,
    attempt_count, last_error, content_blocks, media_remote_refs, media_local_paths,
    created_at, updated_at, deleted_at`

// Get fetches a content item by identifier.
func (s *Store) Get(ctx context.Context, id string) (*models.ContentItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM posts WHERE post_id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.ErrorTypeNotFound, "no item with id %s", id)
	}
	if err != nil {
		return nil, wrapErr("get item", err)
	}
	return item, nil
}

// Scan streams items matching the filter to fn. The sequence is lazy (a live
// row cursor) and restartable (each call issues a fresh query).
func (s *Store) Scan(ctx context.Context, filter statusstore.ScanFilter, fn statusstore.ScanFunc) error {
	query := `SELECT ` + itemColumns + ` FROM posts`
	var clauses []string
	var args []any

	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if filter.CreatorID != "" {
		clauses = append(clauses, "creator_id = ?")
		args = append(args, filter.CreatorID)
	}
	if n := len(filter.Phase2Statuses); n > 0 {
		clauses = append(clauses, "phase2_status IN ("+placeholders(n)+")")
		for _, st := range filter.Phase2Statuses {
			args = append(args, string(st))
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinAnd(clauses)
	}
	if filter.OrderByCreated {
		query += " ORDER BY created_at"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return wrapErr("scan items", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return wrapErr("scan row", err)
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return wrapErr("scan cursor", rows.Err())
}

// Upsert creates the row if absent and applies the merge-patch: only fields
// the patch names are written.
func (s *Store) Upsert(ctx context.Context, id string, patch statusstore.Patch) (*models.ContentItem, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM posts WHERE post_id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO posts (post_id, created_at, updated_at) VALUES (?, ?, ?)`,
				id, timestamp, timestamp); err != nil {
				return err
			}
		}

		sets, args, err := patchAssignments(patch)
		if err != nil {
			return err
		}
		if len(sets) > 0 {
			sets = append(sets, "updated_at = ?")
			args = append(args, timestamp, id)
			query := `UPDATE posts SET ` + joinComma(sets) + ` WHERE post_id = ?`
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, wrapErr("upsert item", err)
	}
	return s.Get(ctx, id)
}

// MarkPhaseResult records a phase outcome. Success transitions are
// idempotent; failures increment attempt_count by exactly one and record the
// error text. The scraping_status mirror row is written through afterwards.
func (s *Store) MarkPhaseResult(ctx context.Context, id string, phase statusstore.Phase, success bool, errText string) (*models.ContentItem, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var phase1, phase2 string
		row := tx.QueryRowContext(ctx,
			`SELECT phase1_status, phase2_status FROM posts WHERE post_id = ?`, id)
		if err := row.Scan(&phase1, &phase2); err != nil {
			return err
		}

		switch phase {
		case statusstore.PhaseDiscovery:
			if success {
				if phase1 == string(models.Phase1Discovered) {
					return tx.Commit() // already terminal, no-op
				}
				phase1 = string(models.Phase1Discovered)
				if _, err := tx.ExecContext(ctx,
					`UPDATE posts SET phase1_status = ?, last_error = NULL, updated_at = ? WHERE post_id = ?`,
					phase1, timestamp, id); err != nil {
					return err
				}
			} else {
				phase1 = string(models.Phase1Failed)
				if _, err := tx.ExecContext(ctx,
					`UPDATE posts SET phase1_status = ?, attempt_count = attempt_count + 1,
                         last_error = ?, updated_at = ? WHERE post_id = ?`,
					phase1, errText, timestamp, id); err != nil {
					return err
				}
			}
		case statusstore.PhaseExtraction:
			if success {
				if phase2 == string(models.Phase2Completed) {
					return tx.Commit()
				}
				phase2 = string(models.Phase2Completed)
				if _, err := tx.ExecContext(ctx,
					`UPDATE posts SET phase2_status = ?, details_extracted = 1,
                         last_error = NULL, updated_at = ? WHERE post_id = ?`,
					phase2, timestamp, id); err != nil {
					return err
				}
			} else {
				phase2 = string(models.Phase2Failed)
				if _, err := tx.ExecContext(ctx,
					`UPDATE posts SET phase2_status = ?, attempt_count = attempt_count + 1,
                         last_error = ?, updated_at = ? WHERE post_id = ?`,
					phase2, errText, timestamp, id); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("unknown phase %q", phase)
		}

		// Write-through mirror; posts stays authoritative.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scraping_status (post_id, source_id, phase1_status, phase2_status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?)
             ON CONFLICT (post_id, source_id)
             DO UPDATE SET phase1_status = excluded.phase1_status,
                           phase2_status = excluded.phase2_status,
                           updated_at = excluded.updated_at`,
			id, s.sourceID, phase1, phase2, timestamp, timestamp); err != nil {
			return err
		}
		return tx.Commit()
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.ErrorTypeNotFound, "no item with id %s", id)
	}
	if err != nil {
		return nil, wrapErr("mark phase result", err)
	}
	return s.Get(ctx, id)
}

// SoftDelete sets deleted_at; calling it on an already-deleted item keeps the
// original deletion timestamp.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE posts SET deleted_at = ?, updated_at = ?
             WHERE post_id = ? AND deleted_at IS NULL`, now, now, id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var exists int
			if err := s.db.QueryRowContext(ctx,
				`SELECT COUNT(1) FROM posts WHERE post_id = ?`, id).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return sql.ErrNoRows
			}
		}
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Newf(errs.ErrorTypeNotFound, "no item with id %s", id)
	}
	return wrapErr("soft delete", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.ContentItem, error) {
	var (
		item             models.ContentItem
		detailsExtracted int
		lastError        sql.NullString
		contentBlocks    sql.NullString
		remoteRefs       sql.NullString
		localPaths       sql.NullString
		createdAt        string
		updatedAt        string
		deletedAt        sql.NullString
	)
	if err := row.Scan(
		&item.ID, &item.CreatorID, &item.Phase1Status, &item.Phase2Status,
		&detailsExtracted, &item.AttemptCount, &lastError, &contentBlocks,
		&remoteRefs, &localPaths, &createdAt, &updatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}

	item.DetailsExtracted = detailsExtracted != 0
	item.LastError = lastError.String

	if contentBlocks.Valid && contentBlocks.String != "" {
		item.ContentBlocks = json.RawMessage(contentBlocks.String)
	}
	if remoteRefs.Valid && remoteRefs.String != "" {
		if err := json.Unmarshal([]byte(remoteRefs.String), &item.MediaRemoteRefs); err != nil {
			return nil, fmt.Errorf("decode media_remote_refs: %w", err)
		}
	}
	if localPaths.Valid && localPaths.String != "" {
		if err := json.Unmarshal([]byte(localPaths.String), &item.MediaLocalPaths); err != nil {
			return nil, fmt.Errorf("decode media_local_paths: %w", err)
		}
	}

	var err error
	if item.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t, err := parseTimestamp(deletedAt.String)
		if err != nil {
			return nil, err
		}
		item.DeletedAt = &t
	}
	return &item, nil
}

func patchAssignments(patch statusstore.Patch) ([]string, []any, error) {
	var sets []string
	var args []any

	if patch.CreatorID != nil {
		sets = append(sets, "creator_id = ?")
		args = append(args, *patch.CreatorID)
	}
	if patch.Phase1Status != nil {
		sets = append(sets, "phase1_status = ?")
		args = append(args, string(*patch.Phase1Status))
	}
	if patch.Phase2Status != nil {
		sets = append(sets, "phase2_status = ?")
		args = append(args, string(*patch.Phase2Status))
	}
	if patch.DetailsExtracted != nil {
		sets = append(sets, "details_extracted = ?")
		args = append(args, boolToInt(*patch.DetailsExtracted))
	}
	if patch.AttemptCount != nil {
		sets = append(sets, "attempt_count = ?")
		args = append(args, *patch.AttemptCount)
	}
	if patch.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *patch.LastError)
	}
	if patch.ContentBlocks != nil {
		sets = append(sets, "content_blocks = ?")
		args = append(args, string(patch.ContentBlocks))
	}
	if patch.MediaRemoteRefs != nil {
		encoded, err := json.Marshal(patch.MediaRemoteRefs)
		if err != nil {
			return nil, nil, fmt.Errorf("encode media_remote_refs: %w", err)
		}
		sets = append(sets, "media_remote_refs = ?")
		args = append(args, string(encoded))
	}
	if patch.MediaLocalPaths != nil {
		encoded, err := json.Marshal(patch.MediaLocalPaths)
		if err != nil {
			return nil, nil, fmt.Errorf("encode media_local_paths: %w", err)
		}
		sets = append(sets, "media_local_paths = ?")
		args = append(args, string(encoded))
	}
	return sets, args, nil
}

func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func joinAnd(clauses []string) string   { return strings.Join(clauses, " AND ") }
func joinComma(clauses []string) string { return strings.Join(clauses, ", ") }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
