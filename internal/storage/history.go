package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/healthfolio/folio/internal/common"
	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/service"
)

const staleKey = "history_stale"

// SaveHistory replaces the cached upload history with the given items and
// clears the stale flag.
func (s *SQLiteStorage) SaveHistory(ctx context.Context, items []model.HistoryItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM upload_history"); err != nil {
		return fmt.Errorf("failed to clear history cache: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO upload_history (id, filename, status, hash, record_count, file_size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx,
			item.ID, item.Filename, string(item.Status), item.Hash,
			item.RecordCount, item.FileSizeBytes, item.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert history item %s: %w", item.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO cache_state (key, value) VALUES (?, 'false') ON CONFLICT(key) DO UPDATE SET value='false'",
		staleKey); err != nil {
		return fmt.Errorf("failed to clear stale flag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history cache: %w", err)
	}
	return nil
}

// GetHistory returns cached history items, newest first.
func (s *SQLiteStorage) GetHistory(ctx context.Context, filter service.HistoryFilter) ([]model.HistoryItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, filename, status, hash, record_count, file_size_bytes, created_at
		FROM upload_history`
	args := []any{}

	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.HistoryItem
	for rows.Next() {
		var item model.HistoryItem
		var status string
		if err := rows.Scan(&item.ID, &item.Filename, &status, &item.Hash,
			&item.RecordCount, &item.FileSizeBytes, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history item: %w", err)
		}
		item.Status = model.UploadStatus(status)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return items, nil
}

// FindByHash looks up a cached history item by content hash, used to warn
// about re-uploading identical files.
func (s *SQLiteStorage) FindByHash(ctx context.Context, hash string) (*model.HistoryItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(hash, "hash"); err != nil {
		return nil, err
	}

	var item model.HistoryItem
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, status, hash, record_count, file_size_bytes, created_at
		FROM upload_history WHERE hash = ? LIMIT 1`, hash).
		Scan(&item.ID, &item.Filename, &status, &item.Hash,
			&item.RecordCount, &item.FileSizeBytes, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up hash: %w", err)
	}

	item.Status = model.UploadStatus(status)
	return &item, nil
}

// MarkStale flags the cache so the next history view refetches from the
// server. Called after every dispatch.
func (s *SQLiteStorage) MarkStale(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO cache_state (key, value) VALUES (?, 'true') ON CONFLICT(key) DO UPDATE SET value='true'",
		staleKey)
	if err != nil {
		return fmt.Errorf("failed to mark history stale: %w", err)
	}
	return nil
}

// IsStale reports whether the cached history must be refetched. An empty
// cache is always stale.
func (s *SQLiteStorage) IsStale(ctx context.Context) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM cache_state WHERE key = ?", staleKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read stale flag: %w", err)
	}
	return value == "true", nil
}
