// Package testutil provides shared helpers for tests that exercise the
// real storage layer instead of a mock.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/service"
	"github.com/healthfolio/folio/internal/storage"
)

// TestDB wraps an in-memory migrated storage instance with test helpers.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates an in-memory database, runs migrations, and registers
// cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})

	return &TestDB{Storage: store, t: t}
}

// SeedHistory writes the given items into the history cache.
func (db *TestDB) SeedHistory(items ...model.HistoryItem) {
	db.t.Helper()
	if err := db.Storage.SaveHistory(context.Background(), items); err != nil {
		db.t.Fatalf("failed to seed history: %v", err)
	}
}

// HistoryItem builds a history fixture with sensible defaults.
func HistoryItem(id, filename string, status model.UploadStatus) model.HistoryItem {
	return model.HistoryItem{
		ID:            id,
		Filename:      filename,
		Status:        status,
		RecordCount:   1,
		FileSizeBytes: 1024,
		CreatedAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}
