package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthfolio/folio/internal/common"
	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/service"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	db, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func testItems() []model.HistoryItem {
	return []model.HistoryItem{
		{
			ID:          "h-1",
			Filename:    "bundle.json",
			Status:      model.StatusCompleted,
			Hash:        "aaa",
			RecordCount: 40,
			CreatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:        "h-2",
			Filename:  "scan.pdf",
			Status:    model.StatusFailed,
			Hash:      "bbb",
			CreatedAt: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestSaveAndGetHistory(t *testing.T) {
	db := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, db.SaveHistory(ctx, testItems()))

	items, err := db.GetHistory(ctx, service.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)

	// Newest first
	assert.Equal(t, "h-2", items[0].ID)
	assert.Equal(t, "h-1", items[1].ID)
	assert.Equal(t, model.StatusCompleted, items[1].Status)
	assert.Equal(t, 40, items[1].RecordCount)
}

func TestGetHistoryFiltersByStatus(t *testing.T) {
	db := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, db.SaveHistory(ctx, testItems()))

	items, err := db.GetHistory(ctx, service.HistoryFilter{Status: model.StatusFailed})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "h-2", items[0].ID)
}

func TestSaveHistoryReplacesCache(t *testing.T) {
	db := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, db.SaveHistory(ctx, testItems()))
	require.NoError(t, db.SaveHistory(ctx, testItems()[:1]))

	items, err := db.GetHistory(ctx, service.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestFindByHash(t *testing.T) {
	db := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, db.SaveHistory(ctx, testItems()))

	item, err := db.FindByHash(ctx, "aaa")
	require.NoError(t, err)
	assert.Equal(t, "h-1", item.ID)

	_, err = db.FindByHash(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestStaleness(t *testing.T) {
	db := newTestStorage(t)
	ctx := context.Background()

	// Empty cache starts stale
	stale, err := db.IsStale(ctx)
	require.NoError(t, err)
	assert.True(t, stale)

	// Saving fresh history clears the flag
	require.NoError(t, db.SaveHistory(ctx, testItems()))
	stale, err = db.IsStale(ctx)
	require.NoError(t, err)
	assert.False(t, stale)

	// Dispatch invalidates
	require.NoError(t, db.MarkStale(ctx))
	stale, err = db.IsStale(ctx)
	require.NoError(t, err)
	assert.True(t, stale)
}
