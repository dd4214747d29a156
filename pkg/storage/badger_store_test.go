package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *BadgerStore, assets ...models.ImageAsset) {
	t.Helper()
	for i := range assets {
		require.NoError(t, store.PutAsset(context.Background(), &assets[i]))
	}
}

func TestBadgerStore_AssetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seed(t, store, models.ImageAsset{ID: 1, MIMEType: "image/png", Title: "Logo", UploadedAt: base})

	got, err := store.GetAsset(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Logo", got.Title)
	assert.True(t, got.UploadedAt.Equal(base))

	_, err = store.GetAsset(ctx, 99)
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.ErrorIs(t, store.SetAltText(ctx, 99, "x"), utils.ErrNotFound)
}

func TestBadgerStore_PipelineWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seed(t, store, models.ImageAsset{ID: 3, MIMEType: "image/jpeg"})

	require.NoError(t, store.SetAltText(ctx, 3, "  A harbour at dusk  "))
	meta := models.GenerationMeta{Source: models.SourceQueue, Model: "gpt-4o-mini", Strategy: models.StrategyInlineBase64, Attempts: 2, GeneratedAt: base}
	require.NoError(t, store.SetGenerationMetadata(ctx, 3, meta))

	a, err := store.GetAssessment(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, a, "no assessment yet")

	require.NoError(t, store.SetAssessment(ctx, 3, &models.QualityAssessment{Score: 82, Status: models.QualityGood, ContentHash: utils.AltContentHash("A harbour at dusk")}))
	a, err = store.GetAssessment(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, 82, a.Score)

	got, err := store.GetAsset(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "A harbour at dusk", got.AltText)

	// Re-importing the CMS fields keeps what the pipeline wrote
	seed(t, store, models.ImageAsset{ID: 3, MIMEType: "image/jpeg", Title: "Harbour"})
	stats, err := store.MediaStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Generated)

	require.NoError(t, store.ClearAssessment(ctx, 3))
	a, err = store.GetAssessment(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestBadgerStore_Listing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seed(t, store,
		models.ImageAsset{ID: 1, MIMEType: "image/png", UploadedAt: base},
		models.ImageAsset{ID: 2, MIMEType: "image/png", AltText: "Chart of sales", UploadedAt: base.Add(time.Hour)},
		models.ImageAsset{ID: 3, MIMEType: "application/pdf", UploadedAt: base.Add(2 * time.Hour)},
		models.ImageAsset{ID: 4, MIMEType: "image/jpeg", UploadedAt: base.Add(3 * time.Hour)},
		models.ImageAsset{ID: 5, MIMEType: "image/gif", AltText: "   ", UploadedAt: base.Add(4 * time.Hour)},
	)
	require.NoError(t, store.SetGenerationMetadata(ctx, 1, models.GenerationMeta{GeneratedAt: base.Add(10 * time.Hour)}))

	t.Run("missing alt newest first", func(t *testing.T) {
		ids, err := store.ListMissingAltIDs(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{5, 4, 1}, ids)

		ids, err = store.ListMissingAltIDs(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []int64{5, 4}, ids)
	})

	t.Run("all images generated first then uploaded", func(t *testing.T) {
		ids, err := store.ListAllImageIDs(ctx, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 5, 4, 2}, ids)
	})

	t.Run("pagination", func(t *testing.T) {
		ids, err := store.ListAllImageIDs(ctx, 2, 2)
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 2}, ids)

		ids, err = store.ListAllImageIDs(ctx, 2, 4)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("count and stats ignore non-images", func(t *testing.T) {
		n, err := store.CountImages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		stats, err := store.MediaStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.MediaStats{Total: 4, WithAlt: 1, Missing: 3, Generated: 1, Coverage: 25}, stats)
	})
}

func TestBadgerStore_PutAssetRejectsBadID(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.PutAsset(context.Background(), &models.ImageAsset{ID: 0}))
}

func TestBadgerStore_State(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	q, err := store.LoadQueueState(ctx)
	require.NoError(t, err)
	assert.Nil(t, q)

	state := &models.QueueState{RunID: "run-1", Scope: models.ScopeAll, BatchSize: 5, Cursor: 40, Active: true, Status: models.QueueRunning}
	state.AddMessage("Processed 5 images")
	require.NoError(t, store.SaveQueueState(ctx, state))

	q, err = store.LoadQueueState(ctx)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 40, q.Cursor)
	assert.Equal(t, []string{"Processed 5 images"}, q.Messages)

	require.NoError(t, store.ClearQueueState(ctx))
	q, err = store.LoadQueueState(ctx)
	require.NoError(t, err)
	assert.Nil(t, q)

	l, err := store.LoadUsageLedger(ctx)
	require.NoError(t, err)
	assert.Nil(t, l)
	require.NoError(t, store.SaveUsageLedger(ctx, &models.UsageLedger{TotalTokens: 120, Requests: 1}))
	l, err = store.LoadUsageLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(120), l.TotalTokens)
}

func TestBadgerStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store1, err := NewBadgerStore(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, store1.PutAsset(ctx, &models.ImageAsset{ID: 8, MIMEType: "image/png"}))
	require.NoError(t, store1.SaveQueueState(ctx, &models.QueueState{RunID: "r", Active: true}))
	require.NoError(t, store1.Close())

	store2, err := NewBadgerStore(dir, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })

	n, err := store2.CountImages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	q, err := store2.LoadQueueState(ctx)
	require.NoError(t, err)
	assert.True(t, q.Active)
}

func TestBadgerStore_RunGCStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.RunGC(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunGC did not stop")
	}
}
