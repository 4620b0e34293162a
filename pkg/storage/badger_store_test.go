package storage

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/members-filter/pkg/models"
	"github.com/Sriram-PR/members-filter/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir(), "default", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnabled_MissingReadsTrue(t *testing.T) {
	store := newTestStore(t)

	enabled, err := store.GetEnabled()
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, store.SetEnabled(false))
	enabled, err = store.GetEnabled()
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestWhitelist_RoundTripKeepsOrder(t *testing.T) {
	store := newTestStore(t)

	list, err := store.GetWhitelist()
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, store.SetWhitelist([]string{"@b", "@a", "Some Creator"}))
	list, err = store.GetWhitelist()
	require.NoError(t, err)
	assert.Equal(t, []string{"@b", "@a", "Some Creator"}, list)
}

func TestSeedDefaults_OnlyFillsMissingKeys(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetWhitelist([]string{"@kept"}))

	require.NoError(t, store.SeedDefaults(false, []string{"@seed"}))

	enabled, _ := store.GetEnabled()
	assert.False(t, enabled, "missing enabled key takes the seed")
	list, _ := store.GetWhitelist()
	assert.Equal(t, []string{"@kept"}, list, "stored whitelist wins over the seed")

	require.NoError(t, store.SeedDefaults(true, nil))
	enabled, _ = store.GetEnabled()
	assert.False(t, enabled, "seed never overwrites")
}

func TestTitleCache_PersistedFormat(t *testing.T) {
	data, err := EncodeTitleCache([]models.TitleEntry{
		{Title: "Members stream", Channel: "Some Creator", Timestamp: 1700000000000},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[["Members stream",{"channel":"Some Creator","timestamp":1700000000000}]]`, string(data))

	entries, skipped, err := DecodeTitleCache([]byte(
		`[["A",{"channel":"x","timestamp":5}],["bad"],[1,{"channel":"y"}],["B",{"timestamp":7}]]`))
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, []models.TitleEntry{
		{Title: "A", Channel: "x", Timestamp: 5},
		{Title: "B", Channel: "", Timestamp: 7},
	}, entries)

	_, _, err = DecodeTitleCache([]byte(`{"not":"pairs"}`))
	assert.ErrorIs(t, err, utils.ErrParsing)
}

func TestTitleCache_SaveLoadClear(t *testing.T) {
	store := newTestStore(t)

	entries, err := store.LoadTitleCache()
	require.NoError(t, err)
	assert.Empty(t, entries)

	want := []models.TitleEntry{
		{Title: "One", Channel: "@a", Timestamp: 2},
		{Title: "Two", Channel: models.UnknownChannel, Timestamp: 1},
	}
	require.NoError(t, store.SaveTitleCache(want))
	entries, err = store.LoadTitleCache()
	require.NoError(t, err)
	assert.Equal(t, want, entries)

	require.NoError(t, store.ClearTitleCache())
	entries, err = store.LoadTitleCache()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTitleCache_MergeKeepsStoredEntries(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveTitleCache([]models.TitleEntry{
		{Title: "Stored", Channel: "@a", Timestamp: 3},
		{Title: "Pending", Channel: models.UnknownChannel, Timestamp: 2},
	}))

	require.NoError(t, store.MergeTitleCache([]models.TitleEntry{
		{Title: "Fresh", Channel: "@b", Timestamp: 4},
		{Title: "Pending", Channel: "@c", Timestamp: 9},
	}, 0))

	entries, err := store.LoadTitleCache()
	require.NoError(t, err)
	assert.Equal(t, []models.TitleEntry{
		{Title: "Fresh", Channel: "@b", Timestamp: 4},
		{Title: "Stored", Channel: "@a", Timestamp: 3},
		{Title: "Pending", Channel: "@c", Timestamp: 2},
	}, entries)

	// Bounded to capacity, oldest dropped
	require.NoError(t, store.MergeTitleCache([]models.TitleEntry{{Title: "Newest", Channel: "@d", Timestamp: 5}}, 2))
	entries, err = store.LoadTitleCache()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Newest", entries[0].Title)
	assert.Equal(t, "Fresh", entries[1].Title)
}

func TestTitleCache_ConcurrentMergesLoseNothing(t *testing.T) {
	store := newTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry := models.TitleEntry{Title: string(rune('A' + i)), Channel: "@x", Timestamp: int64(i + 1)}
			assert.NoError(t, store.MergeTitleCache([]models.TitleEntry{entry}, 0))
		}(i)
	}
	wg.Wait()

	entries, err := store.LoadTitleCache()
	require.NoError(t, err)
	assert.Len(t, entries, 8)
}

func TestBlockedCount_ConcurrentIncrements(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementBlockedCount(2)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total, err := store.GetBlockedCount()
	require.NoError(t, err)
	assert.Equal(t, int64(40), total)
}

func TestReopenPreservesState(t *testing.T) {
	dir := t.TempDir()
	logger := testLogger()

	store1, err := NewBadgerStore(dir, "profile/one", logger)
	require.NoError(t, err)
	require.NoError(t, store1.SetWhitelist([]string{"@persisted"}))
	_, err = store1.IncrementBlockedCount(3)
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := NewBadgerStore(dir, "profile/one", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })

	list, err := store2.GetWhitelist()
	require.NoError(t, err)
	assert.Equal(t, []string{"@persisted"}, list)
	total, _ := store2.GetBlockedCount()
	assert.Equal(t, int64(3), total)
}

func TestInMemoryStoreAndGC(t *testing.T) {
	store, err := NewInMemoryStore(testLogger())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetEnabled(false))
	enabled, _ := store.GetEnabled()
	assert.False(t, enabled)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.RunGC(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunGC did not stop after cancellation")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
