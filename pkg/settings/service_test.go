package settings

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/members-filter/pkg/bus"
	"github.com/Sriram-PR/members-filter/pkg/config"
	"github.com/Sriram-PR/members-filter/pkg/models"
	"github.com/Sriram-PR/members-filter/pkg/storage"
	"github.com/Sriram-PR/members-filter/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

type stubNames map[string]string

func (s stubNames) FetchDisplayName(_ context.Context, handle string) (string, error) {
	if name, ok := s[handle]; ok {
		return name, nil
	}
	return "", utils.WrapErrorf(utils.ErrChannelFetch, "%s", handle)
}

func newService(t *testing.T, names NameFetcher) (*Service, *bus.Bus, storage.Store) {
	t.Helper()
	store, err := storage.NewInMemoryStore(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := bus.New(testLogger())
	svc := NewService(store, b, names, 1000, testLogger())
	svc.Register()
	return svc, b, store
}

func TestRequests(t *testing.T) {
	svc, b, _ := newService(t, nil)
	ctx := context.Background()

	resp, err := b.Request(ctx, bus.Message{Action: bus.ActionIsEnabled})
	require.NoError(t, err)
	assert.True(t, resp.Enabled, "missing flag reads as enabled")

	require.NoError(t, svc.SetEnabled(false))
	resp, err = b.Request(ctx, bus.Message{Action: bus.ActionIsEnabled})
	require.NoError(t, err)
	assert.False(t, resp.Enabled)

	resp, err = b.Request(ctx, bus.Message{Action: bus.ActionGetWhitelist})
	require.NoError(t, err)
	assert.Empty(t, resp.Whitelist)
}

func TestSeed(t *testing.T) {
	disabled := false
	svc, _, _ := newService(t, nil)
	require.NoError(t, svc.Seed(config.AppConfig{Enabled: &disabled, Whitelist: []string{"@seeded"}}))

	enabled, err := svc.Enabled()
	require.NoError(t, err)
	assert.False(t, enabled)
	list, _ := svc.Whitelist()
	assert.Equal(t, []string{"@seeded"}, list)
}

func TestAddChannel(t *testing.T) {
	svc, b, _ := newService(t, stubNames{"@somecreator": "Some Creator"})
	inbox, unsub := b.Subscribe("tab-1")
	defer unsub()
	ctx := context.Background()

	_, _, err := svc.AddChannel(ctx, "somecreator")
	assert.ErrorIs(t, err, utils.ErrInvalidHandle)
	_, _, err = svc.AddChannel(ctx, "@")
	assert.ErrorIs(t, err, utils.ErrInvalidHandle)

	added, list, err := svc.AddChannel(ctx, "  @somecreator ")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"@somecreator", "Some Creator"}, list)

	msg := <-inbox
	assert.Equal(t, bus.ActionWhitelistChanged, msg.Action)
	assert.Equal(t, list, msg.Whitelist)

	added, _, err = svc.AddChannel(ctx, "@somecreator")
	require.NoError(t, err)
	assert.False(t, added, "duplicate handle is not added twice")
}

func TestAddChannel_NameLookupFailureKeepsHandle(t *testing.T) {
	svc, _, _ := newService(t, stubNames{})
	added, list, err := svc.AddChannel(context.Background(), "@offline")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"@offline"}, list)
}

func TestRemoveChannel(t *testing.T) {
	svc, b, store := newService(t, nil)
	require.NoError(t, store.SetWhitelist([]string{"@a", "A Name", "@b"}))
	inbox, unsub := b.Subscribe("tab-1")
	defer unsub()

	removed, list, err := svc.RemoveChannel("A Name")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"@a", "@b"}, list)
	assert.Equal(t, bus.ActionWhitelistChanged, (<-inbox).Action)

	removed, _, err = svc.RemoveChannel("@missing")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestItemsBlockedAndStats(t *testing.T) {
	_, b, store := newService(t, nil)
	ctx := context.Background()
	require.NoError(t, store.SaveTitleCache([]models.TitleEntry{{Title: "x", Channel: "y", Timestamp: 1}}))

	var updates []models.Stats
	b.Handle(bus.ActionStatsUpdated, func(_ context.Context, msg bus.Message) (bus.Response, error) {
		updates = append(updates, *msg.Stats)
		return bus.Response{}, nil
	})

	_, err := b.Request(ctx, bus.Message{Action: bus.ActionContentScriptReady, TabID: "t1"})
	require.NoError(t, err)
	b.Notify(ctx, bus.Message{Action: bus.ActionItemsBlocked, TabID: "t1", Count: 3})
	b.Wait()
	b.Notify(ctx, bus.Message{Action: bus.ActionItemsBlocked, TabID: "t2", Count: 2})
	b.Wait()

	resp, err := b.Request(ctx, bus.Message{Action: bus.ActionGetStats, TabID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, models.Stats{PageCount: 3, TotalCount: 5, CacheSize: 1}, resp.Stats)

	require.Len(t, updates, 2)
	assert.Equal(t, int64(3), updates[0].TotalCount)
	assert.Equal(t, 2, updates[1].PageCount)
}

func TestClearCache(t *testing.T) {
	svc, b, store := newService(t, nil)
	require.NoError(t, store.SaveTitleCache([]models.TitleEntry{{Title: "x", Channel: "y", Timestamp: 1}}))
	inboxA, unsubA := b.Subscribe("a")
	defer unsubA()
	inboxB, unsubB := b.Subscribe("b")
	defer unsubB()

	require.NoError(t, svc.ClearCache(context.Background()))
	assert.Equal(t, bus.ActionClearCache, (<-inboxA).Action)
	assert.Equal(t, bus.ActionClearCache, (<-inboxB).Action)

	titles, err := svc.CachedTitles("")
	require.NoError(t, err)
	assert.Empty(t, titles)
}

func TestCachedTitles_Search(t *testing.T) {
	svc, _, store := newService(t, nil)
	require.NoError(t, store.SaveTitleCache([]models.TitleEntry{
		{Title: "Zed MEMBERS", Channel: "a", Timestamp: 1},
		{Title: "alpha members", Channel: "b", Timestamp: 2},
		{Title: "public", Channel: "c", Timestamp: 3},
	}))

	got, err := svc.CachedTitles("Members")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha members", got[0].Title)
	assert.Equal(t, "Zed MEMBERS", got[1].Title)
}

func TestStats_ErrorsPropagate(t *testing.T) {
	svc, _, store := newService(t, nil)
	require.NoError(t, store.Close())
	_, err := svc.Stats("t")
	assert.True(t, errors.Is(err, utils.ErrDatabase))
}
