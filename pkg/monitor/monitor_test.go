package monitor

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/members-filter/pkg/models"
	"github.com/Sriram-PR/members-filter/pkg/page"
	"github.com/Sriram-PR/members-filter/pkg/selectors"
)

const pageHTML = `<html><body><div id="feed"></div><div id="sidebar"></div></body></html>`

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeScanner records calls and can hold passes open to observe overlap
type fakeScanner struct {
	scans   atomic.Int32
	running atomic.Int32
	maxSeen atomic.Int32
	hold    chan struct{} // when non-nil each Scan waits for a receive

	mu     sync.Mutex
	resets []string
}

func (f *fakeScanner) Scan(ctx context.Context) (models.PassResult, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if n <= prev || f.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return models.PassResult{}, ctx.Err()
		}
	}
	f.scans.Add(1)
	return models.PassResult{}, nil
}

func (f *fakeScanner) ResetNavigation(pageURL string) {
	f.mu.Lock()
	f.resets = append(f.resets, pageURL)
	f.mu.Unlock()
}

func (f *fakeScanner) resetURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resets...)
}

func newDoc(t *testing.T) *page.Document {
	t.Helper()
	doc, err := page.NewDocument("https://www.youtube.com/", strings.NewReader(pageHTML), selectors.Default(), testLogger())
	require.NoError(t, err)
	return doc
}

func start(t *testing.T, m *Monitor) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, errCh
}

func TestRun_InitialPassAndMutationFilter(t *testing.T) {
	doc := newDoc(t)
	scanner := &fakeScanner{}
	m := New(scanner, doc, selectors.Default(), Options{Interval: time.Hour}, testLogger())
	start(t, m)

	require.Eventually(t, func() bool { return scanner.scans.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err := doc.Append("#sidebar", `<div class="ad"><span>not a video</span></div>`)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), scanner.scans.Load(), "irrelevant mutation does not trigger a pass")

	_, err = doc.Append("#feed", `<ytd-rich-item-renderer><a href="/watch?v=a">x</a></ytd-rich-item-renderer>`)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return scanner.scans.Load() == 2 }, time.Second, 5*time.Millisecond)

	_, err = doc.Append("#feed", `<div class="section"><ytd-video-renderer></ytd-video-renderer></div>`)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return scanner.scans.Load() == 3 }, time.Second, 5*time.Millisecond,
		"nested container triggers a pass")
}

func TestRun_IntervalAndNavigation(t *testing.T) {
	doc := newDoc(t)
	scanner := &fakeScanner{}
	m := New(scanner, doc, selectors.Default(), Options{Interval: 20 * time.Millisecond, NavigationDelay: 10 * time.Millisecond}, testLogger())
	start(t, m)

	require.Eventually(t, func() bool { return scanner.scans.Load() >= 3 }, time.Second, 5*time.Millisecond,
		"safety-net passes run on every tick")
	assert.Empty(t, scanner.resetURLs())

	doc.Navigate("https://www.youtube.com/@creator")
	require.Eventually(t, func() bool { return len(scanner.resetURLs()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "https://www.youtube.com/@creator", scanner.resetURLs()[0])

	time.Sleep(60 * time.Millisecond)
	assert.Len(t, scanner.resetURLs(), 1, "one reset per navigation")
}

func TestRun_SingleFlight(t *testing.T) {
	doc := newDoc(t)
	scanner := &fakeScanner{hold: make(chan struct{})}
	m := New(scanner, doc, selectors.Default(), Options{Interval: time.Hour}, testLogger())
	start(t, m)

	require.Eventually(t, func() bool { return scanner.running.Load() == 1 }, time.Second, time.Millisecond)
	for i := 0; i < 10; i++ {
		m.Trigger()
	}
	scanner.hold <- struct{}{} // finish the initial pass
	scanner.hold <- struct{}{} // finish the single coalesced pass

	require.Eventually(t, func() bool { return m.Passes() == 2 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(2), m.Passes(), "queued triggers coalesce into one pass")
	assert.Equal(t, int32(1), scanner.maxSeen.Load(), "passes never overlap")
}

func TestRun_CancelStopsAndUnsubscribes(t *testing.T) {
	doc := newDoc(t)
	scanner := &fakeScanner{}
	m := New(scanner, doc, selectors.Default(), Options{Interval: 10 * time.Millisecond}, testLogger())
	cancel, done := start(t, m)

	require.Eventually(t, func() bool { return scanner.scans.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	after := scanner.scans.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, scanner.scans.Load(), "no passes after teardown")
}
