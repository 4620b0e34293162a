package page

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/members-filter/pkg/selectors"
	"github.com/Sriram-PR/members-filter/pkg/utils"
)

const testHTML = `<html><body><div id="feed">
  <ytd-rich-item-renderer id="a" style="color: red">
    <a href="/watch?v=aaa"><span id="video-title">First</span></a>
  </ytd-rich-item-renderer>
  <ytd-rich-item-renderer id="b">
    <a href="/watch?v=bbb"><span id="video-title">Second</span></a>
  </ytd-rich-item-renderer>
</div></body></html>`

func newTestDocument(t *testing.T) *Document {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	doc, err := NewDocument("https://www.youtube.com/", strings.NewReader(testHTML), selectors.Default(), logrus.NewEntry(log))
	require.NoError(t, err)
	return doc
}

func find(d *Document, sel string) *goquery.Selection {
	return d.Root().Find(sel)
}

func TestContainers(t *testing.T) {
	d := newTestDocument(t)
	d.Lock()
	defer d.Unlock()
	assert.Len(t, d.Containers(), 2)
	assert.Equal(t, "https://www.youtube.com/", d.CurrentURL())
}

func TestHideUnhide_RestoresOwnStyle(t *testing.T) {
	d := newTestDocument(t)
	d.Lock()
	defer d.Unlock()

	a := find(d, "#a")
	b := find(d, "#b")
	d.Hide(a)
	d.Hide(b)
	d.Hide(a) // re-assert keeps the saved style

	assert.True(t, d.IsHidden(a))
	style, _ := a.Attr("style")
	assert.Contains(t, style, "display: none")

	d.Unhide(a)
	assert.False(t, d.IsHidden(a))
	style, _ = a.Attr("style")
	assert.Equal(t, "color: red", style)
	_, saved := a.Attr(prevStyleAttr)
	assert.False(t, saved)

	assert.Equal(t, 1, d.UnhideAll())
	_, hasStyle := b.Attr("style")
	assert.False(t, hasStyle, "nodes without their own style get none back")
	assert.Equal(t, 0, d.UnhideAll())
}

func TestHiddenItems(t *testing.T) {
	d := newTestDocument(t)
	d.Lock()
	d.Hide(find(d, "#b"))
	d.Unlock()

	items := d.HiddenItems()
	require.Len(t, items, 1)
	assert.Equal(t, HiddenItem{Key: "v:bbb", Title: "Second"}, items[0])

	out, err := d.HTML()
	require.NoError(t, err)
	assert.Contains(t, out, HiddenAttr+`="true"`)
}

func TestAppend_PublishesAddedNodes(t *testing.T) {
	d := newTestDocument(t)
	mutations, unsubscribe := d.Subscribe()
	defer unsubscribe()

	n, err := d.Append("#feed", `<ytd-rich-item-renderer id="c"><span id="video-title">Third</span></ytd-rich-item-renderer>text`)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "text nodes are not reported")

	select {
	case m := <-mutations:
		require.Len(t, m.Added, 1)
		assert.Equal(t, "https://www.youtube.com/", m.URL)
		id, _ := m.Added[0].Attr("id")
		assert.Equal(t, "c", id)
	case <-time.After(time.Second):
		t.Fatal("no mutation published")
	}

	d.Lock()
	assert.Len(t, d.Containers(), 3)
	d.Unlock()
}

func TestAppend_MissingParent(t *testing.T) {
	d := newTestDocument(t)
	_, err := d.Append("#nope", "<div></div>")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrParsing))
}

func TestNavigateAndLoad(t *testing.T) {
	d := newTestDocument(t)
	mutations, unsubscribe := d.Subscribe()
	defer unsubscribe()

	d.Navigate("https://www.youtube.com/@somecreator")
	d.Lock()
	assert.Equal(t, "https://www.youtube.com/@somecreator", d.CurrentURL())
	d.Unlock()

	require.NoError(t, d.Load("https://www.youtube.com/feed/subscriptions",
		strings.NewReader(`<html><body><ytd-video-renderer id="x"></ytd-video-renderer></body></html>`)))

	select {
	case m := <-mutations:
		assert.Equal(t, "https://www.youtube.com/feed/subscriptions", m.URL)
		require.Len(t, m.Added, 1)
		assert.Equal(t, "body", goquery.NodeName(m.Added[0]))
	case <-time.After(time.Second):
		t.Fatal("no mutation published")
	}

	d.Lock()
	defer d.Unlock()
	assert.Len(t, d.Containers(), 1)
}

func TestLoad_KeepsURLWhenEmpty(t *testing.T) {
	d := newTestDocument(t)
	require.NoError(t, d.Load("", strings.NewReader("<p>hi</p>")))
	d.Lock()
	defer d.Unlock()
	assert.Equal(t, "https://www.youtube.com/", d.CurrentURL())
}

func TestRemove(t *testing.T) {
	d := newTestDocument(t)
	assert.Equal(t, 2, d.Remove("ytd-rich-item-renderer"))
	assert.Equal(t, 0, d.Remove("ytd-rich-item-renderer"))
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	d := newTestDocument(t)
	ch, unsubscribe := d.Subscribe()
	unsubscribe()
	unsubscribe() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Publishing with no subscribers must not block
	_, err := d.Append("#feed", "<div></div>")
	require.NoError(t, err)
}
