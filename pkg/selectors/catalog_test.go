package selectors

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/members-filter/pkg/config"
)

const fixtureFeed = `<html><body>
<ytd-rich-grid-renderer>
  <ytd-rich-item-renderer id="badge-old">
    <a id="video-title-link" href="/watch?v=abc123" title="Members Stream #5"><span id="video-title">Members Stream #5</span></a>
    <div class="badge badge-style-type-members-only"><span>Members only</span></div>
  </ytd-rich-item-renderer>
  <ytd-rich-item-renderer id="badge-new">
    <a href="/watch?v=def456&amp;t=10s"><h3>New Badge Shape</h3></a>
    <badge-shape class="yt-badge-shape yt-badge-shape--membership">Members first</badge-shape>
  </ytd-rich-item-renderer>
  <yt-lockup-view-model id="icon">
    <a href="/shorts/sh0rt"><h3 class="yt-lockup-metadata-view-model-wiz__title" title="Icon Only"></h3></a>
    <svg viewBox="0 0 24 24"><path d="M6,4 v16 l6-3.2 6 3.2V4H6zm10 12.7-4-2.1-4 2.1V6h8v10.7z"></path></svg>
  </yt-lockup-view-model>
  <ytd-video-renderer id="plain">
    <a href="/watch?v=zzz999"><span id="video-title">Regular upload</span></a>
    <svg><path d="M0 0h24v24H0z"></path></svg>
  </ytd-video-renderer>
  <ytd-compact-video-renderer id="no-link">
    <span id="video-title">   Title   only  </span>
  </ytd-compact-video-renderer>
  <div id="not-a-container" class="badge-style-type-members-only"></div>
</ytd-rich-grid-renderer>
</body></html>`

func parseFixture(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestCatalog_Containers(t *testing.T) {
	doc := parseFixture(t, fixtureFeed)
	c := Default()

	var ids []string
	c.Containers(doc.Selection).Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		ids = append(ids, id)
	})
	assert.Equal(t, []string{"badge-old", "badge-new", "icon", "plain", "no-link"}, ids)

	assert.True(t, c.IsContainer(doc.Find("#plain")))
	assert.False(t, c.IsContainer(doc.Find("ytd-rich-grid-renderer")))
	assert.True(t, c.ContainsContainer(doc.Find("ytd-rich-grid-renderer")))
	assert.False(t, c.ContainsContainer(doc.Find("#not-a-container")))
}

func TestCatalog_MembersOnlySignals(t *testing.T) {
	doc := parseFixture(t, fixtureFeed)
	c := Default()

	tests := []struct {
		id        string
		wantBadge bool
		wantIcon  bool
	}{
		{"badge-old", true, false},
		{"badge-new", true, false},
		{"icon", false, true},
		{"plain", false, false},
		{"no-link", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			item := doc.Find("#" + tt.id)
			assert.Equal(t, tt.wantBadge, c.HasBadge(item))
			assert.Equal(t, tt.wantIcon, c.HasIcon(item))
			assert.Equal(t, tt.wantBadge || tt.wantIcon, c.IsMembersOnly(item))
		})
	}
}

func TestCatalog_IconSignatureInsideObfuscatedPath(t *testing.T) {
	c, err := New(config.SelectorConfig{IconSignatures: []string{"M1 2 L3 4"}})
	require.NoError(t, err)

	doc := parseFixture(t, `<ytd-video-renderer><svg><path d="M0 0 Z M1,2   L3,4 Z M9 9"></path></svg></ytd-video-renderer>`)
	assert.True(t, c.HasIcon(doc.Find("ytd-video-renderer")))
}

func TestCatalog_Overrides(t *testing.T) {
	c, err := New(config.SelectorConfig{
		Containers: []string{"div.card"},
		Badges:     []string{"span.paid"},
	})
	require.NoError(t, err)

	doc := parseFixture(t, `<div class="card" id="a"><span class="paid"></span></div><ytd-video-renderer id="b"></ytd-video-renderer>`)
	assert.Equal(t, 1, c.Containers(doc.Selection).Length())
	assert.True(t, c.HasBadge(doc.Find("#a")))
	assert.Equal(t, []string{"div.card"}, c.ContainerSelectors())
}

func TestCatalog_InvalidSelector(t *testing.T) {
	_, err := New(config.SelectorConfig{Badges: []string{"[[["}})
	assert.Error(t, err)
}
