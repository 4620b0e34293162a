package selectors

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultTitleSelectors are tried in order to find an item's display title
var DefaultTitleSelectors = []string{
	"#video-title",
	"a#video-title-link",
	".yt-lockup-metadata-view-model-wiz__title",
	".yt-lockup-metadata-view-model__title",
	"h3 a[title]",
	"h3",
}

// DefaultChannelNameSelectors are tried in order to find an item's channel name text
var DefaultChannelNameSelectors = []string{
	"ytd-channel-name #text a",
	"ytd-channel-name #text",
	"#channel-name a",
	"#channel-name",
	"#byline a",
	".yt-content-metadata-view-model-wiz__metadata-text a",
	".yt-content-metadata-view-model__metadata-text a",
	".yt-content-metadata-view-model-wiz__metadata-text",
	".yt-content-metadata-view-model__metadata-text",
}

const (
	videoKeyPrefix = "v:"
	titleKeyPrefix = "t:"
)

// VideoID extracts the video id from the first watch, shorts or live link in the item
func VideoID(item *goquery.Selection) (string, bool) {
	id := ""
	item.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if v, ok := VideoIDFromHref(href); ok {
			id = v
			return false
		}
		return true
	})
	return id, id != ""
}

// VideoIDFromHref parses "/watch?v=<id>", "/shorts/<id>" and "/live/<id>" links
func VideoIDFromHref(href string) (string, bool) {
	if href == "" {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if strings.HasSuffix(u.Path, "/watch") {
		if v := u.Query().Get("v"); v != "" {
			return v, true
		}
		return "", false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) >= 2 && (segments[0] == "shorts" || segments[0] == "live") && segments[1] != "" {
		return segments[1], true
	}
	return "", false
}

// Title returns the item's display title using the catalog's ordered title selectors.
// Visible text wins over the title and aria-label attributes of the same node.
func (c *Catalog) Title(item *goquery.Selection) (string, bool) {
	for _, sel := range c.titles {
		node := item.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if text := collapseSpace(node.Text()); text != "" {
			return text, true
		}
		for _, attr := range []string{"title", "aria-label"} {
			if v, ok := node.Attr(attr); ok {
				if v = collapseSpace(v); v != "" {
					return v, true
				}
			}
		}
	}
	return "", false
}

// ItemKey computes the stable identifier of an item: the video id when a link
// carries one, otherwise the visible title. ok is false when neither exists.
func (c *Catalog) ItemKey(item *goquery.Selection) (key, title string, ok bool) {
	title, _ = c.Title(item)
	if id, found := VideoID(item); found {
		return videoKeyPrefix + id, title, true
	}
	if title != "" {
		return titleKeyPrefix + title, title, true
	}
	return "", "", false
}

// ChannelTexts returns the non-empty text of each channel-name candidate, in selector order
func (c *Catalog) ChannelTexts(item *goquery.Selection) []string {
	var texts []string
	for _, sel := range c.channelNames {
		item.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if text := collapseSpace(s.Text()); text != "" {
				texts = append(texts, text)
			}
		})
	}
	return texts
}

// Hrefs returns every anchor href inside the item
func Hrefs(item *goquery.Selection) []string {
	var hrefs []string
	item.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if href, _ := a.Attr("href"); href != "" {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
