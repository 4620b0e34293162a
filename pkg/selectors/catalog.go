package selectors

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/Sriram-PR/members-filter/pkg/config"
	"github.com/Sriram-PR/members-filter/pkg/utils"
)

// DefaultContainers are the node kinds the host uses for one video entry.
// Grid, compact list and rich feed render the same entry with different markup.
var DefaultContainers = []string{
	"ytd-rich-item-renderer",
	"yt-lockup-view-model",
	"ytd-video-renderer",
	"ytd-grid-video-renderer",
	"ytd-compact-video-renderer",
	"ytd-playlist-video-renderer",
}

// DefaultBadges are the class markers of a members-only badge, old and new badge shapes
var DefaultBadges = []string{
	".badge-style-type-members-only",
	".yt-badge-shape--commerce",
	".badge-style-type-membership",
	".yt-badge-shape--membership",
}

// DefaultIconSignatures are substrings of the path data of the members-only icon.
// Class names churn between host releases; the icon geometry does not.
var DefaultIconSignatures = []string{
	"M12 2.5l2.47 5 5.53.8-4 3.9.94 5.5L12 15.1l-4.94 2.6.94-5.5-4-3.9 5.53-.8z",
	"M6 4v16l6-3.2 6 3.2V4H6zm10 12.7-4-2.1-4 2.1V6h8v10.7z",
}

const iconPathSelector = "svg path[d]"

// Catalog identifies item containers and members-only markers in a page fragment.
// It holds no state besides the compiled selectors.
type Catalog struct {
	containers     []string
	badges         []string
	iconSignatures []string
	titles         []string
	channelNames   []string

	containerMatcher cascadia.Selector
	badgeMatcher     cascadia.Selector
	iconMatcher      cascadia.Selector
}

// Default returns the built-in catalog
func Default() *Catalog {
	c, err := New(config.SelectorConfig{})
	if err != nil {
		panic(fmt.Sprintf("built-in selector catalog does not compile: %v", err))
	}
	return c
}

// New builds a catalog from config overrides. Empty lists use the defaults.
func New(cfg config.SelectorConfig) (*Catalog, error) {
	c := &Catalog{
		containers:     orDefault(cfg.Containers, DefaultContainers),
		badges:         orDefault(cfg.Badges, DefaultBadges),
		iconSignatures: orDefault(cfg.IconSignatures, DefaultIconSignatures),
		titles:         orDefault(cfg.Titles, DefaultTitleSelectors),
		channelNames:   orDefault(cfg.ChannelNames, DefaultChannelNameSelectors),
	}

	var err error
	if c.containerMatcher, err = compileGroup(c.containers); err != nil {
		return nil, err
	}
	if c.badgeMatcher, err = compileGroup(c.badges); err != nil {
		return nil, err
	}
	if c.iconMatcher, err = cascadia.Compile(iconPathSelector); err != nil {
		return nil, err
	}
	for i, sig := range c.iconSignatures {
		c.iconSignatures[i] = normalizePath(sig)
	}
	return c, nil
}

func orDefault(list, def []string) []string {
	src := list
	if len(src) == 0 {
		src = def
	}
	out := make([]string, 0, len(src))
	for _, s := range src {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func compileGroup(list []string) (cascadia.Selector, error) {
	group := strings.Join(list, ", ")
	sel, err := cascadia.Compile(group)
	if err != nil {
		return nil, fmt.Errorf("%w: selector group '%s': %v", utils.ErrConfigValidation, group, err)
	}
	return sel, nil
}

// ContainerSelectors returns the container selector list
func (c *Catalog) ContainerSelectors() []string { return append([]string(nil), c.containers...) }

// Containers returns every container node under root, in document order
func (c *Catalog) Containers(root *goquery.Selection) *goquery.Selection {
	return root.FindMatcher(c.containerMatcher)
}

// IsContainer reports whether sel itself is a container node
func (c *Catalog) IsContainer(sel *goquery.Selection) bool {
	return sel.IsMatcher(c.containerMatcher)
}

// ContainsContainer reports whether sel is, or has a descendant that is, a container node
func (c *Catalog) ContainsContainer(sel *goquery.Selection) bool {
	return c.IsContainer(sel) || sel.FindMatcher(c.containerMatcher).Length() > 0
}

// HasBadge reports whether the item carries a members-only badge class
func (c *Catalog) HasBadge(item *goquery.Selection) bool {
	return item.FindMatcher(c.badgeMatcher).Length() > 0
}

// HasIcon reports whether the item contains an icon whose path data holds a known signature
func (c *Catalog) HasIcon(item *goquery.Selection) bool {
	found := false
	item.FindMatcher(c.iconMatcher).EachWithBreak(func(_ int, path *goquery.Selection) bool {
		d, _ := path.Attr("d")
		if d == "" {
			return true
		}
		d = normalizePath(d)
		for _, sig := range c.iconSignatures {
			if strings.Contains(d, sig) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// IsMembersOnly reports whether either members-only signal is present
func (c *Catalog) IsMembersOnly(item *goquery.Selection) bool {
	return c.HasBadge(item) || c.HasIcon(item)
}

// normalizePath drops separators so "M12 2.5" and "M12,2.5" compare equal
func normalizePath(d string) string {
	var b strings.Builder
	b.Grow(len(d))
	for _, r := range d {
		switch r {
		case ' ', ',', '\n', '\t', '\r':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
