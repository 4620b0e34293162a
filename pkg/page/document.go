package page

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/Sriram-PR/members-filter/pkg/selectors"
	"github.com/Sriram-PR/members-filter/pkg/utils"
)

const (
	// HiddenAttr marks a node hidden by the filter; it survives host re-renders of the node's style
	HiddenAttr = "data-members-filter-hidden"
	// prevStyleAttr keeps the node's own style so UnhideAll can restore it
	prevStyleAttr = "data-members-filter-style"

	hiddenStyle = "display: none !important; width: 0 !important; height: 0 !important; " +
		"min-height: 0 !important; margin: 0 !important; padding: 0 !important; " +
		"visibility: hidden !important; overflow: hidden !important;"
)

// Mutation describes nodes added to the document by the host
type Mutation struct {
	Added []*goquery.Selection
	URL   string // Address at the time of the mutation
}

// Document is a rendered page held as a goquery tree.
// All reads and writes of the tree must happen while holding the document lock;
// the host-side mutators below take it themselves.
type Document struct {
	mu      sync.Mutex
	doc     *goquery.Document
	url     string
	catalog *selectors.Catalog
	log     *logrus.Entry

	subsMu sync.Mutex
	subs   map[int]chan Mutation
	nextID int
}

// NewDocument parses markup read from r as the page at pageURL
func NewDocument(pageURL string, r io.Reader, catalog *selectors.Catalog, log *logrus.Entry) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: HTML document for %s: %w", utils.ErrParsing, pageURL, err)
	}
	return &Document{
		doc:     doc,
		url:     pageURL,
		catalog: catalog,
		log:     log,
		subs:    make(map[int]chan Mutation),
	}, nil
}

// Lock acquires the document for a batch of reads and writes
func (d *Document) Lock() { d.mu.Lock() }

// Unlock releases the document
func (d *Document) Unlock() { d.mu.Unlock() }

// CurrentURL returns the current page address. Caller must hold the lock.
func (d *Document) CurrentURL() string { return d.url }

// Containers returns all item container nodes. Caller must hold the lock.
func (d *Document) Containers() []*goquery.Selection {
	var items []*goquery.Selection
	d.catalog.Containers(d.doc.Selection).Each(func(_ int, s *goquery.Selection) {
		items = append(items, s)
	})
	return items
}

// HasBadge reports a members-only badge class in item. Caller must hold the lock.
func (d *Document) HasBadge(item *goquery.Selection) bool { return d.catalog.HasBadge(item) }

// HasIcon reports the members-only icon signature in item. Caller must hold the lock.
func (d *Document) HasIcon(item *goquery.Selection) bool { return d.catalog.HasIcon(item) }

// IsHidden reports whether item carries the hidden marker. Caller must hold the lock.
func (d *Document) IsHidden(item *goquery.Selection) bool {
	v, ok := item.Attr(HiddenAttr)
	return ok && v == "true"
}

// Hide suppresses item visually and marks it. The node stays in the tree because
// host scripts keep references to it. Calling Hide on a hidden node re-asserts the style.
// Caller must hold the lock.
func (d *Document) Hide(item *goquery.Selection) {
	if !d.IsHidden(item) {
		if style, ok := item.Attr("style"); ok {
			item.SetAttr(prevStyleAttr, style)
		}
	}
	item.SetAttr("style", hiddenStyle)
	item.SetAttr(HiddenAttr, "true")
}

// Unhide restores one node hidden by Hide. Caller must hold the lock.
func (d *Document) Unhide(item *goquery.Selection) {
	if prev, ok := item.Attr(prevStyleAttr); ok {
		item.SetAttr("style", prev)
		item.RemoveAttr(prevStyleAttr)
	} else {
		item.RemoveAttr("style")
	}
	item.RemoveAttr(HiddenAttr)
}

// UnhideAll restores every node hidden by Hide and returns how many were restored.
// Caller must hold the lock.
func (d *Document) UnhideAll() int {
	hidden := d.doc.Find("[" + HiddenAttr + "]")
	hidden.Each(func(_ int, s *goquery.Selection) { d.Unhide(s) })
	return hidden.Length()
}

// Root returns the document root selection. Caller must hold the lock.
func (d *Document) Root() *goquery.Selection { return d.doc.Selection }

// HiddenItems returns the key and title of every container currently hidden by the filter
func (d *Document) HiddenItems() []HiddenItem {
	d.mu.Lock()
	defer d.mu.Unlock()

	var items []HiddenItem
	d.doc.Find("[" + HiddenAttr + "]").Each(func(_ int, node *goquery.Selection) {
		key, title, _ := d.catalog.ItemKey(node)
		items = append(items, HiddenItem{Key: key, Title: title})
	})
	return items
}

// HiddenItem identifies a hidden container
type HiddenItem struct {
	Key   string `json:"key,omitempty"`
	Title string `json:"title,omitempty"`
}

// HTML renders the current tree
func (d *Document) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return goquery.OuterHtml(d.doc.Selection)
}

// --- Host-side mutators ---

// Navigate switches to a new address without reloading, like a single-page-app route change
func (d *Document) Navigate(pageURL string) {
	d.mu.Lock()
	d.url = pageURL
	d.mu.Unlock()
	d.log.Debugf("Navigated to %s", pageURL)
}

// Load replaces the whole document, optionally at a new address, and publishes the new body
func (d *Document) Load(pageURL string, r io.Reader) error {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return fmt.Errorf("%w: HTML document for %s: %w", utils.ErrParsing, pageURL, err)
	}
	d.mu.Lock()
	d.doc = doc
	if pageURL != "" {
		d.url = pageURL
	}
	current := d.url
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	d.mu.Unlock()

	d.publish(Mutation{Added: []*goquery.Selection{body}, URL: current})
	return nil
}

// Append parses fragment and appends its nodes to every node matching parentSelector,
// the way a feed grows while scrolling
func (d *Document) Append(parentSelector, fragment string) (int, error) {
	d.mu.Lock()
	parents := d.doc.Find(parentSelector)
	if parents.Length() == 0 {
		d.mu.Unlock()
		return 0, fmt.Errorf("%w: no node matches '%s'", utils.ErrParsing, parentSelector)
	}

	var added []*goquery.Selection
	var parseErr error
	parents.EachWithBreak(func(_ int, parent *goquery.Selection) bool {
		nodes, err := html.ParseFragment(strings.NewReader(fragment), parent.Get(0))
		if err != nil {
			parseErr = fmt.Errorf("%w: HTML fragment: %w", utils.ErrParsing, err)
			return false
		}
		for _, n := range nodes {
			parent.Get(0).AppendChild(n)
			if n.Type == html.ElementNode {
				added = append(added, goquery.NewDocumentFromNode(n).Selection)
			}
		}
		return true
	})
	current := d.url
	d.mu.Unlock()

	if parseErr != nil {
		return 0, parseErr
	}
	if len(added) > 0 {
		d.publish(Mutation{Added: added, URL: current})
	}
	return len(added), nil
}

// Remove detaches every node matching selector, like a virtualized list dropping rows
func (d *Document) Remove(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := d.doc.Find(selector)
	n := sel.Length()
	sel.Remove()
	return n
}

// --- Mutation subscription ---

// Subscribe returns a channel of mutations and a function that ends the subscription.
// Mutations are dropped for a subscriber that is not keeping up; the monitor's
// interval pass covers anything missed.
func (d *Document) Subscribe() (<-chan Mutation, func()) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()

	id := d.nextID
	d.nextID++
	ch := make(chan Mutation, 16)
	d.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.subsMu.Lock()
			delete(d.subs, id)
			d.subsMu.Unlock()
			close(ch)
		})
	}
}

func (d *Document) publish(m Mutation) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- m:
		default:
			d.log.Debug("Mutation subscriber busy, dropping mutation record")
		}
	}
}
