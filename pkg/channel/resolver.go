package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/Sriram-PR/members-filter/pkg/cache"
	"github.com/Sriram-PR/members-filter/pkg/fetch"
	"github.com/Sriram-PR/members-filter/pkg/models"
	"github.com/Sriram-PR/members-filter/pkg/selectors"
	"github.com/Sriram-PR/members-filter/pkg/utils"
)

// maxChannelPageBytes caps how much of a channel page is read looking for metadata
const maxChannelPageBytes = 4 << 20

// Source records which signal an Identity came from
type Source int

const (
	SourceNone Source = iota
	SourceURL         // Page address is a channel page
	SourceText        // Channel name text inside the item
	SourceHref        // Channel link inside the item
)

// Identity is what the DOM alone says about an item's channel
type Identity struct {
	Value  string // Display name, handle, id or custom name; empty when Source is SourceNone
	Handle string // Set when the identity is a handle whose display name can be fetched
	Source Source
}

// Options configures the network side of a Resolver
type Options struct {
	BaseURL        string        // Channel pages are fetched from BaseURL + "/" + handle
	UserAgent      string        // Sent with channel page requests
	AcceptLanguage string        // Optional Accept-Language header
	FetchDelay     time.Duration // Minimum spacing between requests to the channel host
	Robots         *fetch.RobotsGate
}

// Resolver determines which channel an item belongs to.
// DOM inspection (Identify) and the display-name lookup (DisplayName) are separate
// so callers can release the page before any network call.
type Resolver struct {
	catalog *selectors.Catalog
	fetcher *fetch.Fetcher
	limiter *fetch.RateLimiter
	opts    Options
	names   *cache.NameCache
	group   singleflight.Group
	log     *logrus.Entry
}

// NewResolver creates a Resolver. fetcher may be nil, in which case handles are never
// expanded into display names.
func NewResolver(catalog *selectors.Catalog, fetcher *fetch.Fetcher, opts Options, log *logrus.Entry) *Resolver {
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	return &Resolver{
		catalog: catalog,
		fetcher: fetcher,
		limiter: fetch.NewRateLimiter(opts.FetchDelay, log),
		opts:    opts,
		names:   cache.NewNameCache(),
		log:     log,
	}
}

// Identify inspects the page address and the item's DOM, in that order.
// Caller must hold the page lock while item is being read.
func (r *Resolver) Identify(item *goquery.Selection, pageURL string) Identity {
	if handle, ok := HandleFromURL(pageURL); ok {
		return Identity{Value: handle, Handle: handle, Source: SourceURL}
	}

	for _, text := range r.catalog.ChannelTexts(item) {
		if !isBoilerplate(text) {
			return Identity{Value: text, Source: SourceText}
		}
	}

	for _, href := range selectors.Hrefs(item) {
		ref, ok := RefFromHref(href)
		if !ok {
			continue
		}
		id := Identity{Value: ref.Value, Source: SourceHref}
		if ref.Kind == KindHandle {
			id.Handle = ref.Value
		}
		return id
	}

	return Identity{}
}

// Resolve returns a human-facing channel identifier for item.
// Caller must hold the page lock; the lock is held across any network lookup.
func (r *Resolver) Resolve(ctx context.Context, item *goquery.Selection, pageURL string) string {
	return r.Finish(ctx, r.Identify(item, pageURL))
}

// Finish turns an Identity into the final identifier, expanding handles into display names
func (r *Resolver) Finish(ctx context.Context, id Identity) string {
	if id.Source == SourceNone || id.Value == "" {
		return models.UnknownChannel
	}
	if id.Handle != "" {
		return r.DisplayName(ctx, id.Handle)
	}
	return id.Value
}

// ClearNames forgets every fetched display name so the next lookup fetches again
func (r *Resolver) ClearNames() {
	r.names.Clear()
}

// CachedName returns a display name already known for handle, without fetching
func (r *Resolver) CachedName(handle string) (string, bool) {
	return r.names.Get(handle)
}

// DisplayName returns the display name for handle, fetching the channel page at most
// once per handle for the resolver's lifetime. Any failure yields the handle itself.
func (r *Resolver) DisplayName(ctx context.Context, handle string) string {
	if name, ok := r.names.Get(handle); ok {
		return name
	}
	if r.fetcher == nil {
		return handle
	}

	v, _, _ := r.group.Do(handle, func() (interface{}, error) {
		if name, ok := r.names.Get(handle); ok {
			return name, nil
		}
		name, err := r.FetchDisplayName(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				// Not cached so a later pass can retry
				return handle, nil
			}
			r.log.WithFields(logrus.Fields{
				"handle":         handle,
				"error_category": utils.CategorizeError(err),
			}).Debugf("Display name lookup failed, using handle: %v", err)
			name = handle
		}
		r.names.Set(handle, name)
		return name, nil
	})
	return v.(string)
}

// FetchDisplayName fetches the channel page for handle and reads its display name
// from the og:title meta tag, falling back to the ld+json "name" field.
// It does not consult or fill the name cache.
func (r *Resolver) FetchDisplayName(ctx context.Context, handle string) (string, error) {
	if r.fetcher == nil {
		return "", utils.WrapErrorf(utils.ErrChannelFetch, "no fetcher configured")
	}
	pageURL := r.opts.BaseURL + "/" + url.PathEscape(handle)
	target, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("%w: URL '%s': %w", utils.ErrParsing, pageURL, err)
	}

	if r.opts.Robots != nil && !r.opts.Robots.Allowed(ctx, target) {
		return "", utils.WrapErrorf(utils.ErrRobotsDisallowed, "%s", pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	if r.opts.UserAgent != "" {
		req.Header.Set("User-Agent", r.opts.UserAgent)
	}
	if r.opts.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", r.opts.AcceptLanguage)
	}

	r.limiter.ApplyDelay(ctx, target.Host, r.opts.FetchDelay)
	resp, err := r.fetcher.FetchWithRetry(ctx, req)
	r.limiter.UpdateLastRequestTime(target.Host)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", utils.ErrChannelFetch, handle, err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxChannelPageBytes))
	if err != nil {
		return "", fmt.Errorf("%w: HTML channel page for %s: %w", utils.ErrParsing, handle, err)
	}

	if name, ok := NameFromDocument(doc); ok {
		r.log.WithFields(logrus.Fields{"handle": handle, "name": name}).Debug("Resolved display name")
		return name, nil
	}
	return "", utils.WrapErrorf(utils.ErrNameNotFound, "%s", handle)
}

// NameFromDocument extracts a channel display name from channel page metadata
func NameFromDocument(doc *goquery.Document) (string, bool) {
	if content, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if name := strings.TrimSpace(content); name != "" {
			return name, true
		}
	}

	var name string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := s.Text()
		if !gjson.Valid(raw) {
			return true
		}
		res := gjson.Get(raw, "name")
		if !res.Exists() {
			res = gjson.Get(raw, "0.name")
		}
		if n := strings.TrimSpace(res.String()); n != "" {
			name = n
			return false
		}
		return true
	})
	return name, name != ""
}
