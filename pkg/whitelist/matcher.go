// Package whitelist decides whether a members-only item belongs to a channel the user allows.
package whitelist

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/members-filter/pkg/channel"
	"github.com/Sriram-PR/members-filter/pkg/selectors"
)

// Rule names the check that accepted an item
type Rule string

const (
	RuleChannelPage Rule = "channel-page" // Page is the entry's /@handle page
	RuleChannelPath Rule = "channel-path" // Page is under /channel/<entry> or /c/<entry>
	RuleResolved    Rule = "resolved"     // Resolved channel identifier equals the entry
	RuleLink        Rule = "link"         // A link inside the item points at the entry
)

// Match describes a successful whitelist decision
type Match struct {
	Entry string
	Rule  Rule
}

// Matcher holds a whitelist in its stored order. It is immutable; build a new one on change.
type Matcher struct {
	entries []string
}

// New creates a Matcher. Blank entries are dropped; order is kept.
func New(entries []string) *Matcher {
	m := &Matcher{}
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			m.entries = append(m.entries, e)
		}
	}
	return m
}

// Entries returns a copy of the whitelist
func (m *Matcher) Entries() []string { return append([]string(nil), m.entries...) }

// Len returns the number of entries
func (m *Matcher) Len() int { return len(m.entries) }

// Normalize lowercases and trims an identifier. Handles keep their leading "@".
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsHandle reports whether entry is written in handle form
func IsHandle(entry string) bool { return strings.HasPrefix(strings.TrimSpace(entry), "@") }

// IsWhitelisted reports whether item may stay visible. Caller must hold the page lock.
func (m *Matcher) IsWhitelisted(item *goquery.Selection, resolved, currentURL string) bool {
	_, ok := m.Match(item, currentURL, resolved)
	return ok
}

// Match evaluates every entry in stored order against the page address, each resolved
// identifier candidate and the item's links; the first hit wins. item may be nil when
// only the address and identifiers are known. Caller must hold the page lock.
func (m *Matcher) Match(item *goquery.Selection, currentURL string, resolved ...string) (Match, bool) {
	if len(m.entries) == 0 {
		return Match{}, false
	}

	var segs []string
	if u, err := url.Parse(currentURL); err == nil {
		segs = channel.Segments(u.Path)
	}

	var candidates []string
	for _, r := range resolved {
		if n := Normalize(r); n != "" {
			candidates = append(candidates, n)
		}
	}

	var refs []channel.Ref
	refsLoaded := false

	for _, entry := range m.entries {
		norm := Normalize(entry)
		handle := IsHandle(entry)

		// a. channel page of the handle
		if handle && hasSegment(segs, norm) {
			return Match{Entry: entry, Rule: RuleChannelPage}, true
		}
		// b. /channel/<entry> or /c/<entry>
		if !handle && hasPair(segs, norm, "channel", "c") {
			return Match{Entry: entry, Rule: RuleChannelPath}, true
		}
		// c. resolved identifier
		for _, c := range candidates {
			if c == norm {
				return Match{Entry: entry, Rule: RuleResolved}, true
			}
		}
		// d. links inside the item
		if item != nil {
			if !refsLoaded {
				refs = itemRefs(item)
				refsLoaded = true
			}
			for _, ref := range refs {
				if (ref.Kind == channel.KindHandle) == handle && Normalize(ref.Value) == norm {
					return Match{Entry: entry, Rule: RuleLink}, true
				}
			}
		}
	}
	return Match{}, false
}

func itemRefs(item *goquery.Selection) []channel.Ref {
	var refs []channel.Ref
	for _, href := range selectors.Hrefs(item) {
		if ref, ok := channel.RefFromHref(href); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

func hasSegment(segs []string, want string) bool {
	for _, s := range segs {
		if strings.ToLower(s) == want {
			return true
		}
	}
	return false
}

func hasPair(segs []string, want string, prefixes ...string) bool {
	for i := 0; i+1 < len(segs); i++ {
		if strings.ToLower(segs[i+1]) != want {
			continue
		}
		for _, p := range prefixes {
			if segs[i] == p {
				return true
			}
		}
	}
	return false
}
