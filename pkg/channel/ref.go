package channel

import (
	"net/url"
	"strings"
)

// Kind tells which path form a channel reference was written in
type Kind int

const (
	KindNone   Kind = iota
	KindHandle      // /@handle
	KindID          // /channel/UC...
	KindCustom      // /c/name (legacy custom URL)
	KindUser        // /user/name (legacy username)
)

// Ref is a channel identifier taken from a URL path
type Ref struct {
	Kind  Kind
	Value string // "@handle" for handles, the bare segment otherwise
}

// RefFromHref parses an absolute or relative link and returns the channel it points at
func RefFromHref(href string) (Ref, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return Ref{}, false
	}
	return RefFromPath(u.Path)
}

// RefFromPath reads the leading segments of a URL path
func RefFromPath(path string) (Ref, bool) {
	segs := Segments(path)
	if len(segs) == 0 {
		return Ref{}, false
	}
	first := segs[0]
	if strings.HasPrefix(first, "@") && len(first) > 1 {
		return Ref{Kind: KindHandle, Value: first}, true
	}
	if len(segs) < 2 || segs[1] == "" {
		return Ref{}, false
	}
	switch first {
	case "channel":
		return Ref{Kind: KindID, Value: segs[1]}, true
	case "c":
		return Ref{Kind: KindCustom, Value: segs[1]}, true
	case "user":
		return Ref{Kind: KindUser, Value: segs[1]}, true
	}
	return Ref{}, false
}

// HandleFromURL returns the handle a channel page address is named after,
// e.g. "@creator" for https://host/@creator/videos
func HandleFromURL(pageURL string) (string, bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	ref, ok := RefFromPath(u.Path)
	if !ok || ref.Kind != KindHandle {
		return "", false
	}
	return ref.Value, true
}

// Segments splits a URL path into unescaped, non-empty segments
func Segments(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(s); err == nil {
			s = unescaped
		}
		segs = append(segs, s)
	}
	return segs
}
