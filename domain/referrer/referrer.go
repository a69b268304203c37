// Package referrer implements the Allowed Referrer allow-list and the
// pure matching function that validates an incoming Referer header
// against it.
package referrer

import (
	"strings"

	"github.com/artpar/geoproxy/domain/urlpart"
)

// GlobalWildcard is the literal allow-list entry meaning "accept any
// referrer".
const GlobalWildcard = "*"

// Entry is one allowed-referrer pattern.
type Entry struct {
	Protocol     string
	Hostname     string
	Path         string
	CanonicalKey string
}

// List is the compiled allow-list. AcceptAny is set when the raw
// configuration contained the literal "*" entry.
type List struct {
	Entries   []Entry
	AcceptAny bool
}

// Compile builds a List from raw allow-list strings, each either the
// literal "*" or a URL-shaped pattern. The canonical key used to index
// the rate meter is the pattern's own normalized string.
func Compile(raw []string) List {
	var l List
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if r == GlobalWildcard {
			l.AcceptAny = true
			continue
		}
		parts := urlpart.ParseAndFixURLParts(r)
		l.Entries = append(l.Entries, Entry{
			Protocol:     parts.Protocol,
			Hostname:     parts.Hostname,
			Path:         parts.Path,
			CanonicalKey: canonicalKey(parts),
		})
	}
	return l
}

func canonicalKey(p urlpart.Parts) string {
	path := p.Path
	if path == urlpart.Wildcard {
		path = ""
	}
	return p.Protocol + "://" + p.Hostname + path
}

// Validate returns the canonical key of the allow-list entry matched
// by rawReferrer, or ok=false if none matches. If the list's
// AcceptAny flag is set, it always returns the literal "*" regardless
// of rawReferrer's value. The literal "*" as a raw referrer matches
// nothing unless AcceptAny is set.
func Validate(rawReferrer string, l List) (string, bool) {
	if l.AcceptAny {
		return GlobalWildcard, true
	}
	if rawReferrer == "" || rawReferrer == GlobalWildcard {
		return "", false
	}

	parts := urlpart.ParseAndFixURLParts(rawReferrer)
	for _, e := range l.Entries {
		if !urlpart.TestProtocolsMatch(e.Protocol, parts.Protocol) {
			continue
		}
		if !pathMatches(e.Path, parts.Path) {
			continue
		}
		if !urlpart.TestDomainsMatch(e.Hostname, parts.Hostname) {
			continue
		}
		return e.CanonicalKey, true
	}
	return "", false
}

func pathMatches(pattern, candidate string) bool {
	if pattern == urlpart.Wildcard {
		return true
	}
	return strings.HasPrefix(candidate, pattern)
}
