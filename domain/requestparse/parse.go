// Package requestparse implements the URL Flex Parser: recognizing the
// proxy's several tolerated request-line encodings and isolating the
// upstream target they describe.
package requestparse

import "strings"

// Request is the parsed form of an incoming request line.
type Request struct {
	ListenPath string
	ProxyPath  string
	Protocol   string
	Query      string
}

// separator pairs out of which embedded-protocol-segment matches are
// built, tried in this fixed order: first pattern found anywhere in
// the incoming string wins, regardless of where in the string the
// other patterns might also occur. Keeping this as an explicit ordered
// list (rather than nested branches) makes the precedence rule
// explicit, per the source's own callback-chain structure.
var embeddedSegmentPatterns = []struct {
	pattern  string
	protocol string
}{
	{"/http/", "http"},
	{"/https/", "https"},
	{"/*/", "*"},
}

var querySeparatorPatterns = []struct {
	pattern  string
	protocol string
}{
	{"?http://", "http"},
	{"?https://", "https"},
	{"&http://", "http"},
	{"&https://", "https"},
}

// ParseURLRequest isolates the upstream target from an incoming
// request-line path. listenURIs is the configured set of prefixes the
// proxy listens on. An empty URL always returns ok=false. mustMatch
// controls what happens when no encoding and no listen-URI prefix is
// found anywhere in the URL: true returns ok=false, false falls back to
// treating the whole URL as the proxy path with an unspecified protocol.
func ParseURLRequest(incoming string, listenURIs []string, mustMatch bool) (Request, bool) {
	if incoming == "" {
		return Request{}, false
	}

	listenPath, proxyPath, protocol, matched := splitEmbedded(incoming)
	if !matched {
		listenPath, proxyPath, protocol, matched = splitQuerySeparator(incoming)
	}
	if !matched {
		listenPath, proxyPath, matched = splitByListenURI(incoming, listenURIs)
		protocol = "*"
	}

	if !matched {
		if mustMatch {
			return Request{}, false
		}
		listenPath, proxyPath, protocol = "", incoming, "*"
	}

	proxyPath, query := splitQuery(proxyPath)

	return Request{
		ListenPath: listenPath,
		ProxyPath:  proxyPath,
		Protocol:   protocol,
		Query:      query,
	}, true
}

func splitEmbedded(incoming string) (listenPath, proxyPath, protocol string, ok bool) {
	for _, p := range embeddedSegmentPatterns {
		idx := strings.Index(incoming, p.pattern)
		if idx < 0 {
			continue
		}
		listenPath = incoming[:idx]
		proxyPath = "/" + incoming[idx+len(p.pattern):]
		return listenPath, proxyPath, p.protocol, true
	}
	return "", "", "", false
}

func splitQuerySeparator(incoming string) (listenPath, proxyPath, protocol string, ok bool) {
	for _, p := range querySeparatorPatterns {
		idx := strings.Index(incoming, p.pattern)
		if idx < 0 {
			continue
		}
		listenPath = incoming[:idx]
		proxyPath = "/" + incoming[idx+len(p.pattern):]
		return listenPath, proxyPath, p.protocol, true
	}
	return "", "", "", false
}

// splitByListenURI finds the rightmost end position among all
// configured listenURI occurrences in incoming and splits there.
func splitByListenURI(incoming string, listenURIs []string) (listenPath, proxyPath string, ok bool) {
	bestEnd := -1
	for _, uri := range listenURIs {
		if uri == "" {
			continue
		}
		idx := strings.LastIndex(incoming, uri)
		if idx < 0 {
			continue
		}
		end := idx + len(uri)
		if end > bestEnd {
			bestEnd = end
		}
	}
	if bestEnd < 0 {
		return "", "", false
	}
	return incoming[:bestEnd], incoming[bestEnd:], true
}

func splitQuery(proxyPath string) (path, query string) {
	idx := strings.IndexByte(proxyPath, '?')
	if idx < 0 {
		return proxyPath, ""
	}
	return proxyPath[:idx], proxyPath[idx+1:]
}
