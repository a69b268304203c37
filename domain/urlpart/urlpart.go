// Package urlpart provides the URL Parts value type and the pure
// functions that parse, normalize, and compare them. Every field may be
// the literal "*", meaning "match any" when used in a rule pattern.
package urlpart

import (
	"net/url"
	"strings"
)

// Wildcard is the literal value meaning "match any" in any field.
const Wildcard = "*"

// Parts is the decomposed form of a URL (or URL-shaped pattern):
// protocol, hostname, port, path, and query. Protocol is stored without
// its trailing colon.
type Parts struct {
	Protocol string
	Hostname string
	Port     string
	Path     string
	Query    string
}

// ParseAndFixURLParts normalizes a possibly partial URL (with or
// without a scheme, with or without a host) into Parts. Applied in
// order:
//  1. if the input has no scheme, it is parsed as a path;
//  2. if hostname comes up empty, the hostname is peeled off the
//     leading path segment;
//  3. any trailing ':' on protocol is stripped;
//  4. any field still empty after the above defaults to "*".
func ParseAndFixURLParts(raw string) Parts {
	raw = strings.TrimSpace(raw)

	var protocol, hostname, port, path, query string

	if hasScheme(raw) {
		if u, err := url.Parse(raw); err == nil {
			protocol = u.Scheme
			hostname = u.Hostname()
			port = u.Port()
			path = u.Path
			query = u.RawQuery
		} else {
			path = raw
		}
	} else {
		path = raw
		if idx := strings.IndexByte(path, '?'); idx >= 0 {
			query = path[idx+1:]
			path = path[:idx]
		}
	}

	if hostname == "" {
		hostname, port, path = peelHostFromPath(path)
	}

	protocol = strings.TrimSuffix(protocol, ":")

	return fillDefaults(Parts{
		Protocol: protocol,
		Hostname: hostname,
		Port:     port,
		Path:     path,
		Query:    query,
	})
}

func hasScheme(raw string) bool {
	idx := strings.Index(raw, "://")
	if idx <= 0 {
		return false
	}
	// everything before "://" must look like a scheme token
	for _, r := range raw[:idx] {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '+' && r != '-' && r != '.' {
			return false
		}
	}
	return true
}

// peelHostFromPath takes a path-only string such as "/geo.example.com/rest/info"
// and splits it into the leading hostname segment (and its ":port", if
// any) and the remaining path. If the path has no leading segment (empty
// or just "/"), hostname is returned empty and path unchanged.
func peelHostFromPath(path string) (hostname, port, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", "", path
	}
	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return trimmed, "", ""
	}
	hostname = trimmed[:idx]
	rest = trimmed[idx:]
	hostPart, portPart, hasPort := splitHostPort(hostname)
	if hasPort {
		return hostPart, portPart, portPathWithPort(portPart, rest)
	}
	return hostname, "", rest
}

// splitHostPort separates a "host:port" segment peeled from a path.
// Returns hasPort=false when there is no colon.
func splitHostPort(seg string) (host, port string, hasPort bool) {
	idx := strings.LastIndexByte(seg, ':')
	if idx < 0 {
		return seg, "", false
	}
	return seg[:idx], seg[idx+1:], true
}

// portPathWithPort is a no-op placeholder kept for symmetry: the parsed
// port is captured by the caller directly from splitHostPort's second
// return value; the path itself needs no further adjustment.
func portPathWithPort(_ string, rest string) string {
	return rest
}

func fillDefaults(p Parts) Parts {
	if p.Protocol == "" {
		p.Protocol = Wildcard
	}
	if p.Hostname == "" {
		p.Hostname = Wildcard
	}
	if p.Port == "" {
		p.Port = Wildcard
	}
	if p.Path == "" {
		p.Path = Wildcard
	}
	// Query never participates in pattern matching, so it is left as-is
	// rather than defaulted to the match-any wildcard.
	return p
}

// TestDomainsMatch compares a hostname pattern against a candidate
// hostname, segment by segment, split on '.'. The segment counts must
// be equal; a pattern segment of "*" matches any candidate segment,
// otherwise segments are compared case-insensitively.
func TestDomainsMatch(pattern, candidate string) bool {
	if pattern == Wildcard || candidate == Wildcard {
		return true
	}
	patternSegs := strings.Split(pattern, ".")
	candidateSegs := strings.Split(candidate, ".")
	if len(patternSegs) != len(candidateSegs) {
		return false
	}
	for i, seg := range patternSegs {
		if seg == Wildcard {
			continue
		}
		if !strings.EqualFold(seg, candidateSegs[i]) {
			return false
		}
	}
	return true
}

// TestProtocolsMatch reports whether pattern and candidate denote the
// same protocol, treating "*" on either side as a match-any wildcard.
func TestProtocolsMatch(pattern, candidate string) bool {
	if pattern == Wildcard || candidate == Wildcard {
		return true
	}
	return strings.EqualFold(pattern, candidate)
}

// TestPortsMatch reports whether two port strings match, treating "*"
// on either side as a match-any wildcard.
func TestPortsMatch(pattern, candidate string) bool {
	if pattern == Wildcard || candidate == Wildcard {
		return true
	}
	return pattern == candidate
}
