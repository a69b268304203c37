// Package rule holds the upstream service rule table: the compiled,
// immutable-after-load list of rules a request is matched against, and
// the pure functions that match requests and build outbound URLs.
//
// Config is the as-loaded configuration record; Rule is the compiled
// record with derived fields (parsed URL parts, rate, useRateMeter)
// computed once. Keeping the two separate means a frozen Rule never
// carries an uncomputed derived field.
package rule

import (
	"fmt"
	"strings"

	"github.com/artpar/geoproxy/domain/requestparse"
	"github.com/artpar/geoproxy/domain/urlpart"
)

// CredentialKind identifies which credential variant a rule carries.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialUserLogin
	CredentialAppLogin
	CredentialStaticToken
)

// Credentials is the tagged union of the four credential variants a
// rule may carry. Exactly one of the embedded structs is meaningful,
// selected by Kind.
type Credentials struct {
	Kind CredentialKind

	UserLogin   UserLoginCreds
	AppLogin    AppLoginCreds
	StaticToken StaticTokenCreds
}

// UserLoginCreds is the username/password token-service flow of §4.4.
type UserLoginCreds struct {
	Username        string
	Password        string
	TokenServiceURL string // optional; discovered via rest/info if empty
}

// AppLoginCreds is the OAuth2 client-credentials flow of §4.4.
type AppLoginCreds struct {
	ClientID       string
	ClientSecret   string
	OAuth2Endpoint string
}

// StaticTokenCreds is a preconfigured token passed through verbatim.
type StaticTokenCreds struct {
	AccessToken    string
	TokenParamName string
}

// Config is a single upstream rule exactly as loaded from the
// configuration file, before any derived fields are computed.
type Config struct {
	URL             string
	MatchAll        bool
	Credentials     Credentials
	RateLimit       int // requests per RateLimitPeriod minutes
	RateLimitPeriod int // minutes
	HostRedirect    string
	Domain          string
	TokenParamName  string
}

// Rule is a compiled, immutable Config: its URL is parsed once, its
// rate fields are derived once, and it is never mutated after Compile
// builds the Table it belongs to.
type Rule struct {
	Config

	Parsed         urlpart.Parts
	HostRedirect   *urlpart.Parts
	Rate           float64 // tokens/sec
	RatePeriodSec  float64 // 1/Rate
	UseRateMeter   bool
	TokenParamName string // defaulted to "token"
}

// Table is the frozen, ordered list of compiled rules. Rule lookup
// iterates in table order and returns the first match; ordering is
// authoritative, exactly as configured.
type Table struct {
	Rules []Rule
}

// Compile builds a frozen Table from raw configuration records.
// Derived fields (parsed URL parts, rate, useRateMeter, the defaulted
// token parameter name) are computed once here and never recomputed.
func Compile(configs []Config) (Table, error) {
	rules := make([]Rule, 0, len(configs))
	for i, c := range configs {
		if c.URL == "" {
			return Table{}, fmt.Errorf("rule %d: url is required", i)
		}

		r := Rule{Config: c}
		r.Parsed = urlpart.ParseAndFixURLParts(c.URL)

		if c.HostRedirect != "" {
			parsed := urlpart.ParseAndFixURLParts(c.HostRedirect)
			r.HostRedirect = &parsed
		}

		tokenParamName := c.TokenParamName
		if tokenParamName == "" {
			tokenParamName = "token"
		}
		r.TokenParamName = tokenParamName

		if c.RateLimit > 0 && c.RateLimitPeriod > 0 {
			r.Rate = float64(c.RateLimit) / float64(c.RateLimitPeriod) / 60.0
			r.RatePeriodSec = 1.0 / r.Rate
			r.UseRateMeter = true
		}

		rules = append(rules, r)
	}
	return Table{Rules: rules}, nil
}

// ParsedRequest is the request side of a match: the request's parsed
// URL parts (from the proxy path) plus its protocol and query as
// determined by the URL Flex Parser.
type ParsedRequest struct {
	Parts urlpart.Parts
	Query string
}

// FromFlexParsed builds a ParsedRequest from a requestparse.Request by
// peeling the upstream hostname/path out of its ProxyPath and
// overlaying the protocol the flex parser already identified.
func FromFlexParsed(req requestparse.Request) ParsedRequest {
	parts := urlpart.ParseAndFixURLParts(req.ProxyPath)
	parts.Protocol = req.Protocol
	return ParsedRequest{Parts: parts, Query: req.Query}
}

// Match returns the index and value of the first rule whose pattern
// matches req, in table order. ok is false if no rule matches.
func (t Table) Match(req ParsedRequest) (int, Rule, bool) {
	for i, r := range t.Rules {
		if partsMatch(req.Parts, r) {
			return i, r, true
		}
	}
	return 0, Rule{}, false
}

// partsMatch implements parsedUrlPartsMatch: domains match, protocols
// match, ports match, and the path satisfies the rule's matchAll
// policy (equality when true, prefix when false).
func partsMatch(req urlpart.Parts, r Rule) bool {
	if !urlpart.TestDomainsMatch(r.Parsed.Hostname, req.Hostname) {
		return false
	}
	if !urlpart.TestProtocolsMatch(r.Parsed.Protocol, req.Protocol) {
		return false
	}
	if !urlpart.TestPortsMatch(r.Parsed.Port, req.Port) {
		return false
	}
	if r.MatchAll {
		return req.Path == r.Parsed.Path
	}
	return strings.HasPrefix(req.Path, r.Parsed.Path)
}

// BuildURL constructs the outbound URL from rule.URL plus the portion
// of the request's path beyond the rule's matched prefix, and a merged
// query string: rule query first, request query second, rule
// overriding request on conflicting keys, then the token parameter if
// token is non-empty.
func BuildURL(r Rule, req ParsedRequest, token string) string {
	base := strings.TrimSuffix(r.URL, "/")
	trailing := strings.TrimPrefix(req.Parts.Path, r.Parsed.Path)
	if trailing != "" && !strings.HasPrefix(trailing, "/") {
		trailing = "/" + trailing
	}

	outURL := base + trailing

	query := mergeQuery(r.Parsed.Query, req.Query)
	if token != "" {
		query = setQueryParam(query, r.TokenParamName, token)
	}
	if query != "" {
		outURL += "?" + query
	}
	return outURL
}

// BuildRedirectedURL constructs the outbound URL when the rule has a
// hostRedirect: the redirect's hostname replaces the request's, the
// path and query are the request's own, and protocol/port are chosen
// by BestMatchField with the referrer's value as tiebreaker.
func BuildRedirectedURL(r Rule, req ParsedRequest, referrer urlpart.Parts, token string) string {
	redirect := *r.HostRedirect

	protocol := BestMatchField(redirect.Protocol, req.Parts.Protocol, referrer.Protocol)
	port := BestMatchField(redirect.Port, req.Parts.Port, referrer.Port)

	hostport := redirect.Hostname
	if port != "" && port != urlpart.Wildcard {
		hostport += ":" + port
	}

	path := req.Parts.Path
	if path == urlpart.Wildcard {
		path = ""
	}

	outURL := protocol + "://" + hostport + path

	query := req.Query
	if token != "" {
		query = setQueryParam(query, r.TokenParamName, token)
	}
	if query != "" {
		outURL += "?" + query
	}
	return outURL
}

// BestMatchField picks the most specific (non-"*") value between
// redirect and request. If both are concrete and disagree, referrer
// breaks the tie when it agrees with one of them.
func BestMatchField(redirectVal, requestVal, referrerVal string) string {
	if redirectVal != urlpart.Wildcard && requestVal != urlpart.Wildcard && redirectVal != requestVal {
		if referrerVal == redirectVal || referrerVal == requestVal {
			return referrerVal
		}
	}
	if redirectVal != urlpart.Wildcard {
		return redirectVal
	}
	if requestVal != urlpart.Wildcard {
		return requestVal
	}
	return referrerVal
}

func mergeQuery(rulesQuery, requestQuery string) string {
	ruleVals := parseQuery(rulesQuery)
	reqVals := parseQuery(requestQuery)

	merged := make([]string, 0, len(ruleVals)+len(reqVals))
	seen := make(map[string]bool, len(ruleVals))
	for _, kv := range ruleVals {
		merged = append(merged, kv[0]+"="+kv[1])
		seen[kv[0]] = true
	}
	for _, kv := range reqVals {
		if seen[kv[0]] {
			continue
		}
		merged = append(merged, kv[0]+"="+kv[1])
	}
	return strings.Join(merged, "&")
}

func parseQuery(q string) [][2]string {
	if q == "" {
		return nil
	}
	parts := strings.Split(q, "&")
	out := make([][2]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if idx := strings.IndexByte(p, '='); idx >= 0 {
			out = append(out, [2]string{p[:idx], p[idx+1:]})
		} else {
			out = append(out, [2]string{p, ""})
		}
	}
	return out
}

func setQueryParam(q, name, value string) string {
	kvs := parseQuery(q)
	found := false
	for i, kv := range kvs {
		if kv[0] == name {
			kvs[i][1] = value
			found = true
		}
	}
	if !found {
		kvs = append(kvs, [2]string{name, value})
	}
	parts := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		parts = append(parts, kv[0]+"="+kv[1])
	}
	return strings.Join(parts, "&")
}
