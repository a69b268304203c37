// Package credential implements the Credential Broker of §4.4: the
// HTTP flows that turn a rule's configured credentials into an
// upstream access token, and the single-flight cache in front of them.
//
// The wire format here is the ArcGIS-style token service (form POST,
// `f=json`, a bare "token" field in the response) rather than RFC 6749
// OAuth2 (`access_token`, `Bearer` scheme), so the flows are a plain
// form-encoded HTTP client rather than golang.org/x/oauth2 — that
// library decodes a response shape this service doesn't produce.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/artpar/geoproxy/domain/rule"
	"github.com/artpar/geoproxy/ports"
)

// RuleLookup resolves a rule index to its compiled Rule, against
// whatever rule table is current at acquisition time.
type RuleLookup func(ruleIndex int) (rule.Rule, bool)

// Broker implements ports.TokenAcquirer: it performs the blocking HTTP
// exchange for whichever credential variant a rule carries. It carries
// no cache of its own; Cache sits in front of it.
type Broker struct {
	httpClient *http.Client
	lookup     RuleLookup
	clock      ports.Clock
	referer    string // this proxy's own identity, sent as UserLogin's `referer` parameter
}

// NewBroker builds a Broker. referer is the value the UserLogin flow
// sends as the `referer` parameter of its getToken request.
func NewBroker(httpClient *http.Client, lookup RuleLookup, clock ports.Clock, referer string) *Broker {
	return &Broker{httpClient: httpClient, lookup: lookup, clock: clock, referer: referer}
}

// Acquire implements ports.TokenAcquirer.
func (b *Broker) Acquire(ctx context.Context, ruleIndex int) (string, time.Time, error) {
	r, ok := b.lookup(ruleIndex)
	if !ok {
		return "", time.Time{}, fmt.Errorf("credential broker: no rule at index %d", ruleIndex)
	}

	switch r.Credentials.Kind {
	case rule.CredentialNone:
		return "", time.Time{}, nil
	case rule.CredentialStaticToken:
		return r.Credentials.StaticToken.AccessToken, time.Time{}, nil
	case rule.CredentialAppLogin:
		return b.acquireAppLogin(ctx, r.Credentials.AppLogin, r.URL)
	case rule.CredentialUserLogin:
		return b.acquireUserLogin(ctx, r.Credentials.UserLogin, r.URL)
	default:
		return "", time.Time{}, fmt.Errorf("credential broker: unknown credential kind %v", r.Credentials.Kind)
	}
}

// acquireAppLogin implements the OAuth2-client-credentials variant of
// §4.4: POST client_id/client_secret/grant_type=client_credentials to
// <oauth2Endpoint>/token, then (when the rule's own URL is not on the
// issuer's host) exchange the resulting portal token for a
// server-scoped one at <oauth2Endpoint>/generateToken.
func (b *Broker) acquireAppLogin(ctx context.Context, creds rule.AppLoginCreds, ruleURL string) (string, time.Time, error) {
	endpoint := strings.TrimSuffix(creds.OAuth2Endpoint, "/")

	form := url.Values{
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"grant_type":    {"client_credentials"},
		"f":             {"json"},
	}
	token, expiresAt, err := b.postForm(ctx, endpoint+"/token", form)
	if err != nil {
		return "", time.Time{}, err
	}

	if sameHost(creds.OAuth2Endpoint, ruleURL) {
		return token, expiresAt, nil
	}

	exchange := url.Values{
		"token":     {token},
		"serverURL": {ruleURL},
		"f":         {"json"},
	}
	return b.postForm(ctx, endpoint+"/generateToken", exchange)
}

// acquireUserLogin implements the username/password variant of §4.4:
// discover the token service (unless one is configured), then POST a
// getToken request to it.
func (b *Broker) acquireUserLogin(ctx context.Context, creds rule.UserLoginCreds, ruleURL string) (string, time.Time, error) {
	tokenServiceURL := creds.TokenServiceURL
	if tokenServiceURL == "" {
		discovered, err := b.discoverTokenService(ctx, ruleURL)
		if err != nil {
			return "", time.Time{}, err
		}
		tokenServiceURL = discovered
	}

	form := url.Values{
		"request":    {"getToken"},
		"referer":    {b.referer},
		"expiration": {"60"},
		"username":   {creds.Username},
		"password":   {creds.Password},
		"f":          {"json"},
	}
	return b.postForm(ctx, tokenServiceURL, form)
}

// restInfoResponse is the subset of a rest/info?f=json response the
// discovery flow cares about.
type restInfoResponse struct {
	TokenServicesURL string `json:"tokenServicesUrl"`
	OwningSystemURL  string `json:"owningSystemUrl"`
}

// discoverTokenService probes <base>/rest/info, where <base> is
// ruleURL truncated at the first "/rest/" or "/sharing/" segment, and
// extracts tokenServicesUrl, synthesizing
// <owningSystemUrl>/sharing/generateToken when that field is absent.
func (b *Broker) discoverTokenService(ctx context.Context, ruleURL string) (string, error) {
	base := restInfoBase(ruleURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/rest/info?f=json", nil)
	if err != nil {
		return "", err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("discover token service: %w", err)
	}
	defer resp.Body.Close()

	var info restInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("discover token service: decode rest/info: %w", err)
	}

	if info.TokenServicesURL != "" {
		return info.TokenServicesURL, nil
	}
	if info.OwningSystemURL != "" {
		return strings.TrimSuffix(info.OwningSystemURL, "/") + "/sharing/generateToken", nil
	}
	return "", fmt.Errorf("discover token service: rest/info at %s gave neither tokenServicesUrl nor owningSystemUrl", base)
}

// restInfoBase returns ruleURL truncated just before its first
// "/rest/" or "/sharing/" segment, or ruleURL itself (slash-trimmed)
// if neither appears.
func restInfoBase(ruleURL string) string {
	cut := -1
	for _, marker := range []string{"/rest/", "/sharing/"} {
		if idx := strings.Index(ruleURL, marker); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx
		}
	}
	if cut >= 0 {
		return ruleURL[:cut]
	}
	return strings.TrimSuffix(ruleURL, "/")
}

// sameHost reports whether two URLs share a host, case-insensitively.
// Malformed URLs are never considered the same host.
func sameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Hostname() != "" && strings.EqualFold(ua.Hostname(), ub.Hostname())
}

// tokenResponse is the JSON body a token/generateToken/getToken
// endpoint returns. expires (epoch milliseconds) is the ArcGIS
// convention; expires_in (seconds) is the OAuth2 convention; a
// response may carry either, both, or neither.
type tokenResponse struct {
	Token     string `json:"token"`
	Expires   int64  `json:"expires"`
	ExpiresIn int64  `json:"expires_in"`
	Error     *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// postForm POSTs a form-encoded body to endpoint and extracts a token
// and its expiry from the JSON response.
func (b *Broker) postForm(ctx context.Context, endpoint string, form url.Values) (string, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build credential request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("credential request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", time.Time{}, fmt.Errorf("decode credential response from %s: %w", endpoint, err)
	}

	if tr.Error != nil {
		return "", time.Time{}, fmt.Errorf("credential request to %s rejected: %d %s", endpoint, tr.Error.Code, tr.Error.Message)
	}
	if resp.StatusCode >= http.StatusBadRequest || tr.Token == "" {
		return "", time.Time{}, fmt.Errorf("credential request to %s failed: status %d", endpoint, resp.StatusCode)
	}

	return tr.Token, b.expiryFromResponse(tr), nil
}

// expiryFromResponse picks an expiry: the ArcGIS epoch-millis field,
// else the OAuth2 expires_in seconds field, else the 60-minute window
// this broker itself requested.
func (b *Broker) expiryFromResponse(tr tokenResponse) time.Time {
	if tr.Expires > 0 {
		return time.UnixMilli(tr.Expires)
	}
	now := b.clock.Now()
	if tr.ExpiresIn > 0 {
		return now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return now.Add(60 * time.Minute)
}

var _ ports.TokenAcquirer = (*Broker)(nil)
