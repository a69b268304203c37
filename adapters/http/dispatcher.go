package http

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/artpar/geoproxy/domain/proxyerr"
	"github.com/artpar/geoproxy/domain/rule"
	"github.com/artpar/geoproxy/domain/urlpart"
	"github.com/artpar/geoproxy/ports"
)

// hopByHopHeaders are stripped from both the outbound request and the
// upstream response, per RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Dispatcher builds the outbound request for a matched rule and sends
// it, per §4.5.
type Dispatcher struct {
	upstream ports.Upstream
}

// NewDispatcher builds a Dispatcher sending through upstream.
func NewDispatcher(upstream ports.Upstream) *Dispatcher {
	return &Dispatcher{upstream: upstream}
}

// BuildOutbound constructs the outbound *http.Request: host-redirect
// substitution when the rule carries one, the credential query
// parameter injected by token, and hop-by-hop headers stripped from
// the inbound request's headers.
func (d *Dispatcher) BuildOutbound(inbound *http.Request, r rule.Rule, req rule.ParsedRequest, ref urlpart.Parts, token string) (*http.Request, error) {
	var outURL string
	if r.HostRedirect != nil {
		outURL = rule.BuildRedirectedURL(r, req, ref, token)
	} else {
		outURL = rule.BuildURL(r, req, token)
	}

	var body io.Reader
	if inbound.Body != nil {
		body = inbound.Body
	}

	outReq, err := http.NewRequestWithContext(inbound.Context(), inbound.Method, outURL, body)
	if err != nil {
		return nil, fmt.Errorf("build outbound request: %w", err)
	}
	outReq.ContentLength = inbound.ContentLength

	copyHeaders(outReq.Header, inbound.Header)
	stripHopByHop(outReq.Header)
	outReq.Host = outReq.URL.Host

	return outReq, nil
}

// Do sends outReq and returns the raw upstream response for the
// handler to stream back to the client, hop-by-hop headers stripped
// and the WMS content-type rewrite of §4.5 applied. A transport-level
// failure (connect/read/write) is wrapped as a proxyerr of kind
// KindUpstreamTransport.
func (d *Dispatcher) Do(outReq *http.Request) (*http.Response, error) {
	resp, err := d.upstream.Do(outReq)
	if err != nil {
		return nil, proxyerr.New(proxyerr.KindUpstreamTransport, http.StatusInternalServerError, err.Error())
	}
	stripHopByHop(resp.Header)
	rewriteWMSContentType(resp.Header)
	return resp, nil
}

// IsCredentialError reports whether status is one of the upstream
// responses that trigger a single retry with a freshly acquired
// token, per §4.4.
func IsCredentialError(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, 498, 499:
		return true
	}
	return false
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// rewriteWMSContentType rewrites the ArcGIS WMS content type
// "application/vnd.ogc.wms_xml" to "text/xml" so standards-compliant
// WMS clients and browsers render the response, per §4.5.
func rewriteWMSContentType(h http.Header) {
	if strings.EqualFold(h.Get("Content-Type"), "application/vnd.ogc.wms_xml") {
		h.Set("Content-Type", "text/xml")
	}
}
