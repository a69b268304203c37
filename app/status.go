package app

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/artpar/geoproxy/domain/ratelimit"
	"github.com/artpar/geoproxy/ports"
)

// Version is the proxy's reported build version. Bumped by the
// release process, not read from anywhere dynamic.
const Version = "1.0.0"

// StatusService builds the §4.6 ping and status responses from the
// live rule table, request counters, and rate-meter state.
type StatusService struct {
	rules     *RuleTableService
	dispatch  *DispatchService
	rateMeter ports.RateMeterStore
	clock     ports.Clock
	startedAt time.Time
}

// NewStatusService builds a StatusService. Its uptime clock starts
// ticking from the moment this constructor runs.
func NewStatusService(rules *RuleTableService, dispatch *DispatchService, rateMeter ports.RateMeterStore, clk ports.Clock) *StatusService {
	return &StatusService{
		rules:     rules,
		dispatch:  dispatch,
		rateMeter: rateMeter,
		clock:     clk,
		startedAt: clk.Now(),
	}
}

// PingResponse is the JSON body of GET <pingPath>.
type PingResponse struct {
	Version  string `json:"version"`
	Referrer string `json:"referrer"`
	OK       bool   `json:"ok"`
}

// Ping builds the ping response. referrer is whatever the caller's
// Referer header was, echoed back unvalidated: §4.6 runs no
// referrer check on this path.
func (s *StatusService) Ping(referrer string) PingResponse {
	return PingResponse{Version: Version, Referrer: referrer, OK: true}
}

type statusPageData struct {
	Version          string
	Uptime           string
	Attempted        int64
	Valid            int64
	Errored          int64
	AllowedReferrers []string
	Buckets          []ratelimit.Snapshot
}

const statusPageHTML = `<!DOCTYPE html>
<html>
<head><title>geoproxy status</title></head>
<body>
<h1>geoproxy {{.Version}}</h1>
<p>uptime: {{.Uptime}}</p>
<table border="1" cellpadding="4">
<tr><th>attempted</th><td>{{.Attempted}}</td></tr>
<tr><th>processed</th><td>{{.Valid}}</td></tr>
<tr><th>rejected</th><td>{{.Errored}}</td></tr>
</table>
<h2>allowed referrers</h2>
<ul>
{{range .AllowedReferrers}}<li>{{.}}</li>
{{end}}
</ul>
<h2>rate meter</h2>
<table border="1" cellpadding="4">
<tr><th>referrer</th><th>rule</th><th>tokens</th><th>capacity</th><th>last used</th></tr>
{{range .Buckets}}<tr><td>{{.Referrer}}</td><td>{{.RuleURL}}</td><td>{{printf "%.2f" .Tokens}}</td><td>{{printf "%.0f" .Capacity}}</td><td>{{.LastUsed}}</td></tr>
{{end}}
</table>
</body>
</html>
`

var statusTemplate = template.Must(template.New("status").Parse(statusPageHTML))

// StatusHTML renders the §4.6 HTML status page. The caller must have
// already validated the requester's referrer.
func (s *StatusService) StatusHTML() (string, error) {
	c := s.rules.Current()

	var referrers []string
	if c != nil {
		if c.Referrers.AcceptAny {
			referrers = append(referrers, "*")
		}
		for _, e := range c.Referrers.Entries {
			referrers = append(referrers, e.CanonicalKey)
		}
	}

	counters := s.dispatch.Counters()

	data := statusPageData{
		Version:          Version,
		Uptime:           s.clock.Now().Sub(s.startedAt).Round(time.Second).String(),
		Attempted:        counters.Attempted,
		Valid:            counters.Valid,
		Errored:          counters.Errored,
		AllowedReferrers: referrers,
		Buckets:          s.rateMeter.Dump(),
	}

	var buf bytes.Buffer
	if err := statusTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render status page: %w", err)
	}
	return buf.String(), nil
}
