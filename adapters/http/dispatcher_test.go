package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/artpar/geoproxy/domain/rule"
	"github.com/artpar/geoproxy/domain/urlpart"
)

func TestDispatcher_BuildOutbound_PlainRule(t *testing.T) {
	table, err := rule.Compile([]rule.Config{{URL: "https://geo.example.com/rest", MatchAll: false}})
	if err != nil {
		t.Fatal(err)
	}
	r := table.Rules[0]

	req := rule.ParsedRequest{
		Parts: urlpart.Parts{Protocol: "https", Hostname: "geo.example.com", Port: urlpart.Wildcard, Path: "/rest/info/"},
		Query: "f=json",
	}

	inbound := httptest.NewRequest(http.MethodGet, "/proxy/http/geo.example.com/rest/info/?f=json", nil)
	d := NewDispatcher(http.DefaultClient)

	outReq, err := d.BuildOutbound(inbound, r, req, urlpart.Parts{}, "tok")
	if err != nil {
		t.Fatalf("BuildOutbound() error = %v", err)
	}

	want := "https://geo.example.com/rest/info/?f=json&token=tok"
	if got := outReq.URL.String(); got != want {
		t.Errorf("outbound URL = %q, want %q", got, want)
	}
}

func TestDispatcher_BuildOutbound_HostRedirect(t *testing.T) {
	table, err := rule.Compile([]rule.Config{{
		URL:          "https://geo.example.com",
		HostRedirect: "https://redirect.example.com:8443",
	}})
	if err != nil {
		t.Fatal(err)
	}
	r := table.Rules[0]

	req := rule.ParsedRequest{
		Parts: urlpart.Parts{Protocol: urlpart.Wildcard, Hostname: "geo.example.com", Port: urlpart.Wildcard, Path: "/path"},
		Query: "q=1",
	}

	inbound := httptest.NewRequest(http.MethodGet, "/proxy/geo.example.com/path?q=1", nil)
	d := NewDispatcher(http.DefaultClient)

	outReq, err := d.BuildOutbound(inbound, r, req, urlpart.Parts{}, "")
	if err != nil {
		t.Fatalf("BuildOutbound() error = %v", err)
	}

	want := "https://redirect.example.com:8443/path?q=1"
	if got := outReq.URL.String(); got != want {
		t.Errorf("outbound URL = %q, want %q", got, want)
	}
}

func TestDispatcher_Do_StripsHopByHopAndRewritesWMS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.ogc.wms_xml")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<xml/>"))
	}))
	defer srv.Close()

	d := NewDispatcher(srv.Client())
	u, _ := url.Parse(srv.URL)
	outReq, _ := http.NewRequest(http.MethodGet, u.String(), nil)

	resp, err := d.Do(outReq)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/xml" {
		t.Errorf("Content-Type = %q, want text/xml", ct)
	}
	if resp.Header.Get("Connection") != "" {
		t.Error("Connection header was not stripped")
	}
}

func TestIsCredentialError(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{401, true}, {403, true}, {498, true}, {499, true},
		{200, false}, {404, false}, {500, false},
	}
	for _, tt := range tests {
		if got := IsCredentialError(tt.status); got != tt.want {
			t.Errorf("IsCredentialError(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
