package urlpart_test

import (
	"testing"

	"github.com/artpar/geoproxy/domain/urlpart"
)

func TestParseAndFixURLParts_FullURL(t *testing.T) {
	p := urlpart.ParseAndFixURLParts("https://geo.example.com:8443/rest/info?f=json")

	if p.Protocol != "https" {
		t.Errorf("Protocol = %q, want https", p.Protocol)
	}
	if p.Hostname != "geo.example.com" {
		t.Errorf("Hostname = %q, want geo.example.com", p.Hostname)
	}
	if p.Port != "8443" {
		t.Errorf("Port = %q, want 8443", p.Port)
	}
	if p.Path != "/rest/info" {
		t.Errorf("Path = %q, want /rest/info", p.Path)
	}
	if p.Query != "f=json" {
		t.Errorf("Query = %q, want f=json", p.Query)
	}
}

func TestParseAndFixURLParts_NoScheme_PeelsHostFromPath(t *testing.T) {
	p := urlpart.ParseAndFixURLParts("/geo.example.com/rest/info")

	if p.Hostname != "geo.example.com" {
		t.Errorf("Hostname = %q, want geo.example.com", p.Hostname)
	}
	if p.Path != "/rest/info" {
		t.Errorf("Path = %q, want /rest/info", p.Path)
	}
	if p.Protocol != urlpart.Wildcard {
		t.Errorf("Protocol = %q, want wildcard", p.Protocol)
	}
}

func TestParseAndFixURLParts_HostWithPort(t *testing.T) {
	p := urlpart.ParseAndFixURLParts("/geo.example.com:8443/rest/info")

	if p.Hostname != "geo.example.com" {
		t.Errorf("Hostname = %q, want geo.example.com", p.Hostname)
	}
	if p.Path != "/rest/info" {
		t.Errorf("Path = %q, want /rest/info", p.Path)
	}
}

func TestParseAndFixURLParts_EmptyPath_AllWildcards(t *testing.T) {
	p := urlpart.ParseAndFixURLParts("")

	if p.Protocol != urlpart.Wildcard || p.Hostname != urlpart.Wildcard ||
		p.Port != urlpart.Wildcard || p.Path != urlpart.Wildcard {
		t.Errorf("expected all wildcards for empty input, got %+v", p)
	}
}

func TestTestDomainsMatch(t *testing.T) {
	cases := []struct {
		pattern, candidate string
		want               bool
	}{
		{"geo.example.com", "geo.example.com", true},
		{"geo.example.com", "GEO.EXAMPLE.COM", true},
		{"*.example.com", "geo.example.com", true},
		{"*.example.com", "a.b.example.com", false},
		{"geo.example.com", "other.example.com", false},
		{"*", "anything.at.all", true},
	}
	for _, c := range cases {
		got := urlpart.TestDomainsMatch(c.pattern, c.candidate)
		if got != c.want {
			t.Errorf("TestDomainsMatch(%q, %q) = %v, want %v", c.pattern, c.candidate, got, c.want)
		}
	}
}

func TestTestProtocolsMatch(t *testing.T) {
	if !urlpart.TestProtocolsMatch("*", "http") {
		t.Error("wildcard pattern should match any protocol")
	}
	if !urlpart.TestProtocolsMatch("HTTPS", "https") {
		t.Error("protocol match should be case-insensitive")
	}
	if urlpart.TestProtocolsMatch("https", "http") {
		t.Error("different protocols should not match")
	}
}

func TestTestPortsMatch(t *testing.T) {
	if !urlpart.TestPortsMatch("*", "8080") {
		t.Error("wildcard pattern should match any port")
	}
	if !urlpart.TestPortsMatch("443", "443") {
		t.Error("equal ports should match")
	}
	if urlpart.TestPortsMatch("443", "8443") {
		t.Error("different ports should not match")
	}
}
